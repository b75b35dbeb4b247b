// Package domain holds the workflow definition and run records mirrored from
// external systems, and the run lifecycle state machine.
//
// Run states:
//   - PENDING -> RUNNING -> SUCCESS | FAILED
//   - PENDING -> FAILED
//   - PENDING | RUNNING -> STOPPING -> STOPPED
//
// Every transition method either applies fully or returns a *TransitionError
// and leaves the run unchanged. EndedAt is stamped exactly when a terminal
// state is entered; Stop is stamped exactly when a stop is requested.
package domain
