// Package runsync refreshes local workflow runs from the orchestrators that
// execute them.
//
// SyncAllActiveSources and SyncOneSource pull recent runs from a source and
// apply their state to matching local runs. Local runs that dropped out of
// the listing window are looked up one by one. SyncStaleRuns repairs runs
// whose local record has not been refreshed for a while.
//
// Every entry point returns a complete report and never an error. A source
// that cannot be listed fails only its own outcome.
package runsync
