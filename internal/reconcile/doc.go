// Package reconcile holds the result and failure types shared by the
// definition and run reconcilers.
//
// Failures are classified into a closed set of kinds (STORAGE_ERROR,
// PARSE_ERROR, VALIDATION_ERROR, STATE_TRANSITION_ERROR, UNKNOWN). External
// operations tag their errors with *Error so that Classify is a match over
// the tag rather than an inspection of concrete error types.
//
// Reports are built through a Builder and returned by value. A snapshot
// always satisfies failed = len(failures) and processed = created + updated +
// skipped + item failures, where a failure against WildcardItem is a
// pass-level failure and is not an item.
package reconcile
