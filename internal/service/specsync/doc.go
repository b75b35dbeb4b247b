// Package specsync mirrors declarative workflow documents from an external
// content store into the local workflow definition store.
//
// A pass lists every document location, then fetches, parses and applies
// each one on its own. One bad document is recorded in the report and never
// stops the pass. Definitions are created on first sight of a name and
// merged in place afterwards; a DISABLED definition stays disabled.
package specsync
