// Package preflight provides readiness checks for the filesystem paths,
// runtime library, and ensemble sources an evaluation depends on.
//
// These checks run in two contexts:
//   - "disco preflight" prints every result as a table.
//   - "disco evaluate" runs RunAll before loading models and aborts on the
//     first failed check so a doomed run fails before any inference.
//
// Backend availability is reported but never fails preflight: a missing
// accelerator only slows a run down.
package preflight
