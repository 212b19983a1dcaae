// Package evaluation wires one end-to-end run: load recordings, tile them,
// run the ensemble, aggregate, smooth with the HMM decoder, and commit the
// artifact set.
//
// Configuration and input are validated before any model is loaded. A run
// either commits a complete artifact set or leaves none behind; any failure
// after models load is recorded against the run in the registry.
package evaluation
