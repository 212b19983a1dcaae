// Package main hosts the disco CLI entrypoint and command graph.
//
// The Cobra command tree loads configuration once, then hands off to the
// internal packages: evaluate runs the ensemble pipeline over spectrogram
// sources, runs, artifacts and logs inspect what earlier evaluations left
// behind, and preflight reports whether the environment can run an
// evaluation at all.
//
// Keep this package lean. New behavior belongs in an internal package first
// and is surfaced here through a command or flag.
package main
