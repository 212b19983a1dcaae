// Package services defines shared utilities consumed by the evaluation
// pipeline stages and their collaborators.
//
// Key responsibilities:
//   - Context helpers that stamp run IDs, stage names, source files, and
//     ensemble member identifiers for logging.
//   - Structured error markers plus the Wrap helper that translate failures
//     into consistent classifications (input, model load, inference,
//     artifact) and CLI exit codes.
//
// Use these helpers when wiring new stage logic so operational behaviour
// (error handling, observability) stays uniform across the pipeline.
package services
