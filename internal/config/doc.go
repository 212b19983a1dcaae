// Package config loads, normalizes, and validates disco configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// DISCO_MODEL_DIR and ONNXRUNTIME_LIB. The Config type centralizes every knob
// an evaluation run needs, including the smoothing model, so invalid tile
// sizes or malformed HMM matrices are rejected before any model is loaded.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
