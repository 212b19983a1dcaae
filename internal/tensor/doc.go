// Package tensor provides the dense row-major float32 matrix that every
// pipeline stage passes around. Spectrograms and predictions are both stored
// rows x frames.
package tensor
