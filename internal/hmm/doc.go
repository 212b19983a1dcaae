// Package hmm smooths per-frame class sequences with a hidden Markov model.
//
// Params holds the start, transition and emission probabilities loaded from
// configuration. Decoder validates them once and runs Viterbi in log space,
// so long recordings do not underflow. When two paths score the same, the
// lower state index wins.
package hmm
