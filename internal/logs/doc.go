// Package logs reads back the JSON log file disco writes under
// paths.log_dir.
//
// It returns the last N lines with bounded memory, filters records by run id
// or minimum level, and follows the file as new records arrive. Callers pass a
// context so follow-mode polling stops when the CLI exits.
package logs
