// Package runstore records evaluation runs in SQLite so stored artifact sets
// can be found again.
//
// Each run is inserted as running when the pipeline starts and moved to
// completed or failed when it ends. The registry never holds numeric results;
// those live in the artifact set named by the run's artifact directory.
//
// Schema changes bump schemaVersion in schema.go; users delete the database
// to adopt the new schema.
package runstore
