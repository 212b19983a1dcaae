package testsupport

import (
	"context"
	"testing"

	"disco/internal/config"
	"disco/internal/runstore"
)

// MustOpenRunStore opens the run registry for tests and registers cleanup.
func MustOpenRunStore(t testing.TB, cfg *config.Config) *runstore.Store {
	t.Helper()

	store, err := runstore.Open(cfg.Paths.RunDB)
	if err != nil {
		t.Fatalf("runstore.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// BeginRun records a running run with the given id for tests.
func BeginRun(t testing.TB, store *runstore.Store, id string) *runstore.Run {
	t.Helper()

	run := &runstore.Run{
		ID:           id,
		Sources:      []string{"/data/" + id + ".npy"},
		Classes:      []string{"A", "B", "X"},
		TileSize:     1024,
		EnsembleSize: 3,
		Backend:      "cpu",
		ArtifactDir:  "/artifacts/" + id,
	}
	if err := store.Begin(context.Background(), run); err != nil {
		t.Fatalf("store.Begin: %v", err)
	}
	return run
}
