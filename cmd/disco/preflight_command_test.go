package main

import (
	"errors"
	"testing"

	"disco/internal/preflight"
	"disco/internal/services"
)

func TestPreflightReportsMissingEnsemble(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := env.run(t, "preflight")
	if err == nil {
		t.Fatal("expected preflight to fail without an ensemble")
	}
	requireContains(t, out, "== Preflight ==")
	requireContains(t, out, "Artifact directory:")
	requireContains(t, out, "[OK]")
	requireContains(t, out, "[ERROR]")
	requireContains(t, out, "Ensemble:")
}

func TestPreflightErrorMarkers(t *testing.T) {
	cases := []struct {
		name   string
		marker error
	}{
		{"Ensemble", services.ErrModelLoad},
		{"ONNX Runtime", services.ErrModelLoad},
		{"Artifact directory", services.ErrInvalidConfiguration},
	}
	for _, tc := range cases {
		err := preflightError(preflight.Result{Name: tc.name, Detail: "broken"})
		if !errors.Is(err, tc.marker) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.marker, err)
		}
	}
}
