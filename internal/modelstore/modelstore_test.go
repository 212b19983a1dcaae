package modelstore_test

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"disco/internal/config"
	"disco/internal/ensemble/onnxmodel"
	"disco/internal/logging"
	"disco/internal/modelstore"
	"disco/internal/services"
	"disco/internal/testsupport"
)

const manifestYAML = `classes: [A, B, X]
members:
  - id: m0
    path: m0.onnx
  - path: nested/m1.onnx
    input_rank: 4
    output_layout: frames_classes
`

func writeEnsemble(t *testing.T, dir string) {
	t.Helper()
	files := map[string]string{
		"ensemble.yaml":  manifestYAML,
		"m0.onnx":        "onnx",
		"nested/m1.onnx": "onnx",
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
}

func zipEnsemble(t *testing.T, prefix string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range map[string]string{
		"ensemble.yaml":  manifestYAML,
		"m0.onnx":        "onnx",
		"nested/m1.onnx": "onnx",
	} {
		w, err := zw.Create(prefix + name)
		if err != nil {
			t.Fatalf("zip create: %v", err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("zip write: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

func modelsConfig(t *testing.T, opts ...testsupport.ConfigOption) config.Models {
	return testsupport.NewConfig(t, opts...).Models
}

func TestParseManifestFillsDefaults(t *testing.T) {
	m, err := modelstore.ParseManifest([]byte(manifestYAML))
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	if len(m.Members) != 2 {
		t.Fatalf("unexpected member count %d", len(m.Members))
	}
	first, second := m.Members[0], m.Members[1]
	if first.InputRank != 3 || first.OutputLayout != onnxmodel.LayoutClassesFrames || first.InputName == "" {
		t.Fatalf("defaults not applied: %+v", first)
	}
	if second.ID != "m1" {
		t.Fatalf("unexpected derived id: got %q want %q", second.ID, "m1")
	}
	if err := m.CheckClasses([]string{"A", "B", "X"}); err != nil {
		t.Fatalf("CheckClasses: %v", err)
	}
	if err := m.CheckClasses([]string{"A", "B"}); !errors.Is(err, services.ErrInvalidConfiguration) {
		t.Fatalf("expected class mismatch, got %v", err)
	}
}

func TestParseManifestRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"empty":     "members: []\n",
		"duplicate": "members:\n  - {id: a, path: a.onnx}\n  - {id: a, path: b.onnx}\n",
		"escape":    "members:\n  - {id: a, path: ../a.onnx}\n",
		"rank":      "members:\n  - {id: a, path: a.onnx, input_rank: 2}\n",
		"layout":    "members:\n  - {id: a, path: a.onnx, output_layout: sideways}\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := modelstore.ParseManifest([]byte(doc)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestResolveSavedDirectory(t *testing.T) {
	dir := t.TempDir()
	writeEnsemble(t, dir)
	cfg := modelsConfig(t, testsupport.WithModelDirectory(dir))

	ens, err := modelstore.NewResolver(cfg, logging.NewNop()).Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ens.Origin != modelstore.OriginSavedDirectory || len(ens.Specs) != 2 {
		t.Fatalf("unexpected ensemble: %+v", ens)
	}
	if ens.Specs[1].Path != filepath.Join(dir, "nested", "m1.onnx") || ens.Specs[1].InputRank != 4 {
		t.Fatalf("unexpected spec: %+v", ens.Specs[1])
	}
}

func TestResolveMissingEverywhereIsModelLoadError(t *testing.T) {
	cfg := modelsConfig(t)
	_, err := modelstore.NewResolver(cfg, nil).Resolve(context.Background())
	if !errors.Is(err, services.ErrModelLoad) {
		t.Fatalf("expected model load error, got %v", err)
	}

	cfg.SavedModelDirectory = t.TempDir()
	_, err = modelstore.NewResolver(cfg, nil).Resolve(context.Background())
	if !errors.Is(err, services.ErrModelLoad) || services.ExitCode(err) != services.ExitModelLoad {
		t.Fatalf("expected model load error for empty saved directory, got %v", err)
	}
}

func TestResolveMissingMemberFile(t *testing.T) {
	dir := t.TempDir()
	writeEnsemble(t, dir)
	if err := os.Remove(filepath.Join(dir, "m0.onnx")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	cfg := modelsConfig(t, testsupport.WithModelDirectory(dir))
	if _, err := modelstore.NewResolver(cfg, nil).Resolve(context.Background()); !errors.Is(err, services.ErrModelLoad) {
		t.Fatalf("expected model load error, got %v", err)
	}
}

func TestResolveDownloadsIntoCacheOnce(t *testing.T) {
	archive := zipEnsemble(t, "ensemble-v1/")
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/zip")
		_, _ = w.Write(archive)
	}))
	defer server.Close()

	cfg := modelsConfig(t, testsupport.WithDownloadURL(server.URL+"/ensemble.zip"))
	resolver := modelstore.NewResolver(cfg, nil, modelstore.WithHTTPClient(server.Client()))

	ens, err := resolver.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ens.Origin != modelstore.OriginDownload || ens.Dir != cfg.CacheDir || len(ens.Specs) != 2 {
		t.Fatalf("unexpected ensemble: %+v", ens)
	}
	if _, err := os.Stat(filepath.Join(cfg.CacheDir, "nested", "m1.onnx")); err != nil {
		t.Fatalf("expected extracted member: %v", err)
	}

	again, err := resolver.Resolve(context.Background())
	if err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
	if again.Origin != modelstore.OriginCache {
		t.Fatalf("second resolve should hit the cache, got %s", again.Origin)
	}
	if hits.Load() != 1 {
		t.Fatalf("unexpected download count: got %d want 1", hits.Load())
	}
}

func TestResolveDownloadFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer server.Close()

	cfg := modelsConfig(t, testsupport.WithDownloadURL(server.URL))
	_, err := modelstore.NewResolver(cfg, nil, modelstore.WithHTTPClient(server.Client())).Resolve(context.Background())
	if !errors.Is(err, services.ErrModelLoad) {
		t.Fatalf("expected model load error, got %v", err)
	}
	if _, statErr := os.Stat(cfg.CacheDir); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatalf("failed download should leave no cache directory, stat err=%v", statErr)
	}
}

func TestResolveRejectsEscapingArchive(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, _ := zw.Create("../evil.onnx")
	_, _ = w.Write([]byte("x"))
	_ = zw.Close()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(buf.Bytes())
	}))
	defer server.Close()

	cfg := modelsConfig(t, testsupport.WithDownloadURL(server.URL))
	_, err := modelstore.NewResolver(cfg, nil, modelstore.WithHTTPClient(server.Client())).Resolve(context.Background())
	if !errors.Is(err, services.ErrModelLoad) {
		t.Fatalf("expected model load error, got %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(filepath.Dir(cfg.CacheDir), "evil.onnx")); statErr == nil {
		t.Fatal("archive entry escaped the staging directory")
	}
}
