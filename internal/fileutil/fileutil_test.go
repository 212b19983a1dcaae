package fileutil

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteAtomic(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "votes.npy")

	if err := WriteAtomic(dst, []byte("first"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := WriteAtomic(dst, []byte("second"), 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "second" {
		t.Fatalf("content mismatch: got %q, want %q", got, "second")
	}
	info, err := os.Stat(dst)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("unexpected mode: got %o want 600", info.Mode().Perm())
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %v", entries)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("boom") }

func TestWriteReaderAtomicCleansUpOnError(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "member.onnx")

	if _, err := WriteReaderAtomic(dst, failingReader{}, 0o644); err == nil {
		t.Fatal("expected read error")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty directory, got %v", entries)
	}

	n, err := WriteReaderAtomic(dst, strings.NewReader("weights"), 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if n != int64(len("weights")) {
		t.Fatalf("unexpected byte count: got %d want %d", n, len("weights"))
	}
}

func TestWriteAtomic_MissingDirectory(t *testing.T) {
	err := WriteAtomic(filepath.Join(t.TempDir(), "nope", "dst"), []byte("x"), 0o644)
	if err == nil {
		t.Fatal("expected error for missing directory")
	}
}
