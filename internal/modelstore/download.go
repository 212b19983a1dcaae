package modelstore

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"disco/internal/fileutil"
	"disco/internal/logging"
	"disco/internal/services"
)

const (
	lockRetryDelay  = 250 * time.Millisecond
	maxArchiveEntry = 2 << 30
)

// download fetches the ensemble archive into the cache directory. It returns
// false when another process filled the cache while this one waited for the
// lock.
func (r *Resolver) download(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout())
	defer cancel()

	cacheDir := filepath.Clean(r.cfg.CacheDir)
	parent := filepath.Dir(cacheDir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return false, loadErr("create cache parent", err)
	}

	lock := flock.New(cacheDir + ".lock")
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil || !locked {
		return false, loadErr("wait for model cache lock", err)
	}
	defer func() { _ = lock.Unlock() }()

	if _, err := os.Stat(filepath.Join(cacheDir, r.cfg.Manifest)); err == nil {
		return false, nil
	}

	r.logger.Info("downloading ensemble",
		logging.String("url", r.cfg.DownloadURL),
		logging.String("cache_dir", cacheDir),
		logging.Duration("timeout", r.timeout()),
	)
	start := time.Now()

	archive, err := os.CreateTemp(parent, ".ensemble-*.zip")
	if err != nil {
		return false, loadErr("create archive file", err)
	}
	defer func() {
		archive.Close()
		os.Remove(archive.Name())
	}()

	size, err := r.fetch(ctx, archive)
	if err != nil {
		return false, err
	}

	staging, err := os.MkdirTemp(parent, "."+filepath.Base(cacheDir)+"-staging-*")
	if err != nil {
		return false, loadErr("create staging directory", err)
	}
	defer os.RemoveAll(staging)

	files, err := extractZip(archive, size, staging)
	if err != nil {
		return false, loadErr("extract "+r.cfg.DownloadURL, err)
	}
	root := archiveRoot(staging, r.cfg.Manifest)

	if err := os.RemoveAll(cacheDir); err != nil {
		return false, loadErr("clear cache directory", err)
	}
	if err := os.Rename(root, cacheDir); err != nil {
		return false, loadErr("move ensemble into cache", err)
	}

	r.logger.Info("ensemble downloaded",
		logging.Int64("bytes", size),
		logging.Int("files", files),
		logging.Duration("elapsed", time.Since(start)),
	)
	return true, nil
}

func (r *Resolver) fetch(ctx context.Context, dst io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.DownloadURL, nil)
	if err != nil {
		return 0, loadErr("build download request", err)
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return 0, loadErr("download request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return 0, loadErr(fmt.Sprintf("download failed (%s): %s", resp.Status, strings.TrimSpace(string(body))), nil)
	}
	n, err := io.Copy(dst, resp.Body)
	if err != nil {
		return 0, loadErr("read download body", err)
	}
	return n, nil
}

// extractZip unpacks the archive into dir, refusing entries that would land
// outside it.
func extractZip(src io.ReaderAt, size int64, dir string) (int, error) {
	reader, err := zip.NewReader(src, size)
	if err != nil {
		return 0, fmt.Errorf("open zip: %w", err)
	}
	files := 0
	for _, entry := range reader.File {
		target := filepath.Join(dir, entry.Name)
		if target != dir && !strings.HasPrefix(target, dir+string(os.PathSeparator)) {
			return files, fmt.Errorf("archive entry %q escapes the ensemble directory", entry.Name)
		}
		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return files, err
			}
			continue
		}
		if entry.UncompressedSize64 > maxArchiveEntry {
			return files, fmt.Errorf("archive entry %q is too large", entry.Name)
		}
		if err := extractFile(entry, target); err != nil {
			return files, err
		}
		files++
	}
	return files, nil
}

func extractFile(entry *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	in, err := entry.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", entry.Name, err)
	}
	defer in.Close()
	if _, err := fileutil.WriteReaderAtomic(target, io.LimitReader(in, maxArchiveEntry), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", entry.Name, err)
	}
	return nil
}

// archiveRoot returns the directory holding the manifest: the extraction
// directory itself, or its single top-level folder.
func archiveRoot(dir, manifest string) string {
	if _, err := os.Stat(filepath.Join(dir, manifest)); err == nil {
		return dir
	}
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 || !entries[0].IsDir() {
		return dir
	}
	return filepath.Join(dir, entries[0].Name())
}

func loadErr(msg string, err error) error {
	return services.Wrap(services.ErrModelLoad, "models", "download", msg, err)
}
