package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"disco/internal/backend"
	"disco/internal/config"
	"disco/internal/modelstore"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckONNXLibrary verifies the configured ONNX Runtime library is readable.
// An empty path defers to the platform's library search path.
func CheckONNXLibrary(path string) Result {
	const name = "ONNX Runtime"

	path = strings.TrimSpace(path)
	if path == "" {
		return Result{Name: name, Passed: true, Detail: "system library search path"}
	}
	info, err := os.Stat(path)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	}
	if info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: not readable: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: path}
}

// CheckModels verifies that an ensemble can be found without running the
// download: a manifest in the saved-model directory or cache, or a reachable
// download URL.
func CheckModels(ctx context.Context, cfg config.Models) Result {
	const name = "Ensemble"

	if dir := strings.TrimSpace(cfg.SavedModelDirectory); dir != "" {
		return manifestResult(name, dir, cfg.Manifest)
	}
	if result := manifestResult(name, cfg.CacheDir, cfg.Manifest); result.Passed {
		return result
	}
	if strings.TrimSpace(cfg.DownloadURL) == "" {
		return Result{Name: name, Detail: fmt.Sprintf("no %s in %s and no download_url configured", cfg.Manifest, cfg.CacheDir)}
	}
	return CheckDownloadURL(ctx, cfg.DownloadURL)
}

func manifestResult(name, dir, manifest string) Result {
	m, err := modelstore.ReadManifest(dir, manifest)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	if _, err := m.Specs(dir); err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%d members in %s", len(m.Members), dir)}
}

// CheckDownloadURL verifies the ensemble archive answers a HEAD request.
func CheckDownloadURL(ctx context.Context, url string) Result {
	const name = "Ensemble download"

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequestWithContext(checkCtx, http.MethodHead, url, nil)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("request failed (%v)", err)}
	}
	resp, err := client.Do(req)
	if err != nil {
		return Result{Name: name, Detail: summarizeNetError(err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return Result{Name: name, Detail: fmt.Sprintf("%s (%d)", url, resp.StatusCode)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s reachable", url)}
}

// CheckAccelerator reports whether the CUDA backend is usable. It always
// passes: the CPU fallback keeps runs working.
func CheckAccelerator(probe backend.Probe, device int) Result {
	const name = "CUDA"

	if err := probe.CUDAAvailable(device); err != nil {
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("unavailable, CPU fallback (%v)", err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("device %d available", device)}
}

func summarizeNetError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "request timed out"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "request timed out"
	}
	return err.Error()
}

func parentDir(path string) string {
	if strings.TrimSpace(path) == "" {
		return ""
	}
	return filepath.Dir(path)
}
