package modelstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"disco/internal/config"
	"disco/internal/ensemble/onnxmodel"
	"disco/internal/logging"
	"disco/internal/services"
)

// Origin records where an ensemble was found.
type Origin string

const (
	OriginSavedDirectory Origin = "saved_model_directory"
	OriginCache          Origin = "cache"
	OriginDownload       Origin = "download"
)

// Ensemble is a resolved set of member model files.
type Ensemble struct {
	Dir      string
	Origin   Origin
	Manifest Manifest
	Specs    []onnxmodel.Spec
}

// Resolver finds the ensemble named by the models configuration.
type Resolver struct {
	cfg    config.Models
	http   *http.Client
	logger *slog.Logger
}

// Option customizes a Resolver.
type Option func(*Resolver)

// WithHTTPClient replaces the download client.
func WithHTTPClient(client *http.Client) Option {
	return func(r *Resolver) {
		if client != nil {
			r.http = client
		}
	}
}

// NewResolver builds a resolver for cfg.
func NewResolver(cfg config.Models, logger *slog.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		cfg:    cfg,
		http:   &http.Client{},
		logger: logging.NewComponentLogger(logger, "models"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the ensemble. An explicit saved-model directory must hold
// a manifest; otherwise the cache is used and filled from download_url when
// empty. Every failure carries services.ErrModelLoad.
func (r *Resolver) Resolve(ctx context.Context) (Ensemble, error) {
	if dir := strings.TrimSpace(r.cfg.SavedModelDirectory); dir != "" {
		ens, err := r.open(dir, OriginSavedDirectory)
		if errors.Is(err, services.ErrNotFound) {
			return Ensemble{}, services.Wrap(services.ErrModelLoad, "models", "resolve",
				fmt.Sprintf("saved_model_directory %s has no %s", dir, r.cfg.Manifest), nil)
		}
		return ens, err
	}

	ens, err := r.open(r.cfg.CacheDir, OriginCache)
	if err == nil || !errors.Is(err, services.ErrNotFound) {
		return ens, err
	}

	if strings.TrimSpace(r.cfg.DownloadURL) == "" {
		return Ensemble{}, services.Wrap(services.ErrModelLoad, "models", "resolve",
			fmt.Sprintf("no ensemble in %s and no download_url configured", r.cfg.CacheDir), nil)
	}
	downloaded, err := r.download(ctx)
	if err != nil {
		return Ensemble{}, err
	}
	if !downloaded {
		return r.open(r.cfg.CacheDir, OriginCache)
	}
	ens, err = r.open(r.cfg.CacheDir, OriginDownload)
	if errors.Is(err, services.ErrNotFound) {
		return Ensemble{}, services.Wrap(services.ErrModelLoad, "models", "download",
			fmt.Sprintf("archive from %s has no %s", r.cfg.DownloadURL, r.cfg.Manifest), nil)
	}
	return ens, err
}

func (r *Resolver) open(dir string, origin Origin) (Ensemble, error) {
	manifest, err := ReadManifest(dir, r.cfg.Manifest)
	if err != nil {
		return Ensemble{}, err
	}
	specs, err := manifest.Specs(dir)
	if err != nil {
		return Ensemble{}, err
	}
	r.logger.Info("ensemble resolved",
		logging.String("dir", dir),
		logging.String("origin", string(origin)),
		logging.Int("members", len(specs)),
	)
	return Ensemble{Dir: dir, Origin: origin, Manifest: manifest, Specs: specs}, nil
}

func (r *Resolver) timeout() time.Duration {
	if r.cfg.DownloadTimeout <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(r.cfg.DownloadTimeout) * time.Second
}
