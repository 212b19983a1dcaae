package config

const (
	defaultConfigPath      = "~/.config/disco/config.toml"
	defaultArtifactDir     = "~/.local/share/disco/artifacts"
	defaultLogDir          = "~/.local/share/disco/logs"
	defaultRunDB           = "~/.local/share/disco/runs.db"
	defaultVerticalTrim    = 20
	defaultLabelsSuffix    = ".labels.npy"
	defaultTileSize        = 1024
	defaultNumThreads      = 4
	defaultBackend         = "auto"
	defaultMaxWorkers      = 2
	defaultManifest        = "ensemble.yaml"
	defaultDownloadTimeout = 600
	defaultLogFormat       = "console"
	defaultLogLevel        = "info"
)

// DefaultClassNames lists the chirp classes in model output order.
var DefaultClassNames = []string{"A", "B", "X"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			ArtifactDir: defaultArtifactDir,
			LogDir:      defaultLogDir,
			RunDB:       defaultRunDB,
		},
		Source: Source{
			ApplyLog:     true,
			VerticalTrim: defaultVerticalTrim,
			LabelsSuffix: defaultLabelsSuffix,
		},
		Inference: Inference{
			TileSize:   defaultTileSize,
			NumThreads: defaultNumThreads,
			Backend:    defaultBackend,
			MaxWorkers: defaultMaxWorkers,
		},
		Models: Models{
			CacheDir:        defaultModelCacheDir(),
			DownloadTimeout: defaultDownloadTimeout,
			Manifest:        defaultManifest,
		},
		Classes: Classes{
			Names: append([]string(nil), DefaultClassNames...),
		},
		HMM: defaultHMM(),
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Metrics: Metrics{
			Enabled: true,
		},
	}
}

// defaultHMM favours staying inside a chirp and only leaves through the
// background state X.
func defaultHMM() HMM {
	return HMM{
		Start: []float64{0.1, 0.1, 0.8},
		Transition: [][]float64{
			{0.995, 0, 0.005},
			{0, 0.995, 0.005},
			{0.00025, 0.00025, 0.9995},
		},
		Emission: [][]float64{
			{0.9, 0.05, 0.05},
			{0.05, 0.9, 0.05},
			{0.05, 0.05, 0.9},
		},
	}
}
