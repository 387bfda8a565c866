package config

const (
	defaultDataDir          = "~/.local/share/smart"
	defaultLogDir           = "~/.local/share/smart/logs"
	defaultLogFormat        = "console"
	defaultLogLevel         = "info"
	defaultLeaseTimeoutSecs = 300
	defaultBatchSize        = 30
	defaultIRRPercent       = 0
	defaultRaterCount       = 2
	defaultOrderingStrategy = "random"
	defaultClassifier       = "logistic regression"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Lease: Lease{
			TimeoutSeconds: defaultLeaseTimeoutSecs,
		},
		ProjectDefaults: ProjectDefaults{
			BatchSize:  defaultBatchSize,
			IRRPercent: defaultIRRPercent,
			RaterCount: defaultRaterCount,
			Ordering:   defaultOrderingStrategy,
			Classifier: defaultClassifier,
		},
	}
}
