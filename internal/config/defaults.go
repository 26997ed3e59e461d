package config

const (
	defaultConfigPath            = "~/.config/qforge/config.toml"
	defaultDataDir               = "~/.local/share/qforge"
	defaultLogDir                = "~/.local/share/qforge/logs"
	defaultEnvFile               = ".env"
	defaultAPIBaseURL            = "https://generativelanguage.googleapis.com/v1beta"
	defaultAPIModel              = "gemini-1.5-flash"
	defaultKeyEnvPrefix          = "GEMINI_API_KEY_"
	defaultCooldownSeconds       = 13
	defaultMaxRetriesPerKey      = 3
	defaultInitialBackoffSeconds = 5
	defaultAPITimeoutSeconds     = 120
	defaultMinPageChars          = 150
	defaultVariantsPerParent     = 6
	defaultSupervisorAPIBind     = "127.0.0.1:7488"
	defaultStopGraceSeconds      = 5
	defaultLogTailLines          = 40
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
	defaultLogRetentionDays      = 30
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			EnvFile: defaultEnvFile,
		},
		API: API{
			BaseURL:               defaultAPIBaseURL,
			Model:                 defaultAPIModel,
			KeyEnvPrefix:          defaultKeyEnvPrefix,
			CooldownSeconds:       defaultCooldownSeconds,
			MaxRetriesPerKey:      defaultMaxRetriesPerKey,
			InitialBackoffSeconds: defaultInitialBackoffSeconds,
			TimeoutSeconds:        defaultAPITimeoutSeconds,
		},
		Pipeline: Pipeline{
			MinPageChars:      defaultMinPageChars,
			VariantsPerParent: defaultVariantsPerParent,
		},
		Supervisor: Supervisor{
			APIBind:          defaultSupervisorAPIBind,
			StopGraceSeconds: defaultStopGraceSeconds,
			LogTailLines:     defaultLogTailLines,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
