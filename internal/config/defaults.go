package config

const (
	defaultDataDir                    = "~/.local/share/easel"
	defaultOutputDir                  = "~/.local/share/easel/generated"
	defaultLogDir                     = "~/.local/share/easel/logs"
	defaultFlagsDir                   = "~/.local/share/easel/flags"
	defaultAPIBind                    = "127.0.0.1:7733"
	defaultGeneratorBinary            = "easel-generate"
	defaultGeneratorTimeoutSeconds    = 1800
	defaultGeneratorVariations        = 1
	defaultCMSRequestTimeout          = 60
	defaultQueuePollInterval          = 5
	defaultErrorRetryInterval         = 10
	defaultMaxRetries                 = 3
	defaultBackgroundThresholdMinutes = 2
	defaultSessionTimeoutMinutes      = 10
	defaultNotifyRequestTimeout       = 10
	defaultLogFormat                  = "console"
	defaultLogLevel                   = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:   defaultDataDir,
			OutputDir: defaultOutputDir,
			LogDir:    defaultLogDir,
			FlagsDir:  defaultFlagsDir,
			APIBind:   defaultAPIBind,
		},
		Generator: Generator{
			Binary:         defaultGeneratorBinary,
			TimeoutSeconds: defaultGeneratorTimeoutSeconds,
			Variations:     defaultGeneratorVariations,
		},
		CMS: CMS{
			RequestTimeout: defaultCMSRequestTimeout,
		},
		Workflow: Workflow{
			QueuePollInterval:          defaultQueuePollInterval,
			ErrorRetryInterval:         defaultErrorRetryInterval,
			MaxRetries:                 defaultMaxRetries,
			BackgroundThresholdMinutes: defaultBackgroundThresholdMinutes,
			SessionTimeoutMinutes:      defaultSessionTimeoutMinutes,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			Jobs:           true,
			Sessions:       true,
			Errors:         true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
