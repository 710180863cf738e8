package config

const (
	defaultJobsDir               = "~/.local/share/quacwatch/jobs"
	defaultLogDir                = "~/.local/share/quacwatch/logs"
	defaultStateDir              = "~/.local/state/quacwatch"
	defaultLogRetentionDays      = 60
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
	defaultWatchIntervalSeconds  = 60
	defaultWatchPattern          = "*std.raw"
	defaultPipelineProfile       = "docker"
	defaultParamsFileName        = "mcquac.json"
	defaultRunnerPollSeconds     = 5
	defaultRunnerMaxParallel     = 1
	defaultRunnerPublishErrorLog = true
	defaultMountFileMode         = "0664"
	defaultMountDirMode          = "0775"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			JobsDir:  defaultJobsDir,
			LogDir:   defaultLogDir,
			StateDir: defaultStateDir,
		},
		Watch: Watch{
			IntervalSeconds: defaultWatchIntervalSeconds,
			DefaultPattern:  defaultWatchPattern,
		},
		Pipeline: Pipeline{
			Profile:        defaultPipelineProfile,
			ParamsFileName: defaultParamsFileName,
		},
		Runner: Runner{
			PollIntervalSeconds: defaultRunnerPollSeconds,
			MaxParallel:         defaultRunnerMaxParallel,
			PublishErrorLogs:    defaultRunnerPublishErrorLog,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
