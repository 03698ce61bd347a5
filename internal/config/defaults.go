package config

// Ledger backends.
const (
	LedgerSQLite   = "sqlite"
	LedgerPostgres = "postgres"
)

// Backoff strategies.
const (
	BackoffFixed       = "fixed"
	BackoffExponential = "exponential"
)

const (
	defaultStateDir             = "~/.local/share/meetsync"
	defaultTranscriptsDir       = "~/workspace/transcripts"
	defaultMeetingsDir          = "~/workspace/meetings"
	defaultAPIBind              = "127.0.0.1:7491"
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
	defaultMaxAttempts          = 3
	defaultBackoffBaseSeconds   = 300
	defaultBackoffMaxSeconds    = 6 * 3600
	defaultCallTimeoutSeconds   = 60
	defaultMatchThreshold       = 0.6
	defaultDiscoveryWindowHours = 72
	defaultErrorRetryInterval   = 10
	defaultBackfillWindowDays   = 90
	defaultMinAttendees         = 2
	defaultPollIntervalMinutes  = 5
	defaultCacheGlob            = "**/*.json"
	defaultWatchDebounceSeconds = 5
	defaultNotifyTimeout        = 10
	defaultNATSSubject          = "meetsync.transcripts.ready"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir:       defaultStateDir,
			TranscriptsDir: defaultTranscriptsDir,
			MeetingsDir:    defaultMeetingsDir,
			APIBind:        defaultAPIBind,
		},
		Ledger: Ledger{
			Backend: LedgerSQLite,
		},
		Sync: Sync{
			MaxAttempts:          defaultMaxAttempts,
			Backoff:              BackoffFixed,
			BackoffBaseSeconds:   defaultBackoffBaseSeconds,
			BackoffMaxSeconds:    defaultBackoffMaxSeconds,
			CallTimeoutSeconds:   defaultCallTimeoutSeconds,
			MatchThreshold:       defaultMatchThreshold,
			DiscoveryWindowHours: defaultDiscoveryWindowHours,
			ErrorRetryInterval:   defaultErrorRetryInterval,
		},
		Backfill: Backfill{
			WindowDays:        defaultBackfillWindowDays,
			MinAttendees:      defaultMinAttendees,
			SkipTitles:        []string{"focus time", "lunch", "out of office"},
			AutoOnFirstEnable: true,
		},
		Sources: Sources{
			Cache: CacheSource{
				PollIntervalMinutes:  defaultPollIntervalMinutes,
				Glob:                 defaultCacheGlob,
				Watch:                true,
				WatchDebounceSeconds: defaultWatchDebounceSeconds,
			},
			Bridge: BridgeSource{
				PollIntervalMinutes: defaultPollIntervalMinutes,
			},
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			NATSSubject:    defaultNATSSubject,
			Completed:      true,
			Abandoned:      true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
