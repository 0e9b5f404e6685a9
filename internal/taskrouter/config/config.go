// Package config loads TaskRouterX's service-specific settings,
// layered on top of the shared platform config the same way
// platform/config.Load layers env vars over a config file.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

// TaskRouterConfig holds the scheduler and executor tunables.
type TaskRouterConfig struct {
	PollInterval       time.Duration `mapstructure:"poll_interval" envconfig:"POLL_INTERVAL" default:"500ms"`
	DefaultAlgorithm   string        `mapstructure:"default_algorithm" envconfig:"DEFAULT_ALGORITHM" default:"fifo"`
	QueueCapacity      int           `mapstructure:"queue_capacity" envconfig:"QUEUE_CAPACITY" default:"0"`
	ExecutorPoolFactor int           `mapstructure:"executor_pool_factor" envconfig:"EXECUTOR_POOL_FACTOR" default:"1"`
	FailureRate        float64       `mapstructure:"failure_rate" envconfig:"FAILURE_RATE" default:"0.05"`
	MinLatency         time.Duration `mapstructure:"min_latency" envconfig:"MIN_LATENCY" default:"100ms"`
	MaxLatency         time.Duration `mapstructure:"max_latency" envconfig:"MAX_LATENCY" default:"2s"`
	RequeueBackoff     time.Duration `mapstructure:"requeue_backoff" envconfig:"REQUEUE_BACKOFF" default:"1s"`
	ResetOrphansOnBoot bool          `mapstructure:"reset_orphans_on_boot" envconfig:"RESET_ORPHANS_ON_BOOT" default:"false"`
	StatsWindow        time.Duration `mapstructure:"stats_window" envconfig:"STATS_WINDOW" default:"5m"`

	ArchiveBucket        string  `mapstructure:"archive_bucket" envconfig:"ARCHIVE_BUCKET" default:"taskrouterx-schedule-logs"`
	ArchiveRegion        string  `mapstructure:"archive_region" envconfig:"ARCHIVE_REGION" default:"us-east-1"`
	ArchiveCutoffSeconds float64 `mapstructure:"archive_cutoff_seconds" envconfig:"ARCHIVE_CUTOFF_SECONDS" default:"604800"`
	ArchiveEnabled       bool    `mapstructure:"archive_enabled" envconfig:"ARCHIVE_ENABLED" default:"false"`
	CacheEnabled         bool    `mapstructure:"cache_enabled" envconfig:"CACHE_ENABLED" default:"false"`
}

// Load reads taskrouter.* settings from ./configs/services/taskrouter
// (if present) and TASKROUTER_* environment variables, following the
// same viper-then-envconfig layering as platform/config.Load.
func Load() (TaskRouterConfig, error) {
	var cfg TaskRouterConfig

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs/services/taskrouter")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return cfg, fmt.Errorf("failed to read taskrouter config file: %w", err)
		}
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to unmarshal taskrouter config: %w", err)
	}

	if err := envconfig.Process("taskrouter", &cfg); err != nil {
		return cfg, fmt.Errorf("failed to process taskrouter env vars: %w", err)
	}

	return cfg, nil
}
