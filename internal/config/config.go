// Package config loads and validates the control plane's environment
// configuration. Section layout follows the original Python
// implementation's app/config.py (database, redis, runtime, ttl,
// limits, coordinator intervals; storage is omitted — the S3/MinIO
// endpoint is the Runtime's concern, not this process's, per spec.md
// section 1), translated to Go's flat
// env-bound struct idiom; binding is done with viper, matching the
// pack's other orchestration-controlplane example.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Database holds the relational store connection settings.
type Database struct {
	URL         string `mapstructure:"url" validate:"required"`
	MaxOpenConn int    `mapstructure:"max_open_conn" validate:"min=1"`
	MaxIdleConn int    `mapstructure:"max_idle_conn" validate:"min=0"`
}

// Redis holds the wake-bus/event-stream/activity-store connection
// settings.
type Redis struct {
	URL string `mapstructure:"url" validate:"required"`
}

// Runtime holds the remote Runtime capability's address and the two
// deadlines applied to it (the resolution recorded in DESIGN.md).
// ResourceTimeout (default 30s) is the Runtime HTTP client's timeout
// for every call, archive/restore jobs included. ArchiveJobTimeout
// (default 600s, sized for jobs that move a whole home directory) is
// WC's in-flight operation timeout for every operation kind. Neither
// is split per operation kind.
type Runtime struct {
	EndpointURL        string        `mapstructure:"endpoint_url" validate:"required"`
	APIKey             string        `mapstructure:"api_key" validate:"required"`
	ResourceTimeout    time.Duration `mapstructure:"resource_timeout"`
	ArchiveJobTimeout  time.Duration `mapstructure:"archive_job_timeout"`
	MaxRetries         int           `mapstructure:"max_retries" validate:"min=1"`
}

// TTL holds the idleness thresholds the TTL scheduler enforces.
type TTL struct {
	StandbySeconds int `mapstructure:"standby_seconds" validate:"min=1"`
	ArchiveSeconds int `mapstructure:"archive_seconds" validate:"min=1"`
}

// Limits holds user-facing quota configuration enforced by the API
// layer (not the core, but carried here since it shares the same
// config surface).
type Limits struct {
	MaxRunningPerUser int `mapstructure:"max_running_per_user" validate:"min=1"`
}

// Intervals holds each coordinator's tick cadence.
type Intervals struct {
	ObserverIdle     time.Duration `mapstructure:"observer_idle"`
	ControllerIdle   time.Duration `mapstructure:"controller_idle"`
	ControllerActive time.Duration `mapstructure:"controller_active"`
	TTL              time.Duration `mapstructure:"ttl"`
	GC               time.Duration `mapstructure:"gc"`
}

// Config is the full process-wide configuration, constructed once at
// start-up and passed explicitly to every coordinator loop rather
// than read from package-level globals (spec.md section 9: "global
// mutable state -> explicit process-wide context").
type Config struct {
	ClusterID string    `mapstructure:"cluster_id" validate:"required"`
	Database  Database  `mapstructure:"database"`
	Redis     Redis     `mapstructure:"redis"`
	Runtime   Runtime   `mapstructure:"runtime"`
	TTL       TTL       `mapstructure:"ttl"`
	Limits    Limits    `mapstructure:"limits"`
	Intervals Intervals `mapstructure:"intervals"`

	// EventStreamMaxLen bounds each owner's SSE stream (default 100
	// per spec.md section 6).
	EventStreamMaxLen int64 `mapstructure:"event_stream_max_len" validate:"min=1"`
	// SSEBlockDuration is how long an SSE reader blocks waiting for
	// new entries before a heartbeat.
	SSEBlockDuration time.Duration `mapstructure:"sse_block_duration"`
}

var validate = validator.New()

// Load reads configuration from CODEHUB_-prefixed environment
// variables (nested sections separated by "__", matching the
// original's env_nested_delimiter), applies defaults for anything
// unset, and validates the result.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CODEHUB")
	v.SetEnvKeyReplacer(newEnvReplacer())
	v.AutomaticEnv()

	// AutomaticEnv only resolves keys viper already knows about, and
	// Unmarshal only visits known keys, so the keys that have no
	// default are bound to their env vars explicitly.
	for _, key := range []string{"cluster_id", "database.url", "redis.url", "runtime.endpoint_url", "runtime.api_key"} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("config: bind env %s: %w", key, err)
		}
	}

	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	return &cfg, nil
}

// newEnvReplacer maps the nested mapstructure dotted path
// ("database.url") onto the env var form ("DATABASE__URL") so that,
// combined with SetEnvPrefix, CODEHUB_DATABASE__URL binds to
// database.url.
func newEnvReplacer() *strings.Replacer {
	return strings.NewReplacer(".", "__")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.max_open_conn", 10)
	v.SetDefault("database.max_idle_conn", 5)

	v.SetDefault("runtime.resource_timeout", 30*time.Second)
	v.SetDefault("runtime.archive_job_timeout", 600*time.Second)
	v.SetDefault("runtime.max_retries", 3)

	v.SetDefault("ttl.standby_seconds", 300)
	v.SetDefault("ttl.archive_seconds", 1800)

	v.SetDefault("limits.max_running_per_user", 2)

	v.SetDefault("intervals.observer_idle", 30*time.Second)
	v.SetDefault("intervals.controller_idle", 30*time.Second)
	v.SetDefault("intervals.controller_active", 2*time.Second)
	v.SetDefault("intervals.ttl", 60*time.Second)
	v.SetDefault("intervals.gc", 3600*time.Second)

	v.SetDefault("event_stream_max_len", 100)
	v.SetDefault("sse_block_duration", 30*time.Second)
}
