// Package config loads and validates tracker and relay configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Status sources the relay can answer check_task_completion from.
const (
	SourceMemory   = "memory"
	SourcePostgres = "postgres"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Tracker  TrackerConfig  `mapstructure:"tracker"`
	Relay    RelayConfig    `mapstructure:"relay"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Events   EventsConfig   `mapstructure:"events"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// TrackerConfig controls the watch client.
type TrackerConfig struct {
	Address            string   `mapstructure:"address"`
	Tasks              []string `mapstructure:"tasks"`
	FirstComplete      bool     `mapstructure:"first_complete"`
	DialTimeoutSeconds int      `mapstructure:"dial_timeout_seconds"`
}

// RelayConfig controls the relay server.
type RelayConfig struct {
	Port                   int    `mapstructure:"port"`
	Source                 string `mapstructure:"source"`
	SendBuffer             int    `mapstructure:"send_buffer"`
	ShutdownTimeoutSeconds int    `mapstructure:"shutdown_timeout_seconds"`
}

// PostgresConfig points the relay at a Celery database result backend.
type PostgresConfig struct {
	DSN                    string `mapstructure:"dsn"`
	Table                  string `mapstructure:"table"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeSeconds int    `mapstructure:"max_conn_lifetime_seconds"`
}

// PubSubConfig names the task update feed.
type PubSubConfig struct {
	ProjectID             string `mapstructure:"project_id"`
	Topic                 string `mapstructure:"topic"`
	Subscription          string `mapstructure:"subscription"`
	PublishTimeoutSeconds int    `mapstructure:"publish_timeout_seconds"`
}

// EventsConfig sizes the tracking event hub.
type EventsConfig struct {
	BufferSize      int `mapstructure:"buffer_size"`
	MaxBatchEvents  int `mapstructure:"max_batch_events"`
	MaxBatchWaitMs  int `mapstructure:"max_batch_wait_ms"`
	SinkTimeoutSecs int `mapstructure:"sink_timeout_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TASKPROGRESS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("tracker.address", "ws://localhost:8000/ws/progress/")
	v.SetDefault("tracker.tasks", []string{})
	v.SetDefault("tracker.first_complete", false)
	v.SetDefault("tracker.dial_timeout_seconds", 10)
	v.SetDefault("relay.port", 8000)
	v.SetDefault("relay.source", SourceMemory)
	v.SetDefault("relay.send_buffer", 64)
	v.SetDefault("relay.shutdown_timeout_seconds", 10)
	v.SetDefault("postgres.table", "celery_taskmeta")
	v.SetDefault("postgres.max_conns", 4)
	v.SetDefault("pubsub.publish_timeout_seconds", 10)
	v.SetDefault("events.buffer_size", 1024)
	v.SetDefault("events.max_batch_events", 256)
	v.SetDefault("events.max_batch_wait_ms", 250)
	v.SetDefault("events.sink_timeout_seconds", 5)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Tracker.DialTimeoutSeconds <= 0 {
		return fmt.Errorf("tracker.dial_timeout_seconds must be > 0")
	}
	if c.Relay.Port <= 0 {
		return fmt.Errorf("relay.port must be > 0")
	}
	switch c.Relay.Source {
	case SourceMemory:
	case SourcePostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("postgres.dsn must be set when relay.source is %s", SourcePostgres)
		}
	default:
		return fmt.Errorf("relay.source must be %s or %s, got %q", SourceMemory, SourcePostgres, c.Relay.Source)
	}
	if c.Relay.SendBuffer <= 0 {
		return fmt.Errorf("relay.send_buffer must be > 0")
	}
	if (c.PubSub.Subscription != "" || c.PubSub.Topic != "") && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when a topic or subscription is configured")
	}
	if c.Events.BufferSize < 0 || c.Events.MaxBatchEvents < 0 {
		return fmt.Errorf("events sizes must be >= 0")
	}
	return nil
}

// DialTimeout returns the tracker dial timeout.
func (c Config) DialTimeout() time.Duration {
	return time.Duration(c.Tracker.DialTimeoutSeconds) * time.Second
}

// ShutdownTimeout returns how long the relay waits for in-flight requests.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Relay.ShutdownTimeoutSeconds) * time.Second
}

// MaxConnLifetime returns the Postgres connection lifetime, zero for the pool default.
func (c Config) MaxConnLifetime() time.Duration {
	return time.Duration(c.Postgres.MaxConnLifetimeSeconds) * time.Second
}

// PublishTimeout returns the Pub/Sub publish timeout.
func (c Config) PublishTimeout() time.Duration {
	return time.Duration(c.PubSub.PublishTimeoutSeconds) * time.Second
}

// MaxBatchWait returns the event hub batch wait.
func (c Config) MaxBatchWait() time.Duration {
	return time.Duration(c.Events.MaxBatchWaitMs) * time.Millisecond
}

// SinkTimeout returns the event hub per-sink timeout.
func (c Config) SinkTimeout() time.Duration {
	return time.Duration(c.Events.SinkTimeoutSecs) * time.Second
}
