// Package config loads the orchestrator process's settings (server
// bind address, storage backend, concurrency limits, execution
// profiles) via spf13/viper, per spec.md §2's ambient configuration
// layer. No pack repo ships a viper-based loader to generalize the
// shape from (viper appears only in other_examples manifests across
// the corpus) so this follows viper's own documented idiom: defaults,
// then config file, then environment overrides, unmarshaled into one
// struct.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/forgeflow/orchestrator/internal/domain"
)

// StorageBackend selects the Workflow Store / Checkpoint Store
// implementation.
type StorageBackend string

const (
	BackendMemory StorageBackend = "memory"
	BackendSQLite StorageBackend = "sqlite"
	BackendMySQL  StorageBackend = "mysql"
)

// Config is the orchestrator process's full settings.
type Config struct {
	// HTTPAddr is the bind address for the REST+WebSocket server.
	HTTPAddr string `mapstructure:"http_addr"`

	// Storage selects the Workflow Store/Checkpoint Store backend and
	// its connection string (SQLite file path or MySQL DSN; ignored
	// for BackendMemory).
	Storage StorageBackend `mapstructure:"storage"`
	DSN     string         `mapstructure:"dsn"`

	MaxConcurrent              int `mapstructure:"max_concurrent"`
	DefaultMaxReviewIterations int `mapstructure:"default_max_review_iterations"`

	// TraceRetentionDays and StreamToolResults feed
	// internal/eventbus.Bus.Configure (spec.md §4.1).
	TraceRetentionDays int  `mapstructure:"trace_retention_days"`
	StreamToolResults  bool `mapstructure:"stream_tool_results"`

	// EventRetentionMaxAge and EventRetentionInterval feed
	// internal/retention.Sweeper (spec.md §2). Zero max age disables
	// pruning entirely.
	EventRetentionMaxAge   time.Duration `mapstructure:"event_retention_max_age"`
	EventRetentionInterval time.Duration `mapstructure:"event_retention_interval"`

	// WebSocketAllowedOrigins feeds internal/wsapi.Manager's
	// CheckOrigin; empty allows every origin (development default).
	WebSocketAllowedOrigins []string `mapstructure:"websocket_allowed_origins"`

	// Profiles maps profile id -> domain.Profile (spec.md §3).
	Profiles map[string]domain.Profile `mapstructure:"profiles"`

	LogLevel string `mapstructure:"log_level"`
}

// Load reads configuration from (in increasing priority order)
// built-in defaults, an optional file at path (if non-empty), and
// environment variables prefixed FORGEFLOW_ (e.g.
// FORGEFLOW_HTTP_ADDR, FORGEFLOW_MAX_CONCURRENT).
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("forgeflow")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("storage", string(BackendSQLite))
	v.SetDefault("dsn", "orchestrator.db")
	v.SetDefault("max_concurrent", 5)
	v.SetDefault("default_max_review_iterations", 3)
	v.SetDefault("trace_retention_days", 7)
	v.SetDefault("stream_tool_results", false)
	v.SetDefault("event_retention_max_age", 30*24*time.Hour)
	v.SetDefault("event_retention_interval", time.Hour)
	v.SetDefault("log_level", "info")
	v.SetDefault("profiles", map[string]interface{}{
		"default": map[string]interface{}{
			"name":     "default",
			"driver":   string(domain.DriverCLIClaude),
			"tracker":  string(domain.TrackerNone),
			"strategy": string(domain.StrategySingle),
			"trust":    string(domain.TrustStandard),
		},
	})
}

// Validate rejects configurations the rest of the system cannot run
// with (an unknown storage backend, a profile that fails its own
// enterprise-compliance rule).
func (c Config) Validate() error {
	switch c.Storage {
	case BackendMemory, BackendSQLite, BackendMySQL:
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Storage)
	}
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("config: max_concurrent must be at least 1, got %d", c.MaxConcurrent)
	}
	for id, profile := range c.Profiles {
		if err := profile.Validate(); err != nil {
			return fmt.Errorf("config: profile %q: %w", id, err)
		}
	}
	return nil
}
