// Package config loads and validates agent config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds the telemetry agent configuration.
type Config struct {
	// Endpoint is the ingest URL for the http transport (e.g. https://api.example.com/v1/telemetry/batch).
	Endpoint string `mapstructure:"TELEMETRY_ENDPOINT"`
	// Transport selects the outbound sender: http, kafka, loki or otel.
	Transport string `mapstructure:"TELEMETRY_TRANSPORT"`
	// IngestSecret signs bearer tokens for the ingest endpoint and verifies tokens on the agent's own
	// ingest API. Empty disables both.
	IngestSecret string `mapstructure:"TELEMETRY_INGEST_SECRET"`
	// ClientID identifies this agent (e.g. store or terminal id). Also namespaces persisted state.
	ClientID string `mapstructure:"TELEMETRY_CLIENT_ID"`
	// Compress gzips http transport bodies.
	Compress bool `mapstructure:"TELEMETRY_COMPRESS"`

	QueueMaxSize        int           `mapstructure:"TELEMETRY_QUEUE_MAX_SIZE"`
	FlushInterval       time.Duration `mapstructure:"TELEMETRY_FLUSH_INTERVAL"`
	CriticalDebounce    time.Duration `mapstructure:"TELEMETRY_CRITICAL_DEBOUNCE"`
	RetryBaseDelay      time.Duration `mapstructure:"TELEMETRY_RETRY_BASE_DELAY"`
	RetryMaxDelay       time.Duration `mapstructure:"TELEMETRY_RETRY_MAX_DELAY"`
	SendTimeout         time.Duration `mapstructure:"TELEMETRY_SEND_TIMEOUT"`
	MaxConcurrentGroups int           `mapstructure:"TELEMETRY_MAX_CONCURRENT_GROUPS"`
	ShutdownTimeout     time.Duration `mapstructure:"TELEMETRY_SHUTDOWN_TIMEOUT"`

	// Store selects durable state: memory, sqlite or postgres.
	Store string `mapstructure:"TELEMETRY_STORE"`
	// SQLitePath is the state file for the sqlite store.
	SQLitePath string `mapstructure:"TELEMETRY_SQLITE_PATH"`
	// DatabaseURL is the Postgres DSN for the postgres store and cmd/migrate.
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	// KafkaBrokers is a comma-separated list of Kafka broker addresses (e.g. "localhost:9092").
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic   string `mapstructure:"TELEMETRY_KAFKA_TOPIC"`
	// KafkaGroupID is the consumer group ID for the relay worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
	// LokiURL is the Loki base URL for the loki transport and the relay worker (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`

	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	// ProbeURL is checked for reachability. http(s) URLs use HEAD; grpc://host:port uses grpc.health.v1.
	// Empty means always online.
	ProbeURL      string        `mapstructure:"TELEMETRY_PROBE_URL"`
	ProbeInterval time.Duration `mapstructure:"TELEMETRY_PROBE_INTERVAL"`

	// PolicyFile is an optional Rego module overriding priority classification.
	PolicyFile string `mapstructure:"TELEMETRY_POLICY_FILE"`

	// HTTPAddr is the agent's local ingest API address.
	HTTPAddr string `mapstructure:"AGENT_HTTP_ADDR"`
	// GRPCAddr serves grpc.health.v1 for the agent. Empty disables the gRPC listener.
	GRPCAddr string `mapstructure:"AGENT_GRPC_ADDR"`
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

var defaults = map[string]any{
	"TELEMETRY_ENDPOINT":              "",
	"TELEMETRY_TRANSPORT":             "http",
	"TELEMETRY_INGEST_SECRET":         "",
	"TELEMETRY_CLIENT_ID":             "",
	"TELEMETRY_COMPRESS":              true,
	"TELEMETRY_QUEUE_MAX_SIZE":        500,
	"TELEMETRY_FLUSH_INTERVAL":        "15s",
	"TELEMETRY_CRITICAL_DEBOUNCE":     "100ms",
	"TELEMETRY_RETRY_BASE_DELAY":      "30s",
	"TELEMETRY_RETRY_MAX_DELAY":       "10m",
	"TELEMETRY_SEND_TIMEOUT":          "10s",
	"TELEMETRY_MAX_CONCURRENT_GROUPS": 4,
	"TELEMETRY_SHUTDOWN_TIMEOUT":      "2s",
	"TELEMETRY_STORE":                 "sqlite",
	"TELEMETRY_SQLITE_PATH":           "telemetry-state.db",
	"DATABASE_URL":                    "",
	"KAFKA_BROKERS":                   "",
	"TELEMETRY_KAFKA_TOPIC":           "retail-telemetry",
	"KAFKA_GROUP_ID":                  "retail-telemetry-relay",
	"LOKI_URL":                        "",
	"OTEL_EXPORTER_OTLP_ENDPOINT":     "",
	"OTEL_EXPORTER_OTLP_INSECURE":     false,
	"TELEMETRY_PROBE_URL":             "",
	"TELEMETRY_PROBE_INTERVAL":        "30s",
	"TELEMETRY_POLICY_FILE":           "",
	"AGENT_HTTP_ADDR":                 "127.0.0.1:8089",
	"AGENT_GRPC_ADDR":                 "",
	"LOG_LEVEL":                       "info",
	"APP_ENV":                         "",
}

func newViper() *viper.Viper {
	v := viper.New()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	v.AutomaticEnv()
	return v
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env.
func Load() (*Config, error) {
	v := newViper()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound
	return decode(v)
}

// LoadPartial reads like Load but skips Validate, for tools that use only a few keys
// (cmd/migrate, cmd/worker, cmd/telemetryctl).
func LoadPartial() (*Config, error) {
	v := newViper()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig()
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

// LoadFile reads an explicit config file (.env, .yaml, .json; type from extension). Unlike Load,
// a missing or unreadable file is an error. Env vars still override file values.
func LoadFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if strings.HasSuffix(path, ".env") {
		v.SetConfigType("env")
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return decode(v)
}

// Watch reloads path on change and calls fn with the new config. Invalid edits are logged and skipped.
// Only settings that are safe to change at runtime should be applied by fn (the log level).
func Watch(path string, logger *slog.Logger, fn func(*Config)) error {
	v := newViper()
	v.SetConfigFile(path)
	if strings.HasSuffix(path, ".env") {
		v.SetConfigType("env")
	}
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v)
		if err != nil {
			logger.Warn("config: ignoring invalid reload", "file", e.Name, "err", err)
			return
		}
		fn(cfg)
	})
	v.WatchConfig()
	return nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the combination of transport and store settings.
func (c *Config) Validate() error {
	c.Transport = strings.ToLower(strings.TrimSpace(c.Transport))
	c.Store = strings.ToLower(strings.TrimSpace(c.Store))
	switch c.Transport {
	case "http":
		if c.Endpoint == "" {
			return errors.New("config: TELEMETRY_ENDPOINT must be set for the http transport")
		}
	case "kafka":
		if len(c.KafkaBrokersList()) == 0 {
			return errors.New("config: KAFKA_BROKERS must be set for the kafka transport")
		}
	case "loki":
		if c.LokiURL == "" {
			return errors.New("config: LOKI_URL must be set for the loki transport")
		}
	case "otel":
		if c.OTLPEndpoint == "" {
			return errors.New("config: OTEL_EXPORTER_OTLP_ENDPOINT must be set for the otel transport")
		}
	default:
		return fmt.Errorf("config: unknown TELEMETRY_TRANSPORT %q", c.Transport)
	}
	switch c.Store {
	case "memory":
	case "sqlite":
		if c.SQLitePath == "" {
			return errors.New("config: TELEMETRY_SQLITE_PATH must be set for the sqlite store")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("config: DATABASE_URL must be set for the postgres store")
		}
	default:
		return fmt.Errorf("config: unknown TELEMETRY_STORE %q", c.Store)
	}
	if c.QueueMaxSize <= 0 {
		return errors.New("config: TELEMETRY_QUEUE_MAX_SIZE must be positive")
	}
	if c.RetryMaxDelay < c.RetryBaseDelay {
		return errors.New("config: TELEMETRY_RETRY_MAX_DELAY must not be less than TELEMETRY_RETRY_BASE_DELAY")
	}
	if c.FlushInterval <= 0 || c.CriticalDebounce <= 0 {
		return errors.New("config: TELEMETRY_FLUSH_INTERVAL and TELEMETRY_CRITICAL_DEBOUNCE must be positive")
	}
	return nil
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// StateNamespace is the key prefix for persisted pipeline state.
func (c *Config) StateNamespace() string {
	if c.ClientID == "" {
		return "telemetry"
	}
	return "telemetry:" + c.ClientID
}
