package cfg

import (
	"errors"
	"flag"
	"fmt"
	"hash/fnv"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Environment variables recognized on top of the config file
const (
	EnvEventBusName = "EVENT_BUS_NAME"
	EnvSourceARN    = "EVENT_SOURCE_ARN"
	EnvMaxAttempt   = "MAX_ATTEMPT"
	EnvDLQURL       = "DLQ_URL"
	EnvLoggingLevel = "LOGGING_LEVEL"
)

// UnsetMaxAttempts marks retry.max_attempts as not supplied
const UnsetMaxAttempts = -1

// BusConfiguration selects and configures the destination event bus
type BusConfiguration struct {
	Type     string   `toml:"type"` // "eventbridge", "kafka" or "nats"
	Name     string   `toml:"name"`
	Source   string   `toml:"source"`
	Region   string   `toml:"region"`
	Endpoint string   `toml:"endpoint"` // Override for local stacks
	Brokers  []string `toml:"brokers"`
	NatsURL  string   `toml:"nats_url"`
}

// StreamConfiguration describes the upstream change stream
type StreamConfiguration struct {
	SourceARN    string   `toml:"source_arn"`
	FilterTables []string `toml:"filter_tables"` // Glob patterns, empty matches all
}

// RetryConfiguration bounds publish attempts per record
type RetryConfiguration struct {
	MaxAttempts      int     `toml:"max_attempts"`
	InitialBackoffMS int     `toml:"initial_backoff_ms"` // 0 = retry immediately
	MaxBackoffMS     int     `toml:"max_backoff_ms"`
	Multiplier       float64 `toml:"multiplier"`
}

// DeadLetterConfiguration selects and configures the dead-letter queue
type DeadLetterConfiguration struct {
	Type         string `toml:"type"` // "sqs", "redis" or "spool"
	URL          string `toml:"url"`  // Queue URL, redis URL or spool directory
	Region       string `toml:"region"`
	Endpoint     string `toml:"endpoint"`
	DelaySeconds int    `toml:"delay_seconds"`
	Author       string `toml:"author"`
	Namespace    string `toml:"namespace"` // Redis key namespace
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled bool `toml:"enabled"`
}

// ServerConfiguration for the inbound HTTP surface
type ServerConfiguration struct {
	BindAddress string `toml:"bind_address"`
	Port        int    `toml:"port"`
	Secret      string `toml:"secret"` // Empty disables auth
}

// Configuration is the main configuration structure
type Configuration struct {
	InstanceID uint64 `toml:"instance_id"`

	Bus        BusConfiguration        `toml:"bus"`
	Stream     StreamConfiguration     `toml:"stream"`
	Retry      RetryConfiguration      `toml:"retry"`
	DeadLetter DeadLetterConfiguration `toml:"dead_letter"`
	Logging    LoggingConfiguration    `toml:"logging"`
	Prometheus PrometheusConfiguration `toml:"prometheus"`
	Server     ServerConfiguration     `toml:"server"`
}

// ConfigurationError reports a required option that is absent or invalid
type ConfigurationError struct {
	Option string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration %s: %s", e.Option, e.Reason)
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "config.toml", "Path to configuration file")
	EnvFileFlag    = flag.String("env-file", ".env", "Optional dotenv file loaded before the environment is read")
	BatchFileFlag  = flag.String("batch", "", "Dispatch a single batch from this JSON file and exit")
)

// Config holds the active configuration, seeded with defaults
var Config = Default()

// Default returns the built-in defaults. Required options stay empty.
func Default() *Configuration {
	return &Configuration{
		Bus: BusConfiguration{
			Type:   "eventbridge",
			Source: "operations.aws.dynamodb",
		},
		Retry: RetryConfiguration{
			MaxAttempts: UnsetMaxAttempts,
			Multiplier:  2.0,
		},
		DeadLetter: DeadLetterConfiguration{
			Type:         "sqs",
			DelaySeconds: 10,
			Author:       "fanout",
			Namespace:    "fanout",
		},
		Logging: LoggingConfiguration{
			Level:  "info",
			Format: "console",
		},
		Prometheus: PrometheusConfiguration{
			Enabled: true,
		},
		Server: ServerConfiguration{
			BindAddress: "0.0.0.0",
			Port:        8080,
		},
	}
}

// Load loads configuration from file, dotenv and environment
func Load(configPath, envPath string) error {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	if envPath != "" {
		// godotenv never overrides variables already present in the environment
		if err := godotenv.Load(envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load env file %s: %w", envPath, err)
		}
	}

	if err := applyEnv(Config); err != nil {
		return err
	}

	if Config.InstanceID == 0 {
		id, err := generateInstanceID()
		if err != nil {
			// Only used as a metrics label
			log.Warn().Err(err).Msg("Failed to derive instance ID from machine ID")
		} else {
			Config.InstanceID = id
		}
	}

	return nil
}

func applyEnv(c *Configuration) error {
	if v, ok := os.LookupEnv(EnvEventBusName); ok {
		c.Bus.Name = v
	}
	if v, ok := os.LookupEnv(EnvSourceARN); ok {
		c.Stream.SourceARN = v
	}
	if v, ok := os.LookupEnv(EnvDLQURL); ok {
		c.DeadLetter.URL = v
	}
	if v, ok := os.LookupEnv(EnvLoggingLevel); ok {
		c.Logging.Level = strings.ToLower(v)
	}
	if v, ok := os.LookupEnv(EnvMaxAttempt); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return &ConfigurationError{Option: EnvMaxAttempt, Reason: fmt.Sprintf("not an integer: %q", v)}
		}
		c.Retry.MaxAttempts = n
	}
	return nil
}

// generateInstanceID creates a stable ID based on machine ID
func generateInstanceID() (uint64, error) {
	id, err := machineid.ProtectedID("fanout")
	if err != nil {
		return 0, err
	}

	h := fnv.New64a()
	h.Write([]byte(id))
	return h.Sum64(), nil
}

// Validate checks the active configuration for errors
func Validate() error {
	return Config.Validate()
}

// Validate checks configuration for missing or invalid options
func (c *Configuration) Validate() error {
	if c.Bus.Name == "" {
		return &ConfigurationError{Option: "bus.name", Reason: "required (" + EnvEventBusName + ")"}
	}
	if c.Stream.SourceARN == "" {
		return &ConfigurationError{Option: "stream.source_arn", Reason: "required (" + EnvSourceARN + ")"}
	}
	if c.Retry.MaxAttempts == UnsetMaxAttempts {
		return &ConfigurationError{Option: "retry.max_attempts", Reason: "required (" + EnvMaxAttempt + ")"}
	}
	if c.Retry.MaxAttempts < 0 {
		return &ConfigurationError{Option: "retry.max_attempts", Reason: "must be >= 0"}
	}
	if c.DeadLetter.URL == "" {
		return &ConfigurationError{Option: "dead_letter.url", Reason: "required (" + EnvDLQURL + ")"}
	}
	if c.DeadLetter.DelaySeconds < 0 || c.DeadLetter.DelaySeconds > 900 {
		return &ConfigurationError{Option: "dead_letter.delay_seconds", Reason: "must be within 0..900"}
	}
	if c.Retry.InitialBackoffMS < 0 || c.Retry.MaxBackoffMS < 0 {
		return &ConfigurationError{Option: "retry", Reason: "backoff must be >= 0"}
	}

	switch c.Bus.Type {
	case "eventbridge":
	case "kafka":
		if len(c.Bus.Brokers) == 0 {
			return &ConfigurationError{Option: "bus.brokers", Reason: "kafka bus requires at least one broker"}
		}
	case "nats":
		if c.Bus.NatsURL == "" {
			return &ConfigurationError{Option: "bus.nats_url", Reason: "nats bus requires a server URL"}
		}
	default:
		return &ConfigurationError{Option: "bus.type", Reason: fmt.Sprintf("unknown bus type %q", c.Bus.Type)}
	}

	switch c.DeadLetter.Type {
	case "sqs", "spool":
	case "redis":
		if c.DeadLetter.Namespace == "" {
			return &ConfigurationError{Option: "dead_letter.namespace", Reason: "redis queue requires a key namespace"}
		}
	default:
		return &ConfigurationError{Option: "dead_letter.type", Reason: fmt.Sprintf("unknown queue type %q", c.DeadLetter.Type)}
	}

	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic", "disabled":
	default:
		return &ConfigurationError{Option: "logging.level", Reason: fmt.Sprintf("unknown level %q", c.Logging.Level)}
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return &ConfigurationError{Option: "server.port", Reason: fmt.Sprintf("invalid port %d", c.Server.Port)}
	}

	return nil
}
