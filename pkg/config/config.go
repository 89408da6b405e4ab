// Package config loads server configuration from the environment, an
// optional .env file and an optional YAML overlay.
//
// Every variable carries the MCP_ prefix. Sections use a nested prefix, so
// the hub send timeout is MCP_HUB_SEND_TIMEOUT and the Redis URL is
// MCP_REDIS_URL. Values from a YAML file given to LoadFile override the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/mcp-notify-go/pkg/logging"
	"github.com/ajitpratap0/mcp-notify-go/pkg/observability"
	"github.com/ajitpratap0/mcp-notify-go/pkg/protocol"
	"github.com/ajitpratap0/mcp-notify-go/pkg/transport"
)

// EnvPrefix is prepended to every variable name
const EnvPrefix = "MCP_"

var dotenvLoaded sync.Once

// Config is the complete server configuration
type Config struct {
	// LogLevel is the default severity for client log notifications.
	// Unknown values fall back to info.
	LogLevel string `env:"LOG_LEVEL" envDefault:"info" yaml:"log_level"`
	// ServerLogLevel controls the server's own diagnostic log
	ServerLogLevel string `env:"SERVER_LOG_LEVEL" envDefault:"info" yaml:"server_log_level"`
	LogFormat      string `env:"LOG_FORMAT" envDefault:"text" yaml:"log_format"`

	// Stdio registers stdin/stdout as the single-session transport
	Stdio bool `env:"STDIO" envDefault:"false" yaml:"stdio"`

	HTTP    HTTPConfig    `envPrefix:"HTTP_" yaml:"http"`
	Hub     HubConfig     `envPrefix:"HUB_" yaml:"hub"`
	MQTT    MQTTConfig    `envPrefix:"MQTT_" yaml:"mqtt"`
	Broker  BrokerConfig  `envPrefix:"BROKER_" yaml:"broker"`
	Redis   RedisConfig   `envPrefix:"REDIS_" yaml:"redis"`
	Metrics MetricsConfig `envPrefix:"METRICS_" yaml:"metrics"`
	Tracing TracingConfig `envPrefix:"TRACING_" yaml:"tracing"`
}

// HTTPConfig configures the session server
type HTTPConfig struct {
	Enabled bool   `env:"ENABLED" envDefault:"true" yaml:"enabled"`
	Addr    string `env:"ADDR" envDefault:":8080" yaml:"addr"`
	// AllowedOrigins extends the localhost origins accepted by default
	AllowedOrigins  []string      `env:"ALLOWED_ORIGINS" envSeparator:"," yaml:"allowed_origins"`
	KeepAlive       time.Duration `env:"KEEPALIVE" envDefault:"15s" yaml:"keepalive"`
	WSWriteTimeout  time.Duration `env:"WS_WRITE_TIMEOUT" envDefault:"10s" yaml:"ws_write_timeout"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s" yaml:"shutdown_timeout"`
}

// HubConfig configures broadcast delivery
type HubConfig struct {
	SendTimeout time.Duration `env:"SEND_TIMEOUT" envDefault:"5s" yaml:"send_timeout"`
}

// MQTTConfig configures the MQTT broadcast-only transport. An empty
// BrokerURL disables it.
type MQTTConfig struct {
	BrokerURL      string        `env:"BROKER_URL" yaml:"broker_url"`
	ClientID       string        `env:"CLIENT_ID" envDefault:"mcp-notify" yaml:"client_id"`
	Topic          string        `env:"TOPIC" envDefault:"mcp/notifications" yaml:"topic"`
	QoS            int           `env:"QOS" envDefault:"0" yaml:"qos"`
	Retain         bool          `env:"RETAIN" envDefault:"false" yaml:"retain"`
	Username       string        `env:"USERNAME" yaml:"username"`
	Password       string        `env:"PASSWORD" yaml:"password"`
	ConnectTimeout time.Duration `env:"CONNECT_TIMEOUT" envDefault:"10s" yaml:"connect_timeout"`
	RateLimit      float64       `env:"RATE_LIMIT" envDefault:"0" yaml:"rate_limit"`
	RateBurst      int           `env:"RATE_BURST" envDefault:"1" yaml:"rate_burst"`
}

// BrokerConfig configures the embedded MQTT broker. An empty Address
// disables it.
type BrokerConfig struct {
	Address string `env:"ADDRESS" yaml:"address"`
	Topic   string `env:"TOPIC" envDefault:"mcp/notifications" yaml:"topic"`
}

// RedisConfig configures the Redis pub/sub transport. An empty URL
// disables it.
type RedisConfig struct {
	URL            string        `env:"URL" yaml:"url"`
	Channel        string        `env:"CHANNEL" envDefault:"mcp:notifications" yaml:"channel"`
	RetryAttempts  int           `env:"RETRY_ATTEMPTS" envDefault:"3" yaml:"retry_attempts"`
	RetryInterval  time.Duration `env:"RETRY_INTERVAL" envDefault:"1s" yaml:"retry_interval"`
	ConnectTimeout time.Duration `env:"CONNECT_TIMEOUT" envDefault:"5s" yaml:"connect_timeout"`
	RateLimit      float64       `env:"RATE_LIMIT" envDefault:"0" yaml:"rate_limit"`
	RateBurst      int           `env:"RATE_BURST" envDefault:"1" yaml:"rate_burst"`
}

// MetricsConfig configures Prometheus metrics. With an empty Address the
// handler is mounted on the session server.
type MetricsConfig struct {
	Enabled   bool   `env:"ENABLED" envDefault:"true" yaml:"enabled"`
	Path      string `env:"PATH" envDefault:"/metrics" yaml:"path"`
	Address   string `env:"ADDRESS" yaml:"address"`
	Namespace string `env:"NAMESPACE" envDefault:"mcp" yaml:"namespace"`
}

// TracingConfig configures OpenTelemetry tracing
type TracingConfig struct {
	Exporter    string            `env:"EXPORTER" envDefault:"noop" yaml:"exporter"`
	Endpoint    string            `env:"ENDPOINT" yaml:"endpoint"`
	Insecure    bool              `env:"INSECURE" envDefault:"false" yaml:"insecure"`
	Headers     map[string]string `env:"HEADERS" yaml:"headers"`
	SampleRate  float64           `env:"SAMPLE_RATE" envDefault:"1" yaml:"sample_rate"`
	ServiceName string            `env:"SERVICE_NAME" envDefault:"mcp-notify" yaml:"service_name"`
	Environment string            `env:"ENVIRONMENT" envDefault:"development" yaml:"environment"`
}

// Load reads the .env file in the working directory (once per process, if
// present) and parses the environment into a Config.
func Load() (Config, error) {
	dotenvLoaded.Do(func() {
		// a missing .env is fine
		_ = godotenv.Load()
	})

	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, errors.Join(ErrParsingConfig, err)
	}
	return cfg, nil
}

// LoadFile loads the environment like Load and then overlays the YAML file
// at path. Keys absent from the file keep their environment values.
func LoadFile(path string) (Config, error) {
	cfg, err := Load()
	if err != nil {
		return Config{}, err
	}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Join(ErrReadingFile, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Join(ErrReadingFile, fmt.Errorf("%s: %w", path, err))
	}
	return cfg, nil
}

// DefaultLevel returns the configured client log level, or info when the
// value is empty or not one of the eight levels.
func (c Config) DefaultLevel() protocol.LoggingLevel {
	if level, ok := protocol.ParseLoggingLevel(c.LogLevel); ok {
		return level
	}
	return protocol.LoggingLevelInfo
}

// Logger builds the server's diagnostic logger writing to stderr. Stdout
// is reserved for the stdio transport.
func (c Config) Logger() (logging.Logger, error) {
	level, err := logging.ParseLevel(c.ServerLogLevel)
	if err != nil {
		return nil, err
	}
	formatter, err := logging.NewFormatter(c.LogFormat)
	if err != nil {
		return nil, err
	}
	logger := logging.New(os.Stderr, formatter)
	logger.SetLevel(level)
	return logger, nil
}

// Validate reports settings that cannot be used to start a server
func (c Config) Validate() error {
	var errs []error
	if _, err := logging.ParseLevel(c.ServerLogLevel); err != nil {
		errs = append(errs, err)
	}
	if _, err := logging.NewFormatter(c.LogFormat); err != nil {
		errs = append(errs, err)
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt qos %d out of range 0-2", c.MQTT.QoS))
	}
	switch observability.ExporterType(strings.ToLower(c.Tracing.Exporter)) {
	case observability.ExporterTypeNoop, observability.ExporterTypeOTLPGRPC, observability.ExporterTypeOTLPHTTP:
	default:
		errs = append(errs, fmt.Errorf("unknown tracing exporter %q", c.Tracing.Exporter))
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("tracing sample rate %v out of range 0-1", c.Tracing.SampleRate))
	}
	if c.Hub.SendTimeout < 0 {
		errs = append(errs, fmt.Errorf("hub send timeout %v is negative", c.Hub.SendTimeout))
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(append([]error{ErrInvalidConfig}, errs...)...)
}

// MQTTTransport converts the MQTT section for transport.DialMQTT
func (c Config) MQTTTransport() transport.MQTTConfig {
	return transport.MQTTConfig{
		BrokerURL:      c.MQTT.BrokerURL,
		ClientID:       c.MQTT.ClientID,
		Topic:          c.MQTT.Topic,
		QoS:            byte(c.MQTT.QoS),
		Retain:         c.MQTT.Retain,
		Username:       c.MQTT.Username,
		Password:       c.MQTT.Password,
		ConnectTimeout: c.MQTT.ConnectTimeout,
	}
}

// RedisTransport converts the Redis section for transport.DialRedis
func (c Config) RedisTransport() transport.RedisConfig {
	return transport.RedisConfig{
		URL:            c.Redis.URL,
		Channel:        c.Redis.Channel,
		RetryAttempts:  c.Redis.RetryAttempts,
		RetryInterval:  c.Redis.RetryInterval,
		ConnectTimeout: c.Redis.ConnectTimeout,
	}
}

// MetricsProvider converts the metrics section
func (c Config) MetricsProvider(version string) observability.MetricsConfig {
	return observability.MetricsConfig{
		ServiceName:    c.Tracing.ServiceName,
		ServiceVersion: version,
		Environment:    c.Tracing.Environment,
		MetricsPath:    c.Metrics.Path,
		Address:        c.Metrics.Address,
		Namespace:      c.Metrics.Namespace,
	}
}

// TracingProvider converts the tracing section
func (c Config) TracingProvider(version string) observability.TracingConfig {
	return observability.TracingConfig{
		ServiceName:    c.Tracing.ServiceName,
		ServiceVersion: version,
		Environment:    c.Tracing.Environment,
		ExporterType:   observability.ExporterType(strings.ToLower(c.Tracing.Exporter)),
		Endpoint:       c.Tracing.Endpoint,
		Headers:        c.Tracing.Headers,
		Insecure:       c.Tracing.Insecure,
		SampleRate:     c.Tracing.SampleRate,
		SetGlobal:      true,
	}
}
