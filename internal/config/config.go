// ABOUTME: Layered configuration for the WSR2 binaries
// ABOUTME: Merges defaults, an optional TOML file and WSR2_ environment variables
package config

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Resonate-Protocol/wsr2-go/pkg/wsr2"
	"github.com/go-viper/mapstructure/v2"
	toml "github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/pion/logging"
)

// EnvPrefix is the prefix of environment overrides. Single underscores
// separate sections, double underscores stand for a literal underscore:
// WSR2_CLIENT_REQUEST__TIMEOUT sets client.request_timeout.
const EnvPrefix = "WSR2_"

// Config holds the settings shared by the client and server binaries
type Config struct {
	Client  ClientConfig  `koanf:"client"`
	Server  ServerConfig  `koanf:"server"`
	Log     LogConfig     `koanf:"log"`
	Metrics MetricsConfig `koanf:"metrics"`
}

// ClientConfig configures the reliability layer and the demo requester
type ClientConfig struct {
	URL                        string        `koanf:"url"`
	AutoReconnect              bool          `koanf:"auto_reconnect"`
	AutoReconnectInterval      time.Duration `koanf:"auto_reconnect_interval"`
	AutoReconnectMaxRetries    int           `koanf:"auto_reconnect_max_retries"`
	RequestTimeout             time.Duration `koanf:"request_timeout"`
	RequestRetryInterval       time.Duration `koanf:"request_retry_interval"`
	RequestRetryQueueMaxLength int           `koanf:"request_retry_queue_max_length"`

	// SendInterval is how often the demo client issues a request
	SendInterval time.Duration `koanf:"send_interval"`
}

// ServerConfig configures the sample endpoint
type ServerConfig struct {
	Port      int    `koanf:"port"`
	Path      string `koanf:"path"`
	Name      string `koanf:"name"`
	MDNS      bool   `koanf:"mdns"`
	AccountID int    `koanf:"account_id"`
	DropFirst int    `koanf:"drop_first"`
}

// LogConfig configures log output
type LogConfig struct {
	File  string `koanf:"file"`
	Level string `koanf:"level"`
}

// MetricsConfig configures the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// defaults mirrors wsr2.DefaultConfig so every layer merges over concrete values
func defaults() map[string]interface{} {
	client := wsr2.DefaultConfig()

	return map[string]interface{}{
		"client.url":                            "",
		"client.auto_reconnect":                 !client.DisableAutoReconnect,
		"client.auto_reconnect_interval":        client.AutoReconnectInterval,
		"client.auto_reconnect_max_retries":     client.AutoReconnectMaxRetries,
		"client.request_timeout":                client.RequestTimeout,
		"client.request_retry_interval":         client.RequestRetryInterval,
		"client.request_retry_queue_max_length": client.RequestRetryQueueMaxLength,
		"client.send_interval":                  2 * time.Second,

		"server.port":       3000,
		"server.path":       "/",
		"server.name":       "",
		"server.mdns":       true,
		"server.account_id": 1234,
		"server.drop_first": 0,

		"log.file":  "",
		"log.level": "info",

		"metrics.addr": "",
	}
}

// Load builds the configuration. configPath may be empty.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		DecoderConfig: &mapstructure.DecoderConfig{
			TagName:          "koanf",
			WeaklyTypedInput: true,
			Result:           cfg,
			DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		},
	}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// envKey maps WSR2_SECTION_SOME__FIELD to section.some_field
func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	s = strings.ToLower(s)

	s = strings.ReplaceAll(s, "__", "%UNDERSCORE%")
	s = strings.ReplaceAll(s, "_", ".")
	s = strings.ReplaceAll(s, "%UNDERSCORE%", "_")
	return s
}

// Validate checks values that the libraries would otherwise silently default
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if !strings.HasPrefix(c.Server.Path, "/") {
		errs = append(errs, fmt.Errorf("server.path must start with /, got %q", c.Server.Path))
	}
	if c.Server.DropFirst < 0 {
		errs = append(errs, fmt.Errorf("server.drop_first must not be negative, got %d", c.Server.DropFirst))
	}
	if c.Client.SendInterval <= 0 {
		errs = append(errs, fmt.Errorf("client.send_interval must be positive, got %s", c.Client.SendInterval))
	}
	if c.Client.AutoReconnectMaxRetries < 0 {
		errs = append(errs, fmt.Errorf("client.auto_reconnect_max_retries must not be negative, got %d", c.Client.AutoReconnectMaxRetries))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// WSR2 converts the client section into a library configuration
func (c ClientConfig) WSR2() wsr2.Config {
	return wsr2.Config{
		DisableAutoReconnect:       !c.AutoReconnect,
		AutoReconnectInterval:      c.AutoReconnectInterval,
		AutoReconnectMaxRetries:    c.AutoReconnectMaxRetries,
		RequestTimeout:             c.RequestTimeout,
		RequestRetryInterval:       c.RequestRetryInterval,
		RequestRetryQueueMaxLength: c.RequestRetryQueueMaxLength,
	}
}

// ParseLevel converts a level name into a pion log level
func ParseLevel(level string) (logging.LogLevel, error) {
	switch strings.ToLower(level) {
	case "disabled", "off":
		return logging.LogLevelDisabled, nil
	case "error":
		return logging.LogLevelError, nil
	case "warn", "warning":
		return logging.LogLevelWarn, nil
	case "info", "":
		return logging.LogLevelInfo, nil
	case "debug":
		return logging.LogLevelDebug, nil
	case "trace":
		return logging.LogLevelTrace, nil
	}
	return logging.LogLevelDisabled, fmt.Errorf("unknown log level %q", level)
}

// LoggerFactory builds a pion logger factory writing to w at the configured level
func (c LogConfig) LoggerFactory(w io.Writer) logging.LoggerFactory {
	level, err := ParseLevel(c.Level)
	if err != nil {
		level = logging.LogLevelInfo
	}

	return &logging.DefaultLoggerFactory{
		Writer:          w,
		DefaultLogLevel: level,
		ScopeLevels:     make(map[string]logging.LogLevel),
	}
}
