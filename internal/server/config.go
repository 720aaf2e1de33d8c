package server

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hay-kot/criterio"
	"gopkg.in/yaml.v3"

	"github.com/Tyrowin/rably/internal/relay"
)

// ErrInvalidConfig wraps every error returned by Config.Validate.
var ErrInvalidConfig = errors.New("invalid config")

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `yaml:"burst"`
	RefillInterval time.Duration `yaml:"refill_interval"`
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port              string          `yaml:"port"`
	AllowedOrigins    []string        `yaml:"allowed_origins"`
	MaxMessageSize    int64           `yaml:"max_message_size"`
	SendBufferSize    int             `yaml:"send_buffer_size"`
	TopicCapacity     int             `yaml:"topic_capacity"`
	RateLimit         RateLimitConfig `yaml:"rate_limit"`
	KeepStalePresence bool            `yaml:"keep_stale_presence"`
	ShutdownTimeout   time.Duration   `yaml:"shutdown_timeout"`
}

// DefaultConfig returns a Config populated with default values for all settings.
func DefaultConfig() Config {
	return Config{
		Port:           "8080",
		AllowedOrigins: []string{"*"},
		MaxMessageSize: 64 * 1024,
		SendBufferSize: 256,
		TopicCapacity:  relay.DefaultTopicCapacity,
		RateLimit: RateLimitConfig{
			Burst:          20,
			RefillInterval: time.Second,
		},
		ShutdownTimeout: 10 * time.Second,
	}
}

// LoadConfig reads path, if it names an existing file, over the defaults.
// An empty path or a missing file yields the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// Addr returns the listen address for the configured port. Both "8080" and
// ":8080" are accepted, as is a full "host:port".
func (c Config) Addr() string {
	port := strings.TrimSpace(c.Port)
	if strings.Contains(port, ":") {
		return port
	}
	return ":" + port
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs criterio.FieldErrorsBuilder

	if strings.TrimSpace(c.Port) == "" {
		errs = errs.Append("port", errors.New("cannot be empty"))
	}
	if c.MaxMessageSize <= 0 {
		errs = errs.Append("max_message_size", fmt.Errorf("must be positive, got %d", c.MaxMessageSize))
	}
	if c.SendBufferSize <= 0 {
		errs = errs.Append("send_buffer_size", fmt.Errorf("must be positive, got %d", c.SendBufferSize))
	}
	if c.TopicCapacity <= 0 {
		errs = errs.Append("topic_capacity", fmt.Errorf("must be positive, got %d", c.TopicCapacity))
	}
	if c.RateLimit.Burst < 0 {
		errs = errs.Append("rate_limit.burst", fmt.Errorf("cannot be negative, got %d", c.RateLimit.Burst))
	}
	if c.RateLimit.RefillInterval <= 0 {
		errs = errs.Append("rate_limit.refill_interval", fmt.Errorf("must be positive, got %s", c.RateLimit.RefillInterval))
	}
	if c.ShutdownTimeout <= 0 {
		errs = errs.Append("shutdown_timeout", fmt.Errorf("must be positive, got %s", c.ShutdownTimeout))
	}

	if err := errs.ToError(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// RelayOptions maps the configuration onto relay options.
func (c Config) RelayOptions() relay.Options {
	return relay.Options{
		MaxMessageSize:     c.MaxMessageSize,
		SendBufferSize:     c.SendBufferSize,
		RateBurst:          c.RateLimit.Burst,
		RateRefillInterval: c.RateLimit.RefillInterval,
		KeepStalePresence:  c.KeepStalePresence,
	}
}

// ParseOrigins splits a comma separated origin list.
func ParseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
