package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Keepalive KeepaliveConfig `yaml:"keepalive"`
	HTTP      HTTPConfig      `yaml:"http"`
	Console   ConsoleConfig   `yaml:"console"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// ServerConfig contains UDP server configuration
type ServerConfig struct {
	UDPPort       int    `yaml:"udp_port" validate:"min=1,max=65535"`
	BindAddress   string `yaml:"bind_address" validate:"required,ip"`
	BufferSize    int    `yaml:"buffer_size" validate:"min=512,max=65535"`
	Workers       int    `yaml:"workers" validate:"min=1,max=1024"`
	QueueSize     int    `yaml:"queue_size" validate:"min=1"`
	SendQueueSize int    `yaml:"send_queue_size" validate:"min=1"`
	RandomSource  string `yaml:"random_source"` // entropy file for player ids, empty for crypto/rand
}

// KeepaliveConfig contains the expiry sweeper parameters, all in seconds
type KeepaliveConfig struct {
	SweepInterval  int `yaml:"sweep_interval" validate:"min=1"`
	Budget         int `yaml:"budget" validate:"min=1"`
	ClientInterval int `yaml:"client_interval" validate:"min=1"`
}

// HTTPConfig contains monitoring API configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// ConsoleConfig controls the operator console on stdin
type ConsoleConfig struct {
	Enabled bool   `yaml:"enabled"`
	Prompt  string `yaml:"prompt"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json text"`
	Output string `yaml:"output"`
}

// TracingConfig controls OpenTelemetry span export
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Output      string  `yaml:"output"` // stdout, stderr or a file path
	SampleRatio float64 `yaml:"sample_ratio" validate:"min=0,max=1"`
	PrettyPrint bool    `yaml:"pretty_print"`
}

// Environment variables that override file values
const (
	EnvUDPPort      = "NTETRIS_UDP_PORT"
	EnvBindAddress  = "NTETRIS_BIND_ADDRESS"
	EnvRandomSource = "NTETRIS_RANDOM_SOURCE"
	EnvHTTPPort     = "NTETRIS_HTTP_PORT"
	EnvLogLevel     = "NTETRIS_LOG_LEVEL"
	EnvTracing      = "NTETRIS_TRACING_ENABLED"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			UDPPort:       48879,
			BindAddress:   "0.0.0.0",
			BufferSize:    2048,
			Workers:       4,
			QueueSize:     1000,
			SendQueueSize: 1000,
			RandomSource:  "/dev/urandom",
		},
		Keepalive: KeepaliveConfig{
			SweepInterval:  15,
			Budget:         30,
			ClientInterval: 10,
		},
		HTTP: HTTPConfig{
			Port:    8080,
			Address: "127.0.0.1",
			Enabled: true,
		},
		Console: ConsoleConfig{
			Enabled: true,
			Prompt:  "ntetris> ",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Output:      "stdout",
			SampleRatio: 1,
		},
	}
}

// Load reads the configuration file over the defaults, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := config.ApplyEnv(); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(files ...string) error {
	for _, file := range files {
		if _, err := os.Stat(file); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
	}
	return nil
}

// ApplyEnv overrides fields from NTETRIS_* environment variables
func (c *Config) ApplyEnv() error {
	if v := os.Getenv(EnvUDPPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvUDPPort, err)
		}
		c.Server.UDPPort = port
	}

	if v := os.Getenv(EnvBindAddress); v != "" {
		c.Server.BindAddress = v
	}

	if v, ok := os.LookupEnv(EnvRandomSource); ok {
		c.Server.RandomSource = v
	}

	if v := os.Getenv(EnvHTTPPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvHTTPPort, err)
		}
		c.HTTP.Port = port
	}

	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}

	if v := os.Getenv(EnvTracing); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvTracing, err)
		}
		c.Tracing.Enabled = enabled
	}

	return nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return describeFieldError(fieldErrs[0])
		}
		return err
	}

	if err := c.Keepalive.Validate(); err != nil {
		return fmt.Errorf("keepalive config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	return nil
}

// describeFieldError renders a validator error using the yaml path of the field
func describeFieldError(fe validator.FieldError) error {
	path := strings.TrimPrefix(fe.Namespace(), "Config.")

	switch fe.Tag() {
	case "min":
		return fmt.Errorf("%s must be at least %s, got %v", path, fe.Param(), fe.Value())
	case "max":
		return fmt.Errorf("%s must be at most %s, got %v", path, fe.Param(), fe.Value())
	case "oneof":
		return fmt.Errorf("%s must be one of [%s], got '%v'", path, fe.Param(), fe.Value())
	case "required":
		return fmt.Errorf("%s cannot be empty", path)
	case "ip":
		return fmt.Errorf("%s must be an IP address, got '%v'", path, fe.Value())
	default:
		return fmt.Errorf("%s failed %s validation", path, fe.Tag())
	}
}

// Validate checks that clients can keep up with the sweeper
func (k *KeepaliveConfig) Validate() error {
	if k.ClientInterval >= k.SweepInterval {
		return fmt.Errorf("client_interval (%d) must be shorter than sweep_interval (%d)",
			k.ClientInterval, k.SweepInterval)
	}

	if k.Budget <= k.SweepInterval {
		return fmt.Errorf("budget (%d) must be greater than sweep_interval (%d)",
			k.Budget, k.SweepInterval)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// GetSweepInterval returns the sweep period as a time.Duration
func (k *KeepaliveConfig) GetSweepInterval() time.Duration {
	return time.Duration(k.SweepInterval) * time.Second
}

// GetClientInterval returns the expected client keepalive period as a time.Duration
func (k *KeepaliveConfig) GetClientInterval() time.Duration {
	return time.Duration(k.ClientInterval) * time.Second
}

// ToleratedMisses returns how many consecutive keepalives a client may miss
// before the sweeper evicts it
func (k *KeepaliveConfig) ToleratedMisses() int {
	return (k.Budget - 1) / k.SweepInterval
}
