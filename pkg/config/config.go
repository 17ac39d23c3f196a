// Package config provides configuration management for muxcache clients and
// the reference server.
//
// The package supports configuration through multiple sources with the following precedence:
//  1. Environment variables (highest priority)
//  2. YAML configuration file
//  3. Default values (lowest priority)
//
// Client Configuration:
//   - Server address and dial timeout
//   - Default per-request timeout and write timeout
//   - Outbound queue size, read buffer size and maximum frame size
//   - Correlation id scheme
//   - Logging
//
// Server Configuration:
//   - Host and port binding
//   - Store sizing and expiry sweep interval
//   - Metrics endpoint
//   - Logging
//
// Example client usage:
//
//	cfg, err := config.LoadClientConfig("muxcache.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//	c, err := client.DialConfig(ctx, cfg)
//
// Environment variables are prefixed with "CACHEMIR_" and use uppercase names.
// For example, the server address can be set with CACHEMIR_ADDRESS=cache:8080.
// Values in the YAML file may reference environment variables as $NAME or ${NAME}.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/cachemir/muxcache/pkg/logging"
)

// Correlation id schemes
const (
	IDSchemeUUID  = "uuid"
	IDSchemeKSUID = "ksuid"
)

// Default configuration constants
const (
	DefaultServerPort       = 8080
	DefaultAddress          = "localhost:8080"
	DefaultDialTimeout      = 5 * time.Second
	DefaultRequestTimeout   = 5 * time.Second
	DefaultWriteTimeout     = 10 * time.Second
	DefaultQueueSize        = 1024
	DefaultReadBufferSize   = 32 * 1024
	DefaultMaxFrameSize     = 1024 * 1024
	DefaultShards           = 1024
	DefaultMaxEntrySize     = 512
	DefaultHardMaxCacheSize = 0
	DefaultCleanInterval    = time.Minute
	DefaultIDScheme         = IDSchemeUUID
)

// ClientConfig holds all configuration options for a muxcache client.
//
// Example:
//
//	cfg := config.DefaultClientConfig()
//	cfg.Address = "cache.internal:8080"
//	cfg.RequestTimeout = 2 * time.Second
//	if err := cfg.Validate(); err != nil {
//		log.Fatal(err)
//	}
type ClientConfig struct {
	Address        string         `yaml:"address" validate:"required,hostname_port"`
	DialTimeout    time.Duration  `yaml:"dial_timeout" validate:"gt=0"`
	RequestTimeout time.Duration  `yaml:"request_timeout" validate:"gte=0"`
	WriteTimeout   time.Duration  `yaml:"write_timeout" validate:"gte=0"`
	QueueSize      int            `yaml:"queue_size" validate:"gt=0"`
	ReadBufferSize int            `yaml:"read_buffer_size" validate:"gte=512"`
	MaxFrameSize   int            `yaml:"max_frame_size" validate:"gte=1024"`
	IDScheme       string         `yaml:"id_scheme" validate:"oneof=uuid ksuid"`
	Log            logging.Config `yaml:"log"`
}

// ServerConfig holds all configuration options for the reference server.
type ServerConfig struct {
	Host             string         `yaml:"host"`
	Port             int            `yaml:"port" validate:"gte=1,lte=65535"`
	MaxFrameSize     int            `yaml:"max_frame_size" validate:"gte=1024"`
	WriteTimeout     time.Duration  `yaml:"write_timeout" validate:"gt=0"`
	Shards           int            `yaml:"shards" validate:"gt=0"`
	MaxEntrySize     int            `yaml:"max_entry_size" validate:"gt=0"`
	HardMaxCacheSize int            `yaml:"hard_max_cache_size_mb" validate:"gte=0"`
	CleanInterval    time.Duration  `yaml:"clean_interval" validate:"gte=0"`
	MetricsAddr      string         `yaml:"metrics_addr" validate:"omitempty,hostname_port"`
	Log              logging.Config `yaml:"log"`
}

// DefaultClientConfig returns a ClientConfig populated with defaults.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Address:        DefaultAddress,
		DialTimeout:    DefaultDialTimeout,
		RequestTimeout: DefaultRequestTimeout,
		WriteTimeout:   DefaultWriteTimeout,
		QueueSize:      DefaultQueueSize,
		ReadBufferSize: DefaultReadBufferSize,
		MaxFrameSize:   DefaultMaxFrameSize,
		IDScheme:       DefaultIDScheme,
		Log:            logging.DefaultConfig(),
	}
}

// DefaultServerConfig returns a ServerConfig populated with defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:             "0.0.0.0",
		Port:             DefaultServerPort,
		MaxFrameSize:     DefaultMaxFrameSize,
		WriteTimeout:     DefaultWriteTimeout,
		Shards:           DefaultShards,
		MaxEntrySize:     DefaultMaxEntrySize,
		HardMaxCacheSize: DefaultHardMaxCacheSize,
		CleanInterval:    DefaultCleanInterval,
		Log:              logging.DefaultConfig(),
	}
}

// LoadClientConfig builds a ClientConfig from defaults, the optional YAML
// file at path (skipped when path is empty) and CACHEMIR_* environment
// variables, then validates it.
//
// Environment variables:
//
//	CACHEMIR_ADDRESS: Server address (host:port)
//	CACHEMIR_DIAL_TIMEOUT: Dial timeout (Go duration, e.g. "3s")
//	CACHEMIR_REQUEST_TIMEOUT: Default per-request timeout
//	CACHEMIR_WRITE_TIMEOUT: Write timeout
//	CACHEMIR_QUEUE_SIZE: Outbound queue capacity
//	CACHEMIR_ID_SCHEME: uuid or ksuid
//	CACHEMIR_LOG_LEVEL: debug, info, warn or error
//	CACHEMIR_LOG_FORMAT: console or json
//	CACHEMIR_LOG_FILE: Log file path
func LoadClientConfig(path string) (*ClientConfig, error) {
	cfg := DefaultClientConfig()

	if err := loadFile(path, cfg); err != nil {
		return nil, err
	}

	if addr := os.Getenv("CACHEMIR_ADDRESS"); addr != "" {
		cfg.Address = strings.TrimSpace(addr)
	}
	if err := envDuration("CACHEMIR_DIAL_TIMEOUT", &cfg.DialTimeout); err != nil {
		return nil, err
	}
	if err := envDuration("CACHEMIR_REQUEST_TIMEOUT", &cfg.RequestTimeout); err != nil {
		return nil, err
	}
	if err := envDuration("CACHEMIR_WRITE_TIMEOUT", &cfg.WriteTimeout); err != nil {
		return nil, err
	}
	if err := envInt("CACHEMIR_QUEUE_SIZE", &cfg.QueueSize); err != nil {
		return nil, err
	}
	if scheme := os.Getenv("CACHEMIR_ID_SCHEME"); scheme != "" {
		cfg.IDScheme = strings.ToLower(scheme)
	}
	envLog(&cfg.Log)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadServerConfig builds a ServerConfig from defaults, the optional YAML
// file at path and CACHEMIR_* environment variables, then validates it.
//
// Environment variables:
//
//	CACHEMIR_HOST: Host to bind
//	CACHEMIR_PORT: Port to listen on
//	CACHEMIR_METRICS_ADDR: Address for the Prometheus endpoint
//	CACHEMIR_HARD_MAX_CACHE_SIZE_MB: Store size limit in megabytes (0 = unlimited)
//	CACHEMIR_LOG_LEVEL, CACHEMIR_LOG_FORMAT, CACHEMIR_LOG_FILE: Logging
func LoadServerConfig(path string) (*ServerConfig, error) {
	cfg := DefaultServerConfig()

	if err := loadFile(path, cfg); err != nil {
		return nil, err
	}

	if host := os.Getenv("CACHEMIR_HOST"); host != "" {
		cfg.Host = host
	}
	if err := envInt("CACHEMIR_PORT", &cfg.Port); err != nil {
		return nil, err
	}
	if addr := os.Getenv("CACHEMIR_METRICS_ADDR"); addr != "" {
		cfg.MetricsAddr = addr
	}
	if err := envInt("CACHEMIR_HARD_MAX_CACHE_SIZE_MB", &cfg.HardMaxCacheSize); err != nil {
		return nil, err
	}
	envLog(&cfg.Log)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Address returns the address the server binds to.
//
// Example:
//
//	cfg := &ServerConfig{Host: "0.0.0.0", Port: 8080}
//	addr := cfg.Address() // Returns "0.0.0.0:8080"
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate checks the ClientConfig against its struct constraints.
func (c *ClientConfig) Validate() error {
	if err := newValidator().Struct(c); err != nil {
		return fmt.Errorf("invalid client config: %w", err)
	}
	return c.Log.Validate()
}

// Validate checks the ServerConfig against its struct constraints.
func (c *ServerConfig) Validate() error {
	if err := newValidator().Struct(c); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}
	return c.Log.Validate()
}

func newValidator() *validator.Validate {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return validate
}

func loadFile(path string, out any) error {
	if path == "" {
		return nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(content))
	if err := yaml.Unmarshal([]byte(expanded), out); err != nil {
		return fmt.Errorf("decode config file: %w", err)
	}
	return nil
}

func envDuration(name string, dst *time.Duration) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = d
	return nil
}

func envInt(name string, dst *int) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = n
	return nil
}

func envLog(cfg *logging.Config) {
	if level := os.Getenv("CACHEMIR_LOG_LEVEL"); level != "" {
		cfg.Level = strings.ToLower(level)
	}
	if format := os.Getenv("CACHEMIR_LOG_FORMAT"); format != "" {
		cfg.Format = strings.ToLower(format)
	}
	if file := os.Getenv("CACHEMIR_LOG_FILE"); file != "" {
		cfg.File = file
	}
}
