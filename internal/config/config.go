package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Security  SecurityConfig  `yaml:"security" envconfig:"SECURITY"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Store     StoreConfig     `yaml:"store" envconfig:"STORE"`
	Updates   UpdatesConfig   `yaml:"updates" envconfig:"UPDATES"`
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
	Client    ClientConfig    `yaml:"client" envconfig:"CLIENT"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT" default:"8080"`
	PublicURL       string        `yaml:"public_url" envconfig:"PUBLIC_URL" default:"http://localhost:8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"60s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" envconfig:"MAX_HEADER_BYTES" default:"1048576"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
	RequestTimeout  time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT" default:"30s"`
}

// SecurityConfig contains security-related configuration
type SecurityConfig struct {
	AllowedOrigins []string        `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS" default:"*"`
	EnableCORS     bool            `yaml:"enable_cors" envconfig:"ENABLE_CORS" default:"true"`
	RateLimit      RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
	Guard          GuardConfig     `yaml:"guard" envconfig:"GUARD"`
}

// RateLimitConfig contains per-client rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED" default:"true"`
	RPS     float64 `yaml:"rps" envconfig:"RPS" default:"5"`
	Burst   int     `yaml:"burst" envconfig:"BURST" default:"20"`
}

// GuardConfig configures blocking of clients that probe for license keys
type GuardConfig struct {
	Enabled       bool          `yaml:"enabled" envconfig:"ENABLED" default:"true"`
	MaxFailures   int           `yaml:"max_failures" envconfig:"MAX_FAILURES" default:"20"`
	Window        time.Duration `yaml:"window" envconfig:"WINDOW" default:"10m"`
	BlockDuration time.Duration `yaml:"block_duration" envconfig:"BLOCK_DURATION" default:"15m"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Format      string `yaml:"format" envconfig:"FORMAT" default:"json"`
	Output      string `yaml:"output" envconfig:"OUTPUT" default:"console"`
	FilePath    string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/licensekit.log"`
	Development bool   `yaml:"development" envconfig:"DEVELOPMENT" default:"false"`
}

// StoreConfig selects and tunes the entitlement store
type StoreConfig struct {
	Driver          string        `yaml:"driver" envconfig:"DRIVER" default:"sqlite"`
	DSN             string        `yaml:"dsn" envconfig:"DSN" default:"data/licenses.db"`
	SeedFile        string        `yaml:"seed_file" envconfig:"SEED_FILE"`
	LogLevel        string        `yaml:"log_level" envconfig:"LOG_LEVEL" default:"silent"`
	MaxOpenConns    int           `yaml:"max_open_conns" envconfig:"MAX_OPEN_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" envconfig:"CONN_MAX_LIFETIME" default:"30m"`
}

// UpdatesConfig locates the release catalog and package archives
type UpdatesConfig struct {
	CatalogFile string `yaml:"catalog_file" envconfig:"CATALOG_FILE" default:"data/releases.yaml"`
	PackagesDir string `yaml:"packages_dir" envconfig:"PACKAGES_DIR" default:"data/packages"`
}

// TelemetryConfig contains OpenTelemetry configuration
type TelemetryConfig struct {
	ServiceName    string  `yaml:"service_name" envconfig:"SERVICE_NAME" default:"licensekit"`
	Environment    string  `yaml:"environment" envconfig:"ENVIRONMENT" default:"production"`
	TracingEnabled bool    `yaml:"tracing_enabled" envconfig:"TRACING_ENABLED" default:"false"`
	MetricsEnabled bool    `yaml:"metrics_enabled" envconfig:"METRICS_ENABLED" default:"true"`
	SampleRate     float64 `yaml:"sample_rate" envconfig:"SAMPLE_RATE" default:"1.0"`
}

// ClientConfig configures the consumer-side entitlement cache
type ClientConfig struct {
	AuthorityURL   string        `yaml:"authority_url" envconfig:"AUTHORITY_URL" default:"http://localhost:8080"`
	ProductSlug    string        `yaml:"product_slug" envconfig:"PRODUCT_SLUG"`
	ProductVersion string        `yaml:"product_version" envconfig:"PRODUCT_VERSION" default:"0.0.0"`
	SiteURL        string        `yaml:"site_url" envconfig:"SITE_URL"`
	HostVersion    string        `yaml:"host_version" envconfig:"HOST_VERSION"`
	CacheTTL       time.Duration `yaml:"cache_ttl" envconfig:"CACHE_TTL" default:"1h"`
	GraceWindow    time.Duration `yaml:"grace_window" envconfig:"GRACE_WINDOW" default:"168h"`
	RemoteTimeout  time.Duration `yaml:"remote_timeout" envconfig:"REMOTE_TIMEOUT" default:"8s"`
	RetryMax       int           `yaml:"retry_max" envconfig:"RETRY_MAX" default:"2"`
	CacheBackend   string        `yaml:"cache_backend" envconfig:"CACHE_BACKEND" default:"memory"`
	RedisAddr      string        `yaml:"redis_addr" envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword  string        `yaml:"redis_password" envconfig:"REDIS_PASSWORD"`
	RedisDB        int           `yaml:"redis_db" envconfig:"REDIS_DB" default:"0"`
	StateFile      string        `yaml:"state_file" envconfig:"STATE_FILE" default:"data/entitlement.json"`
	StateSecret    string        `yaml:"state_secret" envconfig:"STATE_SECRET"`
}

// Load loads configuration from a .env file, environment variables and an
// optional YAML file. Environment variables take precedence over the file,
// and the file over built-in defaults.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if configFile := getConfigFilePath(); configFile != "" {
		if err := mergeFile(&cfg, configFile); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// mergeFile overlays values present in a YAML file onto cfg, skipping any
// field whose environment variable is set
func mergeFile(cfg *Config, filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}

	var fileCfg Config
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return err
	}
	var present map[interface{}]interface{}
	if err := yaml.Unmarshal(data, &present); err != nil {
		return err
	}

	mergeStruct(reflect.ValueOf(cfg).Elem(), reflect.ValueOf(fileCfg), present, EnvPrefix)
	return nil
}

func mergeStruct(dst, src reflect.Value, present map[interface{}]interface{}, envKey string) {
	t := dst.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		yamlKey := strings.Split(field.Tag.Get("yaml"), ",")[0]
		raw, ok := present[yamlKey]
		if !ok {
			continue
		}
		key := envKey + "_" + strings.ToUpper(field.Tag.Get("envconfig"))

		if field.Type.Kind() == reflect.Struct {
			nested, _ := raw.(map[interface{}]interface{})
			mergeStruct(dst.Field(i), src.Field(i), nested, key)
			continue
		}
		if _, set := os.LookupEnv(key); set {
			continue
		}
		dst.Field(i).Set(src.Field(i))
	}
}

// validate validates the configuration
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be positive")
	}

	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server write timeout must be positive")
	}

	if u, err := url.Parse(c.Server.PublicURL); err != nil || u.Host == "" {
		return fmt.Errorf("invalid server public url: %q", c.Server.PublicURL)
	}

	switch c.Store.Driver {
	case "memory", "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("unsupported store driver: %s", c.Store.Driver)
	}

	if c.Security.RateLimit.Enabled && (c.Security.RateLimit.RPS <= 0 || c.Security.RateLimit.Burst <= 0) {
		return fmt.Errorf("rate limit rps and burst must be positive")
	}

	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return fmt.Errorf("telemetry sample rate must be between 0 and 1")
	}

	switch c.Client.CacheBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported client cache backend: %s", c.Client.CacheBackend)
	}

	if c.Client.CacheTTL <= 0 || c.Client.GraceWindow <= 0 || c.Client.RemoteTimeout <= 0 {
		return fmt.Errorf("client cache ttl, grace window and remote timeout must be positive")
	}

	// JSON is the only supported log format
	c.Logging.Format = "json"

	switch c.Logging.Output {
	case "console", "file", "both":
	default:
		c.Logging.Output = "console"
	}

	if c.Logging.FilePath == "" {
		c.Logging.FilePath = "logs/licensekit.log"
	}

	return nil
}

// getConfigFilePath returns the path to the config file
func getConfigFilePath() string {
	if explicit := os.Getenv(EnvPrefix + "_CONFIG"); explicit != "" {
		return explicit
	}

	locations := []string{
		"config.yaml",
		"configs/config.yaml",
		"../configs/config.yaml",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return "" // No config file found, use env vars only
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			PublicURL:       "http://localhost:8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     60 * time.Second,
			MaxHeaderBytes:  1 << 20, // 1MB
			ShutdownTimeout: 30 * time.Second,
			RequestTimeout:  30 * time.Second,
		},
		Security: SecurityConfig{
			AllowedOrigins: []string{"*"},
			EnableCORS:     true,
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     5,
				Burst:   20,
			},
			Guard: GuardConfig{
				Enabled:       true,
				MaxFailures:   20,
				Window:        10 * time.Minute,
				BlockDuration: 15 * time.Minute,
			},
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "console",
			FilePath: "logs/licensekit.log",
		},
		Store: StoreConfig{
			Driver:          "sqlite",
			DSN:             "data/licenses.db",
			LogLevel:        "silent",
			MaxOpenConns:    10,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Updates: UpdatesConfig{
			CatalogFile: "data/releases.yaml",
			PackagesDir: "data/packages",
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "licensekit",
			Environment:    "production",
			MetricsEnabled: true,
			SampleRate:     1.0,
		},
		Client: ClientConfig{
			AuthorityURL:   "http://localhost:8080",
			ProductVersion: "0.0.0",
			CacheTTL:       DefaultCacheTTL,
			GraceWindow:    DefaultGraceWindow,
			RemoteTimeout:  DefaultRemoteTimeout,
			RetryMax:       2,
			CacheBackend:   "memory",
			RedisAddr:      "localhost:6379",
			StateFile:      "data/entitlement.json",
		},
	}
}
