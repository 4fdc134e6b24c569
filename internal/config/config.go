package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Auth   AuthConfig   `yaml:"auth"`
	Worker WorkerConfig `yaml:"worker"`
	Log    LogConfig    `yaml:"log"`
	Stores   StoresConfig   `yaml:"stores"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	Client   ClientConfig   `yaml:"client"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// AuthConfig contains authentication settings.
type AuthConfig struct {
	APIKey string `yaml:"-"` // env-only, never in YAML
}

// WorkerConfig contains background worker settings.
type WorkerConfig struct {
	PruneInterval      Duration `yaml:"prune_interval"`
	TombstoneRetention Duration `yaml:"tombstone_retention"`
	MetaFlushInterval  Duration `yaml:"meta_flush_interval"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// StoresConfig contains multi-store settings.
type StoresConfig struct {
	RootPath string `yaml:"root_path"`
}

// SnapshotConfig contains dataset snapshot settings. An empty Bucket keeps
// snapshots local; a zero Interval disables the periodic worker.
type SnapshotConfig struct {
	Interval  Duration `yaml:"interval"`
	Endpoint  string   `yaml:"endpoint"`
	Bucket    string   `yaml:"bucket"`
	Region    string   `yaml:"region"`
	UseSSL    *bool    `yaml:"use_ssl"`
	URLExpiry Duration `yaml:"url_expiry"`
	AccessKey string   `yaml:"-"` // env-only
	SecretKey string   `yaml:"-"` // env-only
}

// ClientConfig contains settings for the embedded sync client.
type ClientConfig struct {
	ServerURL    string   `yaml:"server_url"`
	StoreID      string   `yaml:"store_id"`
	DBPath       string   `yaml:"db_path"`
	SchemaPath   string   `yaml:"schema_path"`
	AppVersion   string   `yaml:"app_version"`
	SyncInterval Duration `yaml:"sync_interval"`
	Throttle     Duration `yaml:"throttle"`
	MaxRetries   int      `yaml:"max_retries"`
	ProbeDelay   Duration `yaml:"probe_delay"`
	Timeout      Duration `yaml:"timeout"`
	Compress     bool     `yaml:"compress"`
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load loads configuration with precedence: defaults → YAML file → env vars.
// Returns an immutable Config suitable for concurrent read access.
func Load() (*Config, error) {
	cfg, err := loadUnvalidated()
	if err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a specific path.
// Used by tests and callers with an explicit config file.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	// Load YAML file (file must exist for this function)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadStoresConfig returns the store settings without requiring server
// credentials, for offline store administration.
func LoadStoresConfig() (StoresConfig, error) {
	cfg, err := loadUnvalidated()
	if err != nil {
		return StoresConfig{}, err
	}
	return cfg.Stores, nil
}

// LoadSnapshotConfig returns the snapshot settings without requiring server
// credentials.
func LoadSnapshotConfig() (SnapshotConfig, error) {
	cfg, err := loadUnvalidated()
	if err != nil {
		return SnapshotConfig{}, err
	}
	return cfg.Snapshot, nil
}

// LoadClientConfig returns the client settings without requiring server
// credentials. The client's API key still comes from SIMPLESYNC_API_KEY.
func LoadClientConfig() (*Config, error) {
	cfg, err := loadUnvalidated()
	if err != nil {
		return nil, err
	}
	if err := cfg.validateCommon(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadUnvalidated() (*Config, error) {
	cfg := newDefaults()

	// Determine config path
	configPath := getEnv("SIMPLESYNC_CONFIG_PATH", "config/simplesync.yaml")

	// Load YAML file if it exists (missing file is not an error)
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)
	return cfg, nil
}

// newDefaults returns a Config with all default values.
func newDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Worker: WorkerConfig{
			PruneInterval:      Duration(24 * time.Hour),
			TombstoneRetention: Duration(30 * 24 * time.Hour),
			MetaFlushInterval:  Duration(time.Minute),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Stores: StoresConfig{
			RootPath: "~/.simplesync/stores",
		},
		Snapshot: SnapshotConfig{
			URLExpiry: Duration(15 * time.Minute),
		},
		Client: ClientConfig{
			StoreID:      "default",
			DBPath:       "~/.simplesync/client.db",
			SchemaPath:   "~/.simplesync/schema.yaml",
			SyncInterval: Duration(5 * time.Minute),
			Throttle:     Duration(time.Second),
			MaxRetries:   3,
			ProbeDelay:   Duration(10 * time.Second),
			Timeout:      Duration(30 * time.Second),
			Compress:     true,
		},
	}
}

// loadYAMLFile loads configuration from a YAML file if it exists.
// Missing file is not an error; we just use defaults.
func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Missing file is OK; use defaults
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

func envDuration(key string, dst *Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = Duration(d)
		}
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty env vars override config values.
func applyEnvOverrides(cfg *Config) {
	// Server
	envInt("SIMPLESYNC_PORT", &cfg.Server.Port)
	envDuration("SIMPLESYNC_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	envDuration("SIMPLESYNC_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	envDuration("SIMPLESYNC_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)

	// Auth
	envString("SIMPLESYNC_API_KEY", &cfg.Auth.APIKey)

	// Worker
	envDuration("SIMPLESYNC_PRUNE_INTERVAL", &cfg.Worker.PruneInterval)
	envDuration("SIMPLESYNC_TOMBSTONE_RETENTION", &cfg.Worker.TombstoneRetention)
	envDuration("SIMPLESYNC_META_FLUSH_INTERVAL", &cfg.Worker.MetaFlushInterval)

	// Log
	envString("SIMPLESYNC_LOG_LEVEL", &cfg.Log.Level)
	envString("SIMPLESYNC_LOG_FORMAT", &cfg.Log.Format)

	// Stores
	envString("SIMPLESYNC_STORES_ROOT", &cfg.Stores.RootPath)

	// Snapshot
	envDuration("SIMPLESYNC_SNAPSHOT_INTERVAL", &cfg.Snapshot.Interval)
	envString("SIMPLESYNC_S3_ENDPOINT", &cfg.Snapshot.Endpoint)
	envString("SIMPLESYNC_S3_BUCKET", &cfg.Snapshot.Bucket)
	envString("SIMPLESYNC_S3_REGION", &cfg.Snapshot.Region)
	envString("SIMPLESYNC_S3_ACCESS_KEY", &cfg.Snapshot.AccessKey)
	envString("SIMPLESYNC_S3_SECRET_KEY", &cfg.Snapshot.SecretKey)
	envDuration("SIMPLESYNC_S3_URL_EXPIRY", &cfg.Snapshot.URLExpiry)
	if v := os.Getenv("SIMPLESYNC_S3_USE_SSL"); v != "" {
		useSSL := v == "true" || v == "1"
		cfg.Snapshot.UseSSL = &useSSL
	}

	// Client
	envString("SIMPLESYNC_SERVER_URL", &cfg.Client.ServerURL)
	envString("SIMPLESYNC_STORE_ID", &cfg.Client.StoreID)
	envString("SIMPLESYNC_DB_PATH", &cfg.Client.DBPath)
	envString("SIMPLESYNC_SCHEMA_PATH", &cfg.Client.SchemaPath)
	envString("SIMPLESYNC_APP_VERSION", &cfg.Client.AppVersion)
	envDuration("SIMPLESYNC_SYNC_INTERVAL", &cfg.Client.SyncInterval)
	envDuration("SIMPLESYNC_THROTTLE", &cfg.Client.Throttle)
	envInt("SIMPLESYNC_MAX_RETRIES", &cfg.Client.MaxRetries)
	envDuration("SIMPLESYNC_PROBE_DELAY", &cfg.Client.ProbeDelay)
	envDuration("SIMPLESYNC_TIMEOUT", &cfg.Client.Timeout)
	if v := os.Getenv("SIMPLESYNC_COMPRESS"); v != "" {
		cfg.Client.Compress = v == "true" || v == "1"
	}
}

// validate checks that required configuration values are set.
// In dev mode (SIMPLESYNC_DEV_MODE=true), API key validation is skipped.
func (c *Config) validate() error {
	if err := c.validateCommon(); err != nil {
		return err
	}

	// Dev mode bypasses API key validation
	if os.Getenv("SIMPLESYNC_DEV_MODE") == "true" {
		return nil
	}
	if c.Auth.APIKey == "" {
		return errors.New("SIMPLESYNC_API_KEY is required")
	}
	return nil
}

func (c *Config) validateCommon() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format %q", c.Log.Format)
	}
	if c.Client.MaxRetries < 0 {
		return fmt.Errorf("invalid client max_retries %d", c.Client.MaxRetries)
	}
	if c.Client.Throttle < 0 || c.Client.SyncInterval < 0 {
		return errors.New("client durations must not be negative")
	}
	if c.Snapshot.Bucket != "" && c.Snapshot.Endpoint == "" {
		return errors.New("snapshot bucket requires an S3 endpoint")
	}
	return nil
}

// ExpandPath replaces a leading "~" with the user's home directory.
func ExpandPath(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expand %q: %w", path, err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
