package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/koresolucoes/pontog-sub001/models"
)

const (
	// AppDirectoryName is the per-user application data directory name.
	AppDirectoryName = "pontog"
	// FeedMemory keeps change events inside the process.
	FeedMemory = "memory"
	// FeedRedis fans change events out through Redis pub/sub.
	FeedRedis = "redis"
	// DefaultRedisAddr is used when the redis feed is selected without an address.
	DefaultRedisAddr = "localhost:6379"
	// DefaultPushRatePerMinute bounds push notifications sent by one client.
	DefaultPushRatePerMinute = 30
	// DefaultLogLevel is the zap level used when none is configured.
	DefaultLogLevel = "info"
	// configFileName is the persisted configuration file.
	configFileName = "config.json"
)

// ErrNoLocation is returned by a Locator without a configured position.
var ErrNoLocation = errors.New("config: no location configured")

// ClientConfig contains persistent local-user settings.
type ClientConfig struct {
	UserID            string   `json:"user_id"`
	DisplayName       string   `json:"display_name"`
	SigningKeyPath    string   `json:"signing_key_path"`
	Feed              string   `json:"feed"`
	RedisAddr         string   `json:"redis_addr,omitempty"`
	RedisPassword     string   `json:"redis_password,omitempty"`
	RedisDB           int      `json:"redis_db,omitempty"`
	RedisPrefix       string   `json:"redis_prefix,omitempty"`
	PushEndpoint      string   `json:"push_endpoint,omitempty"`
	PushAPIKey        string   `json:"push_api_key,omitempty"`
	PushRatePerMinute int      `json:"push_rate_per_minute"`
	LogLevel          string   `json:"log_level"`
	MetricsAddr       string   `json:"metrics_addr,omitempty"`
	Latitude          *float64 `json:"latitude,omitempty"`
	Longitude         *float64 `json:"longitude,omitempty"`
}

// ResolveDataDir returns the OS-aware app data directory.
//
// If PONTOG_DATA_DIR is set, its value is used as an explicit override.
func ResolveDataDir() (string, error) {
	if override := os.Getenv("PONTOG_DATA_DIR"); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(base, AppDirectoryName), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", AppDirectoryName), nil
	default:
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			base = filepath.Join(home, ".config")
		}
		return filepath.Join(base, AppDirectoryName), nil
	}
}

// ConfigPath returns the full path to config.json for a data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, configFileName)
}

// EnsureDataDirectories creates the app data directory layout if needed.
func EnsureDataDirectories(dataDir string) error {
	for _, dir := range []string{dataDir, filepath.Join(dataDir, "keys")} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// LoadEnvFile loads KEY=VALUE pairs from a .env file into the process
// environment. A missing file is not an error; existing variables win.
func LoadEnvFile(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load env file %q: %w", path, err)
	}
	return nil
}

// Load reads and unmarshals config.json from disk.
func Load(path string) (*ClientConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg ClientConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// Save marshals and writes config.json to disk.
func Save(path string, cfg *ClientConfig) error {
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	raw = append(raw, '\n')
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// LoadOrCreate ensures directories and config exist, then returns both.
// PONTOG_* environment variables override file values without being saved.
func LoadOrCreate() (*ClientConfig, string, error) {
	dataDir, err := ResolveDataDir()
	if err != nil {
		return nil, "", err
	}
	if err := EnsureDataDirectories(dataDir); err != nil {
		return nil, "", err
	}

	cfgPath := ConfigPath(dataDir)
	cfg, err := Load(cfgPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", err
		}

		cfg = defaultConfig(dataDir)
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}
	} else if normalizeDefaults(cfg, dataDir) {
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, "", err
	}
	return cfg, cfgPath, nil
}

// Locator returns the fixed position configured for location shares.
func (c *ClientConfig) Locator() StaticLocator {
	if c.Latitude == nil || c.Longitude == nil {
		return StaticLocator{}
	}
	return StaticLocator{Position: &models.Location{Latitude: *c.Latitude, Longitude: *c.Longitude}}
}

// StaticLocator reports a configured position.
type StaticLocator struct {
	Position *models.Location
}

// Locate returns the configured position or ErrNoLocation.
func (l StaticLocator) Locate(_ context.Context) (models.Location, error) {
	if l.Position == nil {
		return models.Location{}, ErrNoLocation
	}
	if err := l.Position.Validate(); err != nil {
		return models.Location{}, err
	}
	return *l.Position, nil
}

func defaultConfig(dataDir string) *ClientConfig {
	return &ClientConfig{
		UserID:            uuid.NewString(),
		DisplayName:       defaultDisplayName(),
		SigningKeyPath:    filepath.Join(dataDir, "keys", "signing_ed25519.pem"),
		Feed:              FeedMemory,
		PushRatePerMinute: DefaultPushRatePerMinute,
		LogLevel:          DefaultLogLevel,
	}
}

func defaultDisplayName() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "Pontog User"
}

func normalizeDefaults(cfg *ClientConfig, dataDir string) bool {
	updated := false

	if cfg.UserID == "" {
		cfg.UserID = uuid.NewString()
		updated = true
	}
	if cfg.DisplayName == "" {
		cfg.DisplayName = defaultDisplayName()
		updated = true
	}
	if cfg.SigningKeyPath == "" {
		cfg.SigningKeyPath = filepath.Join(dataDir, "keys", "signing_ed25519.pem")
		updated = true
	}

	mode := normalizeFeed(cfg.Feed)
	if mode == "" {
		if cfg.RedisAddr != "" {
			mode = FeedRedis
		} else {
			mode = FeedMemory
		}
	}
	if cfg.Feed != mode {
		cfg.Feed = mode
		updated = true
	}
	if cfg.Feed == FeedRedis && cfg.RedisAddr == "" {
		cfg.RedisAddr = DefaultRedisAddr
		updated = true
	}

	if cfg.PushRatePerMinute <= 0 {
		cfg.PushRatePerMinute = DefaultPushRatePerMinute
		updated = true
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
		updated = true
	}

	return updated
}

func normalizeFeed(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case FeedMemory:
		return FeedMemory
	case FeedRedis:
		return FeedRedis
	default:
		return ""
	}
}

func applyEnvOverrides(cfg *ClientConfig) error {
	if v := os.Getenv("PONTOG_USER_ID"); v != "" {
		cfg.UserID = v
	}
	if v := os.Getenv("PONTOG_DISPLAY_NAME"); v != "" {
		cfg.DisplayName = v
	}
	if v := os.Getenv("PONTOG_FEED"); v != "" {
		mode := normalizeFeed(v)
		if mode == "" {
			return fmt.Errorf("invalid PONTOG_FEED %q", v)
		}
		cfg.Feed = mode
	}
	if v := os.Getenv("PONTOG_REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("PONTOG_REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("PONTOG_REDIS_DB"); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PONTOG_REDIS_DB %q: %w", v, err)
		}
		cfg.RedisDB = db
	}
	if v := os.Getenv("PONTOG_PUSH_ENDPOINT"); v != "" {
		cfg.PushEndpoint = v
	}
	if v := os.Getenv("PONTOG_PUSH_API_KEY"); v != "" {
		cfg.PushAPIKey = v
	}
	if v := os.Getenv("PONTOG_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("PONTOG_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if cfg.Feed == FeedRedis && cfg.RedisAddr == "" {
		cfg.RedisAddr = DefaultRedisAddr
	}
	return nil
}
