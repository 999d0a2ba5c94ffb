package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/codefionn/streamchat/internal/consts"
)

// Environment variables that override file values
const (
	EnvEndpoint = "STREAMCHAT_WS_URL"
	EnvModel    = "STREAMCHAT_MODEL"
	EnvLogLevel = "STREAMCHAT_LOG_LEVEL"
	EnvLogPath  = "STREAMCHAT_LOG_PATH"
)

// ReconnectConfig controls automatic reconnection after the socket closes
type ReconnectConfig struct {
	MaxAttempts int `json:"max_attempts"`
	MinDelayMs  int `json:"min_delay_ms"`
	MaxDelayMs  int `json:"max_delay_ms"`
}

// MinDelay returns the first backoff delay
func (r ReconnectConfig) MinDelay() time.Duration {
	return time.Duration(r.MinDelayMs) * time.Millisecond
}

// MaxDelay returns the backoff cap
func (r ReconnectConfig) MaxDelay() time.Duration {
	return time.Duration(r.MaxDelayMs) * time.Millisecond
}

// Config represents application configuration
type Config struct {
	Endpoint      string          `json:"endpoint"`
	Model         string          `json:"model"`
	Temperature   float64         `json:"temperature"`
	MaxTokens     int             `json:"max_tokens,omitempty"`
	Reconnect     ReconnectConfig `json:"reconnect"`
	ResetDelayMs  int             `json:"reset_delay_ms"`
	NoticeDelayMs int             `json:"notice_delay_ms"`
	LogLevel      string          `json:"log_level"` // debug, info, warn, error, none
	LogPath       string          `json:"-"`
}

func defaultConfigDir() string {
	switch runtime.GOOS {
	case "windows":
		if appData := strings.TrimSpace(os.Getenv("APPDATA")); appData != "" {
			return filepath.Join(appData, "streamchat")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Roaming", "streamchat")
	default:
		if configHome := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); configHome != "" {
			return filepath.Join(configHome, "streamchat")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".config", "streamchat")
	}
}

func defaultStateDir() string {
	switch runtime.GOOS {
	case "linux":
		if stateHome := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); stateHome != "" {
			return filepath.Join(stateHome, "streamchat")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".local", "state", "streamchat")
	case "windows":
		if localAppData := strings.TrimSpace(os.Getenv("LOCALAPPDATA")); localAppData != "" {
			return filepath.Join(localAppData, "streamchat")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Local", "streamchat")
	default:
		return defaultConfigDir()
	}
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Endpoint:    consts.DefaultEndpoint,
		Model:       consts.DefaultModel,
		Temperature: consts.DefaultTemperature,
		Reconnect: ReconnectConfig{
			MaxAttempts: consts.DefaultMaxReconnectAttempts,
			MinDelayMs:  int(consts.DefaultMinBackoff / time.Millisecond),
			MaxDelayMs:  int(consts.DefaultMaxBackoff / time.Millisecond),
		},
		ResetDelayMs:  int(consts.ResetConnectionDelay / time.Millisecond),
		NoticeDelayMs: int(consts.NoticeDelay / time.Millisecond),
		LogLevel:      "info",
		LogPath:       filepath.Join(defaultStateDir(), "streamchat.log"),
	}
}

// Load reads configuration from path on top of the defaults. A missing file
// is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogPath == "" {
		cfg.LogPath = filepath.Join(defaultStateDir(), "streamchat.log")
	}

	return cfg, nil
}

// ApplyEnv lets environment variables override file values
func (c *Config) ApplyEnv(getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := strings.TrimSpace(getenv(EnvEndpoint)); v != "" {
		c.Endpoint = v
	}
	if v := strings.TrimSpace(getenv(EnvModel)); v != "" {
		c.Model = v
	}
	if v := strings.TrimSpace(getenv(EnvLogLevel)); v != "" {
		c.LogLevel = v
	}
	if v := strings.TrimSpace(getenv(EnvLogPath)); v != "" {
		c.LogPath = v
	}
}

// Validate reports the first invalid setting
func (c *Config) Validate() error {
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return fmt.Errorf("invalid endpoint %q: %w", c.Endpoint, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid endpoint %q: scheme must be ws or wss", c.Endpoint)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid endpoint %q: missing host", c.Endpoint)
	}
	if !IsKnownModel(c.Model) {
		return fmt.Errorf("unknown model %q", c.Model)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature %.2f out of range [0, 2]", c.Temperature)
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("max_tokens must not be negative")
	}
	if c.Reconnect.MaxAttempts < 0 {
		return fmt.Errorf("reconnect.max_attempts must not be negative")
	}
	if c.Reconnect.MinDelayMs <= 0 || c.Reconnect.MaxDelayMs < c.Reconnect.MinDelayMs {
		return fmt.Errorf("reconnect delays must satisfy 0 < min_delay_ms <= max_delay_ms")
	}
	if c.ResetDelayMs < 0 || c.NoticeDelayMs < 0 {
		return fmt.Errorf("delays must not be negative")
	}
	return nil
}

// ResetDelay is the pause between teardown and reconnect on manual retry
func (c *Config) ResetDelay() time.Duration {
	return time.Duration(c.ResetDelayMs) * time.Millisecond
}

// NoticeDelay is how long the "not connected" notice is deferred
func (c *Config) NoticeDelay() time.Duration {
	return time.Duration(c.NoticeDelayMs) * time.Millisecond
}

// Save writes the configuration as indented JSON
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// GetConfigPath returns the default config path
func GetConfigPath() string {
	return filepath.Join(defaultConfigDir(), "config.json")
}
