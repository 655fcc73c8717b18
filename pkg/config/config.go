// Package config provides YAML-based configuration loading for pixelpainter.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root application configuration.
type Config struct {
	// AppName optional logical name used in logs
	AppName string `mapstructure:"app_name"`

	Log       LogConfig       `mapstructure:"log"`
	Transport TransportConfig `mapstructure:"transport"`
	Canvas    CanvasConfig    `mapstructure:"canvas"`
	Session   SessionConfig   `mapstructure:"session"`
	Manager   ManagerConfig   `mapstructure:"manager"`
	Snapshot  SnapshotConfig  `mapstructure:"snapshot"`
	Events    EventsConfig    `mapstructure:"events"`
	Status    StatusConfig    `mapstructure:"status"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: list of outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`

	// Rotation controls file rotation when writing to files
	Rotation RotationConfig `mapstructure:"rotation"`
	// Development toggles development-friendly logging options
	Development bool `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		AppName: "pixelpainter",
		Log: LogConfig{
			Level:       "info",
			Format:      "console",
			Outputs:     []string{"stdout"},
			Development: true,
			Rotation: RotationConfig{
				Enable:     false,
				Filename:   "logs/pixelpainter.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Transport: TransportConfig{
			BaseURL:        "https://pixelplace.io/socket.io/",
			Origin:         "https://pixelplace.io",
			UserAgent:      "Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0",
			Timeout:        4 * time.Second,
			PollInterval:   900 * time.Millisecond,
			KeepaliveEvery: 25,
			AckTimeout:     10 * time.Second,
			FatalCodes:     []int{1, 2, 3, 16},
		},
		Canvas: CanvasConfig{
			RasterURL:     "https://pixelplace.io/canvas/%d.png",
			ProtectionURL: "https://pixelplace.io/canvas/%dp.png",
			Sentinel:      "#cccccc",
			FetchTimeout:  15 * time.Second,
		},
		Session: SessionConfig{
			BatchSize:    28,
			MinDelay:     0,
			IdleInterval: 250 * time.Millisecond,
			Speed:        20,
			MinSpeed:     1,
			MaxSpeed:     60,
			ErrorStall:   3 * time.Second,
		},
		Manager: ManagerConfig{
			Tick:            500 * time.Millisecond,
			CreateSpacing:   2 * time.Second,
			LowWater:        50,
			QueueLimit:      200,
			Strategy:        "topdown",
			TaskWindow:      20,
			ManualWindow:    8,
			InboxLimit:      256,
			AttributionTTL:  30 * time.Minute,
			ActivityMaxByte: 64 << 20,
		},
		Snapshot: SnapshotConfig{Path: "snapshot.yaml", Watch: true},
		Events:   EventsConfig{Format: "json", Buffer: 1024},
		Status:   StatusConfig{Listen: "127.0.0.1:8088"},
	}
}

// Load reads configuration from the provided path (if non-empty),
// otherwise it searches common locations and supports environment overrides.
// Environment variables use the prefix PIXELPAINTER and `.`/`-` are replaced
// with `_`. Example: PIXELPAINTER_LOG_LEVEL=debug
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("PIXELPAINTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults for viper so env-only configs work
	v.SetDefault("app_name", cfg.AppName)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
	cfg.Transport.seed(v)
	cfg.Canvas.seed(v)
	cfg.Session.seed(v)
	cfg.Manager.seed(v)
	v.SetDefault("snapshot.path", cfg.Snapshot.Path)
	v.SetDefault("snapshot.watch", cfg.Snapshot.Watch)
	v.SetDefault("events.path", cfg.Events.Path)
	v.SetDefault("events.format", cfg.Events.Format)
	v.SetDefault("events.buffer", cfg.Events.Buffer)
	v.SetDefault("status.listen", cfg.Status.Listen)

	// Choose config file
	if path == "" {
		// Allow override via env var
		if envPath := os.Getenv("PIXELPAINTER_CONFIG"); envPath != "" {
			path = envPath
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		// Search common locations with base name `pixelpainter`
		v.SetConfigName("pixelpainter")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".pixelpainter"))
		}
	}

	// Read config file if present; if not found, continue with defaults/env
	if err := v.ReadInConfig(); err != nil {
		var viperConfigFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &viperConfigFileNotFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

func (c *Config) validate() error {
	lvl := strings.ToLower(strings.TrimSpace(c.Log.Level))
	switch lvl {
	case "debug", "info", "warn", "warning", "error":
		// ok
	default:
		return invalid("log.level: %q", c.Log.Level)
	}

	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stdout"}
	}
	if strings.TrimSpace(c.AppName) == "" {
		c.AppName = "pixelpainter"
	}
	for _, fn := range []func() error{
		c.Transport.validate,
		c.Canvas.validate,
		c.Session.validate,
		c.Manager.validate,
		c.Events.validate,
	} {
		if err := fn(); err != nil {
			return err
		}
	}
	c.Snapshot.Path = strings.TrimSpace(c.Snapshot.Path)
	return nil
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}
