package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PIXELPAINTER_CONFIG", "")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Transport.Timeout != 4*time.Second || cfg.Transport.PollInterval != 900*time.Millisecond {
		t.Fatalf("unexpected transport defaults %+v", cfg.Transport)
	}
	if cfg.Session.BatchSize != 28 || cfg.Manager.QueueLimit != 200 || cfg.Manager.LowWater != 50 {
		t.Fatalf("unexpected engine defaults %+v %+v", cfg.Session, cfg.Manager)
	}
	if cfg.Manager.CreateSpacing != 2*time.Second {
		t.Fatalf("unexpected create spacing %s", cfg.Manager.CreateSpacing)
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pp.yaml")
	body := `log:
  level: debug
transport:
  base_url: http://127.0.0.1:9000/socket.io/
  poll_interval: 300ms
  fatal_codes: [16]
manager:
  strategy: denoise
events:
  path: events.cbor
  format: CBOR
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("PIXELPAINTER_SESSION_SPEED", "12.5")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Log.Level != "debug" || cfg.Transport.PollInterval != 300*time.Millisecond {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if len(cfg.Transport.FatalCodes) != 1 || cfg.Transport.FatalCodes[0] != 16 {
		t.Fatalf("unexpected fatal codes %v", cfg.Transport.FatalCodes)
	}
	if cfg.Manager.Strategy != "denoise" || cfg.Events.Format != "cbor" {
		t.Fatalf("unexpected manager/events %+v %+v", cfg.Manager, cfg.Events)
	}
	if cfg.Session.Speed != 12.5 {
		t.Fatalf("env override not applied, speed %v", cfg.Session.Speed)
	}
	if cfg.Transport.Timeout != 4*time.Second {
		t.Fatalf("unset keys must keep defaults, timeout %s", cfg.Transport.Timeout)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"log level":     func(c *Config) { c.Log.Level = "loud" },
		"base url":      func(c *Config) { c.Transport.BaseURL = "nope" },
		"raster url":    func(c *Config) { c.Canvas.RasterURL = "https://x/canvas.png" },
		"sentinel":      func(c *Config) { c.Canvas.Sentinel = "#zz" },
		"palette":       func(c *Config) { c.Canvas.Palette = []string{"#123"} },
		"batch size":    func(c *Config) { c.Session.BatchSize = 0 },
		"speed range":   func(c *Config) { c.Session.MinSpeed, c.Session.MaxSpeed = 10, 5 },
		"strategy":      func(c *Config) { c.Manager.Strategy = "spiral" },
		"events format": func(c *Config) { c.Events.Format = "xml" },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(cfg)
		if err := cfg.validate(); !errors.Is(err, ErrInvalid) {
			t.Fatalf("%s: want ErrInvalid, got %v", name, err)
		}
	}
	if err := Default().validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}
