package config

import (
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Equbuxu/PixelPainter-sub000/pkg/canvas"
	"github.com/Equbuxu/PixelPainter-sub000/pkg/placement"
)

// TransportConfig tunes the long-poll client shared by every identity.
// Example YAML:
// transport:
//   base_url: https://pixelplace.io/socket.io/
//   timeout: 4s
//   poll_interval: 900ms
//   fatal_codes: [1, 2, 3, 16]
type TransportConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Origin         string        `mapstructure:"origin"`
	UserAgent      string        `mapstructure:"user_agent"`
	Timeout        time.Duration `mapstructure:"timeout"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	KeepaliveEvery int           `mapstructure:"keepalive_every"`
	AckTimeout     time.Duration `mapstructure:"ack_timeout"`
	FatalCodes     []int         `mapstructure:"fatal_codes"`
}

func (t TransportConfig) seed(v *viper.Viper) {
	v.SetDefault("transport.base_url", t.BaseURL)
	v.SetDefault("transport.origin", t.Origin)
	v.SetDefault("transport.user_agent", t.UserAgent)
	v.SetDefault("transport.timeout", t.Timeout)
	v.SetDefault("transport.poll_interval", t.PollInterval)
	v.SetDefault("transport.keepalive_every", t.KeepaliveEvery)
	v.SetDefault("transport.ack_timeout", t.AckTimeout)
	v.SetDefault("transport.fatal_codes", t.FatalCodes)
}

func (t *TransportConfig) validate() error {
	u, err := url.Parse(strings.TrimSpace(t.BaseURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return invalid("transport.base_url: %q", t.BaseURL)
	}
	if t.Timeout <= 0 || t.PollInterval <= 0 {
		return invalid("transport timeout and poll_interval must be positive")
	}
	if t.KeepaliveEvery <= 0 {
		t.KeepaliveEvery = 25
	}
	return nil
}

// CanvasConfig locates board rasters. URL templates carry one %d for the
// board id.
type CanvasConfig struct {
	RasterURL     string        `mapstructure:"raster_url"`
	ProtectionURL string        `mapstructure:"protection_url"`
	Sentinel      string        `mapstructure:"sentinel"`
	FetchTimeout  time.Duration `mapstructure:"fetch_timeout"`
	// Palette overrides the built-in colour table with hex colours.
	Palette []string `mapstructure:"palette"`
}

func (c CanvasConfig) seed(v *viper.Viper) {
	v.SetDefault("canvas.raster_url", c.RasterURL)
	v.SetDefault("canvas.protection_url", c.ProtectionURL)
	v.SetDefault("canvas.sentinel", c.Sentinel)
	v.SetDefault("canvas.fetch_timeout", c.FetchTimeout)
	v.SetDefault("canvas.palette", c.Palette)
}

func (c *CanvasConfig) validate() error {
	if !strings.Contains(c.RasterURL, "%d") {
		return invalid("canvas.raster_url needs a %%d board placeholder: %q", c.RasterURL)
	}
	if c.ProtectionURL != "" && !strings.Contains(c.ProtectionURL, "%d") {
		return invalid("canvas.protection_url needs a %%d board placeholder: %q", c.ProtectionURL)
	}
	if _, err := canvas.ParseHex(c.Sentinel); err != nil {
		return invalid("canvas.sentinel: %v", err)
	}
	if _, err := c.ParsedPalette(); err != nil {
		return invalid("canvas.palette: %v", err)
	}
	return nil
}

// ParsedPalette returns the configured palette or the built-in one.
func (c CanvasConfig) ParsedPalette() (canvas.Palette, error) {
	if len(c.Palette) == 0 {
		return canvas.DefaultPalette, nil
	}
	return canvas.ParsePalette(c.Palette)
}

// SessionConfig tunes per-identity pacing. Speed is in pixels per second.
type SessionConfig struct {
	BatchSize    int           `mapstructure:"batch_size"`
	MinDelay     time.Duration `mapstructure:"min_delay"`
	IdleInterval time.Duration `mapstructure:"idle_interval"`
	Speed        float64       `mapstructure:"speed"`
	MinSpeed     float64       `mapstructure:"min_speed"`
	MaxSpeed     float64       `mapstructure:"max_speed"`
	// ErrorStall pauses an identity after a server error or a chat message.
	ErrorStall time.Duration `mapstructure:"error_stall"`
}

func (s SessionConfig) seed(v *viper.Viper) {
	v.SetDefault("session.batch_size", s.BatchSize)
	v.SetDefault("session.min_delay", s.MinDelay)
	v.SetDefault("session.idle_interval", s.IdleInterval)
	v.SetDefault("session.speed", s.Speed)
	v.SetDefault("session.min_speed", s.MinSpeed)
	v.SetDefault("session.max_speed", s.MaxSpeed)
	v.SetDefault("session.error_stall", s.ErrorStall)
}

func (s *SessionConfig) validate() error {
	if s.BatchSize <= 0 {
		return invalid("session.batch_size: %d", s.BatchSize)
	}
	if s.MinSpeed < 0 || (s.MaxSpeed > 0 && s.MaxSpeed < s.MinSpeed) {
		return invalid("session speed range [%v, %v]", s.MinSpeed, s.MaxSpeed)
	}
	if s.Speed <= 0 {
		return invalid("session.speed: %v", s.Speed)
	}
	return nil
}

// ManagerConfig tunes the coordinator loop.
type ManagerConfig struct {
	Tick          time.Duration `mapstructure:"tick"`
	CreateSpacing time.Duration `mapstructure:"create_spacing"`
	LowWater      int           `mapstructure:"low_water"`
	QueueLimit    int           `mapstructure:"queue_limit"`
	Strategy      string        `mapstructure:"strategy"`
	TaskWindow    int           `mapstructure:"task_window"`
	ManualWindow  int           `mapstructure:"manual_window"`
	InboxLimit    int           `mapstructure:"inbox_limit"`
	// AttributionTTL bounds how long pixel authorship is remembered.
	AttributionTTL  time.Duration `mapstructure:"attribution_ttl"`
	ActivityMaxByte uint64        `mapstructure:"activity_max_bytes"`
}

func (m ManagerConfig) seed(v *viper.Viper) {
	v.SetDefault("manager.tick", m.Tick)
	v.SetDefault("manager.create_spacing", m.CreateSpacing)
	v.SetDefault("manager.low_water", m.LowWater)
	v.SetDefault("manager.queue_limit", m.QueueLimit)
	v.SetDefault("manager.strategy", m.Strategy)
	v.SetDefault("manager.task_window", m.TaskWindow)
	v.SetDefault("manager.manual_window", m.ManualWindow)
	v.SetDefault("manager.inbox_limit", m.InboxLimit)
	v.SetDefault("manager.attribution_ttl", m.AttributionTTL)
	v.SetDefault("manager.activity_max_bytes", m.ActivityMaxByte)
}

func (m *ManagerConfig) validate() error {
	if _, err := placement.ParseKind(m.Strategy); err != nil {
		return invalid("manager.strategy: %v", err)
	}
	if m.QueueLimit <= 0 || m.LowWater < 0 {
		return invalid("manager queue_limit %d / low_water %d", m.QueueLimit, m.LowWater)
	}
	if m.Tick <= 0 {
		m.Tick = 500 * time.Millisecond
	}
	if m.CreateSpacing < 0 {
		m.CreateSpacing = 0
	}
	return nil
}
