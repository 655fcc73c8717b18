package config

import (
	"strings"
)

// SnapshotConfig points at the desired-state document.
type SnapshotConfig struct {
	Path  string `mapstructure:"path"`
	Watch bool   `mapstructure:"watch"`
}

// EventsConfig enables the event stream. An empty Path disables it; "-"
// writes to stdout.
type EventsConfig struct {
	Path   string `mapstructure:"path"`
	Format string `mapstructure:"format"`
	Buffer int    `mapstructure:"buffer"`
}

func (e *EventsConfig) validate() error {
	e.Format = strings.ToLower(strings.TrimSpace(e.Format))
	switch e.Format {
	case "":
		e.Format = "json"
	case "json", "cbor":
	default:
		return invalid("events.format: %q", e.Format)
	}
	if e.Buffer <= 0 {
		e.Buffer = 1024
	}
	return nil
}

// StatusConfig controls the status HTTP server. An empty Listen disables it.
type StatusConfig struct {
	Listen string `mapstructure:"listen"`
}
