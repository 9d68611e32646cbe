// Package config loads the daemon's operator-tunable settings from
// <state dir>/config.toml, supplementing the spec's state files without
// replacing any of them.
package config

import (
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/victorarias/jelly-j/internal/jellyerr"
)

// Heartbeat holds the probe's cadence, per §9's resolved default (5m
// cadence, 2m initial delay) and §4.7.
type Heartbeat struct {
	IntervalSeconds     int `toml:"interval_seconds"`
	InitialDelaySeconds int `toml:"initial_delay_seconds"`
}

func (h Heartbeat) Interval() time.Duration {
	return time.Duration(h.IntervalSeconds) * time.Second
}

func (h Heartbeat) InitialDelay() time.Duration {
	return time.Duration(h.InitialDelaySeconds) * time.Second
}

// Timeouts holds the subprocess and pipe-RPC bounds from §5.
type Timeouts struct {
	MultiplexerSeconds  int `toml:"multiplexer_seconds"`
	PluginOpSeconds     int `toml:"plugin_op_seconds"`
	PluginToggleSeconds int `toml:"plugin_toggle_seconds"`
	HandshakeMillis     int `toml:"handshake_millis"`
}

func (t Timeouts) Multiplexer() time.Duration  { return time.Duration(t.MultiplexerSeconds) * time.Second }
func (t Timeouts) PluginOp() time.Duration     { return time.Duration(t.PluginOpSeconds) * time.Second }
func (t Timeouts) PluginToggle() time.Duration { return time.Duration(t.PluginToggleSeconds) * time.Second }
func (t Timeouts) Handshake() time.Duration    { return time.Duration(t.HandshakeMillis) * time.Millisecond }

// Permission holds the roots the Model Runtime Adapter treats as safe
// workspace configuration; modifications outside all of them always
// require a permission prompt, shell commands always require one
// regardless of path (§4.6).
type Permission struct {
	ConfigRoots []string `toml:"config_roots"`
}

// Config is the full parsed config.toml document.
type Config struct {
	Heartbeat  Heartbeat         `toml:"heartbeat"`
	Timeouts   Timeouts          `toml:"timeouts"`
	Permission Permission        `toml:"permission"`
	Models     map[string]string `toml:"models"`
}

// Default returns the configuration the spec names as defaults when no
// config.toml is present: 5-minute heartbeat cadence, 2-minute initial
// delay, and the §5 timeout figures.
func Default() Config {
	return Config{
		Heartbeat: Heartbeat{IntervalSeconds: 5 * 60, InitialDelaySeconds: 2 * 60},
		Timeouts: Timeouts{
			MultiplexerSeconds:  10,
			PluginOpSeconds:     8,
			PluginToggleSeconds: 3,
			HandshakeMillis:     2500,
		},
		Permission: Permission{ConfigRoots: []string{".git", ".jelly-j", ".config"}},
		Models: map[string]string{
			"opus":  "claude-opus-4",
			"haiku": "claude-haiku-4",
		},
	}
}

// Load reads path, falling back to Default() when the file does not
// exist. A malformed file is a hard error: config is read once at daemon
// startup and reread on watcher-triggered reload, never silently ignored.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, jellyerr.Wrap(err, jellyerr.IO, "read config.toml")
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, jellyerr.Wrap(err, jellyerr.IO, "parse config.toml")
	}
	return cfg, nil
}
