// Package config holds the bridge's operational parameters: accepted
// device names, recovery timing, sink selection, and logging.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration. Zero values are filled from the
// default struct tags; DeviceNames gets its default in DefaultConfig since
// tag defaults do not cover string slices.
type Config struct {
	LogLevel string `yaml:"log_level" default:"info"`

	// DeviceNames are the accepted advertisement name variants.
	DeviceNames []string `yaml:"device_names"`

	ConnectTimeout    time.Duration `yaml:"connect_timeout" default:"30s"`
	ReconnectBackoff  time.Duration `yaml:"reconnect_backoff" default:"1s"`
	SettleDelay       time.Duration `yaml:"settle_delay" default:"100ms"`
	DoublePressWindow time.Duration `yaml:"double_press_window" default:"500ms"`
	StatusTick        time.Duration `yaml:"status_tick" default:"1s"`

	// StateDir is where the pairing record persists across restarts.
	StateDir string `yaml:"state_dir" default:"/var/lib/kbridge"`

	Sink SinkConfig `yaml:"sink"`

	// LEDPath is an optional LED brightness file for the status
	// indicator, e.g. /sys/class/leds/led0/brightness.
	LEDPath string `yaml:"led_path"`
}

// SinkConfig selects and parameterizes the report sink.
type SinkConfig struct {
	// Type is "gadget" (USB HID gadget endpoint) or "pty" (development
	// pseudo-terminal).
	Type string `yaml:"type" default:"gadget"`

	// Path is the gadget endpoint path; ignored for the pty sink.
	Path string `yaml:"path" default:"/dev/hidg0"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	c := &Config{}
	defaults.SetDefaults(c)
	c.DeviceNames = []string{"Adv360 Pro", "Adv360 Pro R", "Adv360 Pro L"}
	return c
}

// Load reads a YAML config file over the defaults. An empty path returns
// the defaults unchanged.
func Load(path string) (*Config, error) {
	c := DefaultConfig()
	if path == "" {
		return c, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if len(c.DeviceNames) == 0 {
		c.DeviceNames = DefaultConfig().DeviceNames
	}
	return c, nil
}

// NewLogger creates a logger configured from LogLevel.
func (c *Config) NewLogger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	return logger, nil
}
