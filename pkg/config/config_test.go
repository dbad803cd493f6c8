package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()

	assert.Equal(t, "info", c.LogLevel)
	assert.Equal(t, []string{"Adv360 Pro", "Adv360 Pro R", "Adv360 Pro L"}, c.DeviceNames)
	assert.Equal(t, 30*time.Second, c.ConnectTimeout)
	assert.Equal(t, time.Second, c.ReconnectBackoff)
	assert.Equal(t, 100*time.Millisecond, c.SettleDelay)
	assert.Equal(t, 500*time.Millisecond, c.DoublePressWindow)
	assert.Equal(t, time.Second, c.StatusTick)
	assert.Equal(t, "/var/lib/kbridge", c.StateDir)
	assert.Equal(t, "gadget", c.Sink.Type)
	assert.Equal(t, "/dev/hidg0", c.Sink.Path)
	assert.Empty(t, c.LEDPath)
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), c)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
log_level: debug
device_names:
  - My Keyboard
reconnect_backoff: 2s
sink:
  type: pty
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", c.LogLevel)
	assert.Equal(t, []string{"My Keyboard"}, c.DeviceNames)
	assert.Equal(t, 2*time.Second, c.ReconnectBackoff)
	assert.Equal(t, "pty", c.Sink.Type)

	// Untouched fields keep their defaults.
	assert.Equal(t, 100*time.Millisecond, c.SettleDelay)
	assert.Equal(t, "/dev/hidg0", c.Sink.Path)
}

func TestLoadEmptyDeviceNamesFallBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: warning\n"), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().DeviceNames, c.DeviceNames)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: [\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	c := DefaultConfig()
	c.LogLevel = "debug"

	logger, err := c.NewLogger()
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
}

func TestNewLoggerRejectsBadLevel(t *testing.T) {
	c := DefaultConfig()
	c.LogLevel = "chatty"

	_, err := c.NewLogger()
	assert.Error(t, err)
}
