package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "demo", cfg.Decoder.Type)
	assert.Equal(t, 115200, cfg.Serial.BaudRate)
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yamlBody := "serial:\n  port_path: /dev/ttyUSB1\n  baud_rate: 500000\n" +
		"mqtt:\n  enabled: true\n  broker: tcp://broker:1883\n"
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB1", cfg.Serial.PortPath)
	assert.Equal(t, 500000, cfg.Serial.BaudRate)
	assert.True(t, cfg.MQTT.Enabled)
	assert.Equal(t, "tcp://broker:1883", cfg.MQTT.Broker)
}

func TestEnvOverridesTakePrecedenceOverYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("serial:\n  port_path: /dev/ttyUSB1\n"), 0644))

	t.Setenv("CANMON_SERIAL_PORT", "/dev/ttyACM0")
	t.Setenv("CANMON_LOG_ENABLED", "false")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM0", cfg.Serial.PortPath)
	assert.False(t, cfg.Logging.Enabled)
}
