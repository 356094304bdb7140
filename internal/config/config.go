// Package config loads the gateway's YAML configuration file and layers
// environment variable overrides on top of it, mirroring the teacher's
// layered defaults → YAML → env approach.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds every externally-configurable aspect of the gateway.
type Config struct {
	Serial     SerialConfig     `yaml:"serial"`
	Decoder    DecoderConfig    `yaml:"decoder"`
	Logging    LoggingConfig    `yaml:"logging"`
	Dashboard  DashboardConfig  `yaml:"dashboard"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Metrics    MetricsConfig    `yaml:"metrics"`

	path string
}

type SerialConfig struct {
	PortPath string `yaml:"port_path"`
	BaudRate int    `yaml:"baud_rate"`
}

type DecoderConfig struct {
	Type string `yaml:"type"` // "demo" or a decode-table-backed implementation
}

type LoggingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

type DashboardConfig struct {
	ListenAddr    string `yaml:"listen_addr"`
	ProxyProtocol bool   `yaml:"proxy_protocol"`
}

type MQTTConfig struct {
	Enabled bool   `yaml:"enabled"`
	Broker  string `yaml:"broker"`
	Topic   string `yaml:"topic"`
}

type CheckpointConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	EveryNSlots int    `yaml:"every_n_slots"`
}

type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// Default returns a config with sensible defaults for running against the
// demo decoder without any external broker or persistence.
func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			PortPath: "/dev/ttyCANFD",
			BaudRate: 115200,
		},
		Decoder: DecoderConfig{Type: "demo"},
		Logging: LoggingConfig{
			Enabled: true,
			Dir:     "/var/log/canmonitor",
		},
		Dashboard: DashboardConfig{
			ListenAddr:    ":8090",
			ProxyProtocol: false,
		},
		MQTT: MQTTConfig{
			Enabled: false,
			Broker:  "tcp://localhost:1883",
			Topic:   "vehicle/slots",
		},
		Checkpoint: CheckpointConfig{
			Enabled:     false,
			Path:        "/var/lib/canmonitor/checkpoint.db",
			EveryNSlots: 50,
		},
		Metrics: MetricsConfig{ListenAddr: ":9090"},
	}
}

// Load reads path as YAML over the defaults, then applies CANMON_* env
// overrides. A missing file is not an error: defaults are used as-is.
func Load(path string) (*Config, error) {
	cfg := Default()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides reads CANMON_* environment variables and overrides the
// matching config field. CLI flags apply after this, taking precedence.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CANMON_SERIAL_PORT"); v != "" {
		c.Serial.PortPath = v
	}
	if v := os.Getenv("CANMON_SERIAL_BAUD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Serial.BaudRate = n
		}
	}
	if v := os.Getenv("CANMON_LOG_DIR"); v != "" {
		c.Logging.Dir = v
	}
	if v := os.Getenv("CANMON_LOG_ENABLED"); v != "" {
		c.Logging.Enabled = v == "1" || v == "true" || v == "yes"
	}
	if v := os.Getenv("CANMON_DASHBOARD_ADDR"); v != "" {
		c.Dashboard.ListenAddr = v
	}
	if v := os.Getenv("CANMON_MQTT_BROKER"); v != "" {
		c.MQTT.Broker = v
	}
	if v := os.Getenv("CANMON_METRICS_ADDR"); v != "" {
		c.Metrics.ListenAddr = v
	}
}
