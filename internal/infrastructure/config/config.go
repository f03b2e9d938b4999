package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// maxNativeVolume mirrors the top of the profile volume range; the host
// scale may not exceed it.
const maxNativeVolume = 255

// Config is the root configuration structure for vcpd.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	VCP       VCPConfig       `yaml:"vcp"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains rotated file logging settings.
// Sizes are megabytes, ages are days.
type FileLoggingConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// VCPConfig contains volume control service settings.
type VCPConfig struct {
	// HostMaxVolume is the top of the host output stream scale.
	HostMaxVolume int `yaml:"host_max_volume"`

	// InboxSize bounds queued service work.
	InboxSize int `yaml:"inbox_size"`

	// HealthInterval is how often health is published (seconds).
	HealthInterval int `yaml:"health_interval"`

	// HostEvents selects the bond/connection broadcast source: "mqtt" or "bluez".
	HostEvents string `yaml:"host_events"`

	BlueZ BlueZConfig `yaml:"bluez"`
}

// BlueZConfig contains BlueZ D-Bus watcher settings.
type BlueZConfig struct {
	Enabled bool   `yaml:"enabled"`
	Adapter string `yaml:"adapter"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
// For example: GRAYLOGIC_DATABASE_PATH, GRAYLOGIC_VCP_HOST_MAX_VOLUME.
// The full list is in stringOverrides and intOverrides.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "site-001",
			Name: "Gray Logic",
		},
		Database: DatabaseConfig{
			Path:        "./data/vcp.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-vcpd",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8095,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
			File: FileLoggingConfig{
				Path:       "./logs/vcpd.log",
				MaxSize:    50,
				MaxBackups: 5,
				MaxAge:     28,
			},
		},
		VCP: VCPConfig{
			HostMaxVolume:  15,
			InboxSize:      64,
			HealthInterval: 30,
			HostEvents:     "mqtt",
		},
	}
}

// envString and envInt bind one GRAYLOGIC_* variable to a field.
type envString struct {
	key   string
	field func(*Config) *string
}

type envInt struct {
	key   string
	field func(*Config) *int
}

var stringOverrides = []envString{
	{"GRAYLOGIC_DATABASE_PATH", func(c *Config) *string { return &c.Database.Path }},
	{"GRAYLOGIC_MQTT_HOST", func(c *Config) *string { return &c.MQTT.Broker.Host }},
	{"GRAYLOGIC_MQTT_USERNAME", func(c *Config) *string { return &c.MQTT.Auth.Username }},
	{"GRAYLOGIC_MQTT_PASSWORD", func(c *Config) *string { return &c.MQTT.Auth.Password }},
	{"GRAYLOGIC_API_HOST", func(c *Config) *string { return &c.API.Host }},
	{"GRAYLOGIC_INFLUXDB_TOKEN", func(c *Config) *string { return &c.InfluxDB.Token }},
	{"GRAYLOGIC_LOG_LEVEL", func(c *Config) *string { return &c.Logging.Level }},
	{"GRAYLOGIC_VCP_HOST_EVENTS", func(c *Config) *string { return &c.VCP.HostEvents }},
	{"GRAYLOGIC_VCP_BLUEZ_ADAPTER", func(c *Config) *string { return &c.VCP.BlueZ.Adapter }},
}

var intOverrides = []envInt{
	{"GRAYLOGIC_MQTT_PORT", func(c *Config) *int { return &c.MQTT.Broker.Port }},
	{"GRAYLOGIC_API_PORT", func(c *Config) *int { return &c.API.Port }},
	{"GRAYLOGIC_VCP_HOST_MAX_VOLUME", func(c *Config) *int { return &c.VCP.HostMaxVolume }},
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Empty variables are ignored, as are malformed numbers.
func applyEnvOverrides(cfg *Config) {
	for _, o := range stringOverrides {
		if v := os.Getenv(o.key); v != "" {
			*o.field(cfg) = v
		}
	}
	for _, o := range intOverrides {
		v := os.Getenv(o.key)
		if v == "" {
			continue
		}
		if n, err := strconv.Atoi(v); err == nil {
			*o.field(cfg) = n
		}
	}
}

// Validate checks the configuration for errors.
// Every problem is reported, joined by "; ".
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	switch c.Logging.Output {
	case "stdout", "stderr":
	case "file":
		if c.Logging.File.Path == "" {
			errs = append(errs, "logging.file.path is required when logging.output is file")
		}
	default:
		errs = append(errs, "logging.output must be stdout, stderr, or file")
	}

	if c.VCP.HostMaxVolume < 1 || c.VCP.HostMaxVolume > maxNativeVolume {
		errs = append(errs, "vcp.host_max_volume must be between 1 and 255")
	}
	if c.VCP.InboxSize < 0 {
		errs = append(errs, "vcp.inbox_size must not be negative")
	}
	if c.VCP.HealthInterval < 1 {
		errs = append(errs, "vcp.health_interval must be at least 1 second")
	}
	switch c.VCP.HostEvents {
	case "mqtt":
	case "bluez":
		if !c.VCP.BlueZ.Enabled {
			errs = append(errs, "vcp.host_events is bluez but vcp.bluez.enabled is false")
		}
	default:
		errs = append(errs, "vcp.host_events must be mqtt or bluez")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// GetHealthInterval returns the health reporting period as a Duration.
func (c *Config) GetHealthInterval() time.Duration {
	return time.Duration(c.VCP.HealthInterval) * time.Second
}
