package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the MeshCore bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Bridge   BridgeConfig   `yaml:"bridge"`
	MeshCore MeshCoreConfig `yaml:"meshcore"`
	Logging  LoggingConfig  `yaml:"logging"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Audit    AuditConfig    `yaml:"audit"`
	API      APIConfig      `yaml:"api"`
}

// BridgeConfig controls the stdin/stdout request loop and device waits.
type BridgeConfig struct {
	// ReadTimeout is the bounded wait for the next input line. The loop
	// re-checks its run flag every time this elapses.
	// Default: 1s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// ConnectTimeout bounds transport open plus the APP_START handshake.
	// Default: 10s
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// CommandTimeout bounds the wait for a device acknowledgement.
	// Default: 5s
	CommandTimeout time.Duration `yaml:"command_timeout"`

	// ContactsTimeout bounds a full contact table refresh.
	// Default: 15s
	ContactsTimeout time.Duration `yaml:"contacts_timeout"`

	// StatusTimeout is the default wait for a remote node status reply
	// when a get_status request carries no timeout of its own.
	// Default: 10s
	StatusTimeout time.Duration `yaml:"status_timeout"`

	// MaxLineBytes caps one request line. Longer lines get a protocol error.
	// Default: 1 MiB
	MaxLineBytes int `yaml:"max_line_bytes"`
}

// MeshCoreConfig contains device transport defaults and capability switches.
type MeshCoreConfig struct {
	// SerialEnabled reports the device-transport capability in the ready line.
	// When false, every connect fails with a transport-unavailable error.
	SerialEnabled bool `yaml:"serial_enabled"`

	// TCPEnabled reports the network-transport capability in the ready line.
	TCPEnabled bool `yaml:"tcp_enabled"`

	SerialPort string `yaml:"serial_port"`
	Baud       int    `yaml:"baud"`
	TCPHost    string `yaml:"tcp_host"`
	TCPPort    int    `yaml:"tcp_port"`

	// AppName is sent to the node in the APP_START handshake.
	AppName string `yaml:"app_name"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// Output is stderr by default. stdout carries the bridge protocol and
	// must never receive log lines.
	Output string `yaml:"output"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`

	// HealthInterval is how often bridge health is published.
	// Default: 30s
	HealthInterval time.Duration `yaml:"health_interval"`
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

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
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

// AuditConfig contains the SQLite command audit trail settings.
type AuditConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// APIConfig contains the optional monitor HTTP API settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`

	// MaxMessageSize caps inbound WebSocket frames (bytes).
	MaxMessageSize int `yaml:"max_message_size"`
	// PingInterval is the WebSocket keepalive interval (seconds).
	PingInterval int `yaml:"ping_interval"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: MESHBRIDGE_SECTION_KEY
// For example: MESHBRIDGE_MQTT_HOST, MESHBRIDGE_LOG_LEVEL
//
// An empty path skips step 2; the bridge is usually spawned without a
// config file and runs on defaults.
//
// Parameters:
//   - path: Path to the YAML configuration file, or ""
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Bridge: BridgeConfig{
			ReadTimeout:     time.Second,
			ConnectTimeout:  10 * time.Second,
			CommandTimeout:  5 * time.Second,
			ContactsTimeout: 15 * time.Second,
			StatusTimeout:   10 * time.Second,
			MaxLineBytes:    1 << 20,
		},
		MeshCore: MeshCoreConfig{
			SerialEnabled: true,
			TCPEnabled:    true,
			SerialPort:    DefaultSerialPort(runtime.GOOS),
			Baud:          115200,
			TCPHost:       "localhost",
			TCPPort:       4403,
			AppName:       "meshbridge",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stderr",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "meshbridge",
			},
			QoS:         1,
			TopicPrefix: "meshbridge",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			HealthInterval: 30 * time.Second,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Audit: AuditConfig{
			Path:        "./data/meshbridge-audit.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8787,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			MaxMessageSize: 8192,
			PingInterval:   30,
		},
	}
}

// DefaultSerialPort returns the usual device path of a USB companion node
// on the given operating system.
func DefaultSerialPort(goos string) string {
	switch goos {
	case "windows":
		return "COM3"
	case "darwin":
		return "/dev/cu.usbmodem1"
	default:
		return "/dev/ttyACM0"
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: MESHBRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Logging
	if v := os.Getenv("MESHBRIDGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MESHBRIDGE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	// MeshCore
	if v := os.Getenv("MESHBRIDGE_SERIAL_PORT"); v != "" {
		cfg.MeshCore.SerialPort = v
	}
	if v, ok := envInt("MESHBRIDGE_BAUD"); ok {
		cfg.MeshCore.Baud = v
	}

	// MQTT
	if v := os.Getenv("MESHBRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
		cfg.MQTT.Enabled = true
	}
	if v := os.Getenv("MESHBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("MESHBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("MESHBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Audit
	if v := os.Getenv("MESHBRIDGE_AUDIT_PATH"); v != "" {
		cfg.Audit.Path = v
		cfg.Audit.Enabled = true
	}
}

// envInt reads an integer environment variable. Unparsable values are ignored.
func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Bridge.ReadTimeout <= 0 {
		errs = append(errs, "bridge.read_timeout must be positive")
	}
	if c.Bridge.MaxLineBytes <= 0 {
		errs = append(errs, "bridge.max_line_bytes must be positive")
	}
	if c.Bridge.ConnectTimeout <= 0 {
		errs = append(errs, "bridge.connect_timeout must be positive")
	}
	if c.Bridge.CommandTimeout <= 0 {
		errs = append(errs, "bridge.command_timeout must be positive")
	}
	if c.Bridge.ContactsTimeout <= 0 {
		errs = append(errs, "bridge.contacts_timeout must be positive")
	}
	if c.Bridge.StatusTimeout <= 0 {
		errs = append(errs, "bridge.status_timeout must be positive")
	}

	if c.MeshCore.Baud <= 0 {
		errs = append(errs, "meshcore.baud must be positive")
	}
	if c.MeshCore.TCPPort < 1 || c.MeshCore.TCPPort > 65535 {
		errs = append(errs, "meshcore.tcp_port must be between 1 and 65535")
	}

	if c.MQTT.Enabled {
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
		if c.MQTT.TopicPrefix == "" {
			errs = append(errs, "mqtt.topic_prefix is required")
		}
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if c.Audit.Enabled && c.Audit.Path == "" {
		errs = append(errs, "audit.path is required when audit is enabled")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
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
