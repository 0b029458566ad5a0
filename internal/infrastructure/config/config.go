package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the valve calibrator.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	MQTT      MQTTConfig              `yaml:"mqtt"`
	API       APIConfig               `yaml:"api"`
	WebSocket WebSocketConfig         `yaml:"websocket"`
	InfluxDB  InfluxDBConfig          `yaml:"influxdb"`
	Logging   LoggingConfig           `yaml:"logging"`
	Dispatch  DispatchConfig          `yaml:"dispatch"`
	Devices   map[string]DeviceConfig `yaml:"devices"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`

	// BaseTopic is the prefix shared by every device topic, e.g. "zigbee2mqtt".
	BaseTopic string `yaml:"base_topic"`

	// StatusTopic carries the retained online/offline status and the LWT.
	StatusTopic string `yaml:"status_topic"`
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
}

// APIConfig contains HTTP status server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings.
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

// InfluxDBConfig contains InfluxDB connection settings for correction metrics.
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
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// DispatchConfig sizes the per-device worker pool.
type DispatchConfig struct {
	Workers             int `yaml:"workers"`
	QueueSize           int `yaml:"queue_size"`
	DrainTimeoutSeconds int `yaml:"drain_timeout_seconds"`
}

// DeviceConfig pairs one reference temperature sensor with one valve actuator.
// Both values are topic suffixes appended to mqtt.base_topic.
type DeviceConfig struct {
	TemperatureSensor string `yaml:"temperature_sensor"`
	ValveActuator     string `yaml:"valve_actuator"`
}

// NamedDevice is a DeviceConfig together with its configured identifier.
type NamedDevice struct {
	ID string
	DeviceConfig
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: CALIBRATOR_SECTION_KEY
// For example: CALIBRATOR_MQTT_HOST, CALIBRATOR_API_HOST
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
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "valve-calibrator",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			BaseTopic:   "zigbee2mqtt",
			StatusTopic: "valve-calibrator/status",
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    3030,
			Timeouts: APITimeoutConfig{
				Read:  10,
				Write: 10,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 4096,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Dispatch: DispatchConfig{
			Workers:             4,
			QueueSize:           64,
			DrainTimeoutSeconds: 5,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CALIBRATOR_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("CALIBRATOR_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("CALIBRATOR_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if v := os.Getenv("CALIBRATOR_MQTT_BASE_TOPIC"); v != "" {
		cfg.MQTT.BaseTopic = v
	}

	if v := os.Getenv("CALIBRATOR_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	if v := os.Getenv("CALIBRATOR_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
// All problems are collected and reported together.
func (c *Config) Validate() error {
	var errs []string

	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.BaseTopic == "" {
		errs = append(errs, "mqtt.base_topic is required")
	} else if strings.ContainsAny(c.MQTT.BaseTopic, "+#") {
		errs = append(errs, "mqtt.base_topic must not contain wildcards")
	}
	if c.MQTT.Reconnect.MaxDelay < c.MQTT.Reconnect.InitialDelay {
		errs = append(errs, "mqtt.reconnect.max_delay must not be less than initial_delay")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required when influxdb is enabled")
		}
	}

	if c.Dispatch.Workers < 1 {
		errs = append(errs, "dispatch.workers must be at least 1")
	}
	if c.Dispatch.QueueSize < 1 {
		errs = append(errs, "dispatch.queue_size must be at least 1")
	}
	if c.Dispatch.DrainTimeoutSeconds < 0 {
		errs = append(errs, "dispatch.drain_timeout_seconds must not be negative")
	}

	errs = append(errs, c.validateDevices()...)

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// validateDevices checks that every device has both suffixes and that no
// suffix is shared, since a topic must identify exactly one device.
func (c *Config) validateDevices() []string {
	if len(c.Devices) == 0 {
		return []string{"at least one device is required"}
	}

	var errs []string
	owners := make(map[string]string)
	for _, d := range c.DeviceList() {
		for _, suffix := range []struct{ key, value string }{
			{"temperature_sensor", d.TemperatureSensor},
			{"valve_actuator", d.ValveActuator},
		} {
			switch {
			case suffix.value == "":
				errs = append(errs, fmt.Sprintf("devices.%s.%s is required", d.ID, suffix.key))
				continue
			case strings.ContainsAny(suffix.value, "+#"):
				errs = append(errs, fmt.Sprintf("devices.%s.%s must not contain wildcards", d.ID, suffix.key))
				continue
			}
			if owner, taken := owners[suffix.value]; taken {
				errs = append(errs, fmt.Sprintf("devices.%s.%s %q is already used by %s", d.ID, suffix.key, suffix.value, owner))
				continue
			}
			owners[suffix.value] = d.ID
		}
	}
	return errs
}

// DeviceList returns the configured devices sorted by identifier.
func (c *Config) DeviceList() []NamedDevice {
	ids := make([]string, 0, len(c.Devices))
	for id := range c.Devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	devices := make([]NamedDevice, 0, len(ids))
	for _, id := range ids {
		devices = append(devices, NamedDevice{ID: id, DeviceConfig: c.Devices[id]})
	}
	return devices
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

// GetDrainTimeout returns how long shutdown waits for queued messages.
func (c *Config) GetDrainTimeout() time.Duration {
	return time.Duration(c.Dispatch.DrainTimeoutSeconds) * time.Second
}
