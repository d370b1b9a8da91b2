package registry

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kwv/anchormesh/geometry"
)

// Config is the service configuration.
type Config struct {
	MQTT          MQTTConfig                `yaml:"mqtt"`
	Storage       StorageConfig             `yaml:"storage"`
	Conversion    geometry.ConversionPolicy `yaml:"conversion"`
	Fit           geometry.FitConfig        `yaml:"fit"`
	HTTP          HTTPConfig                `yaml:"http"`
	PromptTimeout time.Duration             `yaml:"promptTimeout"`
}

// MQTTConfig holds broker settings. An empty broker runs the service against
// an in-memory anchor store.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"clientId"`
	Username    string `yaml:"username,omitempty"`
	Password    string `yaml:"password,omitempty"`
	TopicPrefix string `yaml:"topicPrefix"`
}

// StorageConfig selects the durable registry backend.
type StorageConfig struct {
	Driver string `yaml:"driver"` // "file" or "sqlite"
	Path   string `yaml:"path"`   // directory for file, database file for sqlite
	Key    string `yaml:"key"`
}

type HTTPConfig struct {
	Port int `yaml:"port"`
}

const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
)

// DefaultConfig returns the configuration used when no file overrides it.
func DefaultConfig() *Config {
	return &Config{
		MQTT: MQTTConfig{
			ClientID:    "anchormesh",
			TopicPrefix: "anchormesh",
		},
		Storage: StorageConfig{
			Driver: DriverFile,
			Path:   ".",
			Key:    "registry",
		},
		Conversion: geometry.DefaultConversionPolicy(),
		Fit:        geometry.DefaultFitConfig(),
		HTTP:       HTTPConfig{Port: 8080},
	}
}

// LoadConfig reads a YAML file over the defaults, applies environment
// overrides and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	config.ApplyEnv()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// SaveConfig writes the configuration as YAML.
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// ApplyEnv overrides broker credentials and the storage path from the
// environment.
func (c *Config) ApplyEnv() {
	override := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	override(&c.MQTT.Broker, "MQTT_BROKER")
	override(&c.MQTT.ClientID, "MQTT_CLIENT_ID")
	override(&c.MQTT.Username, "MQTT_USERNAME")
	override(&c.MQTT.Password, "MQTT_PASSWORD")
	override(&c.Storage.Path, "ANCHORMESH_STORAGE_PATH")
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverFile, DriverSQLite:
	default:
		return fmt.Errorf("storage.driver must be %q or %q, got %q", DriverFile, DriverSQLite, c.Storage.Driver)
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}
	if c.Storage.Key == "" {
		return fmt.Errorf("storage.key is required")
	}
	if c.MQTT.Broker != "" && c.MQTT.TopicPrefix == "" {
		return fmt.Errorf("mqtt.topicPrefix is required when a broker is set")
	}
	if err := c.Conversion.Validate(); err != nil {
		return fmt.Errorf("conversion: %w", err)
	}
	if c.Fit.MeasurementAccuracy <= 0 || c.Fit.MeanDistance <= 0 || c.Fit.SeedRadius <= 0 {
		return fmt.Errorf("fit parameters must be positive")
	}
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port out of range: %d", c.HTTP.Port)
	}
	if c.PromptTimeout < 0 {
		return fmt.Errorf("promptTimeout must not be negative")
	}
	return nil
}
