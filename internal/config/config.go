package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dschuurman/duskd/internal/state"
)

// Config represents the application configuration
type Config struct {
	MQTT            MQTTConfig     `yaml:"mqtt"`
	Devices         DevicesConfig  `yaml:"devices"`
	Geo             GeoConfig      `yaml:"geo"`
	Timer           TimerConfig    `yaml:"timer"`
	Web             WebConfig      `yaml:"web"`
	Database        DatabaseConfig `yaml:"database"`
	Log             LogConfig      `yaml:"log"`
	ShutdownTimeout Duration       `yaml:"shutdown_timeout"`
}

// MQTTConfig contains broker connection settings for device commands
type MQTTConfig struct {
	Broker    string `yaml:"broker"`
	ClientID  string `yaml:"client_id"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	BaseTopic string `yaml:"base_topic"` // Topic prefix for device set commands
	QoS       int    `yaml:"qos"`
	// CommandRate limits device command publishes per second. Zigbee
	// bridges drop messages when flooded, so commands are paced.
	CommandRate float64 `yaml:"command_rate"`
}

// DevicesConfig lists the controllable devices by friendly name
type DevicesConfig struct {
	Lights  []string `yaml:"lights"`
	Outlets []string `yaml:"outlets"`
	// Brightness is the default light brightness (0-254). Pointer so an
	// explicit 0 is distinguishable from an absent key.
	Brightness *int `yaml:"brightness"`
}

const defaultBrightness = 254

// GeoConfig contains location settings for the dusk calculation
type GeoConfig struct {
	Name        string   `yaml:"name"`
	Timezone    string   `yaml:"timezone"`
	Lat         float64  `yaml:"lat,omitempty"`
	Lon         float64  `yaml:"lon,omitempty"`
	HTTPTimeout Duration `yaml:"http_timeout"` // Timeout for geocoding HTTP requests
}

// TimerConfig contains the default daily off-time
type TimerConfig struct {
	OffTime string `yaml:"off_time"`
}

// WebConfig contains the control web interface settings
type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Colors bool   `yaml:"colors"`
	File   string `yaml:"file"` // Log to this file instead of stderr when set
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./duskd.sqlite"
	}

	// MQTT defaults
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "duskd"
	}
	if cfg.MQTT.BaseTopic == "" {
		cfg.MQTT.BaseTopic = "zigbee2mqtt"
	}
	if cfg.MQTT.CommandRate == 0 {
		cfg.MQTT.CommandRate = 4.0
	}

	// Device defaults
	if cfg.Devices.Brightness == nil {
		b := defaultBrightness
		cfg.Devices.Brightness = &b
	}

	// Geo defaults
	if cfg.Geo.Timezone == "" {
		cfg.Geo.Timezone = "UTC"
	}
	if cfg.Geo.HTTPTimeout == 0 {
		cfg.Geo.HTTPTimeout = Duration(10 * time.Second)
	}

	// Timer defaults
	if cfg.Timer.OffTime == "" {
		cfg.Timer.OffTime = "23:00"
	}

	// Web defaults
	if cfg.Web.Host == "" {
		cfg.Web.Host = "0.0.0.0"
	}
	if cfg.Web.Port == 0 {
		cfg.Web.Port = 8080
	}

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}
}

// Validate checks startup preconditions. Any error here is fatal:
// the scheduler must not start on a broken configuration.
func (cfg *Config) Validate() error {
	if cfg.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required")
	}
	if cfg.MQTT.QoS < 0 || cfg.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", cfg.MQTT.QoS)
	}
	if len(cfg.Devices.Lights) == 0 {
		return fmt.Errorf("devices.lights must list at least one device")
	}
	if len(cfg.Devices.Outlets) == 0 {
		return fmt.Errorf("devices.outlets must list at least one device")
	}
	if b := cfg.Brightness(); b < 0 || b > 254 {
		return fmt.Errorf("devices.brightness must be in range 0-254, got %d", b)
	}
	if _, err := state.ParseClock(cfg.Timer.OffTime); err != nil {
		return fmt.Errorf("timer.off_time: %w", err)
	}
	if cfg.Geo.Name == "" && cfg.Geo.Lat == 0 && cfg.Geo.Lon == 0 {
		return fmt.Errorf("geo.name or geo.lat/geo.lon is required")
	}
	if cfg.Geo.Lat < -90 || cfg.Geo.Lat > 90 {
		return fmt.Errorf("geo.lat out of range: %v", cfg.Geo.Lat)
	}
	if cfg.Geo.Lon < -180 || cfg.Geo.Lon > 180 {
		return fmt.Errorf("geo.lon out of range: %v", cfg.Geo.Lon)
	}
	if _, err := time.LoadLocation(cfg.Geo.Timezone); err != nil {
		return fmt.Errorf("geo.timezone: %w", err)
	}
	return nil
}

// Brightness returns the configured default light brightness
func (cfg *Config) Brightness() int {
	if cfg.Devices.Brightness == nil {
		return defaultBrightness
	}
	return *cfg.Devices.Brightness
}

// OffTime returns the parsed default off-time. Call Validate first.
func (cfg *Config) OffTime() state.Clock {
	c, _ := state.ParseClock(cfg.Timer.OffTime)
	return c
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
