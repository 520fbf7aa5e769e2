package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validConfig = `
mqtt:
  broker: tcp://localhost:1883
devices:
  lights: ["hall light", "porch light"]
  outlets: ["lamp outlet"]
  brightness: 200
geo:
  name: Waterloo
  lat: 43.47
  lon: -80.52
  timezone: UTC
timer:
  off_time: "23:00"
web:
  enabled: true
  port: 8000
`

func TestLoadValid(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.MQTT.Broker != "tcp://localhost:1883" {
		t.Errorf("broker = %q", cfg.MQTT.Broker)
	}
	if len(cfg.Devices.Lights) != 2 || cfg.Devices.Lights[0] != "hall light" {
		t.Errorf("lights = %v", cfg.Devices.Lights)
	}
	if got := cfg.OffTime(); got.Hour != 23 || got.Minute != 0 {
		t.Errorf("off time = %v", got)
	}
	if cfg.Web.Port != 8000 {
		t.Errorf("web port = %d", cfg.Web.Port)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Log.Level != "info" {
		t.Errorf("log level = %q, want info", cfg.Log.Level)
	}
	if cfg.MQTT.BaseTopic != "zigbee2mqtt" {
		t.Errorf("base topic = %q", cfg.MQTT.BaseTopic)
	}
	if cfg.MQTT.ClientID != "duskd" {
		t.Errorf("client id = %q", cfg.MQTT.ClientID)
	}
	if cfg.MQTT.CommandRate != 4.0 {
		t.Errorf("command rate = %v", cfg.MQTT.CommandRate)
	}
	if cfg.Geo.HTTPTimeout.Duration() != 10*time.Second {
		t.Errorf("geo http timeout = %v", cfg.Geo.HTTPTimeout.Duration())
	}
	if cfg.ShutdownTimeout.Duration() != 5*time.Second {
		t.Errorf("shutdown timeout = %v", cfg.ShutdownTimeout.Duration())
	}
}

func TestBrightnessZeroIsNotUnset(t *testing.T) {
	withBrightness := func(line string) *Config {
		cfg, err := Load(writeConfig(t, `
mqtt:
  broker: tcp://localhost:1883
devices:
  lights: ["a"]
  outlets: ["b"]
`+line+`
geo:
  lat: 1.0
  lon: 1.0
`))
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		return cfg
	}

	if got := withBrightness("  brightness: 0").Brightness(); got != 0 {
		t.Errorf("brightness = %d, explicit 0 must survive defaulting", got)
	}
	if got := withBrightness("").Brightness(); got != 254 {
		t.Errorf("brightness = %d, want default 254 when unset", got)
	}
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("TEST_BROKER", "tcp://broker.local:1883")

	cfg, err := Load(writeConfig(t, `
mqtt:
  broker: ${TEST_BROKER}
  username: ${TEST_MISSING:fallback}
devices:
  lights: ["a"]
  outlets: ["b"]
geo:
  lat: 1.0
  lon: 1.0
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.MQTT.Broker != "tcp://broker.local:1883" {
		t.Errorf("broker = %q", cfg.MQTT.Broker)
	}
	if cfg.MQTT.Username != "fallback" {
		t.Errorf("username = %q, want default", cfg.MQTT.Username)
	}
}

func TestValidateRejections(t *testing.T) {
	base := func() *Config {
		cfg, err := Load(writeConfig(t, validConfig))
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing_broker", func(c *Config) { c.MQTT.Broker = "" }},
		{"bad_qos", func(c *Config) { c.MQTT.QoS = 3 }},
		{"no_lights", func(c *Config) { c.Devices.Lights = nil }},
		{"no_outlets", func(c *Config) { c.Devices.Outlets = nil }},
		{"brightness_range", func(c *Config) { b := 300; c.Devices.Brightness = &b }},
		{"bad_off_time", func(c *Config) { c.Timer.OffTime = "25:99" }},
		{"no_location", func(c *Config) { c.Geo.Name = ""; c.Geo.Lat = 0; c.Geo.Lon = 0 }},
		{"bad_lat", func(c *Config) { c.Geo.Lat = 100 }},
		{"bad_timezone", func(c *Config) { c.Geo.Timezone = "Not/AZone" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
