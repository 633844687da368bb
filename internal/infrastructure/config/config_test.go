package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func validConfig() *Config {
	cfg := defaultConfig()
	cfg.POS.Username = "clerk"
	cfg.POS.Password = "secret"
	cfg.POS.StoreID = "42"
	return cfg
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
pos:
  username: "clerk"
  password: "secret"
  store_id: "42"
scales:
  addresses: ["10.0.0.5", "10.0.0.6"]
  timeout_seconds: 120
  wipe: true
  upc_pattern: "^0021"
database:
  path: "/tmp/test.db"
mqtt:
  enabled: true
  broker:
    host: "broker.local"
  qos: 1
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.POS.StoreID != "42" {
		t.Errorf("POS.StoreID = %q, want %q", cfg.POS.StoreID, "42")
	}
	if len(cfg.Scales.Addresses) != 2 || cfg.Scales.Addresses[1] != "10.0.0.6" {
		t.Errorf("Scales.Addresses = %v", cfg.Scales.Addresses)
	}
	if !cfg.Scales.Wipe || cfg.Scales.UPCPattern != "^0021" {
		t.Errorf("Scales = %+v", cfg.Scales)
	}
	if cfg.SyncTimeout() != 2*time.Minute {
		t.Errorf("SyncTimeout() = %v, want 2m", cfg.SyncTimeout())
	}
	if !cfg.MQTT.Enabled || cfg.MQTT.Broker.Host != "broker.local" {
		t.Errorf("MQTT = %+v", cfg.MQTT)
	}

	// Unset keys keep their defaults.
	if cfg.POS.BaseURL != "https://retailnext.itretail.com" {
		t.Errorf("POS.BaseURL = %q", cfg.POS.BaseURL)
	}
	if cfg.Scales.Port != 20304 || cfg.Scales.Model != 5500 {
		t.Errorf("Scales.Port/Model = %d/%d", cfg.Scales.Port, cfg.Scales.Model)
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "invalid: [yaml: content")

	_, err := Load(path)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeConfig(t, `
pos:
  username: "clerk"
scales:
  upc_pattern: "("
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() expected validation error, got nil")
	}
	for _, want := range []string{"pos.password", "pos.store_id", "scales.upc_pattern"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid config", func(*Config) {}, false},
		{"missing username", func(c *Config) { c.POS.Username = "" }, true},
		{"missing password", func(c *Config) { c.POS.Password = "" }, true},
		{"missing store id", func(c *Config) { c.POS.StoreID = "" }, true},
		{"missing base url", func(c *Config) { c.POS.BaseURL = "" }, true},
		{"bad upc pattern", func(c *Config) { c.Scales.UPCPattern = "[" }, true},
		{"negative timeout", func(c *Config) { c.Scales.TimeoutSeconds = -1 }, true},
		{"zero timeout", func(c *Config) { c.Scales.TimeoutSeconds = 0 }, false},
		{"scale port low", func(c *Config) { c.Scales.Port = 0 }, true},
		{"scale port high", func(c *Config) { c.Scales.Port = 70000 }, true},
		{"scale model zero", func(c *Config) { c.Scales.Model = 0 }, true},
		{"missing database path", func(c *Config) { c.Database.Path = "" }, true},
		{"invalid QoS", func(c *Config) { c.MQTT.QoS = 3 }, true},
		{"api port ignored when disabled", func(c *Config) { c.API.Port = 0 }, false},
		{"api port checked when enabled", func(c *Config) { c.API.Enabled = true; c.API.Port = 0 }, true},
		{"relative websocket path", func(c *Config) { c.API.Enabled = true; c.WebSocket.Path = "ws" }, true},
		{"influxdb disabled needs nothing", func(c *Config) { c.InfluxDB.URL = "" }, false},
		{"influxdb enabled without bucket", func(c *Config) {
			c.InfluxDB = InfluxDBConfig{Enabled: true, URL: "http://localhost:8086", Org: "store"}
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Validate_CollectsAllErrors(t *testing.T) {
	cfg := &Config{}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for empty config")
	}
	if !strings.HasPrefix(err.Error(), "configuration errors: ") {
		t.Errorf("error = %q", err)
	}
	if n := strings.Count(err.Error(), ";"); n < 4 {
		t.Errorf("expected several errors joined by ';', got %q", err)
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
		Scales: ScalesConfig{PollIntervalMs: 250},
	}

	timeouts := cfg.API.Timeouts
	if got := timeouts.ReadTimeout(); got != 30*time.Second {
		t.Errorf("ReadTimeout() = %v, want 30s", got)
	}
	if got := timeouts.WriteTimeout(); got != 45*time.Second {
		t.Errorf("WriteTimeout() = %v, want 45s", got)
	}
	if got := timeouts.IdleTimeout(); got != 60*time.Second {
		t.Errorf("IdleTimeout() = %v, want 60s", got)
	}

	if got := cfg.PollInterval(); got != 250*time.Millisecond {
		t.Errorf("PollInterval() = %v, want 250ms", got)
	}

	if got := cfg.SyncTimeout(); got != 0 {
		t.Errorf("SyncTimeout() = %v, want 0", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("SCALESYNC_POS_USERNAME", "env-user")
	t.Setenv("SCALESYNC_POS_PASSWORD", "env-pass")
	t.Setenv("SCALESYNC_POS_STORE_ID", "7")
	t.Setenv("SCALESYNC_SCALES", "10.0.0.1, 10.0.0.2,,")
	t.Setenv("SCALESYNC_DATABASE_PATH", "/custom/path.db")
	t.Setenv("SCALESYNC_MQTT_HOST", "mqtt.example.com")
	t.Setenv("SCALESYNC_MQTT_USERNAME", "testuser")
	t.Setenv("SCALESYNC_MQTT_PASSWORD", "testpass")
	t.Setenv("SCALESYNC_INFLUXDB_TOKEN", "secret-token")

	applyEnvOverrides(cfg)

	if cfg.POS.Username != "env-user" || cfg.POS.Password != "env-pass" || cfg.POS.StoreID != "7" {
		t.Errorf("POS = %+v", cfg.POS)
	}

	if got := cfg.Scales.Addresses; len(got) != 2 || got[0] != "10.0.0.1" || got[1] != "10.0.0.2" {
		t.Errorf("Scales.Addresses = %v, want [10.0.0.1 10.0.0.2]", got)
	}

	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/custom/path.db")
	}

	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}

	if cfg.MQTT.Auth.Username != "testuser" {
		t.Errorf("MQTT.Auth.Username = %q, want %q", cfg.MQTT.Auth.Username, "testuser")
	}

	if cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth.Password = %q, want %q", cfg.MQTT.Auth.Password, "testpass")
	}

	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Database.Path == "" {
		t.Error("defaultConfig should have non-empty Database.Path")
	}

	if cfg.Scales.UPCPattern != "^002" {
		t.Errorf("defaultConfig Scales.UPCPattern = %q, want ^002", cfg.Scales.UPCPattern)
	}

	if cfg.Scales.MinQuantity != -10000000 {
		t.Errorf("defaultConfig Scales.MinQuantity = %v", cfg.Scales.MinQuantity)
	}

	if cfg.Scales.TimeoutSeconds != 300 {
		t.Errorf("defaultConfig Scales.TimeoutSeconds = %d, want 300", cfg.Scales.TimeoutSeconds)
	}

	if cfg.MQTT.Enabled || cfg.InfluxDB.Enabled || cfg.API.Enabled {
		t.Error("optional integrations should be disabled by default")
	}
}

func TestDefault_AppliesEnv(t *testing.T) {
	t.Setenv("SCALESYNC_POS_STORE_ID", "99")

	if got := Default().POS.StoreID; got != "99" {
		t.Errorf("Default().POS.StoreID = %q, want 99", got)
	}
}
