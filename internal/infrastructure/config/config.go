package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the scalesync configuration file.
type Config struct {
	POS       POSConfig       `yaml:"pos"`
	Scales    ScalesConfig    `yaml:"scales"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// POSConfig contains ITRetail API settings.
type POSConfig struct {
	BaseURL   string `yaml:"base_url"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	StoreID   string `yaml:"store_id"`
	TokenFile string `yaml:"token_file"`

	// Timeout is the per-request timeout in seconds.
	Timeout int `yaml:"timeout"`

	// MaxRetries bounds retries of network errors and 5xx responses.
	MaxRetries int `yaml:"max_retries"`
}

// ScalesConfig contains scale sync settings.
type ScalesConfig struct {
	Addresses []string `yaml:"addresses"`

	// TimeoutSeconds bounds the whole sync. 0 waits forever.
	TimeoutSeconds int `yaml:"timeout_seconds"`

	// Wipe clears every PLU on each scale before downloading.
	Wipe bool `yaml:"wipe"`

	// UPCPattern selects the catalog items sent to scales.
	UPCPattern string `yaml:"upc_pattern"`

	// IncludeInternal also sends internal-range (below 1000) PLUs.
	IncludeInternal bool `yaml:"include_internal"`

	// MinQuantity drops items with less quantity on hand.
	MinQuantity float64 `yaml:"min_quantity"`

	// Progress logs a status line per scale on every poll.
	Progress bool `yaml:"progress"`

	Port           int `yaml:"port"`
	Model          int `yaml:"model"`
	PollIntervalMs int `yaml:"poll_interval_ms"`

	// Simulate uses the in-process scale simulator instead of the CAS library.
	Simulate bool `yaml:"simulate"`

	// SDKDir overrides the CAS DLL search path.
	SDKDir string `yaml:"sdk_dir"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
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

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
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

// APIConfig contains status API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load builds a Config from defaults, then the YAML file at path, then
// SCALESYNC_* environment variables, and validates the result.
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path) //nolint:gosec // path is operator-supplied
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

// Default returns the default configuration with environment overrides
// applied. It is used when no config file exists; callers still validate.
func Default() *Config {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	return cfg
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		POS: POSConfig{
			BaseURL:    "https://retailnext.itretail.com",
			TokenFile:  "~/.itretail/token.json",
			Timeout:    30,
			MaxRetries: 3,
		},
		Scales: ScalesConfig{
			TimeoutSeconds: 300,
			UPCPattern:     "^002",
			MinQuantity:    -10000000,
			Port:           20304,
			Model:          5500,
			PollIntervalMs: 1000,
		},
		Database: DatabaseConfig{
			Path:        "./data/scalesync.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "scalesync",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 1,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/api/v1/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// envString binds a SCALESYNC_* variable to a string field.
type envString struct {
	name string
	dst  *string
}

// applyEnvOverrides copies non-empty SCALESYNC_* variables over file values.
// Secrets are expected to arrive this way rather than in the YAML.
func applyEnvOverrides(cfg *Config) {
	for _, e := range []envString{
		{"SCALESYNC_POS_USERNAME", &cfg.POS.Username},
		{"SCALESYNC_POS_PASSWORD", &cfg.POS.Password},
		{"SCALESYNC_POS_STORE_ID", &cfg.POS.StoreID},
		{"SCALESYNC_DATABASE_PATH", &cfg.Database.Path},
		{"SCALESYNC_MQTT_HOST", &cfg.MQTT.Broker.Host},
		{"SCALESYNC_MQTT_USERNAME", &cfg.MQTT.Auth.Username},
		{"SCALESYNC_MQTT_PASSWORD", &cfg.MQTT.Auth.Password},
		{"SCALESYNC_INFLUXDB_TOKEN", &cfg.InfluxDB.Token},
	} {
		if v := os.Getenv(e.name); v != "" {
			*e.dst = v
		}
	}

	if v := os.Getenv("SCALESYNC_SCALES"); v != "" {
		cfg.Scales.Addresses = splitList(v)
	}
}

// splitList splits a comma-separated list, dropping empty entries.
func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// POS validation
	if c.POS.BaseURL == "" {
		errs = append(errs, "pos.base_url is required")
	}
	if c.POS.Username == "" {
		errs = append(errs, "pos.username is required (set SCALESYNC_POS_USERNAME environment variable)")
	}
	if c.POS.Password == "" {
		errs = append(errs, "pos.password is required (set SCALESYNC_POS_PASSWORD environment variable)")
	}
	if c.POS.StoreID == "" {
		errs = append(errs, "pos.store_id is required")
	}

	// Scales validation
	if _, err := regexp.Compile(c.Scales.UPCPattern); err != nil {
		errs = append(errs, fmt.Sprintf("scales.upc_pattern is invalid: %v", err))
	}
	if c.Scales.TimeoutSeconds < 0 {
		errs = append(errs, "scales.timeout_seconds must not be negative")
	}
	if c.Scales.Port < 1 || c.Scales.Port > 65535 {
		errs = append(errs, "scales.port must be between 1 and 65535")
	}
	if c.Scales.Model < 1 || c.Scales.Model > 65535 {
		errs = append(errs, "scales.model must be between 1 and 65535")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.InfluxDB.Enabled {
		for _, f := range [][2]string{{"url", c.InfluxDB.URL}, {"org", c.InfluxDB.Org}, {"bucket", c.InfluxDB.Bucket}} {
			if f[1] == "" {
				errs = append(errs, "influxdb."+f[0]+" is required when influxdb is enabled")
			}
		}
	}

	if c.API.Enabled {
		if c.API.Port < 1 || c.API.Port > 65535 {
			errs = append(errs, "api.port must be between 1 and 65535")
		}
		if !strings.HasPrefix(c.WebSocket.Path, "/") {
			errs = append(errs, "websocket.path must start with /")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// SyncTimeout returns the scale sync timeout as a Duration. Zero means no
// timeout.
func (c *Config) SyncTimeout() time.Duration {
	return seconds(c.Scales.TimeoutSeconds)
}

// PollInterval returns the scale progress poll interval as a Duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Scales.PollIntervalMs) * time.Millisecond
}

// ReadTimeout returns the HTTP read timeout.
func (t APITimeoutConfig) ReadTimeout() time.Duration { return seconds(t.Read) }

// WriteTimeout returns the HTTP write timeout.
func (t APITimeoutConfig) WriteTimeout() time.Duration { return seconds(t.Write) }

// IdleTimeout returns the HTTP keep-alive idle timeout.
func (t APITimeoutConfig) IdleTimeout() time.Duration { return seconds(t.Idle) }

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
