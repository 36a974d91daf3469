package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is used when NUKIBRIDGE_CONFIG is not set.
const DefaultPath = "configs/config.yaml"

// Config is the root configuration structure for the Nuki bridge service.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Nuki       NukiConfig       `yaml:"nuki"`
	Reconciler ReconcilerConfig `yaml:"reconciler"`
	Database   DatabaseConfig   `yaml:"database"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	API        APIConfig        `yaml:"api"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Logging    LoggingConfig    `yaml:"logging"`
	Security   SecurityConfig   `yaml:"security"`
}

// NukiConfig contains the connection settings for the physical Nuki bridge.
type NukiConfig struct {
	// BridgeID identifies this bridge in MQTT health messages.
	BridgeID string `yaml:"bridge_id"`

	Host  string `yaml:"host"`
	Port  int    `yaml:"port"`
	Token string `yaml:"token"`

	// Timeout is the per-request timeout in seconds.
	Timeout int `yaml:"timeout"`

	// StrictQueue serialises every request to the bridge hardware.
	StrictQueue bool `yaml:"strict_queue"`

	// HealthInterval is the MQTT health publish interval in seconds.
	HealthInterval int `yaml:"health_interval"`
}

// ReconcilerConfig contains the per-lock staleness and retry settings.
type ReconcilerConfig struct {
	StaleAfter      time.Duration `yaml:"stale_after"`
	RefreshAttempts int           `yaml:"refresh_attempts"`
	CommandAttempts int           `yaml:"command_attempts"`
	ErrorStates     []int         `yaml:"error_states"`
	PollInterval    time.Duration `yaml:"poll_interval"`

	// CommandDeadline caps a lock/unlock including retries. Zero disables it.
	CommandDeadline time.Duration `yaml:"command_deadline"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// EventRetentionDays prunes older lock events. Zero keeps everything.
	EventRetentionDays int `yaml:"event_retention_days"`

	// EventPruneSchedule is a cron expression for pruning. Empty means daily at 03:15.
	EventPruneSchedule string `yaml:"event_prune_schedule"`
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

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
// Write must cover a blocking lock command with retries.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
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
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings.
// An empty Secret disables API authentication.
type JWTConfig struct {
	Secret string `yaml:"secret"`
	Issuer string `yaml:"issuer"`
}

// Path returns the configuration file path from NUKIBRIDGE_CONFIG,
// falling back to DefaultPath.
func Path() string {
	if v := os.Getenv("NUKIBRIDGE_CONFIG"); v != "" {
		return v
	}
	return DefaultPath
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: NUKIBRIDGE_SECTION_KEY
// For example: NUKIBRIDGE_NUKI_TOKEN, NUKIBRIDGE_DATABASE_PATH
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
		Nuki: NukiConfig{
			BridgeID:       "nuki",
			Port:           8080,
			Timeout:        20,
			StrictQueue:    true,
			HealthInterval: 30,
		},
		Reconciler: ReconcilerConfig{
			StaleAfter:      30 * time.Second,
			RefreshAttempts: 3,
			CommandAttempts: 3,
			ErrorStates:     []int{0, 254, 255},
			PollInterval:    30 * time.Second,
		},
		Database: DatabaseConfig{
			Path:               "./data/nukibridge.db",
			WALMode:            true,
			BusyTimeout:        5,
			EventRetentionDays: 90,
			EventPruneSchedule: "15 3 * * *",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-nuki",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 90,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			Bucket:        "nuki",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				Issuer: "gray-logic",
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: NUKIBRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Nuki bridge
	if v := os.Getenv("NUKIBRIDGE_NUKI_HOST"); v != "" {
		cfg.Nuki.Host = v
	}
	if v := os.Getenv("NUKIBRIDGE_NUKI_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Nuki.Port = port
		}
	}
	if v := os.Getenv("NUKIBRIDGE_NUKI_TOKEN"); v != "" {
		cfg.Nuki.Token = v
	}

	// Database
	if v := os.Getenv("NUKIBRIDGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("NUKIBRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("NUKIBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("NUKIBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("NUKIBRIDGE_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("NUKIBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("NUKIBRIDGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Security
	if v := os.Getenv("NUKIBRIDGE_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors and security issues.
func (c *Config) Validate() error {
	var errs []string

	// Nuki bridge validation
	if c.Nuki.Host == "" {
		errs = append(errs, "nuki.host is required")
	}
	if c.Nuki.Token == "" {
		errs = append(errs, "nuki.token is required (set NUKIBRIDGE_NUKI_TOKEN environment variable)")
	}
	if c.Nuki.Port < 1 || c.Nuki.Port > 65535 {
		errs = append(errs, "nuki.port must be between 1 and 65535")
	}
	if c.Nuki.Timeout < 1 {
		errs = append(errs, "nuki.timeout must be at least 1 second")
	}

	// Reconciler validation
	if c.Reconciler.StaleAfter <= 0 {
		errs = append(errs, "reconciler.stale_after must be positive")
	}
	if c.Reconciler.RefreshAttempts < 1 {
		errs = append(errs, "reconciler.refresh_attempts must be at least 1")
	}
	if c.Reconciler.CommandAttempts < 1 {
		errs = append(errs, "reconciler.command_attempts must be at least 1")
	}
	if len(c.Reconciler.ErrorStates) == 0 {
		errs = append(errs, "reconciler.error_states must not be empty")
	}
	if c.Reconciler.PollInterval <= 0 {
		errs = append(errs, "reconciler.poll_interval must be positive")
	}
	if c.Reconciler.CommandDeadline < 0 {
		errs = append(errs, "reconciler.command_deadline must not be negative")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.Database.EventRetentionDays < 0 {
		errs = append(errs, "database.event_retention_days must not be negative")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	// The JWT secret is optional; when set it must be strong enough that
	// nobody can forge tokens for door commands.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret != "" && len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// AuthEnabled reports whether API requests require a bearer token.
func (c *Config) AuthEnabled() bool {
	return c.Security.JWT.Secret != ""
}

// GetNukiTimeout returns the per-request bridge timeout as a Duration.
func (c *Config) GetNukiTimeout() time.Duration {
	return time.Duration(c.Nuki.Timeout) * time.Second
}

// GetHealthInterval returns the MQTT health publish interval as a Duration.
func (c *Config) GetHealthInterval() time.Duration {
	return time.Duration(c.Nuki.HealthInterval) * time.Second
}

// GetEventRetention returns how long lock events are kept. Zero means forever.
func (c *Config) GetEventRetention() time.Duration {
	return time.Duration(c.Database.EventRetentionDays) * 24 * time.Hour
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
