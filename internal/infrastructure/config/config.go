package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for PowerLogic Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site        SiteConfig        `yaml:"site"`
	Database    DatabaseConfig    `yaml:"database"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	API         APIConfig         `yaml:"api"`
	InfluxDB    InfluxDBConfig    `yaml:"influxdb"`
	Logging     LoggingConfig     `yaml:"logging"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Liveness    LivenessConfig    `yaml:"liveness"`
	Dispatch    DispatchConfig    `yaml:"dispatch"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
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
	MaxDelay    int `yaml:"max_delay"`
	MaxAttempts int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
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

// SchedulerConfig controls the schedule evaluation cadence.
type SchedulerConfig struct {
	Enabled bool `yaml:"enabled"`

	// Spec is a robfig/cron schedule expression.
	// Default: "@every 1m"
	Spec string `yaml:"spec"`
}

// LivenessConfig controls the periodic device probe.
type LivenessConfig struct {
	Enabled bool `yaml:"enabled"`

	// Interval between probe passes.
	// Default: 30s
	Interval time.Duration `yaml:"interval"`

	// FailureThreshold is the number of consecutive failed probes before a
	// device is marked offline.
	// Default: 3
	FailureThreshold int `yaml:"failure_threshold"`

	// Probe selects the probe strategy: "stub", "tcp" or "presence".
	Probe string `yaml:"probe"`

	// ProbeTimeout bounds a single probe.
	// Default: 2s
	ProbeTimeout time.Duration `yaml:"probe_timeout"`

	// Concurrency limits how many probes run at once.
	// Default: 8
	Concurrency int `yaml:"concurrency"`

	// PresenceWindow is how recently a device must have announced itself
	// for the presence probe to count it alive.
	// Default: 90s
	PresenceWindow time.Duration `yaml:"presence_window"`
}

// DispatchConfig controls command delivery.
type DispatchConfig struct {
	// Transport selects the command sender: "stub", "mqtt" or "exec".
	Transport string `yaml:"transport"`

	// RetryBackoff is the pause before the single retry of a failed command.
	// Default: 5s
	RetryBackoff time.Duration `yaml:"retry_backoff"`

	// ExecTimeout bounds one command run by the exec transport.
	// Default: 10s
	ExecTimeout time.Duration `yaml:"exec_timeout"`

	// ExecShell is the shell used by the exec transport.
	// Default: "/bin/sh"
	ExecShell string `yaml:"exec_shell"`
}

// DiagnosticsConfig controls where diagnostics are appended.
type DiagnosticsConfig struct {
	// File is the path of the append-only diagnostic log. Empty disables it.
	File string `yaml:"file"`

	// Database also records diagnostics in the audit_logs table.
	Database bool `yaml:"database"`
}

var validTransports = map[string]bool{"stub": true, "mqtt": true, "exec": true}

var validProbes = map[string]bool{"stub": true, "tcp": true, "presence": true}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: POWERLOGIC_SECTION_KEY
// For example: POWERLOGIC_DATABASE_PATH, POWERLOGIC_DISPATCH_TRANSPORT
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
			Name: "PowerLogic",
		},
		Database: DatabaseConfig{
			Path:        "./data/powerlogic.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "powerlogic-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				MaxDelay:    60,
				MaxAttempts: 0,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Scheduler: SchedulerConfig{
			Enabled: true,
			Spec:    "@every 1m",
		},
		Liveness: LivenessConfig{
			Enabled:          true,
			Interval:         30 * time.Second,
			FailureThreshold: 3,
			Probe:            "stub",
			ProbeTimeout:     2 * time.Second,
			Concurrency:      8,
			PresenceWindow:   90 * time.Second,
		},
		Dispatch: DispatchConfig{
			Transport:    "stub",
			RetryBackoff: 5 * time.Second,
			ExecTimeout:  10 * time.Second,
			ExecShell:    "/bin/sh",
		},
		Diagnostics: DiagnosticsConfig{
			File:     "./data/diagnostics.log",
			Database: true,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: POWERLOGIC_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("POWERLOGIC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("POWERLOGIC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("POWERLOGIC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("POWERLOGIC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("POWERLOGIC_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("POWERLOGIC_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// InfluxDB
	if v := os.Getenv("POWERLOGIC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Scheduler, liveness and dispatch
	if v := os.Getenv("POWERLOGIC_SCHEDULER_SPEC"); v != "" {
		cfg.Scheduler.Spec = v
	}
	if v := os.Getenv("POWERLOGIC_LIVENESS_PROBE"); v != "" {
		cfg.Liveness.Probe = v
	}
	if v := os.Getenv("POWERLOGIC_LIVENESS_FAILURE_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Liveness.FailureThreshold = n
		}
	}
	if v := os.Getenv("POWERLOGIC_DISPATCH_TRANSPORT"); v != "" {
		cfg.Dispatch.Transport = v
	}
}

// Validate checks the configuration for errors.
//
// All problems are collected and reported together.
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

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Scheduler.Enabled && strings.TrimSpace(c.Scheduler.Spec) == "" {
		errs = append(errs, "scheduler.spec is required when the scheduler is enabled")
	}

	if c.Liveness.Enabled && c.Liveness.Interval <= 0 {
		errs = append(errs, "liveness.interval must be positive")
	}
	if c.Liveness.FailureThreshold < 1 {
		errs = append(errs, "liveness.failure_threshold must be at least 1")
	}
	if c.Liveness.Concurrency < 1 {
		errs = append(errs, "liveness.concurrency must be at least 1")
	}
	if !validProbes[strings.ToLower(c.Liveness.Probe)] {
		errs = append(errs, "liveness.probe must be stub, tcp, or presence")
	}
	if strings.EqualFold(c.Liveness.Probe, "presence") && !c.MQTT.Enabled {
		errs = append(errs, "liveness.probe presence requires mqtt.enabled")
	}

	if !validTransports[strings.ToLower(c.Dispatch.Transport)] {
		errs = append(errs, "dispatch.transport must be stub, mqtt, or exec")
	}
	if strings.EqualFold(c.Dispatch.Transport, "mqtt") && !c.MQTT.Enabled {
		errs = append(errs, "dispatch.transport mqtt requires mqtt.enabled")
	}
	if c.Dispatch.RetryBackoff < 0 {
		errs = append(errs, "dispatch.retry_backoff must not be negative")
	}
	if strings.EqualFold(c.Dispatch.Transport, "exec") && c.Dispatch.ExecTimeout <= 0 {
		errs = append(errs, "dispatch.exec_timeout must be positive for the exec transport")
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
