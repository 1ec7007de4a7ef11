// YAML config loader with CUE validation integration
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by Load.
const (
	DefaultBrokerURL      = "tcp://localhost:1883"
	DefaultLocalSuffix    = ".local"
	DefaultSendTimeout    = 2 * time.Second
	DefaultTick           = time.Second
	DefaultKeepAlive      = 30 * time.Second
	DefaultConnectTimeout = 5 * time.Second
	DefaultAdminAddr      = ":8080"
	DefaultDatabase       = "public"
)

// ErrNoRobots is returned when the configuration lists no robots.
var ErrNoRobots = errors.New("config: robots must not be empty")

// Broker describes the MQTT broker connection.
type Broker struct {
	URL            string        `yaml:"url"`
	ClientID       string        `yaml:"client_id"`
	Username       string        `yaml:"username"`
	PasswordEnv    string        `yaml:"password_env"`
	KeepAlive      time.Duration `yaml:"keep_alive"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// Password reads the broker password from the environment variable named by
// PasswordEnv.
func (b Broker) Password() string {
	if b.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(b.PasswordEnv)
}

// Dispatch tunes command delivery.
type Dispatch struct {
	SendTimeout time.Duration `yaml:"send_timeout"`
}

// Staleness tunes the connectivity monitor.
type Staleness struct {
	Tick time.Duration `yaml:"tick"`
}

// Admin configures the HTTP admin API. An empty Addr disables it.
type Admin struct {
	Addr *string `yaml:"addr"`
}

// Greptime configures the optional GreptimeDB export. An empty Endpoint
// disables it.
type Greptime struct {
	Endpoint          string `yaml:"endpoint"`
	Database          string `yaml:"database"`
	ConnectivityTable string `yaml:"connectivity_table"`
	DispatchTable     string `yaml:"dispatch_table"`
}

// Logging selects the log level and format.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the root configuration.
type Config struct {
	Robots      []string  `yaml:"robots"`
	LocalSuffix string    `yaml:"local_suffix"`
	Broker      Broker    `yaml:"broker"`
	Dispatch    Dispatch  `yaml:"dispatch"`
	Staleness   Staleness `yaml:"staleness"`
	Admin       Admin     `yaml:"admin"`
	Greptime    Greptime  `yaml:"greptime"`
	Logging     Logging   `yaml:"logging"`
}

// AdminAddr returns the admin listen address, empty when disabled.
func (c *Config) AdminAddr() string {
	if c.Admin.Addr == nil {
		return DefaultAdminAddr
	}
	return *c.Admin.Addr
}

// Load loads a YAML config, validates it against the CUE schema and applies
// defaults and environment overrides. An empty schemaPath selects the
// embedded schema.
func Load(configPath, schemaPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	schema := defaultSchema
	if schemaPath != "" {
		if schema, err = os.ReadFile(schemaPath); err != nil {
			return nil, fmt.Errorf("cannot read CUE schema: %w", err)
		}
	}
	return Parse(configPath, data, schema)
}

// Parse validates and decodes config data. name is used in error messages.
func Parse(name string, data, schema []byte) (*Config, error) {
	if err := ValidateWithCue(name, data, schema); err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot unmarshal YAML config: %w", err)
	}
	if len(cfg.Robots) == 0 {
		return nil, ErrNoRobots
	}
	cfg.applyDefaults()
	cfg.applyEnv()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.LocalSuffix == "" {
		c.LocalSuffix = DefaultLocalSuffix
	}
	if c.Broker.URL == "" {
		c.Broker.URL = DefaultBrokerURL
	}
	if c.Broker.KeepAlive <= 0 {
		c.Broker.KeepAlive = DefaultKeepAlive
	}
	if c.Broker.ConnectTimeout <= 0 {
		c.Broker.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Dispatch.SendTimeout <= 0 {
		c.Dispatch.SendTimeout = DefaultSendTimeout
	}
	if c.Staleness.Tick <= 0 {
		c.Staleness.Tick = DefaultTick
	}
	if c.Greptime.Database == "" {
		c.Greptime.Database = DefaultDatabase
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv("ROVERSWARM_BROKER_URL"); v != "" {
		c.Broker.URL = v
	}
	if v := os.Getenv("GREPTIMEDB_ENDPOINT"); v != "" {
		c.Greptime.Endpoint = v
	}
}
