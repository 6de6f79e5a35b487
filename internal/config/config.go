// Package config handles loading and validation of the gann agent configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// DefaultConfigPath is the default location for the agent configuration file.
	DefaultConfigPath = "/etc/gann/agent.yaml"

	// DefaultDataDir is the default directory for agent state files.
	DefaultDataDir = "/var/lib/gann"
)

// Config holds all configuration for the gann host agent.
type Config struct {
	// ControlPlaneURL is the base URL of the gann directory service.
	ControlPlaneURL string `mapstructure:"control_plane_url" yaml:"control_plane_url"`

	// BootstrapToken is a one-time token used to register this agent with the directory.
	BootstrapToken string `mapstructure:"bootstrap_token" yaml:"bootstrap_token"`

	// AgentName is the human-readable name for this agent.
	AgentName string `mapstructure:"agent_name" yaml:"agent_name"`

	// AgentKind classifies the agent for directory search (e.g. "worker", "sensor").
	AgentKind string `mapstructure:"agent_kind" yaml:"agent_kind"`

	// Capabilities is an opaque list of capability tags advertised at registration.
	Capabilities []string `mapstructure:"capabilities" yaml:"capabilities"`

	// StunServers is a list of STUN servers used for server-reflexive candidate
	// gathering. Each entry should be in "host:port" format.
	StunServers []string `mapstructure:"stun_servers" yaml:"stun_servers"`

	// DirectTimeoutMs is the deadline for a direct QUIC accept/connect attempt.
	DirectTimeoutMs int `mapstructure:"direct_timeout_ms" yaml:"direct_timeout_ms"`

	// DirectBindAddr is the local UDP bind address for direct QUIC connections.
	DirectBindAddr string `mapstructure:"direct_bind_addr" yaml:"direct_bind_addr"`

	// RelayBindAddr is the local UDP bind address for the relay transport.
	RelayBindAddr string `mapstructure:"relay_bind_addr" yaml:"relay_bind_addr"`

	// OfferTimeoutMs bounds how long the acceptance dispatcher waits for an
	// inbound offer before giving up.
	OfferTimeoutMs int `mapstructure:"offer_timeout_ms" yaml:"offer_timeout_ms"`

	// HeartbeatIntervalMs is the period between HTTP heartbeat reports.
	HeartbeatIntervalMs int `mapstructure:"heartbeat_interval_ms" yaml:"heartbeat_interval_ms"`

	// UseDirectWithoutSessionID resolves the Open Question in the negotiation
	// spec: when a direct QUIC accept wins the race but no relay event has
	// arrived within the grace window, should the initiator use the direct
	// connection anyway (true) or fall back to relay (false, the default)?
	UseDirectWithoutSessionID bool `mapstructure:"use_direct_without_session_id" yaml:"use_direct_without_session_id"`

	// DataDir is the directory where the agent stores state files (registration, etc.).
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`

	// LogLevel controls the logging verbosity (debug, info, warn, error).
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`

	// APIToken is the long-lived bearer token obtained from registration. It is
	// not read from the config file and nothing in this module sets it (the
	// agent keeps its registration token on the Agent itself); when a caller
	// sets it in memory, AuthToken prefers it over BootstrapToken.
	APIToken string `mapstructure:"-" yaml:"-"`
}

// DirectTimeout returns DirectTimeoutMs as a time.Duration.
func (c *Config) DirectTimeout() time.Duration {
	return time.Duration(c.DirectTimeoutMs) * time.Millisecond
}

// OfferTimeout returns OfferTimeoutMs as a time.Duration.
func (c *Config) OfferTimeout() time.Duration {
	return time.Duration(c.OfferTimeoutMs) * time.Millisecond
}

// HeartbeatInterval returns HeartbeatIntervalMs as a time.Duration.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalMs) * time.Millisecond
}

// AuthToken returns the bearer token to use for authenticated directory calls,
// preferring the long-lived API token and falling back to the bootstrap token.
func (c *Config) AuthToken() string {
	if c.APIToken != "" {
		return c.APIToken
	}
	return c.BootstrapToken
}

// Load reads configuration from the given file path, falling back to the default
// path if configPath is empty. Environment variables override file values.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("data_dir", DefaultDataDir)
	v.SetDefault("log_level", "info")
	v.SetDefault("stun_servers", []string{"stun.l.google.com:19302"})
	v.SetDefault("direct_timeout_ms", 5000)
	v.SetDefault("direct_bind_addr", "0.0.0.0:0")
	v.SetDefault("relay_bind_addr", "0.0.0.0:0")
	v.SetDefault("offer_timeout_ms", 30000)
	v.SetDefault("heartbeat_interval_ms", 30000)
	v.SetDefault("use_direct_without_session_id", false)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigFile(DefaultConfigPath)
	}

	v.SetEnvPrefix("GANN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	envBindings := map[string]string{
		"control_plane_url":             "GANN_CONTROL_PLANE_URL",
		"bootstrap_token":                "GANN_BOOTSTRAP_TOKEN",
		"agent_name":                     "GANN_AGENT_NAME",
		"agent_kind":                     "GANN_AGENT_KIND",
		"stun_servers":                   "GANN_STUN_SERVERS",
		"direct_timeout_ms":              "GANN_DIRECT_TIMEOUT_MS",
		"direct_bind_addr":               "GANN_DIRECT_BIND_ADDR",
		"relay_bind_addr":                "GANN_RELAY_BIND_ADDR",
		"offer_timeout_ms":               "GANN_OFFER_TIMEOUT_MS",
		"heartbeat_interval_ms":          "GANN_HEARTBEAT_INTERVAL_MS",
		"use_direct_without_session_id": "GANN_USE_DIRECT_WITHOUT_SESSION_ID",
		"data_dir":                       "GANN_DATA_DIR",
		"log_level":                      "GANN_LOG_LEVEL",
	}
	for key, env := range envBindings {
		_ = v.BindEnv(key, env)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			// Config file not found; rely on env vars and defaults.
		} else {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if cfg.AgentName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("getting hostname: %w", err)
		}
		cfg.AgentName = hostname
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// Validate checks that all required configuration fields are present and well-formed.
func (c *Config) Validate() error {
	if c.ControlPlaneURL == "" {
		return fmt.Errorf("control_plane_url is required")
	}

	if c.BootstrapToken == "" {
		return fmt.Errorf("bootstrap_token is required")
	}

	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	if err := os.MkdirAll(c.DataDir, 0o700); err != nil {
		return fmt.Errorf("creating data directory %s: %w", c.DataDir, err)
	}

	if c.DirectTimeoutMs <= 0 {
		return fmt.Errorf("direct_timeout_ms must be positive")
	}

	if c.OfferTimeoutMs <= 0 {
		return fmt.Errorf("offer_timeout_ms must be positive")
	}

	return nil
}
