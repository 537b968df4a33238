// Package config loads bridge host settings from a YAML file and
// CFXBRIDGE_ environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"
)

// EnvPrefix prefixes every environment variable the bridge reads.
const EnvPrefix = "CFXBRIDGE_"

// Config is the full bridge host configuration.
type Config struct {
	Bridge    BridgeConfig    `yaml:"bridge" envPrefix:"BRIDGE_"`
	Transport TransportConfig `yaml:"transport" envPrefix:"TRANSPORT_"`
	Logging   LoggingConfig   `yaml:"logging" envPrefix:"LOG_"`
	Host      HostConfig      `yaml:"host" envPrefix:"HOST_"`
}

// BridgeConfig selects registry behavior.
type BridgeConfig struct {
	Mode          string `yaml:"mode" env:"MODE"`                     // multiplexed, singleton
	HandlerPolicy string `yaml:"handler_policy" env:"HANDLER_POLICY"` // default, exclusive, accumulate
}

// TransportConfig selects and tunes the broker transport.
type TransportConfig struct {
	Kind          string        `yaml:"kind" env:"KIND"` // loopback, nats, amqp
	DialTimeout   time.Duration `yaml:"dial_timeout" env:"DIAL_TIMEOUT"`
	LoopbackHosts []string      `yaml:"loopback_hosts" env:"LOOPBACK_HOSTS"` // Empty serves every host
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level      string `yaml:"level" env:"LEVEL"`             // debug, info, warn, error
	Format     string `yaml:"format" env:"FORMAT"`           // json, console
	OutputFile string `yaml:"output_file" env:"OUTPUT_FILE"` // Empty for stderr
}

// HostConfig configures the front ends serving the control protocol.
type HostConfig struct {
	Listen string `yaml:"listen" env:"LISTEN"` // Empty disables the websocket front end
	Stdio  bool   `yaml:"stdio" env:"STDIO"`
}

// Transport kinds.
const (
	TransportLoopback = "loopback"
	TransportNATS     = "nats"
	TransportAMQP     = "amqp"
)

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Bridge: BridgeConfig{
			Mode:          "multiplexed",
			HandlerPolicy: "default",
		},
		Transport: TransportConfig{
			Kind:        TransportLoopback,
			DialTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Host: HostConfig{
			Stdio: true,
		},
	}
}

// Load builds the configuration from defaults, then the YAML file at path
// if path is not empty, then the environment. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config %s: %w", path, err)
		}
		defer f.Close()
		if err := DecodeStrict(f, cfg); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}

	if err := ParseEnv(cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}
