// Package config loads the relay's runtime configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode     string `mapstructure:"mode"`
	LogLevel string `mapstructure:"log_level"`

	BindAddr string `mapstructure:"bind_addr"`
	UDPPort  int    `mapstructure:"udp_port"`
	HTTPPort int    `mapstructure:"http_port"`

	// Relay core knobs.
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat_timeout"`
	SessionClientCap int           `mapstructure:"session_client_cap"`
	OutboundQueueCap int           `mapstructure:"outbound_queue_cap"`
	DrainGrace       time.Duration `mapstructure:"drain_grace"`
	ReapInterval     time.Duration `mapstructure:"reap_interval"`
}

// UDPAddr is the listen address for the relay socket.
func (c *Config) UDPAddr() string {
	return fmt.Sprintf("%s:%d", c.BindAddr, c.UDPPort)
}

// HTTPAddr is the listen address for the status/metrics endpoint.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.BindAddr, c.HTTPPort)
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)
	v.SetConfigFile(fileName)

	v.SetEnvPrefix("relay")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("mode", "release")
	v.SetDefault("log_level", "info")
	v.SetDefault("bind_addr", "0.0.0.0")
	v.SetDefault("udp_port", 4090)
	v.SetDefault("http_port", 8080)
	v.SetDefault("heartbeat_timeout", "10s")
	v.SetDefault("session_client_cap", 16)
	v.SetDefault("outbound_queue_cap", 255)
	v.SetDefault("drain_grace", "2s")
	v.SetDefault("reap_interval", "1s")

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("config loaded")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.HeartbeatTimeout <= 0 {
		return nil, fmt.Errorf("heartbeat_timeout must be positive, got %s", cfg.HeartbeatTimeout)
	}
	if cfg.OutboundQueueCap < 1 {
		return nil, fmt.Errorf("outbound_queue_cap must be at least 1, got %d", cfg.OutboundQueueCap)
	}
	return &cfg, nil
}
