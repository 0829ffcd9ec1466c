package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/scrumdeck/scrumdeck/go/internal/poker/gateway"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
	Websocket struct {
		WriteTimeoutSec int   `yaml:"write_timeout_sec"`
		ReadTimeoutSec  int   `yaml:"read_timeout_sec"`
		PingIntervalSec int   `yaml:"ping_interval_sec"`
		MaxMessageBytes int64 `yaml:"max_message_bytes"`
	} `yaml:"websocket"`
	Seed struct {
		Path string `yaml:"path"`
	} `yaml:"seed"`
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &config, nil
}

// connectionConfig maps the yaml settings onto the gateway defaults,
// overriding only what the file sets.
func (c *Config) connectionConfig() gateway.ConnectionConfig {
	cfg := gateway.DefaultConnectionConfig()
	if c.Websocket.WriteTimeoutSec > 0 {
		cfg.WriteTimeout = time.Duration(c.Websocket.WriteTimeoutSec) * time.Second
	}
	if c.Websocket.ReadTimeoutSec > 0 {
		cfg.ReadTimeout = time.Duration(c.Websocket.ReadTimeoutSec) * time.Second
	}
	if c.Websocket.PingIntervalSec > 0 {
		cfg.PingInterval = time.Duration(c.Websocket.PingIntervalSec) * time.Second
	}
	if c.Websocket.MaxMessageBytes > 0 {
		cfg.MaxMessageSize = c.Websocket.MaxMessageBytes
	}
	return cfg
}
