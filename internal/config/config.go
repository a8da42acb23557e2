// Package config loads the gateway's configuration from environment
// variables, with an optional YAML file overlay for the one setting that
// doesn't fit comfortably in a single env var: the list of channels to
// pre-register at startup.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds every setting the gateway needs to boot.
type Config struct {
	Port               string
	BusHost            string
	BusPort            string
	BusPassword        string
	BusDB              int
	BusEnabled         bool
	JWTSecret          string
	LogLevel           string
	LogPretty          bool
	ShutdownTimeoutSec int
	BootstrapChannels  []string
	ProducerChannel    string
	ProducerEvent      string
}

// fileOverlay is the shape of the optional YAML config file.
type fileOverlay struct {
	BootstrapChannels []string `yaml:"bootstrap_channels"`
}

// Load builds a Config from environment variables, then, if CONFIG_FILE
// points at a readable file whose bootstrap_channels list is non-empty,
// replaces BootstrapChannels with that list.
func Load() (Config, error) {
	cfg := Config{
		Port:               getEnv("API_PORT", "8000"),
		BusHost:            getEnv("BUS_HOST", "localhost"),
		BusPort:            getEnv("BUS_PORT", "6379"),
		BusPassword:        getEnv("BUS_PASSWORD", ""),
		BusDB:              getEnvInt("BUS_DB", 0),
		BusEnabled:         getEnv("BUS_ENABLED", "false") == "true",
		JWTSecret:          getEnv("JWT_SECRET", ""),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogPretty:          getEnv("LOG_PRETTY", "false") == "true",
		ShutdownTimeoutSec: getEnvInt("SHUTDOWN_TIMEOUT_SECONDS", 30),
		BootstrapChannels:  getEnvStringSlice("BOOTSTRAP_CHANNELS", []string{"phoenix", "system", "streaming"}),
		ProducerChannel:    getEnv("PRODUCER_CHANNEL", ""),
		ProducerEvent:      getEnv("PRODUCER_EVENT", ""),
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		overlay, err := loadFileOverlay(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: failed to load %s: %w", path, err)
		}
		if len(overlay.BootstrapChannels) > 0 {
			cfg.BootstrapChannels = overlay.BootstrapChannels
		}
	}

	return cfg, nil
}

// ProducerConfigured reports whether both halves of the optional inbound
// producer topic (PRODUCER_CHANNEL, PRODUCER_EVENT) were set. With neither
// set, the gateway runs with no inbound bridge from the external bus.
func (c Config) ProducerConfigured() bool {
	return c.ProducerChannel != "" && c.ProducerEvent != ""
}

func loadFileOverlay(path string) (fileOverlay, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return fileOverlay{}, err
	}
	var overlay fileOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fileOverlay{}, fmt.Errorf("invalid yaml: %w", err)
	}
	return overlay, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
