package config

import (
	"errors"
	"flag"
	"fmt"
	"strconv"
	"time"
)

const (
	DefaultPort           = 8080
	DefaultAPIBaseURL     = "http://localhost:8090/api/v1"
	DefaultAPIAddr        = ":8090"
	DefaultPersistTimeout = 5 * time.Second
)

var ErrInvalidPort = errors.New("invalid port number")

// Config carries the settings shared by the board web app and the API server.
type Config struct {
	Port           uint
	APIBaseURL     string
	APIAddr        string
	RedisURL       string
	LogLevel       string
	PersistTimeout time.Duration
}

// Load parses command line arguments, then applies environment overrides
// looked up through getenv. A nil getenv disables overrides.
func Load(name string, args []string, getenv func(string) string) (Config, error) {
	var cfg Config
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.UintVar(&cfg.Port, "port", DefaultPort, "Port to listen on")
	fs.StringVar(&cfg.APIBaseURL, "api-url", DefaultAPIBaseURL, "Base URL of the moves REST API")
	fs.StringVar(&cfg.APIAddr, "api-addr", DefaultAPIAddr, "Listen address of the REST API server")
	fs.StringVar(&cfg.RedisURL, "redis-url", "", "redis:// URL for the session store (empty = in-memory)")
	fs.StringVar(&cfg.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	fs.DurationVar(&cfg.PersistTimeout, "persist-timeout", DefaultPersistTimeout, "Timeout for saving a move")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if getenv != nil {
		if v := getenv("JAQUEMATE_PORT"); v != "" {
			port, err := strconv.ParseUint(v, 10, 32)
			if err != nil {
				return Config{}, fmt.Errorf("JAQUEMATE_PORT: %w", err)
			}
			cfg.Port = uint(port)
		}
		if v := getenv("JAQUEMATE_API_URL"); v != "" {
			cfg.APIBaseURL = v
		}
		if v := getenv("JAQUEMATE_API_ADDR"); v != "" {
			cfg.APIAddr = v
		}
		if v := getenv("REDIS_URL"); v != "" {
			cfg.RedisURL = v
		}
		if v := getenv("JAQUEMATE_LOG_LEVEL"); v != "" {
			cfg.LogLevel = v
		}
	}

	if cfg.Port == 0 || cfg.Port > 65535 {
		return Config{}, fmt.Errorf("%w: %d", ErrInvalidPort, cfg.Port)
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = DefaultPersistTimeout
	}
	return cfg, nil
}

// ListenAddr is the board web app listen address.
func (c Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}
