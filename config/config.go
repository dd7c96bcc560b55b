// Package config loads the server configuration from environment variables.
// A .env file in the working directory is honoured for local development.
//
// Every sub-struct owns one concern so that callers only receive what they need:
// main passes cfg.WS to the socket layer, cfg.Database to the database package, etc.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration values.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	Log       LogConfig
	Broadcast BroadcastConfig
	WS        WSConfig
	Limits    LimitsConfig
}

// ServerConfig, HTTP server settings.
type ServerConfig struct {
	Host        string
	Port        int
	CORSOrigins []string
}

// DatabaseConfig, SQLite settings.
type DatabaseConfig struct {
	Path string // e.g. ./data/convo.db
}

// JWTConfig, access token settings.
type JWTConfig struct {
	Secret            string // signing key, keep secret
	AccessTokenExpiry int    // minutes
}

// LogConfig selects the zerolog level and output format ("console" or "json").
type LogConfig struct {
	Level  string
	Format string
}

// BroadcastConfig controls the real-time fan-out layer.
//
// With Enabled=false the socket endpoint is not mounted and every emit is a
// logged no-op; writes still succeed.
type BroadcastConfig struct {
	Enabled       bool
	AuthzCacheTTL time.Duration // how long a positive/negative participant check is reused
}

// WSConfig, per-connection socket settings.
type WSConfig struct {
	SendQueueSize   int           // bounded outbound queue per session
	WriteWait       time.Duration // deadline for a single frame write
	PongWait        time.Duration // read deadline, renewed by every client frame
	ControlRatePerS int           // join/leave/ping frames per second per connection
}

// LimitsConfig, write-side rate limits.
type LimitsConfig struct {
	MessageRatePerSec float64
	MessageBurst      int
	LoginAttempts     int
	LoginWindow       time.Duration
}

// Load builds a Config from the environment.
func Load() (*Config, error) {
	// Missing .env is fine; production uses real environment variables.
	_ = godotenv.Load()

	port, err := getInt("SERVER_PORT", 9090)
	if err != nil {
		return nil, err
	}

	accessExpiry, err := getInt("JWT_ACCESS_EXPIRY_MINUTES", 60)
	if err != nil {
		return nil, err
	}

	broadcastEnabled, err := getBool("BROADCAST_ENABLED", true)
	if err != nil {
		return nil, err
	}

	authzTTL, err := getInt("AUTHZ_CACHE_TTL_SECONDS", 30)
	if err != nil {
		return nil, err
	}

	queueSize, err := getInt("WS_SEND_QUEUE_SIZE", 256)
	if err != nil {
		return nil, err
	}
	if queueSize < 1 {
		return nil, fmt.Errorf("invalid WS_SEND_QUEUE_SIZE: must be positive")
	}

	writeWait, err := getInt("WS_WRITE_WAIT_SECONDS", 10)
	if err != nil {
		return nil, err
	}

	pongWait, err := getInt("WS_PONG_WAIT_SECONDS", 90)
	if err != nil {
		return nil, err
	}

	controlRate, err := getInt("WS_CONTROL_RATE_PER_SEC", 20)
	if err != nil {
		return nil, err
	}

	messageRate, err := strconv.ParseFloat(getEnv("MESSAGE_RATE_PER_SEC", "1"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid MESSAGE_RATE_PER_SEC: %w", err)
	}

	messageBurst, err := getInt("MESSAGE_BURST", 5)
	if err != nil {
		return nil, err
	}

	loginAttempts, err := getInt("LOGIN_MAX_ATTEMPTS", 5)
	if err != nil {
		return nil, err
	}

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:        getEnv("SERVER_HOST", "0.0.0.0"),
			Port:        port,
			CORSOrigins: splitList(getEnv("CORS_ORIGINS", "http://localhost:3000")),
		},
		Database: DatabaseConfig{
			Path: getEnv("DATABASE_PATH", "./data/convo.db"),
		},
		JWT: JWTConfig{
			Secret:            jwtSecret,
			AccessTokenExpiry: accessExpiry,
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "console"),
		},
		Broadcast: BroadcastConfig{
			Enabled:       broadcastEnabled,
			AuthzCacheTTL: time.Duration(authzTTL) * time.Second,
		},
		WS: WSConfig{
			SendQueueSize:   queueSize,
			WriteWait:       time.Duration(writeWait) * time.Second,
			PongWait:        time.Duration(pongWait) * time.Second,
			ControlRatePerS: controlRate,
		},
		Limits: LimitsConfig{
			MessageRatePerSec: messageRate,
			MessageBurst:      messageBurst,
			LoginAttempts:     loginAttempts,
			LoginWindow:       2 * time.Minute,
		},
	}

	return cfg, nil
}

// Addr returns the listen address, e.g. "0.0.0.0:9090".
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getBool(key string, fallback bool) (bool, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
