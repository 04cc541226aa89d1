package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds validated environment configuration for the signaling broker.
type Config struct {
	// Required variables
	HandshakeSecret string
	Port            string

	// Gateway / queue tuning
	WSPath                string
	MaxConnectionsPerRoom int
	MessageQueueDrain     time.Duration
	MessageQueueBatchSize int
	StaleConnectionMs     int
	MaxReconnectAttempts  int
	RoomStatsMonitor      time.Duration

	// Optional variables with defaults
	GoEnv          string
	LogLevel       string
	AllowedOrigins string

	// Cross-instance event mirroring (optional)
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string

	// Rate Limits (WS admission only; spec has no general API rate limit)
	RateLimitWsIP   string
	RateLimitWsUser string
}

// ValidateEnv validates all required environment variables and returns a
// Config object. Returns an error if any required variable is missing or
// invalid.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errs []string

	// Required: HANDSHAKE_SECRET (minimum 32 characters) signs/verifies the
	// boundary JWT asserted by the caller's auth gateway (spec §1, "the
	// caller has already authenticated").
	cfg.HandshakeSecret = os.Getenv("HANDSHAKE_SECRET")
	if cfg.HandshakeSecret == "" {
		errs = append(errs, "HANDSHAKE_SECRET is required")
	} else if len(cfg.HandshakeSecret) < 32 {
		errs = append(errs, fmt.Sprintf("HANDSHAKE_SECRET must be at least 32 characters (got %d)", len(cfg.HandshakeSecret)))
	}

	// Required: WS_PORT (valid port number)
	cfg.Port = os.Getenv("WS_PORT")
	if cfg.Port == "" {
		errs = append(errs, "WS_PORT is required")
	} else if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("WS_PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
	}

	cfg.WSPath = getEnvOrDefault("WS_PATH", "/ws")

	var err error
	if cfg.MaxConnectionsPerRoom, err = getEnvIntOrDefault("MAX_CONNECTIONS_PER_ROOM", 20); err != nil {
		errs = append(errs, err.Error())
	}

	drainMs, err := getEnvIntOrDefault("MESSAGE_QUEUE_DRAIN_MS", 100)
	if err != nil {
		errs = append(errs, err.Error())
	}
	cfg.MessageQueueDrain = time.Duration(drainMs) * time.Millisecond

	if cfg.MessageQueueBatchSize, err = getEnvIntOrDefault("MESSAGE_QUEUE_BATCH_SIZE", 10); err != nil {
		errs = append(errs, err.Error())
	}
	if cfg.StaleConnectionMs, err = getEnvIntOrDefault("STALE_CONNECTION_MS", 30000); err != nil {
		errs = append(errs, err.Error())
	}
	if cfg.MaxReconnectAttempts, err = getEnvIntOrDefault("MAX_RECONNECT_ATTEMPTS", 3); err != nil {
		errs = append(errs, err.Error())
	}
	statsMs, err := getEnvIntOrDefault("ROOM_STATS_MONITOR_MS", 30000)
	if err != nil {
		errs = append(errs, err.Error())
	}
	cfg.RoomStatsMonitor = time.Duration(statsMs) * time.Millisecond

	// Conditional: REDIS_ADDR (only consulted if REDIS_ENABLED=true); the
	// broker runs fine single-instance with mirroring disabled (spec §9
	// "cross-instance mirroring is an additive extension, not load-bearing").
	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
		if cfg.RedisAddr == "" {
			cfg.RedisAddr = "localhost:6379"
			slog.Warn("REDIS_ADDR not set, using default", "addr", cfg.RedisAddr)
		} else if !isValidHostPort(cfg.RedisAddr) {
			errs = append(errs, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}

	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")

	cfg.RateLimitWsIP = getEnvOrDefault("RATE_LIMIT_WS_IP", "100-M")
	cfg.RateLimitWsUser = getEnvOrDefault("RATE_LIMIT_WS_USER", "10-M")

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	logValidatedConfig(cfg)
	return cfg, nil
}

// isValidHostPort checks if a string is in the format "host:port".
func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}
	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}
	return parts[0] != ""
}

func logValidatedConfig(cfg *Config) {
	slog.Info("environment configuration validated")
	slog.Info("configuration",
		"handshake_secret", redactSecret(cfg.HandshakeSecret),
		"port", cfg.Port,
		"ws_path", cfg.WSPath,
		"max_connections_per_room", cfg.MaxConnectionsPerRoom,
		"message_queue_drain", cfg.MessageQueueDrain,
		"message_queue_batch_size", cfg.MessageQueueBatchSize,
		"redis_enabled", cfg.RedisEnabled,
		"redis_addr", cfg.RedisAddr,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) (int, error) {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer (got '%s')", key, value)
	}
	return n, nil
}

// redactSecret redacts a secret by showing only the first 8 characters.
func redactSecret(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
