/*
Package configs loads the server configuration from environment variables.

Every setting has a development-friendly default; production refuses to start without a
JWT secret. Durations use Go syntax ("5s", "250ms").
*/
package configs

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// AppConfig contains all configuration parameters required for the application to run.
type AppConfig struct {
	// General Server Settings
	Environment string
	Port        int
	LogLevel    string

	// Security Settings
	AllowedOrigins []string
	JWTSecret      string

	// Room Settings
	MaxConnectionsPerRoom  int
	GracePeriod            time.Duration
	HeartbeatInterval      time.Duration
	HeartbeatTimeout       time.Duration
	SweepInterval          time.Duration
	BroadcastMinInterval   time.Duration
	BroadcastBatchDelay    time.Duration
	MouseDistanceThreshold float64
	MousePrecision         int
	MouseInactivity        time.Duration
	RoomIdleTimeout        time.Duration
	HideReconnecting       bool

	// Optional Integrations
	DatabaseDSN string
	RedisAddr   string
	RedisDB     int
}

// IsDevelopment reports whether the server runs in development mode.
func (c *AppConfig) IsDevelopment() bool {
	return c.Environment == "development"
}

// LoadConfig reads and validates the configuration.
func LoadConfig() (*AppConfig, error) {
	cfg := &AppConfig{}
	var err error

	// --- General Server Settings ---
	cfg.Environment = envString("ENVIRONMENT", "development")
	cfg.LogLevel = envString("LOG_LEVEL", "")

	if cfg.Port, err = envInt("PORT", 8080); err != nil {
		return nil, err
	}
	if cfg.Port < 1024 || cfg.Port > 65535 {
		return nil, fmt.Errorf("port number %d is outside the allowed range (%d-%d)", cfg.Port, 1024, 65535)
	}

	// --- Security Settings ---
	for _, origin := range strings.Split(os.Getenv("ALLOWED_ORIGINS"), ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, trimmed)
		}
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		if !cfg.IsDevelopment() {
			return nil, fmt.Errorf("JWT_SECRET environment variable is required in %s environment", cfg.Environment)
		}
		cfg.JWTSecret = "roomsync_insecure_development_secret"
	}

	// --- Room Settings ---
	if cfg.MaxConnectionsPerRoom, err = envInt("MAX_CONNECTIONS_PER_ROOM", 50); err != nil {
		return nil, err
	}
	if cfg.MaxConnectionsPerRoom < 1 {
		return nil, fmt.Errorf("MAX_CONNECTIONS_PER_ROOM must be positive, got %d", cfg.MaxConnectionsPerRoom)
	}

	durations := []struct {
		key string
		def time.Duration
		dst *time.Duration
	}{
		{"GRACE_PERIOD", 5 * time.Second, &cfg.GracePeriod},
		{"HEARTBEAT_INTERVAL", 10 * time.Second, &cfg.HeartbeatInterval},
		{"HEARTBEAT_TIMEOUT", 30 * time.Second, &cfg.HeartbeatTimeout},
		{"SWEEP_INTERVAL", time.Second, &cfg.SweepInterval},
		{"BROADCAST_MIN_INTERVAL", 50 * time.Millisecond, &cfg.BroadcastMinInterval},
		{"BROADCAST_BATCH_DELAY", 50 * time.Millisecond, &cfg.BroadcastBatchDelay},
		{"MOUSE_INACTIVITY", 5 * time.Second, &cfg.MouseInactivity},
		{"ROOM_IDLE_TIMEOUT", 5 * time.Minute, &cfg.RoomIdleTimeout},
	}
	for _, d := range durations {
		if *d.dst, err = envDuration(d.key, d.def); err != nil {
			return nil, err
		}
	}

	if cfg.HeartbeatTimeout <= cfg.HeartbeatInterval {
		return nil, fmt.Errorf("HEARTBEAT_TIMEOUT (%s) must be greater than HEARTBEAT_INTERVAL (%s)", cfg.HeartbeatTimeout, cfg.HeartbeatInterval)
	}
	if cfg.SweepInterval <= 0 || cfg.GracePeriod <= 0 {
		return nil, fmt.Errorf("SWEEP_INTERVAL and GRACE_PERIOD must be positive")
	}

	if cfg.MouseDistanceThreshold, err = envFloat("MOUSE_DISTANCE_THRESHOLD", 2); err != nil {
		return nil, err
	}
	if cfg.MousePrecision, err = envInt("MOUSE_PRECISION", 1); err != nil {
		return nil, err
	}
	if cfg.MousePrecision < 0 || cfg.MousePrecision > 6 {
		return nil, fmt.Errorf("MOUSE_PRECISION must be between 0 and 6, got %d", cfg.MousePrecision)
	}

	if cfg.HideReconnecting, err = envBool("HIDE_RECONNECTING", false); err != nil {
		return nil, err
	}

	// --- Optional Integrations ---
	cfg.DatabaseDSN = os.Getenv("DATABASE_URL")
	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	if cfg.RedisDB, err = envInt("REDIS_DB", 0); err != nil {
		return nil, err
	}

	return cfg, nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s environment variable: %w", key, err)
	}
	return n, nil
}

func envFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}

	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s environment variable: %w", key, err)
	}
	return f, nil
}

func envBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}

	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s environment variable: %w", key, err)
	}
	return b, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}

	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s environment variable: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative", key)
	}
	return d, nil
}
