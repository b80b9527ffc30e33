// Package config provides configuration for the runview dashboard service
// and the development backend.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the runview configuration.
type Config struct {
	// Server settings
	HTTPPort int

	// Backend settings
	BackendURL   string
	BackendToken string // Signs in at boot when set
	HTTPTimeout  time.Duration

	// Run tracking
	PollInterval      time.Duration
	PollMaxErrors     int
	StreamReconnect   time.Duration
	SnapshotCacheSize int

	// WebSocket settings
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64

	// Logging
	LogLevel string
}

// DevConfig holds the development backend configuration.
type DevConfig struct {
	HTTPPort    int
	DatabaseURL string
	AuthToken   string // Empty disables auth
	StepDelay   time.Duration
	LogLevel    string
}

// LoadEnvFile loads ENV_FILE (default .env) into the environment if present.
func LoadEnvFile() {
	path := getEnv("ENV_FILE", ".env")
	if err := godotenv.Load(path); err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("Could not load env file, continuing with existing environment", "path", path, "error", err)
		}
		return
	}
	slog.Info("Loaded environment", "path", path)
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		HTTPPort:          getEnvInt("HTTP_PORT", 8095),
		BackendURL:        getEnv("BACKEND_URL", "http://localhost:8000"),
		BackendToken:      getEnv("BACKEND_TOKEN", ""),
		HTTPTimeout:       getEnvMillis("HTTP_TIMEOUT_MS", 15000),
		PollInterval:      getEnvMillis("POLL_INTERVAL_MS", 2000),
		PollMaxErrors:     getEnvInt("POLL_MAX_ERRORS", 15),
		StreamReconnect:   getEnvMillis("STREAM_RECONNECT_MS", 3000),
		SnapshotCacheSize: getEnvInt("SNAPSHOT_CACHE_SIZE", 256),
		PingInterval:      getEnvMillis("WS_PING_INTERVAL_MS", 30000),
		WriteTimeout:      getEnvMillis("WS_WRITE_TIMEOUT_MS", 10000),
		ReadTimeout:       getEnvMillis("WS_READ_TIMEOUT_MS", 60000),
		MaxMessageSize:    int64(getEnvInt("WS_MAX_MESSAGE_SIZE", 65536)),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
	}
}

// LoadDev loads the development backend configuration.
func LoadDev() *DevConfig {
	return &DevConfig{
		HTTPPort:    getEnvInt("DEV_HTTP_PORT", 8000),
		DatabaseURL: getEnv("DEV_DATABASE_URL", "file:devbackend.db?cache=shared&mode=rwc&_foreign_keys=on"),
		AuthToken:   getEnv("DEV_AUTH_TOKEN", ""),
		StepDelay:   getEnvMillis("DEV_STEP_DELAY_MS", 300),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
	}
}

// SetupLogging installs the default slog logger at the given level.
func SetupLogging(level string) {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn", "warning":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvMillis(key string, defaultVal int) time.Duration {
	return time.Duration(getEnvInt(key, defaultVal)) * time.Millisecond
}
