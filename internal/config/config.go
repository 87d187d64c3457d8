package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Environment
	GoEnv string `env:"GO_ENV" default:"development"`

	// Robot endpoint
	RobotScheme string `env:"ROBOT_SCHEME" default:"ws"`
	RobotHost   string `env:"ROBOT_HOST" default:"rc.local"`
	RobotPort   int    `env:"ROBOT_PORT" default:"8080"`
	SenderID    string `env:"SENDER_ID" default:"WebUI"`

	// Routes
	CommandRoute   string `env:"CMD_ROUTE" default:"cmd"`
	TelemetryRoute string `env:"TELEMETRY_ROUTE" default:"odometer"`
	WireFormat     string `env:"WIRE_FORMAT" default:"expression"`

	// Keepalive
	PingPeriod     time.Duration `env:"PING_PERIOD" default:"54s"`
	PongWait       time.Duration `env:"PONG_WAIT" default:"60s"`
	WriteWait      time.Duration `env:"WRITE_WAIT" default:"10s"`
	MaxMessageSize int           `env:"MAX_MESSAGE_SIZE" default:"8192"`

	// Reconnection, disabled when RECONNECT_MAX_ATTEMPTS is 0
	ReconnectMaxAttempts     int           `env:"RECONNECT_MAX_ATTEMPTS" default:"0"`
	ReconnectInitialInterval time.Duration `env:"RECONNECT_INITIAL_INTERVAL" default:"500ms"`
	ReconnectMaxInterval     time.Duration `env:"RECONNECT_MAX_INTERVAL" default:"10s"`

	// Inbound telemetry limit, disabled when the rate is 0
	TelemetryRateLimit float64 `env:"TELEMETRY_RATE_LIMIT" default:"0"`
	TelemetryBurst     int     `env:"TELEMETRY_BURST" default:"50"`

	// Console
	HTTPPort       int      `env:"HTTP_PORT" default:"8090"`
	GripperInitial string   `env:"GRIPPER_INITIAL" default:"open"`
	CORSOrigins    []string `env:"CORS_ORIGINS" default:"http://localhost:3000"`

	// Redis pose cache, disabled when REDIS_URL is empty
	RedisURL string        `env:"REDIS_URL"`
	PoseTTL  time.Duration `env:"POSE_TTL" default:"30s"`

	// Monitoring
	MetricsEnabled bool `env:"METRICS_ENABLED" default:"true"`

	// Robot simulator
	SimOdometryInterval time.Duration `env:"SIM_ODOMETRY_INTERVAL" default:"100ms"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`
}

// LoadConfig loads configuration from .env and environment variables
func LoadConfig() (*Config, error) {
	// A missing .env is fine, system env vars still apply
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		slog.Warn("env_file_unreadable", "error", err)
	}

	config := &Config{}

	if err := loadEnvString(&config.GoEnv, "GO_ENV", "development"); err != nil {
		return nil, err
	}

	// Robot endpoint
	if err := loadEnvString(&config.RobotScheme, "ROBOT_SCHEME", "ws"); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.RobotHost, "ROBOT_HOST", "rc.local"); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.RobotPort, "ROBOT_PORT", 8080); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.SenderID, "SENDER_ID", "WebUI"); err != nil {
		return nil, err
	}

	// Routes
	if err := loadEnvString(&config.CommandRoute, "CMD_ROUTE", "cmd"); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.TelemetryRoute, "TELEMETRY_ROUTE", "odometer"); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.WireFormat, "WIRE_FORMAT", "expression"); err != nil {
		return nil, err
	}

	// Keepalive
	if err := loadEnvDuration(&config.PingPeriod, "PING_PERIOD", 54*time.Second); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.PongWait, "PONG_WAIT", 60*time.Second); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.WriteWait, "WRITE_WAIT", 10*time.Second); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.MaxMessageSize, "MAX_MESSAGE_SIZE", 8192); err != nil {
		return nil, err
	}

	// Reconnection
	if err := loadEnvInt(&config.ReconnectMaxAttempts, "RECONNECT_MAX_ATTEMPTS", 0); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.ReconnectInitialInterval, "RECONNECT_INITIAL_INTERVAL", 500*time.Millisecond); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.ReconnectMaxInterval, "RECONNECT_MAX_INTERVAL", 10*time.Second); err != nil {
		return nil, err
	}

	// Telemetry
	if err := loadEnvFloat(&config.TelemetryRateLimit, "TELEMETRY_RATE_LIMIT", 0); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.TelemetryBurst, "TELEMETRY_BURST", 50); err != nil {
		return nil, err
	}

	// Console
	if err := loadEnvInt(&config.HTTPPort, "HTTP_PORT", 8090); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.GripperInitial, "GRIPPER_INITIAL", "open"); err != nil {
		return nil, err
	}
	if err := loadEnvStringSlice(&config.CORSOrigins, "CORS_ORIGINS", []string{"http://localhost:3000"}); err != nil {
		return nil, err
	}

	// Redis
	if err := loadEnvString(&config.RedisURL, "REDIS_URL", ""); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.PoseTTL, "POSE_TTL", 30*time.Second); err != nil {
		return nil, err
	}

	// Monitoring
	if err := loadEnvBool(&config.MetricsEnabled, "METRICS_ENABLED", true); err != nil {
		return nil, err
	}

	// Simulator
	if err := loadEnvDuration(&config.SimOdometryInterval, "SIM_ODOMETRY_INTERVAL", 100*time.Millisecond); err != nil {
		return nil, err
	}

	// Logging
	if err := loadEnvString(&config.LogLevel, "LOG_LEVEL", "info"); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.LogFormat, "LOG_FORMAT", "text"); err != nil {
		return nil, err
	}
	return config, nil
}

// Helper functions for type conversion
func loadEnvString(target *string, key, defaultValue string) error {
	if value := os.Getenv(key); value != "" {
		*target = value
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvInt(target *int, key string, defaultValue int) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvFloat(target *float64, key string, defaultValue float64) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid number value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvBool(target *bool, key string, defaultValue bool) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvDuration(target *time.Duration, key string, defaultValue time.Duration) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvStringSlice(target *[]string, key string, defaultValue []string) error {
	if value := os.Getenv(key); value != "" {
		*target = strings.Split(value, ",")
		for i, v := range *target {
			(*target)[i] = strings.TrimSpace(v)
		}
	} else {
		*target = defaultValue
	}
	return nil
}

// Validate reports every invalid setting at once
func (c *Config) Validate() error {
	var errors []string

	if c.RobotScheme != "ws" && c.RobotScheme != "wss" {
		errors = append(errors, "ROBOT_SCHEME must be ws or wss")
	}
	if strings.TrimSpace(c.RobotHost) == "" {
		errors = append(errors, "ROBOT_HOST must not be empty")
	}
	if c.RobotPort < 1 || c.RobotPort > 65535 {
		errors = append(errors, "ROBOT_PORT must be between 1 and 65535")
	}
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errors = append(errors, "HTTP_PORT must be between 1 and 65535")
	}
	if strings.TrimSpace(c.SenderID) == "" {
		errors = append(errors, "SENDER_ID must not be empty")
	}
	for key, route := range map[string]string{"CMD_ROUTE": c.CommandRoute, "TELEMETRY_ROUTE": c.TelemetryRoute} {
		if route == "" || strings.ContainsAny(route, "/?# ") {
			errors = append(errors, fmt.Sprintf("%s must be a single path segment", key))
		}
	}
	if c.CommandRoute == c.TelemetryRoute {
		errors = append(errors, "CMD_ROUTE and TELEMETRY_ROUTE must differ")
	}

	validFormats := []string{"expression", "eval", "structured"}
	if !contains(validFormats, c.WireFormat) {
		errors = append(errors, fmt.Sprintf("WIRE_FORMAT must be one of: %s", strings.Join(validFormats, ", ")))
	}

	if c.PingPeriod < 0 || c.PongWait < 0 || c.WriteWait < 0 {
		errors = append(errors, "PING_PERIOD, PONG_WAIT and WRITE_WAIT must not be negative")
	}
	if c.PingPeriod > 0 && c.PingPeriod >= c.PongWait {
		errors = append(errors, "PING_PERIOD must be shorter than PONG_WAIT")
	}
	if c.MaxMessageSize < 0 {
		errors = append(errors, "MAX_MESSAGE_SIZE must not be negative")
	}

	if c.ReconnectMaxAttempts < 0 {
		errors = append(errors, "RECONNECT_MAX_ATTEMPTS must not be negative")
	}
	if c.ReconnectMaxAttempts > 0 && c.ReconnectInitialInterval <= 0 {
		errors = append(errors, "RECONNECT_INITIAL_INTERVAL must be positive when reconnecting")
	}

	if c.TelemetryRateLimit < 0 {
		errors = append(errors, "TELEMETRY_RATE_LIMIT must not be negative")
	}
	if c.TelemetryRateLimit > 0 && c.TelemetryBurst < 1 {
		errors = append(errors, "TELEMETRY_BURST must be at least 1")
	}

	for _, origin := range c.CORSOrigins {
		if origin != "*" && !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
			errors = append(errors, fmt.Sprintf("CORS_ORIGINS entry %q must be * or start with http:// or https://", origin))
		}
	}
		if c.GripperInitial != "open" && c.GripperInitial != "closed" {
		errors = append(errors, "GRIPPER_INITIAL must be open or closed")
	}
	if c.RedisURL != "" && c.PoseTTL < 0 {
		errors = append(errors, "POSE_TTL must not be negative")
	}
	if c.SimOdometryInterval <= 0 {
		errors = append(errors, "SIM_ODOMETRY_INTERVAL must be positive")
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, c.LogLevel) {
		errors = append(errors, fmt.Sprintf("LOG_LEVEL must be one of: %s", strings.Join(validLogLevels, ", ")))
	}
	validLogFormats := []string{"text", "json"}
	if !contains(validLogFormats, c.LogFormat) {
		errors = append(errors, fmt.Sprintf("LOG_FORMAT must be one of: %s", strings.Join(validLogFormats, ", ")))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}

	return nil
}

// IsDevelopment returns true if the application is running in development mode
func (c *Config) IsDevelopment() bool {
	return c.GoEnv == "development"
}

// SlogLevel maps LOG_LEVEL onto slog
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
