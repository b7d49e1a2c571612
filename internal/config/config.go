package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/docusign-alternative/platform/realtime-service/pkg/logger"
)

// Config holds the realtime service configuration.
type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Realtime  RealtimeConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	Environment  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// RedisConfig configures the cross-instance pub/sub channel. An empty Host
// means single-instance operation.
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type AuthConfig struct {
	// JWTSecret verifies the optional bearer credential on the handshake.
	// Identity may also be passed as plain query parameters by trusted
	// platform services.
	JWTSecret string
}

// RealtimeConfig carries the core tunables: sweep cadences, the conflict
// window and the shared channel name.
type RealtimeConfig struct {
	HeartbeatInterval time.Duration
	SweepInterval     time.Duration
	StaleThreshold    time.Duration
	ConflictWindow    time.Duration
	ChangeRetention   time.Duration
	Channel           string
}

type RateLimitConfig struct {
	Enabled bool
	RPS     float64
	Burst   int
}

// LoadConfig loads configuration from environment variables and an optional .env file.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	viper.AutomaticEnv()

	viper.SetDefault("SERVER_PORT", "5004")
	viper.SetDefault("SERVER_HOST", "0.0.0.0")
	viper.SetDefault("SERVER_ENVIRONMENT", "development")
	viper.SetDefault("SERVER_READ_TIMEOUT_SECONDS", 30)
	viper.SetDefault("SERVER_WRITE_TIMEOUT_SECONDS", 30)
	viper.SetDefault("REDIS_PORT", "6379")
	viper.SetDefault("REALTIME_HEARTBEAT_SECONDS", 30)
	viper.SetDefault("REALTIME_SWEEP_SECONDS", 30)
	viper.SetDefault("REALTIME_STALE_SECONDS", 300)
	viper.SetDefault("REALTIME_CONFLICT_WINDOW_SECONDS", 30)
	viper.SetDefault("REALTIME_CHANGE_RETENTION_SECONDS", 300)
	viper.SetDefault("REALTIME_CHANNEL", "realtime:events")
	viper.SetDefault("RATE_LIMIT_ENABLED", false)
	viper.SetDefault("RATE_LIMIT_RPS", 5.0)
	viper.SetDefault("RATE_LIMIT_BURST", 10)

	cfg := &Config{
		Server: ServerConfig{
			Port:         viper.GetString("SERVER_PORT"),
			Host:         viper.GetString("SERVER_HOST"),
			Environment:  viper.GetString("SERVER_ENVIRONMENT"),
			ReadTimeout:  time.Duration(viper.GetInt("SERVER_READ_TIMEOUT_SECONDS")) * time.Second,
			WriteTimeout: time.Duration(viper.GetInt("SERVER_WRITE_TIMEOUT_SECONDS")) * time.Second,
		},
		Redis: RedisConfig{
			Host:     viper.GetString("REDIS_HOST"),
			Port:     viper.GetString("REDIS_PORT"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       viper.GetInt("REDIS_DB"),
		},
		Auth: AuthConfig{
			JWTSecret: os.Getenv("JWT_SECRET"),
		},
		Realtime: RealtimeConfig{
			HeartbeatInterval: time.Duration(viper.GetInt("REALTIME_HEARTBEAT_SECONDS")) * time.Second,
			SweepInterval:     time.Duration(viper.GetInt("REALTIME_SWEEP_SECONDS")) * time.Second,
			StaleThreshold:    time.Duration(viper.GetInt("REALTIME_STALE_SECONDS")) * time.Second,
			ConflictWindow:    time.Duration(viper.GetInt("REALTIME_CONFLICT_WINDOW_SECONDS")) * time.Second,
			ChangeRetention:   time.Duration(viper.GetInt("REALTIME_CHANGE_RETENTION_SECONDS")) * time.Second,
			Channel:           viper.GetString("REALTIME_CHANNEL"),
		},
		RateLimit: RateLimitConfig{
			Enabled: viper.GetBool("RATE_LIMIT_ENABLED"),
			RPS:     viper.GetFloat64("RATE_LIMIT_RPS"),
			Burst:   viper.GetInt("RATE_LIMIT_BURST"),
		},
	}

	if cfg.Auth.JWTSecret == "" {
		logger.Warn("JWT_SECRET is not set; bearer-token handshakes will be rejected")
	}

	return cfg, nil
}
