package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	AWS       AWSConfig
	Recording RecordingConfig
	Analysis  AnalysisConfig
	Zego      ZegoConfig
	Engine    EngineConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	ShutdownTimeout    int
	CORSAllowedOrigins string // comma-separated, or "*"
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL          string // used as-is when set
	Host         string
	Port         string
	User         string
	Password     string
	DBName       string
	SSLMode      string
	MaxConns     int
	RunMigration bool
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// AWSConfig holds AWS credentials and S3 bucket names.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	RecordingsBucket     string
	ReportsBucket        string
	PresignExpireMinutes int
}

// RecordingConfig selects the recording backends.
type RecordingConfig struct {
	// StandaloneEnabled turns on the S3-backed fallback used when the video transport cannot record.
	StandaloneEnabled bool
}

// AnalysisConfig points at the text-analysis service.
type AnalysisConfig struct {
	BaseURL        string
	APIKey         string
	TimeoutSeconds int
}

// Timeout returns the per-request timeout.
func (c AnalysisConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Enabled reports whether an analysis service is configured.
func (c AnalysisConfig) Enabled() bool { return c.BaseURL != "" }

// ZegoConfig holds ZEGOCLOUD credentials for transport tokens.
type ZegoConfig struct {
	AppID              uint32
	ServerSecret       string
	TokenExpireSeconds int64
}

// Enabled reports whether transport tokens can be issued.
func (c ZegoConfig) Enabled() bool { return c.AppID != 0 && len(c.ServerSecret) == 32 }

// EngineConfig tunes per-session rooms.
type EngineConfig struct {
	// IdleCloseSeconds is how long a room with no connected clients stays open.
	IdleCloseSeconds int
}

// IdleClose returns the room idle timeout.
func (c EngineConfig) IdleClose() time.Duration {
	return time.Duration(c.IdleCloseSeconds) * time.Second
}

// DSN returns the PostgreSQL connection string.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			ShutdownTimeout:    getEnvInt("SHUTDOWN_TIMEOUT_SEC", 10),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			URL:          getEnv("DATABASE_URL", ""),
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnv("DB_PORT", "5432"),
			User:         getEnv("DB_USER", "postgres"),
			Password:     getEnv("DB_PASSWORD", "postgres"),
			DBName:       getEnv("DB_NAME", "livesession"),
			SSLMode:      getEnv("DB_SSLMODE", "disable"),
			MaxConns:     getEnvInt("DB_MAX_CONNS", 10),
			RunMigration: getEnvBool("DB_MIGRATE", true),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			RecordingsBucket:     getEnv("AWS_S3_RECORDINGS_BUCKET", "livesession-recordings"),
			ReportsBucket:        getEnv("AWS_S3_REPORTS_BUCKET", "livesession-reports"),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
		Recording: RecordingConfig{
			StandaloneEnabled: getEnvBool("RECORDING_STANDALONE_ENABLED", true),
		},
		Analysis: AnalysisConfig{
			BaseURL:        strings.TrimRight(getEnv("ANALYSIS_BASE_URL", ""), "/"),
			APIKey:         getEnv("ANALYSIS_API_KEY", ""),
			TimeoutSeconds: getEnvInt("ANALYSIS_TIMEOUT_SEC", 10),
		},
		Zego: ZegoConfig{
			AppID:              uint32(getEnvInt("ZEGO_APP_ID", 0)),
			ServerSecret:       getEnv("ZEGO_SERVER_SECRET", ""),
			TokenExpireSeconds: int64(getEnvInt("ZEGO_TOKEN_EXPIRE_SEC", 3600)),
		},
		Engine: EngineConfig{
			IdleCloseSeconds: getEnvInt("ROOM_IDLE_CLOSE_SEC", 30),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.JWT.ExpireHours <= 0 {
		return fmt.Errorf("JWT_EXPIRE_HOURS must be positive")
	}
	if c.Zego.ServerSecret != "" && len(c.Zego.ServerSecret) != 32 {
		return fmt.Errorf("ZEGO_SERVER_SECRET must be 32 characters")
	}
	if c.Engine.IdleCloseSeconds < 0 {
		return fmt.Errorf("ROOM_IDLE_CLOSE_SEC must not be negative")
	}
	return nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
