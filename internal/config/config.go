package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	// データベース接続設定
	DBDriver   string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	SQLitePath string

	// サーバー設定
	ServerPort string
	Env        string

	// CORS設定
	AllowedOrigins []string

	// 認証設定
	JWTSecret            string
	TrustHandshakeUserID bool
	WSWriteTimeout       time.Duration
	RateLimitRPS         float64
	RateLimitBurst       int
	IdempotencyTTL       time.Duration

	// 添付ファイル設定
	MaxUploadBytes int64
	UploadDir      string
	S3Endpoint     string
	S3AccessKey    string
	S3SecretKey    string
	S3Bucket       string
	S3UseSSL       bool

	// 外部連携
	RedisAddr        string
	KafkaBrokers     []string
	KafkaTopicPrefix string
	OTLPEndpoint     string
	ServiceName      string
}

// Load loads configuration from environment variables
func Load() Config {
	cfg := Config{
		DBDriver:   getEnv("DB_DRIVER", "mysql"),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     os.Getenv("DB_USER"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     os.Getenv("DB_NAME"),
		SQLitePath: getEnv("SQLITE_PATH", "duochat.db"),

		ServerPort: getEnv("SERVER_PORT", "8080"),
		Env:        getEnv("ENV", "development"),

		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:5173,http://127.0.0.1:5173")),

		JWTSecret:            os.Getenv("JWT_SECRET"),
		TrustHandshakeUserID: getEnvBool("WS_TRUST_HANDSHAKE_USER_ID", false),
		WSWriteTimeout:       getEnvDuration("WS_WRITE_TIMEOUT", 10*time.Second),
		RateLimitRPS:         getEnvFloat("RATE_LIMIT_RPS", 5),
		RateLimitBurst:       getEnvInt("RATE_LIMIT_BURST", 10),
		IdempotencyTTL:       getEnvDuration("IDEMPOTENCY_TTL", 24*time.Hour),

		MaxUploadBytes: int64(getEnvInt("MAX_UPLOAD_BYTES", 50<<20)),
		UploadDir:      getEnv("UPLOAD_DIR", "data"),
		S3Endpoint:     os.Getenv("S3_ENDPOINT"),
		S3AccessKey:    os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:    os.Getenv("S3_SECRET_KEY"),
		S3Bucket:       getEnv("S3_BUCKET", "duochat"),
		S3UseSSL:       getEnvBool("S3_USE_SSL", false),

		RedisAddr:        os.Getenv("REDIS_ADDR"),
		KafkaBrokers:     splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopicPrefix: getEnv("KAFKA_TOPIC_PREFIX", "duochat"),
		OTLPEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		ServiceName:      getEnv("OTEL_SERVICE_NAME", "duochat"),
	}

	// 開発環境ではシークレット未設定でも起動できるようにする
	if cfg.JWTSecret == "" && cfg.Env == "development" {
		cfg.JWTSecret = "dev-secret-change-me"
	}

	return cfg
}

// IsSQLite reports whether the embedded SQLite store is selected.
func (c Config) IsSQLite() bool {
	return c.DBDriver == "sqlite"
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

func getEnvInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func getEnvFloat(key string, def float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

// splitList splits a comma separated value and trims spaces; empty input gives nil.
func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
