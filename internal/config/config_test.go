package config

import (
	"testing"
	"time"
)

// TestLoad_Defaults 環境変数未設定時のデフォルト値
func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"DB_DRIVER", "SERVER_PORT", "ENV", "JWT_SECRET", "ALLOWED_ORIGINS", "WS_WRITE_TIMEOUT", "MAX_UPLOAD_BYTES"} {
		t.Setenv(k, "")
	}

	cfg := Load()

	if cfg.DBDriver != "mysql" {
		t.Errorf("Expected default driver mysql, got %q", cfg.DBDriver)
	}
	if cfg.ServerPort != "8080" {
		t.Errorf("Expected default port 8080, got %q", cfg.ServerPort)
	}
	if cfg.JWTSecret == "" {
		t.Error("Expected development JWT secret fallback")
	}
	if cfg.WSWriteTimeout != 10*time.Second {
		t.Errorf("Expected 10s write timeout, got %v", cfg.WSWriteTimeout)
	}
	if cfg.MaxUploadBytes != 50<<20 {
		t.Errorf("Expected 50MiB upload limit, got %d", cfg.MaxUploadBytes)
	}
	if len(cfg.AllowedOrigins) != 2 {
		t.Errorf("Expected 2 default origins, got %v", cfg.AllowedOrigins)
	}
}

// TestLoad_Overrides 環境変数による上書き
func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("ENV", "production")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("ALLOWED_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("WS_TRUST_HANDSHAKE_USER_ID", "true")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("WS_WRITE_TIMEOUT", "bogus")

	cfg := Load()

	if !cfg.IsSQLite() {
		t.Error("Expected sqlite driver")
	}
	if cfg.JWTSecret != "" {
		t.Error("Production must not fall back to a development secret")
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[0] != "https://a.example" {
		t.Errorf("Unexpected origins: %v", cfg.AllowedOrigins)
	}
	if !cfg.TrustHandshakeUserID {
		t.Error("Expected trusted handshake flag")
	}
	if len(cfg.KafkaBrokers) != 2 {
		t.Errorf("Expected 2 brokers, got %v", cfg.KafkaBrokers)
	}
	if cfg.WSWriteTimeout != 10*time.Second {
		t.Errorf("Invalid duration should fall back to default, got %v", cfg.WSWriteTimeout)
	}
}
