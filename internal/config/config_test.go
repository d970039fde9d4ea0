package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var keys = []string{
	"APP_ENV", "PORT", "DB_DRIVER", "DB_PATH", "DATABASE_URL", "JWT_SECRET", "JWT_TTL",
	"REDIS_ADDRESS", "KAFKA_BROKERS", "KAFKA_TOPIC", "PAYMENT_PROVIDER", "PROVIDER_BASE_URL",
	"PROVIDER_API_KEY", "ATTEMPT_TTL", "REAPER_INTERVAL", "LOG_LEVEL", "LOG_FORMAT",
}

// clearEnv blanks every key for the duration of the test. Blank values
// count as unset.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func noFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET", "s3cret")
	cfg, err := load(noFile(t))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Port != 8080 || cfg.DBDriver != "sqlite" || cfg.DBPath != "./data/iou.db" {
		t.Errorf("got port=%d driver=%s path=%s", cfg.Port, cfg.DBDriver, cfg.DBPath)
	}
	if cfg.JWTTTL != 24*time.Hour || cfg.AttemptTTL != 15*time.Minute || cfg.ReaperInterval != time.Minute {
		t.Errorf("durations = %v %v %v", cfg.JWTTTL, cfg.AttemptTTL, cfg.ReaperInterval)
	}
	if cfg.PaymentProvider != "none" || cfg.KafkaTopic != "iou_events" || cfg.KafkaBrokers != nil {
		t.Errorf("got provider=%s topic=%s brokers=%v", cfg.PaymentProvider, cfg.KafkaTopic, cfg.KafkaBrokers)
	}
	if cfg.Env != "production" || cfg.Development() || cfg.JWTSecret != "s3cret" {
		t.Errorf("got env=%s development=%v", cfg.Env, cfg.Development())
	}
}

func TestDevelopmentSecret(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_ENV", "development")
	cfg, err := load(noFile(t))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if !cfg.Development() || cfg.JWTSecret != devJWTSecret {
		t.Errorf("development defaults not applied: env=%s", cfg.Env)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("PORT", "9090")
	t.Setenv("DB_DRIVER", "Postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/iou?sslmode=disable")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,,")
	t.Setenv("PAYMENT_PROVIDER", "platform")
	t.Setenv("PROVIDER_BASE_URL", "https://api.example.com/")
	t.Setenv("PROVIDER_API_KEY", "key")
	t.Setenv("ATTEMPT_TTL", "0")

	cfg, err := load(noFile(t))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Port != 9090 || cfg.DBDriver != "postgres" {
		t.Errorf("got port=%d driver=%s", cfg.Port, cfg.DBDriver)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Errorf("brokers = %q", cfg.KafkaBrokers)
	}
	if cfg.ProviderBaseURL != "https://api.example.com" {
		t.Errorf("base url = %q", cfg.ProviderBaseURL)
	}
	if cfg.AttemptTTL != 0 {
		t.Errorf("attempt ttl = %v, want disabled", cfg.AttemptTTL)
	}
}

func TestDotEnvFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("PORT=7000\nLOG_LEVEL=debug\n# comment\nREDIS_ADDRESS=localhost:6379\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Port != 7000 || cfg.RedisAddress != "localhost:6379" {
		t.Errorf("file values not applied: port=%d redis=%s", cfg.Port, cfg.RedisAddress)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("log level = %s, environment should win over the file", cfg.LogLevel)
	}
}

func TestInvalid(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"bad port", map[string]string{"PORT": "http"}, "PORT"},
		{"port out of range", map[string]string{"PORT": "70000"}, "PORT is invalid"},
		{"bad duration", map[string]string{"ATTEMPT_TTL": "soon"}, "ATTEMPT_TTL"},
		{"negative ttl", map[string]string{"ATTEMPT_TTL": "-1m"}, "ATTEMPT_TTL is invalid"},
		{"unknown driver", map[string]string{"DB_DRIVER": "mysql"}, "DB_DRIVER must be one of"},
		{"postgres without url", map[string]string{"DB_DRIVER": "postgres"}, "DATABASE_URL is required"},
		{"platform without key", map[string]string{"PAYMENT_PROVIDER": "platform", "PROVIDER_BASE_URL": "https://x"}, "PROVIDER_API_KEY is required"},
		{"unknown provider", map[string]string{"PAYMENT_PROVIDER": "paypal"}, "PAYMENT_PROVIDER must be one of"},
		{"production without secret", map[string]string{"APP_ENV": "production", "JWT_SECRET": ""}, "JWT_SECRET is required"},
		{"default environment without secret", map[string]string{"JWT_SECRET": ""}, "JWT_SECRET is required"},
		{"unknown log format", map[string]string{"LOG_FORMAT": "xml"}, "LOG_FORMAT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("JWT_SECRET", "s3cret")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := load(noFile(t))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}
