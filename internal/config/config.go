// Package config loads server settings from the environment. An optional
// .env file supplies defaults; real environment variables win over it.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds every setting the server reads at startup.
type Config struct {
	Env  string `env:"APP_ENV" validate:"required"`
	Port int    `env:"PORT" validate:"min=1,max=65535"`

	DBDriver    string `env:"DB_DRIVER" validate:"oneof=sqlite postgres"`
	DBPath      string `env:"DB_PATH" validate:"required_if=DBDriver sqlite"`
	DatabaseURL string `env:"DATABASE_URL" validate:"required_if=DBDriver postgres"`

	JWTSecret string        `env:"JWT_SECRET" validate:"required"`
	JWTTTL    time.Duration `env:"JWT_TTL" validate:"gt=0"`

	// RedisAddress enables distributed per-record locks. Empty means
	// in-process locks.
	RedisAddress string `env:"REDIS_ADDRESS"`

	// KafkaBrokers enables the Kafka event publisher. Empty means events
	// are only logged.
	KafkaBrokers []string `env:"KAFKA_BROKERS"`
	KafkaTopic   string   `env:"KAFKA_TOPIC" validate:"required_with=KafkaBrokers"`

	PaymentProvider string `env:"PAYMENT_PROVIDER" validate:"oneof=none sandbox platform"`
	ProviderBaseURL string `env:"PROVIDER_BASE_URL" validate:"required_if=PaymentProvider platform"`
	ProviderAPIKey  string `env:"PROVIDER_API_KEY" validate:"required_if=PaymentProvider platform"`

	AttemptTTL     time.Duration `env:"ATTEMPT_TTL" validate:"gte=0"`
	ReaperInterval time.Duration `env:"REAPER_INTERVAL" validate:"gte=0"`

	LogLevel  string `env:"LOG_LEVEL" validate:"oneof=debug info warn error"`
	LogFormat string `env:"LOG_FORMAT" validate:"oneof=text json"`
}

// Development reports whether the server runs with development defaults.
func (c *Config) Development() bool {
	return c.Env == "development"
}

// devJWTSecret signs sessions when APP_ENV=development and no secret is set.
// Any other environment, including the default, must set JWT_SECRET.
const devJWTSecret = "iouledger-development-secret"

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return f.Tag.Get("env")
	})
	return v
}

// Load reads .env from the working directory, if present, and the
// environment.
func Load() (*Config, error) {
	return load(".env")
}

func load(path string) (*Config, error) {
	file, err := godotenv.Read(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	get := func(key, fallback string) string {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			return value
		}
		if value := strings.TrimSpace(file[key]); value != "" {
			return value
		}
		return fallback
	}

	cfg := &Config{
		Env:             get("APP_ENV", "production"),
		DBDriver:        strings.ToLower(get("DB_DRIVER", "sqlite")),
		DBPath:          get("DB_PATH", "./data/iou.db"),
		DatabaseURL:     get("DATABASE_URL", ""),
		JWTSecret:       get("JWT_SECRET", ""),
		RedisAddress:    get("REDIS_ADDRESS", ""),
		KafkaBrokers:    splitList(get("KAFKA_BROKERS", "")),
		KafkaTopic:      get("KAFKA_TOPIC", "iou_events"),
		PaymentProvider: strings.ToLower(get("PAYMENT_PROVIDER", "none")),
		ProviderBaseURL: strings.TrimRight(get("PROVIDER_BASE_URL", ""), "/"),
		ProviderAPIKey:  get("PROVIDER_API_KEY", ""),
		LogLevel:        strings.ToLower(get("LOG_LEVEL", "info")),
		LogFormat:       strings.ToLower(get("LOG_FORMAT", "text")),
	}
	if cfg.JWTSecret == "" && cfg.Development() {
		cfg.JWTSecret = devJWTSecret
	}

	if cfg.Port, err = strconv.Atoi(get("PORT", "8080")); err != nil {
		return nil, fmt.Errorf("PORT: %w", err)
	}
	durations := []struct {
		key      string
		fallback string
		dst      *time.Duration
	}{
		{"JWT_TTL", "24h", &cfg.JWTTTL},
		{"ATTEMPT_TTL", "15m", &cfg.AttemptTTL},
		{"REAPER_INTERVAL", "1m", &cfg.ReaperInterval},
	}
	for _, d := range durations {
		if *d.dst, err = time.ParseDuration(get(d.key, d.fallback)); err != nil {
			return nil, fmt.Errorf("%s: %w", d.key, err)
		}
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, describe(err)
	}
	return cfg, nil
}

// describe turns validator errors into messages naming the variable.
func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		key := fe.Field()
		switch fe.Tag() {
		case "required", "required_if", "required_with":
			msgs = append(msgs, key+" is required")
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s], got %q", key, fe.Param(), fe.Value()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid (%s %s)", key, fe.Tag(), fe.Param()))
		}
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
