// Package config builds runtime configuration from the environment so main
// stays lean. A local .env file is honored in development via godotenv.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates every tunable the server needs.
type Config struct {
	Server     Server
	Postgres   Postgres
	Redis      Redis
	Mailer     Mailer
	Renderer   Renderer
	Audit      Audit
	Issuance   Issuance
	Validation Validation
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr          string
	JWTSigningKey string
}

// Postgres holds the database connection settings.
type Postgres struct {
	DSN          string
	MaxOpenConns int
	Migrate      bool
}

// Redis configures the optional verification-view cache.
type Redis struct {
	URL         string
	ViewTTL     time.Duration
	DialTimeout time.Duration
}

// Mailer configures the transactional email API client.
type Mailer struct {
	APIURL      string
	APIKey      string
	SenderName  string
	SenderEmail string
	Timeout     time.Duration
}

// Renderer bounds the external document generation call.
type Renderer struct {
	Timeout   time.Duration
	OutputDir string
}

// Audit configures the audit event pipeline. Kafka is optional; without
// brokers events stay in the local store only.
type Audit struct {
	KafkaBrokers []string
	KafkaTopic   string
}

// Issuance holds certificate issuance tunables.
type Issuance struct {
	FolioPrefix string
	BulkWorkers int
}

// Validation holds data-quality tunables enforced on inbound payloads.
type Validation struct {
	// InstitutionalEmailDomains restricts teacher institutional addresses.
	// Empty accepts any domain.
	InstitutionalEmailDomains []string
}

// FromEnv builds a Config from environment variables, loading .env first if
// present.
func FromEnv() Config {
	_ = godotenv.Load()

	return Config{
		Server: Server{
			Addr:          getEnv("CONSTANCIA_ADDR", ":8080"),
			JWTSigningKey: getEnv("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		},
		Postgres: Postgres{
			DSN:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: getEnvInt("DATABASE_MAX_OPEN_CONNS", 25),
			Migrate:      os.Getenv("DATABASE_MIGRATE") != "false",
		},
		Redis: Redis{
			URL:         os.Getenv("REDIS_URL"),
			ViewTTL:     getEnvDuration("VERIFY_CACHE_TTL", 15*time.Minute),
			DialTimeout: getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		},
		Mailer: Mailer{
			APIURL:      getEnv("MAILER_API_URL", "https://api.brevo.com/v3/smtp/email"),
			APIKey:      os.Getenv("MAILER_API_KEY"),
			SenderName:  getEnv("MAILER_SENDER_NAME", "Constancia"),
			SenderEmail: os.Getenv("MAILER_SENDER_EMAIL"),
			Timeout:     getEnvDuration("MAILER_TIMEOUT", 15*time.Second),
		},
		Renderer: Renderer{
			Timeout:   getEnvDuration("RENDERER_TIMEOUT", 30*time.Second),
			OutputDir: getEnv("RENDERER_OUTPUT_DIR", "documents"),
		},
		Audit: Audit{
			KafkaBrokers: splitNonEmpty(os.Getenv("AUDIT_KAFKA_BROKERS")),
			KafkaTopic:   getEnv("AUDIT_KAFKA_TOPIC", "constancia.audit"),
		},
		Issuance: Issuance{
			FolioPrefix: getEnv("FOLIO_PREFIX", "CERT"),
			BulkWorkers: getEnvInt("BULK_WORKERS", 8),
		},
		Validation: Validation{
			InstitutionalEmailDomains: splitNonEmpty(os.Getenv("INSTITUTIONAL_EMAIL_DOMAINS")),
		},
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
