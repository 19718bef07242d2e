package config

import (
	"os"
	"strconv"
	"time"
)

// Config captures process-level configuration. Read once in main via FromEnv
// so the rest of the tree stays env-free.
type Config struct {
	Addr          string
	DatabaseURL   string
	RedisURL      string
	KafkaBrokers  string
	KafkaTopic    string
	JWTSigningKey string
	ExtractionURL string

	// IngestKeyHash is the bcrypt hash of the shared ingestion API key.
	// Empty leaves ingestion ungated.
	IngestKeyHash string

	// SweepInterval of zero disables the background sweep entirely.
	SweepInterval    time.Duration
	ArchiveAfterDays int

	// ConfidenceThreshold below which classified communications are flagged
	// for manual review instead of marked processed.
	ConfidenceThreshold float64
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() Config {
	cfg := Config{
		Addr:                envOr("COMMHUB_ADDR", ":8080"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		RedisURL:            os.Getenv("REDIS_URL"),
		KafkaBrokers:        os.Getenv("KAFKA_BROKERS"),
		KafkaTopic:          envOr("KAFKA_AUDIT_TOPIC", "commhub.deletion-audit"),
		JWTSigningKey:       envOr("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		ExtractionURL:       os.Getenv("EXTRACTION_URL"),
		IngestKeyHash:       os.Getenv("INGEST_API_KEY_HASH"),
		SweepInterval:       envDuration("SWEEP_INTERVAL", 0),
		ArchiveAfterDays:    envInt("ARCHIVE_AFTER_DAYS", 180),
		ConfidenceThreshold: envFloat("CONFIDENCE_THRESHOLD", 0.75),
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
