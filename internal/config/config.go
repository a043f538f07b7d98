package config

import (
	"os"
	"strconv"
	"strings"
)

// Config holds all process configuration, loaded from the
// environment.
type Config struct {
	Port           string
	AllowedOrigins string
	RateLimitRPS   float64
	RateLimitBurst int

	// Journal
	JournalBackend string // "kafka", "postgres", "memory", or "" for auto
	JournalTopic   string
	ConsumerGroup  string
	PartitionCount int
	AppendAckLevel string // "none", "leader", "all"
	KafkaBrokers   string
	DatabaseURL    string
	MigrationsPath string
}

// Load reads configuration from environment variables, applying
// development defaults.
func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8080"),
		AllowedOrigins: getEnv("ALLOWED_ORIGINS", "http://localhost:4200"),
		RateLimitRPS:   getEnvFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 20),

		JournalBackend: getEnv("JOURNAL_BACKEND", ""),
		JournalTopic:   getEnv("JOURNAL_TOPIC", "notifications"),
		ConsumerGroup:  getEnv("CONSUMER_GROUP", "notification-service"),
		PartitionCount: getEnvInt("PARTITION_COUNT", 1),
		AppendAckLevel: getEnv("APPEND_ACK_LEVEL", "all"),
		KafkaBrokers:   getEnv("KAFKA_BROKERS", ""),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		MigrationsPath: getEnv("MIGRATIONS_PATH", "migrations"),
	}
}

// Origins returns the allowed browser origins as a slice, parsed from
// the comma-separated ALLOWED_ORIGINS value.
func (c *Config) Origins() []string {
	parts := strings.Split(c.AllowedOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			origins = append(origins, p)
		}
	}
	return origins
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

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
