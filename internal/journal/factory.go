package journal

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/pushbeam/backend/internal/config"
)

// New creates a Journal from the application configuration.
//
// Backend selection favors durability: an explicit JOURNAL_BACKEND
// wins; otherwise Kafka is used when KAFKA_BROKERS is set, then
// Postgres when DATABASE_URL is set. The in-memory journal is a
// last-resort fallback for development and is loud about being lossy.
func New(ctx context.Context, cfg *config.Config) (Journal, error) {
	switch cfg.JournalBackend {
	case "kafka":
		return newKafka(cfg)
	case "postgres":
		return newPostgres(ctx, cfg)
	case "memory":
		log.Printf("journal: using in-memory backend (records are lost on restart)")
		return NewMemoryJournal(cfg.PartitionCount), nil
	case "":
		// auto-detect below
	default:
		return nil, fmt.Errorf("unknown journal backend %q", cfg.JournalBackend)
	}

	if cfg.KafkaBrokers != "" {
		return newKafka(cfg)
	}
	if cfg.DatabaseURL != "" {
		return newPostgres(ctx, cfg)
	}

	log.Printf("journal: WARNING: no KAFKA_BROKERS or DATABASE_URL configured, falling back to the lossy in-memory backend")
	return NewMemoryJournal(cfg.PartitionCount), nil
}

func newKafka(cfg *config.Config) (Journal, error) {
	brokers := strings.Split(cfg.KafkaBrokers, ",")
	log.Printf("journal: using Kafka backend brokers=%v topic=%s acks=%s", brokers, cfg.JournalTopic, ParseAckLevel(cfg.AppendAckLevel))
	return NewKafkaJournal(KafkaConfig{
		Brokers:  brokers,
		Topic:    cfg.JournalTopic,
		AckLevel: ParseAckLevel(cfg.AppendAckLevel),
	})
}

func newPostgres(ctx context.Context, cfg *config.Config) (Journal, error) {
	log.Printf("journal: using Postgres backend partitions=%d", cfg.PartitionCount)
	return NewPostgresJournal(ctx, PostgresConfig{
		DatabaseURL:    cfg.DatabaseURL,
		MigrationsPath: cfg.MigrationsPath,
		PartitionCount: cfg.PartitionCount,
	})
}
