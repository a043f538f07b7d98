package journal

import (
	"context"
	"testing"

	"github.com/pushbeam/backend/internal/config"
)

func TestNew_ExplicitMemoryBackend(t *testing.T) {
	cfg := &config.Config{JournalBackend: "memory", PartitionCount: 2}
	j, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer j.Close()

	if _, ok := j.(*MemoryJournal); !ok {
		t.Errorf("expected *MemoryJournal, got %T", j)
	}
}

func TestNew_AutoFallsBackToMemory(t *testing.T) {
	cfg := &config.Config{PartitionCount: 1}
	j, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer j.Close()

	if _, ok := j.(*MemoryJournal); !ok {
		t.Errorf("expected *MemoryJournal fallback, got %T", j)
	}
}

func TestNew_AutoPrefersKafkaWhenBrokersSet(t *testing.T) {
	cfg := &config.Config{
		KafkaBrokers:   "localhost:9092,localhost:9093",
		JournalTopic:   "notifications",
		AppendAckLevel: "leader",
	}
	j, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer j.Close()

	kj, ok := j.(*KafkaJournal)
	if !ok {
		t.Fatalf("expected *KafkaJournal, got %T", j)
	}
	if len(kj.cfg.Brokers) != 2 {
		t.Errorf("expected 2 brokers, got %v", kj.cfg.Brokers)
	}
	if kj.cfg.AckLevel != AckLeader {
		t.Errorf("expected ack level leader, got %q", kj.cfg.AckLevel)
	}
}

func TestNew_UnknownBackend(t *testing.T) {
	cfg := &config.Config{JournalBackend: "etcd"}
	if _, err := New(context.Background(), cfg); err == nil {
		t.Error("expected error for unknown backend")
	}
}
