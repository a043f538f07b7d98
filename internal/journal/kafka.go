package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/pushbeam/backend/internal/notification"
)

const (
	// kafkaAppendAttempts bounds producer retries on transient broker
	// failures before the error surfaces to the caller.
	kafkaAppendAttempts = 3

	// kafkaBatchTimeout is how long the writer may buffer records to
	// amortize I/O. A throughput/latency trade-off, not a correctness
	// one: order within a batch is preserved.
	kafkaBatchTimeout = 2 * time.Millisecond
)

// KafkaConfig holds the settings for the Kafka-backed journal.
type KafkaConfig struct {
	Brokers  []string
	Topic    string
	AckLevel AckLevel
}

// KafkaJournal implements Journal on Apache Kafka via
// segmentio/kafka-go. A shared writer serves appends; each
// subscription owns a consumer-group reader with explicit offset
// commits.
type KafkaJournal struct {
	cfg    KafkaConfig
	writer *kafka.Writer

	mu     sync.Mutex
	subs   []*kafkaSubscription
	closed bool
}

type kafkaAppendResult struct {
	partition int
	offset    int64
	err       error
}

// NewKafkaJournal creates a KafkaJournal. Call Close to stop the
// producer and any subscriptions.
func NewKafkaJournal(cfg KafkaConfig) (*KafkaJournal, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one Kafka broker address is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("journal topic is required")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: requiredAcks(cfg.AckLevel),
		MaxAttempts:  kafkaAppendAttempts,
		BatchTimeout: kafkaBatchTimeout,
		Async:        false,
		Completion:   completeAppends,
	}

	return &KafkaJournal{cfg: cfg, writer: writer}, nil
}

func requiredAcks(level AckLevel) kafka.RequiredAcks {
	switch level {
	case AckNone:
		return kafka.RequireNone
	case AckLeader:
		return kafka.RequireOne
	default:
		return kafka.RequireAll
	}
}

// completeAppends is the writer completion callback. Delivered
// messages carry their assigned partition and offset; the result is
// relayed to the Append call waiting on the channel stashed in
// WriterData.
func completeAppends(messages []kafka.Message, err error) {
	for _, m := range messages {
		ch, ok := m.WriterData.(chan kafkaAppendResult)
		if !ok {
			continue
		}
		select {
		case ch <- kafkaAppendResult{partition: m.Partition, offset: m.Offset, err: err}:
		default:
		}
	}
}

// Append serializes the record to JSON, keyed by record ID so that
// duplicates of one record land on one partition, and writes it with
// the configured ack level. The writer retries transient failures up
// to kafkaAppendAttempts before the error is returned.
func (j *KafkaJournal) Append(ctx context.Context, rec notification.Record) (Position, error) {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return Position{}, ErrClosed
	}
	j.mu.Unlock()

	value, err := json.Marshal(rec)
	if err != nil {
		return Position{}, fmt.Errorf("marshal record: %w", err)
	}

	result := make(chan kafkaAppendResult, 1)
	msg := kafka.Message{
		Key:        []byte(rec.ID),
		Value:      value,
		WriterData: result,
	}

	if err := j.writer.WriteMessages(ctx, msg); err != nil {
		return Position{}, fmt.Errorf("write to kafka: %w", err)
	}

	select {
	case res := <-result:
		if res.err != nil {
			return Position{}, fmt.Errorf("kafka append: %w", res.err)
		}
		return Position{Partition: res.partition, Offset: res.offset}, nil
	case <-ctx.Done():
		return Position{}, ctx.Err()
	}
}

// Subscribe creates a consumer-group reader for the journal topic.
// Kafka owns partition assignment and committed offsets, so the
// subscription resumes from the group's last commit across restarts.
func (j *KafkaJournal) Subscribe(ctx context.Context, group string) (Subscription, error) {
	if group == "" {
		return nil, fmt.Errorf("consumer group is required")
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil, ErrClosed
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  j.cfg.Brokers,
		Topic:    j.cfg.Topic,
		GroupID:  group,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
		MaxWait:  500 * time.Millisecond,
	})

	sub := &kafkaSubscription{reader: reader}
	j.subs = append(j.subs, sub)
	return sub, nil
}

// Close stops the producer and all subscriptions.
func (j *KafkaJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	j.closed = true

	var firstErr error
	for _, sub := range j.subs {
		if err := sub.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := j.writer.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

type kafkaSubscription struct {
	reader *kafka.Reader

	mu     sync.Mutex
	closed bool
}

// Next fetches the next message without committing it. A message whose
// payload does not decode is committed and skipped so a poison record
// cannot stall the partition.
func (s *kafkaSubscription) Next(ctx context.Context) (Envelope, error) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return Envelope{}, ErrClosed
		}
		s.mu.Unlock()

		msg, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return Envelope{}, ctx.Err()
			}
			return Envelope{}, fmt.Errorf("fetch from kafka: %w", err)
		}

		var rec notification.Record
		if err := json.Unmarshal(msg.Value, &rec); err != nil {
			log.Printf("journal: skipping undecodable record at partition=%d offset=%d: %v", msg.Partition, msg.Offset, err)
			if err := s.reader.CommitMessages(ctx, msg); err != nil {
				return Envelope{}, fmt.Errorf("commit skipped record: %w", err)
			}
			continue
		}

		return Envelope{
			Record:   rec,
			Position: Position{Partition: msg.Partition, Offset: msg.Offset},
			token:    msg,
		}, nil
	}
}

// Commit acknowledges the envelope's message, advancing the group
// offset on the broker.
func (s *kafkaSubscription) Commit(ctx context.Context, env Envelope) error {
	msg, ok := env.token.(kafka.Message)
	if !ok {
		return fmt.Errorf("envelope was not produced by this subscription")
	}
	if err := s.reader.CommitMessages(ctx, msg); err != nil {
		return fmt.Errorf("commit offset: %w", err)
	}
	return nil
}

func (s *kafkaSubscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.reader.Close()
}
