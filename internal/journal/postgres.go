package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pushbeam/backend/internal/notification"
)

const (
	pgAppendAttempts = 3
	pgPollInterval   = 200 * time.Millisecond
)

// PostgresConfig holds the settings for the Postgres-backed journal.
type PostgresConfig struct {
	DatabaseURL    string
	MigrationsPath string
	PartitionCount int
}

// PostgresJournal implements Journal on a Postgres database: an
// append-only records table keyed by (partition, offset) plus a
// per-group offsets table. It is the durable backend used when Kafka
// is not configured. Like MemoryJournal it supports a single live
// member per consumer group.
type PostgresJournal struct {
	pool       *pgxpool.Pool
	partitions int

	mu     sync.Mutex
	closed bool
}

// NewPostgresJournal connects to the database, runs the journal
// migrations, and returns a ready journal. Call Close to release the
// pool.
func NewPostgresJournal(ctx context.Context, cfg PostgresConfig) (*PostgresJournal, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}
	if cfg.PartitionCount < 1 {
		cfg.PartitionCount = 1
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	if cfg.MigrationsPath != "" {
		if err := runMigrations(cfg.DatabaseURL, cfg.MigrationsPath); err != nil {
			pool.Close()
			return nil, err
		}
	}

	return &PostgresJournal{pool: pool, partitions: cfg.PartitionCount}, nil
}

func runMigrations(databaseURL, migrationsPath string) error {
	m, err := migrate.New("file://"+migrationsPath, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Append inserts the record at the tail of its partition. The offset
// is claimed atomically from the partition head counter inside a
// transaction, so concurrent appends to one partition serialize into
// a gap-free, totally ordered sequence. Transient failures are retried
// up to pgAppendAttempts.
func (j *PostgresJournal) Append(ctx context.Context, rec notification.Record) (Position, error) {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return Position{}, ErrClosed
	}
	j.mu.Unlock()

	payload, err := json.Marshal(rec)
	if err != nil {
		return Position{}, fmt.Errorf("marshal record: %w", err)
	}

	partition := assignPartition(rec.ID, j.partitions)

	var lastErr error
	for attempt := 1; attempt <= pgAppendAttempts; attempt++ {
		offset, err := j.appendOnce(ctx, partition, payload)
		if err == nil {
			return Position{Partition: partition, Offset: offset}, nil
		}
		if ctx.Err() != nil {
			return Position{}, ctx.Err()
		}
		lastErr = err
	}
	return Position{}, fmt.Errorf("append after %d attempts: %w", pgAppendAttempts, lastErr)
}

func (j *PostgresJournal) appendOnce(ctx context.Context, partition int, payload []byte) (int64, error) {
	tx, err := j.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin append tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	var offset int64
	err = tx.QueryRow(ctx,
		`INSERT INTO journal_heads (partition, next_offset) VALUES ($1, 1)
		 ON CONFLICT (partition) DO UPDATE SET next_offset = journal_heads.next_offset + 1
		 RETURNING next_offset - 1`,
		partition,
	).Scan(&offset)
	if err != nil {
		return 0, fmt.Errorf("claim offset: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO journal_records (partition, record_offset, payload) VALUES ($1, $2, $3)`,
		partition, offset, payload,
	)
	if err != nil {
		return 0, fmt.Errorf("insert record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit append tx: %w", err)
	}
	return offset, nil
}

// Subscribe opens a polling subscription resuming from the group's
// committed offsets.
func (j *PostgresJournal) Subscribe(ctx context.Context, group string) (Subscription, error) {
	if group == "" {
		return nil, fmt.Errorf("consumer group is required")
	}

	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil, ErrClosed
	}
	j.mu.Unlock()

	cursors := make([]int64, j.partitions)
	rows, err := j.pool.Query(ctx,
		`SELECT partition, committed FROM journal_offsets WHERE group_id = $1`,
		group,
	)
	if err != nil {
		return nil, fmt.Errorf("load committed offsets: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var partition int
		var committed int64
		if err := rows.Scan(&partition, &committed); err != nil {
			return nil, fmt.Errorf("scan committed offset: %w", err)
		}
		if partition >= 0 && partition < len(cursors) {
			cursors[partition] = committed
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load committed offsets: %w", err)
	}

	return &postgresSubscription{journal: j, group: group, cursors: cursors}, nil
}

// Close releases the connection pool. Blocked pulls return once their
// context is cancelled or the next poll observes the closed flag.
func (j *PostgresJournal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	j.mu.Unlock()

	j.pool.Close()
	return nil
}

type postgresSubscription struct {
	journal *PostgresJournal
	group   string
	cursors []int64
	lastP   int

	mu     sync.Mutex
	closed bool
}

// Next polls the partitions round-robin for the record at each
// cursor. The wait between polls is cooperative (timer + ctx), not a
// busy loop.
func (s *postgresSubscription) Next(ctx context.Context) (Envelope, error) {
	ticker := time.NewTicker(pgPollInterval)
	defer ticker.Stop()

	for {
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()

		s.journal.mu.Lock()
		closed = closed || s.journal.closed
		s.journal.mu.Unlock()

		if closed {
			return Envelope{}, ErrClosed
		}

		env, ok, err := s.poll(ctx)
		if err != nil {
			return Envelope{}, err
		}
		if ok {
			return env, nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return Envelope{}, ctx.Err()
		}
	}
}

func (s *postgresSubscription) poll(ctx context.Context) (Envelope, bool, error) {
	n := len(s.cursors)
	for i := 1; i <= n; i++ {
		p := (s.lastP + i) % n
		cursor := s.cursors[p]

		var payload []byte
		err := s.journal.pool.QueryRow(ctx,
			`SELECT payload FROM journal_records WHERE partition = $1 AND record_offset = $2`,
			p, cursor,
		).Scan(&payload)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return Envelope{}, false, ctx.Err()
			}
			return Envelope{}, false, fmt.Errorf("read journal record: %w", err)
		}

		var rec notification.Record
		if err := json.Unmarshal(payload, &rec); err != nil {
			// Undecodable row: advance past it so the partition
			// cannot stall, mirroring the Kafka backend.
			s.cursors[p] = cursor + 1
			continue
		}

		s.cursors[p] = cursor + 1
		s.lastP = p
		pos := Position{Partition: p, Offset: cursor}
		return Envelope{Record: rec, Position: pos, token: pos}, true, nil
	}
	return Envelope{}, false, nil
}

// Commit upserts the group offset, clamped to be monotonic
// non-decreasing.
func (s *postgresSubscription) Commit(ctx context.Context, env Envelope) error {
	pos, ok := env.token.(Position)
	if !ok {
		pos = env.Position
	}

	_, err := s.journal.pool.Exec(ctx,
		`INSERT INTO journal_offsets (group_id, partition, committed) VALUES ($1, $2, $3)
		 ON CONFLICT (group_id, partition)
		 DO UPDATE SET committed = GREATEST(journal_offsets.committed, EXCLUDED.committed)`,
		s.group, pos.Partition, pos.Offset+1,
	)
	if err != nil {
		return fmt.Errorf("commit offset: %w", err)
	}
	return nil
}

func (s *postgresSubscription) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
