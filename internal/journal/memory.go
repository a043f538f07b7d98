package journal

import (
	"context"
	"sync"

	"github.com/pushbeam/backend/internal/notification"
)

// MemoryJournal is a single-process, in-memory Journal. It keeps the
// full append/subscribe/commit contract (partitions, per-group
// offsets, blocking pulls, redelivery of uncommitted records on
// resubscribe) but loses everything on process restart. It is the
// backend for tests and for explicitly configured lossy development
// setups, never the production default.
//
// Each consumer group supports a single live member; a second
// subscription in the same group would observe the same records.
type MemoryJournal struct {
	mu         sync.Mutex
	partitions [][]notification.Record
	committed  map[string][]int64 // group -> next offset to deliver, per partition
	waiters    []chan struct{}
	closed     bool
}

// NewMemoryJournal creates a MemoryJournal with the given partition
// count (minimum 1).
func NewMemoryJournal(partitionCount int) *MemoryJournal {
	if partitionCount < 1 {
		partitionCount = 1
	}
	return &MemoryJournal{
		partitions: make([][]notification.Record, partitionCount),
		committed:  make(map[string][]int64),
	}
}

// Append stores the record at the tail of its partition and returns
// the assigned position. In-process storage is the ack: there is no
// replica to wait for.
func (j *MemoryJournal) Append(ctx context.Context, rec notification.Record) (Position, error) {
	if err := ctx.Err(); err != nil {
		return Position{}, err
	}

	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return Position{}, ErrClosed
	}

	p := assignPartition(rec.ID, len(j.partitions))
	offset := int64(len(j.partitions[p]))
	j.partitions[p] = append(j.partitions[p], rec)

	waiters := j.waiters
	j.waiters = nil
	j.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}

	return Position{Partition: p, Offset: offset}, nil
}

// Subscribe opens a pull subscription for the group, resuming each
// partition cursor from the group's committed offset.
func (j *MemoryJournal) Subscribe(ctx context.Context, group string) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil, ErrClosed
	}

	cursors := make([]int64, len(j.partitions))
	copy(cursors, j.offsets(group))

	return &memorySubscription{journal: j, group: group, cursors: cursors}, nil
}

// Close wakes all blocked pulls and rejects further operations.
func (j *MemoryJournal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	waiters := j.waiters
	j.waiters = nil
	j.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
	return nil
}

// CommittedOffset returns the group's committed offset for a
// partition: the offset of the next record the group would receive
// after a restart.
func (j *MemoryJournal) CommittedOffset(group string, partition int) int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	if partition < 0 || partition >= len(j.partitions) {
		return 0
	}
	return j.offsets(group)[partition]
}

// offsets returns the group's committed-offset slice, creating it on
// first use. Caller must hold j.mu.
func (j *MemoryJournal) offsets(group string) []int64 {
	offs, ok := j.committed[group]
	if !ok {
		offs = make([]int64, len(j.partitions))
		j.committed[group] = offs
	}
	return offs
}

type memorySubscription struct {
	journal *MemoryJournal
	group   string
	cursors []int64 // per-partition read position, ahead of committed
	lastP   int     // last partition served, for round-robin fairness
	closed  bool
	mu      sync.Mutex
}

// Next blocks until a record past the subscription's cursor exists in
// some partition. The wait is cooperative: Append and Close wake it.
func (s *memorySubscription) Next(ctx context.Context) (Envelope, error) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return Envelope{}, ErrClosed
		}
		s.mu.Unlock()

		j := s.journal
		j.mu.Lock()
		if j.closed {
			j.mu.Unlock()
			return Envelope{}, ErrClosed
		}

		if env, ok := s.nextLocked(); ok {
			j.mu.Unlock()
			return env, nil
		}

		wait := make(chan struct{})
		j.waiters = append(j.waiters, wait)
		j.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return Envelope{}, ctx.Err()
		}
	}
}

// nextLocked scans partitions round-robin from the one after the last
// served and returns the first available record. Caller must hold
// journal.mu.
func (s *memorySubscription) nextLocked() (Envelope, bool) {
	n := len(s.journal.partitions)
	for i := 1; i <= n; i++ {
		p := (s.lastP + i) % n
		cursor := s.cursors[p]
		if cursor < int64(len(s.journal.partitions[p])) {
			rec := s.journal.partitions[p][cursor]
			s.cursors[p] = cursor + 1
			s.lastP = p
			pos := Position{Partition: p, Offset: cursor}
			return Envelope{Record: rec, Position: pos, token: pos}, true
		}
	}
	return Envelope{}, false
}

// Commit advances the group's committed offset past the envelope.
// Committing an envelope older than the committed offset is a no-op,
// keeping offsets monotonic.
func (s *memorySubscription) Commit(ctx context.Context, env Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	pos, ok := env.token.(Position)
	if !ok {
		pos = env.Position
	}

	j := s.journal
	j.mu.Lock()
	defer j.mu.Unlock()

	offs := j.offsets(s.group)
	if pos.Partition < 0 || pos.Partition >= len(offs) {
		return nil
	}
	if next := pos.Offset + 1; next > offs[pos.Partition] {
		offs[pos.Partition] = next
	}
	return nil
}

func (s *memorySubscription) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
