package journal

import (
	"context"
	"errors"
	"hash/fnv"

	"github.com/pushbeam/backend/internal/notification"
)

// ErrClosed is returned by operations on a closed journal or
// subscription.
var ErrClosed = errors.New("journal is closed")

// AckLevel controls how many replicas must confirm an append before it
// is acknowledged.
type AckLevel string

const (
	AckNone   AckLevel = "none"
	AckLeader AckLevel = "leader"
	AckAll    AckLevel = "all"
)

// ParseAckLevel maps a config string onto an AckLevel, defaulting to
// AckAll for unrecognized values. Durability over latency is the
// default stance.
func ParseAckLevel(s string) AckLevel {
	switch AckLevel(s) {
	case AckNone, AckLeader, AckAll:
		return AckLevel(s)
	default:
		return AckAll
	}
}

// Position identifies where a record landed in the journal. Offsets
// are totally ordered within a partition only.
type Position struct {
	Partition int   `json:"partition"`
	Offset    int64 `json:"offset"`
}

// Envelope carries a record pulled from a subscription along with its
// position and the backend's commit token.
type Envelope struct {
	Record   notification.Record
	Position Position

	// token is backend-private state needed to commit this envelope.
	token any
}

// Journal is an ordered, partitioned, append-only record store with
// consumer-group offset tracking. It decouples producer cadence from
// consumer cadence: Append returns once the configured ack level is
// satisfied, and subscribers pull at their own pace, resuming from the
// last committed offset across restarts.
type Journal interface {
	// Append durably stores the record and returns its position.
	// Transient failures are retried a bounded number of times before
	// an error is returned.
	Append(ctx context.Context, rec notification.Record) (Position, error)

	// Subscribe opens a pull subscription for the given consumer
	// group, resuming from the group's committed offsets. Multiple
	// groups each receive the full stream independently.
	Subscribe(ctx context.Context, group string) (Subscription, error)

	// Close releases broker connections and wakes any blocked pulls.
	Close() error
}

// Subscription is a lazy, blocking, restartable record sequence.
type Subscription interface {
	// Next blocks until a record is available or ctx is done. Records
	// within one partition arrive in append order.
	Next(ctx context.Context) (Envelope, error)

	// Commit marks the envelope's record as processed, advancing the
	// group offset. Offsets are monotonic non-decreasing: committing
	// an older envelope after a newer one is a no-op.
	Commit(ctx context.Context, env Envelope) error

	// Close stops the subscription. A record pulled but not committed
	// before Close is redelivered to the next subscriber of the group.
	Close() error
}

// assignPartition maps a record key onto one of n partitions. Records
// sharing a key always land on the same partition, preserving their
// relative order.
func assignPartition(key string, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(key)) //nolint:errcheck // hash writes never fail
	return int(h.Sum32() % uint32(n))
}
