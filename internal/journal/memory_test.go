package journal

import (
	"context"
	"testing"
	"time"

	"github.com/pushbeam/backend/internal/notification"
)

func appendN(t *testing.T, j Journal, n int) []notification.Record {
	t.Helper()
	recs := make([]notification.Record, 0, n)
	for i := 0; i < n; i++ {
		rec := notification.Info("title", "body")
		if _, err := j.Append(context.Background(), rec); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		recs = append(recs, rec)
	}
	return recs
}

func TestMemoryJournal_AppendAssignsSequentialOffsets(t *testing.T) {
	j := NewMemoryJournal(1)
	defer j.Close()

	for i := 0; i < 3; i++ {
		pos, err := j.Append(context.Background(), notification.Info("t", "b"))
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		if pos.Partition != 0 {
			t.Errorf("expected partition 0, got %d", pos.Partition)
		}
		if pos.Offset != int64(i) {
			t.Errorf("expected offset %d, got %d", i, pos.Offset)
		}
	}
}

func TestMemoryJournal_DeliversInAppendOrder(t *testing.T) {
	j := NewMemoryJournal(1)
	defer j.Close()

	recs := appendN(t, j, 5)

	sub, err := j.Subscribe(context.Background(), "g1")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for i, want := range recs {
		env, err := sub.Next(ctx)
		if err != nil {
			t.Fatalf("Next %d failed: %v", i, err)
		}
		if env.Record.ID != want.ID {
			t.Errorf("record %d: expected id %s, got %s", i, want.ID, env.Record.ID)
		}
		if env.Position.Offset != int64(i) {
			t.Errorf("record %d: expected offset %d, got %d", i, i, env.Position.Offset)
		}
	}
}

func TestMemoryJournal_NextBlocksUntilAppend(t *testing.T) {
	j := NewMemoryJournal(1)
	defer j.Close()

	sub, err := j.Subscribe(context.Background(), "g1")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Close()

	got := make(chan Envelope, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		env, err := sub.Next(ctx)
		if err != nil {
			return
		}
		got <- env
	}()

	// Give the puller time to block before the append.
	time.Sleep(50 * time.Millisecond)

	rec := notification.Info("late", "arrival")
	if _, err := j.Append(context.Background(), rec); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	select {
	case env := <-got:
		if env.Record.ID != rec.ID {
			t.Errorf("expected id %s, got %s", rec.ID, env.Record.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for blocked Next to return")
	}
}

func TestMemoryJournal_NextHonorsContextCancel(t *testing.T) {
	j := NewMemoryJournal(1)
	defer j.Close()

	sub, err := j.Subscribe(context.Background(), "g1")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := sub.Next(ctx)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Next did not return after cancel")
	}
}

func TestMemoryJournal_UncommittedRecordsAreRedelivered(t *testing.T) {
	j := NewMemoryJournal(1)
	defer j.Close()

	recs := appendN(t, j, 3)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	sub, err := j.Subscribe(ctx, "g1")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	// Commit only the first record, pull but abandon the second.
	env, err := sub.Next(ctx)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if err := sub.Commit(ctx, env); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if _, err := sub.Next(ctx); err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	sub.Close()

	// A new subscription for the same group resumes after the last
	// committed record, so the abandoned one comes again.
	sub2, err := j.Subscribe(ctx, "g1")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub2.Close()

	env, err = sub2.Next(ctx)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if env.Record.ID != recs[1].ID {
		t.Errorf("expected redelivery of %s, got %s", recs[1].ID, env.Record.ID)
	}
}

func TestMemoryJournal_GroupsConsumeIndependently(t *testing.T) {
	j := NewMemoryJournal(1)
	defer j.Close()

	recs := appendN(t, j, 2)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	subA, err := j.Subscribe(ctx, "group-a")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer subA.Close()
	subB, err := j.Subscribe(ctx, "group-b")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer subB.Close()

	// group-a consumes and commits everything.
	for range recs {
		env, err := subA.Next(ctx)
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if err := subA.Commit(ctx, env); err != nil {
			t.Fatalf("Commit failed: %v", err)
		}
	}

	// group-b still sees the full stream from the start.
	env, err := subB.Next(ctx)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if env.Record.ID != recs[0].ID {
		t.Errorf("expected first record %s for fresh group, got %s", recs[0].ID, env.Record.ID)
	}
}

func TestMemoryJournal_CommitIsMonotonic(t *testing.T) {
	j := NewMemoryJournal(1)
	defer j.Close()

	appendN(t, j, 3)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	sub, err := j.Subscribe(ctx, "g1")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Close()

	first, err := sub.Next(ctx)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	second, err := sub.Next(ctx)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}

	if err := sub.Commit(ctx, second); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	// Committing the older envelope afterwards must not move the
	// offset backwards.
	if err := sub.Commit(ctx, first); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	if got := j.CommittedOffset("g1", 0); got != 2 {
		t.Errorf("expected committed offset 2, got %d", got)
	}
}

func TestMemoryJournal_CloseWakesBlockedNext(t *testing.T) {
	j := NewMemoryJournal(1)

	sub, err := j.Subscribe(context.Background(), "g1")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := sub.Next(context.Background())
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	if err := j.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	select {
	case err := <-errCh:
		if err != ErrClosed {
			t.Errorf("expected ErrClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Next did not return after Close")
	}

	if _, err := j.Append(context.Background(), notification.Info("t", "b")); err != ErrClosed {
		t.Errorf("expected ErrClosed from Append after Close, got %v", err)
	}
}

func TestMemoryJournal_PartitionedKeysKeepOrder(t *testing.T) {
	j := NewMemoryJournal(4)
	defer j.Close()

	// Offsets are per partition: each partition's offsets start at 0
	// and increase by one per record landing there.
	seen := make(map[int]int64)
	for i := 0; i < 20; i++ {
		pos, err := j.Append(context.Background(), notification.Info("t", "b"))
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		if pos.Partition < 0 || pos.Partition > 3 {
			t.Fatalf("partition %d out of range", pos.Partition)
		}
		if want := seen[pos.Partition]; pos.Offset != want {
			t.Errorf("partition %d: expected offset %d, got %d", pos.Partition, want, pos.Offset)
		}
		seen[pos.Partition]++
	}
}

func TestAssignPartition_IsStable(t *testing.T) {
	if p := assignPartition("any-key", 1); p != 0 {
		t.Errorf("single partition must map to 0, got %d", p)
	}

	a := assignPartition("stable-key", 8)
	for i := 0; i < 10; i++ {
		if b := assignPartition("stable-key", 8); b != a {
			t.Fatalf("partition assignment not stable: %d vs %d", a, b)
		}
	}
}

func TestParseAckLevel(t *testing.T) {
	cases := map[string]AckLevel{
		"none":    AckNone,
		"leader":  AckLeader,
		"all":     AckAll,
		"":        AckAll,
		"bananas": AckAll,
	}
	for in, want := range cases {
		if got := ParseAckLevel(in); got != want {
			t.Errorf("ParseAckLevel(%q): expected %q, got %q", in, want, got)
		}
	}
}
