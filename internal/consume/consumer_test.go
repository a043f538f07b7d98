package consume

import (
	"context"
	"testing"
	"time"

	"github.com/pushbeam/backend/internal/hub"
	"github.com/pushbeam/backend/internal/journal"
	"github.com/pushbeam/backend/internal/notification"
)

func startConsumer(t *testing.T, j journal.Journal, h *hub.Hub) *Consumer {
	t.Helper()
	c := New(j, h, "test-group")
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(c.Stop)
	return c
}

func recvOne(t *testing.T, sub *hub.Subscriber) notification.Record {
	t.Helper()
	select {
	case rec, ok := <-sub.C:
		if !ok {
			t.Fatal("subscriber channel closed unexpectedly")
		}
		return rec
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broadcast")
		return notification.Record{}
	}
}

func TestConsumer_ForwardsJournalToHub(t *testing.T) {
	j := journal.NewMemoryJournal(1)
	defer j.Close()
	h := hub.New()
	defer h.Stop()

	startConsumer(t, j, h)
	sub := h.Subscribe()

	recs := make([]notification.Record, 0, 3)
	for i := 0; i < 3; i++ {
		rec := notification.Info("event", "body")
		if _, err := j.Append(context.Background(), rec); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		recs = append(recs, rec)
	}

	for i, want := range recs {
		got := recvOne(t, sub)
		if got.ID != want.ID {
			t.Errorf("record %d: expected id %s, got %s", i, want.ID, got.ID)
		}
	}
}

func TestConsumer_DropsEmptyTitleAndContinues(t *testing.T) {
	j := journal.NewMemoryJournal(1)
	defer j.Close()
	h := hub.New()
	defer h.Stop()

	startConsumer(t, j, h)
	sub := h.Subscribe()

	bad := notification.Record{ID: "bad", Title: "   ", Body: "b", Category: notification.CategoryInfo}
	good := notification.Info("after the bad one", "body")
	if _, err := j.Append(context.Background(), bad); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if _, err := j.Append(context.Background(), good); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	// The invalid record is skipped; the next one still flows.
	got := recvOne(t, sub)
	if got.ID != good.ID {
		t.Errorf("expected id %s, got %s", good.ID, got.ID)
	}
}

func TestConsumer_CoercesUnknownCategory(t *testing.T) {
	j := journal.NewMemoryJournal(1)
	defer j.Close()
	h := hub.New()
	defer h.Stop()

	startConsumer(t, j, h)
	sub := h.Subscribe()

	rec := notification.Record{ID: "raw", Title: "direct write", Body: "b", Category: "CRITICAL"}
	if _, err := j.Append(context.Background(), rec); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	got := recvOne(t, sub)
	if got.Category != notification.CategoryInfo {
		t.Errorf("expected coerced INFO, got %q", got.Category)
	}
}

func TestConsumer_CommitsAfterForward(t *testing.T) {
	j := journal.NewMemoryJournal(1)
	defer j.Close()
	h := hub.New()
	defer h.Stop()

	c := startConsumer(t, j, h)
	sub := h.Subscribe()

	if _, err := j.Append(context.Background(), notification.Info("e", "b")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	recvOne(t, sub)

	// Stop to drain the loop, then the offset must cover the record.
	c.Stop()
	if got := j.CommittedOffset("test-group", 0); got != 1 {
		t.Errorf("expected committed offset 1, got %d", got)
	}
}

func TestConsumer_DroppedRecordIsStillCommitted(t *testing.T) {
	j := journal.NewMemoryJournal(1)
	defer j.Close()
	h := hub.New()
	defer h.Stop()

	c := startConsumer(t, j, h)
	sub := h.Subscribe()

	bad := notification.Record{ID: "bad", Title: "", Body: "b", Category: notification.CategoryInfo}
	good := notification.Info("good", "b")
	if _, err := j.Append(context.Background(), bad); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if _, err := j.Append(context.Background(), good); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	recvOne(t, sub)

	c.Stop()
	// Both offsets are committed; the bad record is never redelivered.
	if got := j.CommittedOffset("test-group", 0); got != 2 {
		t.Errorf("expected committed offset 2, got %d", got)
	}
}

func TestConsumer_StartFailsWhenJournalClosed(t *testing.T) {
	j := journal.NewMemoryJournal(1)
	j.Close()

	c := New(j, hub.New(), "test-group")
	if err := c.Start(context.Background()); err == nil {
		t.Error("expected error subscribing to a closed journal")
	}
}

func TestConsumer_StopBeforeStartIsNoop(t *testing.T) {
	c := New(journal.NewMemoryJournal(1), hub.New(), "test-group")
	c.Stop()
}

func TestConsumer_StopIsClean(t *testing.T) {
	j := journal.NewMemoryJournal(1)
	defer j.Close()
	h := hub.New()
	defer h.Stop()

	c := New(j, h, "test-group")
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		c.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}
