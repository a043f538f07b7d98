// Package consume runs the long-lived loop that drains the journal
// and rebroadcasts records through the hub.
package consume

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/pushbeam/backend/internal/hub"
	"github.com/pushbeam/backend/internal/journal"
	"github.com/pushbeam/backend/internal/notification"
)

// pullBackoff is the pause after a transient pull error before the
// loop retries.
const pullBackoff = time.Second

// Consumer pulls records sequentially from a journal subscription,
// validates them, forwards them to the hub, and commits the offset
// only after the forward returns. Processing is strictly sequential,
// which is what preserves per-partition order all the way to the
// subscribers.
type Consumer struct {
	journal journal.Journal
	hub     *hub.Hub
	group   string

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Consumer for the given group.
func New(j journal.Journal, h *hub.Hub, group string) *Consumer {
	return &Consumer{journal: j, hub: h, group: group}
}

// Start subscribes to the journal and launches the pull loop. A
// subscribe failure is returned to the caller and is fatal: with no
// subscription there is no pipeline, and the supervisor should
// restart the process with backoff.
func (c *Consumer) Start(ctx context.Context) error {
	sub, err := c.journal.Subscribe(ctx, c.group)
	if err != nil {
		return fmt.Errorf("subscribe group %q: %w", c.group, err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	go c.run(loopCtx, sub)
	log.Printf("consume: started group=%s", c.group)
	return nil
}

// Stop cancels the pull loop and waits for it to exit. The loop stops
// pulling before committing anything in flight, so a record pulled but
// not yet forwarded stays uncommitted and is redelivered on restart.
func (c *Consumer) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
	log.Printf("consume: stopped group=%s", c.group)
}

func (c *Consumer) run(ctx context.Context, sub journal.Subscription) {
	defer close(c.done)
	defer sub.Close() //nolint:errcheck // best-effort cleanup

	for {
		env, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, journal.ErrClosed) {
				return
			}
			log.Printf("consume: pull error: %v", err)
			select {
			case <-time.After(pullBackoff):
				continue
			case <-ctx.Done():
				return
			}
		}

		// Shutdown between pull and processing: leave the record
		// uncommitted so it is redelivered.
		if ctx.Err() != nil {
			return
		}

		c.process(env)

		// Commit whether or not processing succeeded: forward
		// progress beats retry-induced stalls, and hub delivery is
		// best-effort anyway.
		commitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := sub.Commit(commitCtx, env); err != nil {
			log.Printf("consume: commit failed partition=%d offset=%d: %v", env.Position.Partition, env.Position.Offset, err)
		}
		cancel()
	}
}

// process validates one record and forwards it to the hub. Any panic
// is contained here so a single bad record cannot kill the loop.
func (c *Consumer) process(env journal.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("consume: panic processing record id=%s: %v", env.Record.ID, r)
		}
	}()

	rec := env.Record

	if strings.TrimSpace(rec.Title) == "" {
		log.Printf("consume: dropping record with empty title id=%s partition=%d offset=%d", rec.ID, env.Position.Partition, env.Position.Offset)
		return
	}

	// Re-coerce independently of the dispatcher: a producer writing
	// to the journal directly may bypass enrichment.
	if !notification.ValidCategory(rec.Category) {
		log.Printf("consume: unknown category %q on record id=%s, coercing to INFO", rec.Category, rec.ID)
		rec.Category = notification.CoerceCategory(string(rec.Category))
	}

	c.hub.Publish(rec)
}
