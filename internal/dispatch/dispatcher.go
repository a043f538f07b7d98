// Package dispatch turns partial notification submissions into
// canonical records and hands them to the journal without blocking the
// caller on durability.
package dispatch

import (
	"context"
	"log"
	"time"

	"github.com/pushbeam/backend/internal/journal"
	"github.com/pushbeam/backend/internal/notification"
)

// appendTimeout bounds how long a background append may take,
// including the journal client's internal retries.
const appendTimeout = 30 * time.Second

// SubmitRequest is a partial notification as received from the
// gateway: no ID, no timestamp.
type SubmitRequest struct {
	Title    string `json:"title"`
	Body     string `json:"body"`
	Category string `json:"category,omitempty"`
}

// Dispatcher enriches partial notifications and appends them to the
// journal asynchronously.
type Dispatcher struct {
	journal journal.Journal

	// afterAppend, when set, is invoked once the background append
	// completes. Tests use it to synchronize on the side effect.
	afterAppend func(rec notification.Record, pos journal.Position, err error)
}

// New creates a Dispatcher writing to the given journal.
func New(j journal.Journal) *Dispatcher {
	return &Dispatcher{journal: j}
}

// Submit enriches the partial notification into a canonical record
// and returns it immediately. The journal append happens on a
// separate goroutine; its outcome is logged, never surfaced to the
// caller. Success at this boundary means "validated and enriched",
// not "durably persisted" -- a caller that needs the durability
// acknowledgment must use SubmitSync.
func (d *Dispatcher) Submit(req SubmitRequest) notification.Record {
	rec := d.enrich(req)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
		defer cancel()

		pos, err := d.journal.Append(ctx, rec)
		if err != nil {
			log.Printf("dispatch: failed to append notification id=%s: %v", rec.ID, err)
		} else {
			log.Printf("dispatch: notification appended id=%s partition=%d offset=%d", rec.ID, pos.Partition, pos.Offset)
		}
		if d.afterAppend != nil {
			d.afterAppend(rec, pos, err)
		}
	}()

	return rec
}

// SubmitSync is the acknowledged variant: it returns only after the
// journal confirms the append, surfacing any failure to the caller.
func (d *Dispatcher) SubmitSync(ctx context.Context, req SubmitRequest) (notification.Record, journal.Position, error) {
	rec := d.enrich(req)
	pos, err := d.journal.Append(ctx, rec)
	return rec, pos, err
}

func (d *Dispatcher) enrich(req SubmitRequest) notification.Record {
	return notification.New(req.Title, req.Body, notification.Category(req.Category)).Normalize()
}

// SendInfo submits an INFO notification. The Send helpers cover the
// common internal call sites (system events publishing into the
// pipeline without going through the HTTP gateway).
func (d *Dispatcher) SendInfo(title, body string) notification.Record {
	return d.Submit(SubmitRequest{Title: title, Body: body, Category: string(notification.CategoryInfo)})
}

// SendSuccess submits a SUCCESS notification.
func (d *Dispatcher) SendSuccess(title, body string) notification.Record {
	return d.Submit(SubmitRequest{Title: title, Body: body, Category: string(notification.CategorySuccess)})
}

// SendWarning submits a WARNING notification.
func (d *Dispatcher) SendWarning(title, body string) notification.Record {
	return d.Submit(SubmitRequest{Title: title, Body: body, Category: string(notification.CategoryWarning)})
}

// SendError submits an ERROR notification.
func (d *Dispatcher) SendError(title, body string) notification.Record {
	return d.Submit(SubmitRequest{Title: title, Body: body, Category: string(notification.CategoryError)})
}
