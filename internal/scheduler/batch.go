package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/johnnysoutodev/desafio-capsula-do-tempo-com-ia/internal/capsule"
	"github.com/johnnysoutodev/desafio-capsula-do-tempo-com-ia/internal/db"
	"github.com/johnnysoutodev/desafio-capsula-do-tempo-com-ia/internal/mail"
)

// Deliverer dispatches one capsule and reports the final outcome after the
// channel's internal retries.
type Deliverer interface {
	Deliver(ctx context.Context, c *capsule.Capsule) (*mail.Result, error)
}

// Store is the slice of the record store the batch processor needs to
// commit confirmed deliveries.
type Store interface {
	MarkSent(id string) (*capsule.Capsule, error)
	RecordError(id, message string) error
}

// sqlStore adapts the db package to the Store interface.
type sqlStore struct {
	db *sql.DB
}

// NewSQLStore wraps a database handle as a batch-processor Store.
func NewSQLStore(database *sql.DB) Store {
	return &sqlStore{db: database}
}

func (s *sqlStore) MarkSent(id string) (*capsule.Capsule, error) {
	return db.MarkSent(s.db, id)
}

func (s *sqlStore) RecordError(id, message string) error {
	return db.RecordError(s.db, id, message)
}

// Outcome is the per-capsule result of a delivery attempt within a cycle.
type Outcome struct {
	CapsuleID string `json:"capsule_id"`
	Contact   string `json:"contact"`
	Success   bool   `json:"success"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Batcher partitions due capsules into consecutive bounded-concurrency
// chunks and dispatches each through the delivery channel. A chunk fully
// settles before the next one starts; chunks are separated by a fixed
// delay that throttles the mail provider, not the store.
type Batcher struct {
	channel       Deliverer
	store         Store
	maxConcurrent int
	chunkDelay    time.Duration
}

// NewBatcher creates a batch processor.
func NewBatcher(channel Deliverer, store Store, maxConcurrent int, chunkDelay time.Duration) *Batcher {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Batcher{
		channel:       channel,
		store:         store,
		maxConcurrent: maxConcurrent,
		chunkDelay:    chunkDelay,
	}
}

// Process delivers every capsule and returns one outcome per input, in
// input order. A failing member never aborts its siblings or the batch.
func (b *Batcher) Process(ctx context.Context, capsules []capsule.Capsule) []Outcome {
	outcomes := make([]Outcome, len(capsules))

	for start := 0; start < len(capsules); start += b.maxConcurrent {
		end := min(start+b.maxConcurrent, len(capsules))

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				outcomes[i] = b.processOne(ctx, &capsules[i])
			}(i)
		}
		wg.Wait()

		if end < len(capsules) && b.chunkDelay > 0 {
			select {
			case <-time.After(b.chunkDelay):
			case <-ctx.Done():
				// Remaining capsules stay pending; the next cycle picks
				// them up. Mark them as not attempted.
				for i := end; i < len(capsules); i++ {
					outcomes[i] = Outcome{
						CapsuleID: capsules[i].ID,
						Contact:   capsules[i].Contact,
						Error:     ctx.Err().Error(),
					}
				}
				return outcomes
			}
		}
	}

	return outcomes
}

// processOne runs a single delivery task. Any failure, including a panic,
// is converted to a failed Outcome at this boundary.
func (b *Batcher) processOne(ctx context.Context, c *capsule.Capsule) (out Outcome) {
	out = Outcome{CapsuleID: c.ID, Contact: c.Contact}

	defer func() {
		if r := recover(); r != nil {
			out.Success = false
			out.Error = fmt.Sprintf("panic: %v", r)
			log.Printf("delivery task for capsule %s panicked: %v", c.ID, r)
			b.recordError(c.ID, out.Error)
		}
	}()

	result, err := b.channel.Deliver(ctx, c)
	if err != nil {
		out.Error = err.Error()
		b.recordError(c.ID, out.Error)
		return out
	}
	out.MessageID = result.ProviderMessageID

	if _, err := b.store.MarkSent(c.ID); err != nil {
		// At-least-once edge: the notification went out but the status
		// transition failed, so a future cycle may re-deliver. Reported
		// for manual reconciliation, not retried here.
		out.Error = err.Error()
		log.Printf("capsule %s delivered to %s but MarkSent failed: %v", c.ID, c.Contact, err)
		return out
	}

	out.Success = true
	return out
}

// recordError stores the delivery error on the still-pending capsule,
// best-effort.
func (b *Batcher) recordError(id, message string) {
	if err := b.store.RecordError(id, message); err != nil {
		log.Printf("failed to record delivery error for capsule %s: %v", id, err)
	}
}
