// Package queue is the durable per-destination FIFO of outbound calls to the
// remote systems. Delivery is at-least-once: records survive restarts, retries
// are bounded, and exhausted records stay parked until an explicit retry sweep.
package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/avkor/facility/internal/domain"
	"github.com/avkor/facility/internal/faults"
	"github.com/avkor/facility/internal/store"
)

// Logical destinations, each with its own ordered record set.
const (
	DestCentral = "central"
	DestRooms   = "rooms"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

type Record struct {
	CallID        string `json:"call_id"`
	Endpoint      string `json:"endpoint"`
	Payload       any    `json:"payload"`
	Attachment    string `json:"attachment,omitempty"` // local file sent as multipart
	Status        Status `json:"status"`
	Attempts      int    `json:"attempts"`
	FailureReason string `json:"failure_reason,omitempty"`
}

func NewRecord(endpoint string, payload any) Record {
	return Record{
		CallID:   "call_" + uuid.NewString(),
		Endpoint: endpoint,
		Payload:  payload,
		Status:   StatusPending,
	}
}

// FailureMessage is the aggregator message reported when a record exhausts its
// retry budget, and resolved when a later call to the endpoint succeeds.
func FailureMessage(endpoint string) string {
	return fmt.Sprintf("Failed call to %s", endpoint)
}

// Sender delivers one record to its endpoint.
type Sender interface {
	Post(ctx context.Context, rec Record) error
}

// Reporter is the aggregator surface the queue needs.
type Reporter interface {
	Report(source, message, stack string)
	Resolve(source, message string)
}

// Broadcaster is the hub surface the queue needs.
type Broadcaster interface {
	Broadcast(group domain.GroupName, v any)
}

type Queue struct {
	mu      sync.Mutex
	running map[string]bool

	store  store.Store
	sender Sender
	faults Reporter
	hub    Broadcaster

	retryDelay  time.Duration
	maxAttempts int
}

func NewQueue(st store.Store, sender Sender, rep Reporter, hub Broadcaster, retryDelay time.Duration, maxAttempts int) *Queue {
	return &Queue{
		running:     make(map[string]bool),
		store:       st,
		sender:      sender,
		faults:      rep,
		hub:         hub,
		retryDelay:  retryDelay,
		maxAttempts: maxAttempts,
	}
}

// document is the persisted shape of one destination's backlog.
type document struct {
	PendingAPICalls []Record `json:"pending_api_calls"`
}

func docName(dest string) string { return "calls-" + dest }

// Enqueue appends the record to the destination's backlog. It does not start
// delivery; callers follow up with Run.
func (q *Queue) Enqueue(ctx context.Context, dest string, rec Record) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	doc := q.loadLocked(ctx, dest)
	doc.PendingAPICalls = append(doc.PendingAPICalls, rec)
	if err := q.store.Put(ctx, docName(dest), doc); err != nil {
		return fmt.Errorf("enqueue %s: %w", rec.CallID, err)
	}
	log.Info().Str("module", "queue").Str("dest", dest).Str("call", rec.CallID).Msg("call stored")
	return nil
}

// Run drains the destination's pending records in FIFO order. It is
// single-flight per destination: a second Run while one is in-flight is a
// no-op. Run blocks; callers that must not wait start it on a goroutine.
func (q *Queue) Run(ctx context.Context, dest string) {
	q.mu.Lock()
	if q.running[dest] {
		q.mu.Unlock()
		return
	}
	q.running[dest] = true
	backlog := pendingOf(q.loadLocked(ctx, dest))
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		delete(q.running, dest)
		q.mu.Unlock()
	}()

	for len(backlog) > 0 {
		if ctx.Err() != nil {
			return
		}
		rec := backlog[0]
		backlog = backlog[1:]

		err := q.sender.Post(ctx, rec)
		if err == nil {
			q.complete(ctx, dest, rec)
			continue
		}

		rec.Attempts++
		rec.FailureReason = err.Error()
		if rec.Attempts < q.maxAttempts {
			log.Warn().Str("module", "queue").Str("call", rec.CallID).
				Int("attempts", rec.Attempts).Msg("delivery failed, will retry")
			q.update(ctx, dest, rec.CallID, func(r *Record) {
				r.Attempts = rec.Attempts
				r.Status = StatusPending
				r.FailureReason = rec.FailureReason
			})
			select {
			case <-time.After(q.retryDelay):
			case <-ctx.Done():
				return
			}
			backlog = append(backlog, rec)
			continue
		}

		log.Error().Str("module", "queue").Str("call", rec.CallID).
			Str("endpoint", rec.Endpoint).Msg("delivery failed permanently")
		q.update(ctx, dest, rec.CallID, func(r *Record) {
			r.Attempts = rec.Attempts
			r.Status = StatusFailed
			r.FailureReason = rec.FailureReason
		})
		q.faults.Report(faults.DefaultSource, FailureMessage(rec.Endpoint), rec.FailureReason)
	}
}

// RetryFailed revives every failed record for the destination and runs the
// backlog; it is the only path that retries a record past its budget. The
// health monitor triggers it when a remote comes back.
func (q *Queue) RetryFailed(ctx context.Context, dest string) {
	q.mu.Lock()
	doc := q.loadLocked(ctx, dest)
	revived := false
	for i := range doc.PendingAPICalls {
		if doc.PendingAPICalls[i].Status == StatusFailed {
			doc.PendingAPICalls[i].Status = StatusPending
			doc.PendingAPICalls[i].Attempts = 0
			revived = true
		}
	}
	if revived {
		if err := q.store.Put(ctx, docName(dest), doc); err != nil {
			log.Error().Err(err).Str("module", "queue").Str("dest", dest).Msg("persist revived calls")
		}
	}
	q.mu.Unlock()

	if revived {
		log.Info().Str("module", "queue").Str("dest", dest).Msg("retrying failed calls")
		q.Run(ctx, dest)
	}
}

// Pending returns a copy of the destination's backlog, for inspection.
func (q *Queue) Pending(ctx context.Context, dest string) []Record {
	q.mu.Lock()
	defer q.mu.Unlock()
	doc := q.loadLocked(ctx, dest)
	out := make([]Record, len(doc.PendingAPICalls))
	copy(out, doc.PendingAPICalls)
	return out
}

// complete marks the record delivered and immediately prunes completed
// records: a delivered call carries no further value.
func (q *Queue) complete(ctx context.Context, dest string, rec Record) {
	q.mu.Lock()
	doc := q.loadLocked(ctx, dest)
	kept := doc.PendingAPICalls[:0]
	for _, r := range doc.PendingAPICalls {
		if r.CallID != rec.CallID && r.Status != StatusCompleted {
			kept = append(kept, r)
		}
	}
	doc.PendingAPICalls = kept
	if err := q.store.Put(ctx, docName(dest), doc); err != nil {
		log.Error().Err(err).Str("module", "queue").Str("dest", dest).Msg("persist completed call")
	}
	q.mu.Unlock()

	log.Info().Str("module", "queue").Str("call", rec.CallID).Msg("call delivered")

	// A delivered session start is worth surfacing on the dashboard.
	if strings.Contains(rec.Endpoint, "start-game-session") {
		q.hub.Broadcast(domain.GroupMonitor, struct {
			Type domain.MessageType `json:"type"`
		}{domain.MsgConfirmed})
	}
	q.faults.Resolve(faults.DefaultSource, FailureMessage(rec.Endpoint))
}

func (q *Queue) update(ctx context.Context, dest, callID string, mutate func(*Record)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	doc := q.loadLocked(ctx, dest)
	for i := range doc.PendingAPICalls {
		if doc.PendingAPICalls[i].CallID == callID {
			mutate(&doc.PendingAPICalls[i])
			break
		}
	}
	if err := q.store.Put(ctx, docName(dest), doc); err != nil {
		log.Error().Err(err).Str("module", "queue").Str("dest", dest).Msg("persist call update")
	}
}

func (q *Queue) loadLocked(ctx context.Context, dest string) *document {
	doc := &document{}
	if _, err := q.store.Get(ctx, docName(dest), doc); err != nil {
		log.Error().Err(err).Str("module", "queue").Str("dest", dest).Msg("load calls")
	}
	return doc
}

func pendingOf(doc *document) []Record {
	out := make([]Record, 0, len(doc.PendingAPICalls))
	for _, r := range doc.PendingAPICalls {
		if r.Status == StatusPending {
			out = append(out, r)
		}
	}
	return out
}
