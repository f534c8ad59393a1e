// Package faults collects fault reports from every component, deduplicates
// them, and keeps the dashboard's error table current.
package faults

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/avkor/facility/internal/domain"
	"github.com/avkor/facility/internal/store"
)

// DefaultSource labels errors raised by the facility node itself.
const DefaultSource = "facility"

const errorsDoc = "reported-errors"

// Broadcaster is the hub surface the aggregator needs.
type Broadcaster interface {
	Broadcast(group domain.GroupName, v any)
}

type Record struct {
	Message   string    `json:"error"`
	Stack     string    `json:"stack,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Resolved  bool      `json:"resolved"`
}

type Aggregator struct {
	mu    sync.Mutex
	store store.Store
	hub   Broadcaster
	table map[string][]*Record // keyed by source
	now   func() time.Time
}

func NewAggregator(st store.Store, hub Broadcaster) *Aggregator {
	a := &Aggregator{
		store: st,
		hub:   hub,
		table: make(map[string][]*Record),
		now:   time.Now,
	}
	if _, err := st.Get(context.Background(), errorsDoc, &a.table); err != nil {
		log.Error().Err(err).Str("module", "faults").Msg("load reported errors")
	}
	return a
}

// Report records a fault. An unresolved record with the same (source, message)
// only has its timestamp refreshed; a new fault is appended and pushed to the
// dashboard as a single-item delta.
func (a *Aggregator) Report(source, message, stack string) {
	if source == "" {
		source = DefaultSource
	}

	a.mu.Lock()
	for _, rec := range a.table[source] {
		if rec.Message == message && !rec.Resolved {
			rec.Timestamp = a.now()
			a.persistLocked()
			a.mu.Unlock()
			return
		}
	}

	rec := &Record{Message: message, Stack: stack, Timestamp: a.now()}
	a.table[source] = append(a.table[source], rec)
	a.persistLocked()
	delta := map[string][]Record{source: {trim(rec)}}
	a.mu.Unlock()

	log.Warn().Str("module", "faults").Str("source", source).Str("error", message).Msg("fault reported")
	a.hub.Broadcast(domain.GroupMonitor, struct {
		Type domain.MessageType  `json:"type"`
		Data map[string][]Record `json:"data"`
	}{domain.MsgError, delta})
}

// Resolve marks the matching unresolved record resolved and pushes the full
// updated table.
func (a *Aggregator) Resolve(source, message string) {
	if source == "" {
		source = DefaultSource
	}

	a.mu.Lock()
	var hit bool
	for _, rec := range a.table[source] {
		if rec.Message == message && !rec.Resolved {
			rec.Resolved = true
			hit = true
			break
		}
	}
	if !hit {
		a.mu.Unlock()
		return
	}
	a.persistLocked()
	full := a.trimmedLocked()
	a.mu.Unlock()

	log.Info().Str("module", "faults").Str("source", source).Str("error", message).Msg("fault resolved")
	a.hub.Broadcast(domain.GroupMonitor, struct {
		Type domain.MessageType  `json:"type"`
		Data map[string][]Record `json:"data"`
	}{domain.MsgError, full})
}

// Forward sends the full current table to the dashboard group; the hub calls
// it when a dashboard client (re)connects.
func (a *Aggregator) Forward() {
	a.mu.Lock()
	full := a.trimmedLocked()
	a.mu.Unlock()

	a.hub.Broadcast(domain.GroupMonitor, struct {
		Type domain.MessageType  `json:"type"`
		Data map[string][]Record `json:"data"`
	}{domain.MsgReportedErrors, full})
}

// Unresolved reports how many live faults a source currently has.
func (a *Aggregator) Unresolved(source string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, rec := range a.table[source] {
		if !rec.Resolved {
			n++
		}
	}
	return n
}

func (a *Aggregator) persistLocked() {
	if err := a.store.Put(context.Background(), errorsDoc, a.table); err != nil {
		log.Error().Err(err).Str("module", "faults").Msg("persist reported errors")
	}
}

func (a *Aggregator) trimmedLocked() map[string][]Record {
	out := make(map[string][]Record, len(a.table))
	for source, recs := range a.table {
		trimmed := make([]Record, 0, len(recs))
		for _, rec := range recs {
			trimmed = append(trimmed, trim(rec))
		}
		out[source] = trimmed
	}
	return out
}

// trim keeps only the first stack line; the dashboard never renders the rest.
func trim(rec *Record) Record {
	out := *rec
	if i := strings.IndexByte(out.Stack, '\n'); i >= 0 {
		out.Stack = out.Stack[:i]
	}
	return out
}
