package coordinator

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/avkor/facility/internal/domain"
)

// docs is the write-through shadow of the persisted coordinator documents.
// It exists so that saving one room's slice of a document never needs the
// other rooms' locks.
type docs struct {
	mu      sync.Mutex
	scans   map[domain.RoomID]domain.ScanState
	waiting map[domain.RoomID]domain.PendingSession
}

func (c *Coordinator) saveScan(id domain.RoomID, s domain.ScanState) {
	c.docs.mu.Lock()
	defer c.docs.mu.Unlock()
	if c.docs.scans == nil {
		c.docs.scans = make(map[domain.RoomID]domain.ScanState)
	}
	c.docs.scans[id] = cloneScan(s)
	if err := c.store.Put(context.Background(), scansDoc, c.docs.scans); err != nil {
		log.Error().Err(err).Str("module", "coordinator").Msg("persist scan states")
	}
}

func (c *Coordinator) saveWaiting(id domain.RoomID, p *domain.PendingSession) {
	c.docs.mu.Lock()
	defer c.docs.mu.Unlock()
	if c.docs.waiting == nil {
		c.docs.waiting = make(map[domain.RoomID]domain.PendingSession)
	}
	if p == nil {
		delete(c.docs.waiting, id)
	} else {
		c.docs.waiting[id] = *p
	}
	if err := c.store.Put(context.Background(), waitingDoc, c.docs.waiting); err != nil {
		log.Error().Err(err).Str("module", "coordinator").Msg("persist waiting sessions")
	}
}

func (c *Coordinator) saveHistory(id domain.RoomID, entry domain.SessionHistoryEntry) {
	c.docs.mu.Lock()
	defer c.docs.mu.Unlock()
	history := make(map[domain.RoomID][]domain.SessionHistoryEntry)
	if _, err := c.store.Get(context.Background(), historyDoc, &history); err != nil {
		log.Error().Err(err).Str("module", "coordinator").Msg("load session history")
	}
	history[id] = append(history[id], entry)
	if err := c.store.Put(context.Background(), historyDoc, history); err != nil {
		log.Error().Err(err).Str("module", "coordinator").Msg("persist session history")
	}
}

// LastBooking reports the most recent booking deadline for the room, used by
// the is-upcoming check.
func (c *Coordinator) LastBooking(id domain.RoomID) (domain.SessionHistoryEntry, bool) {
	c.docs.mu.Lock()
	defer c.docs.mu.Unlock()
	history := make(map[domain.RoomID][]domain.SessionHistoryEntry)
	if _, err := c.store.Get(context.Background(), historyDoc, &history); err != nil {
		log.Error().Err(err).Str("module", "coordinator").Msg("load session history")
		return domain.SessionHistoryEntry{}, false
	}
	entries := history[id]
	if len(entries) == 0 {
		return domain.SessionHistoryEntry{}, false
	}
	return entries[len(entries)-1], true
}
