// Package registry tracks per-room availability: remote heartbeats and admin
// toggles write it, the coordinator and the health monitor read it.
package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/avkor/facility/internal/domain"
	"github.com/avkor/facility/internal/store"
)

const statusDoc = "game-room-status"

// Broadcaster is the hub surface the registry needs.
type Broadcaster interface {
	Broadcast(group domain.GroupName, v any)
}

type Registry struct {
	mu    sync.RWMutex
	store store.Store
	hub   Broadcaster
	rooms map[domain.RoomID]*domain.RoomStatus

	onAvailable func(domain.RoomID)
}

func NewRegistry(st store.Store, hub Broadcaster) *Registry {
	r := &Registry{
		store: st,
		hub:   hub,
		rooms: make(map[domain.RoomID]*domain.RoomStatus),
	}
	if _, err := st.Get(context.Background(), statusDoc, &r.rooms); err != nil {
		log.Error().Err(err).Str("module", "registry").Msg("load room status")
	}
	return r
}

// OnAvailable registers the callback fired when a room transitions to
// available; the coordinator uses it to retry held pending sessions.
func (r *Registry) OnAvailable(fn func(domain.RoomID)) {
	r.onAvailable = fn
}

func (r *Registry) Get(id domain.RoomID) (domain.RoomStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if st, ok := r.rooms[id]; ok {
		return *st, true
	}
	return domain.RoomStatus{}, false
}

func (r *Registry) Snapshot() map[domain.RoomID]domain.RoomStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[domain.RoomID]domain.RoomStatus, len(r.rooms))
	for id, st := range r.rooms {
		out[id] = *st
	}
	return out
}

// RoomIDs returns all known rooms in stable order.
func (r *Registry) RoomIDs() []domain.RoomID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]domain.RoomID, 0, len(r.rooms))
	for id := range r.rooms {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// SetAvailability applies a room heartbeat: the room is online and reports its
// availability, enablement, type, and rule set.
func (r *Registry) SetAvailability(id domain.RoomID, available, enabled bool, roomType string, rules []string) {
	r.mu.Lock()
	st := r.roomLocked(id)
	enableChanged := st.Enabled != enabled
	becameAvailable := !st.IsAvailable && available
	st.Online = true
	st.IsAvailable = available
	st.Enabled = enabled
	st.RoomType = roomType
	st.Rules = rules
	r.persistLocked()
	r.mu.Unlock()

	log.Info().Str("module", "registry").Str("room", string(id)).
		Bool("available", available).Bool("enabled", enabled).Msg("heartbeat")

	if enableChanged {
		r.broadcastStates()
	}
	if becameAvailable {
		r.hub.Broadcast(domain.RoomGroup(id), struct {
			Type        domain.MessageType `json:"type"`
			Message     string             `json:"message"`
			IsAvailable bool               `json:"isAvailable"`
		}{domain.MsgRoomAvailable, "Room is now available, proceed with the scan.", true})
		if r.onAvailable != nil {
			r.onAvailable(id)
		}
	}
}

// SetEnabled applies an admin toggle.
func (r *Registry) SetEnabled(id domain.RoomID, enabled bool) {
	r.mu.Lock()
	st := r.roomLocked(id)
	st.Online = true
	st.Enabled = enabled
	r.persistLocked()
	r.mu.Unlock()

	r.broadcastStates()
}

func (r *Registry) SetPending(id domain.RoomID, pending bool) {
	r.mu.Lock()
	st := r.roomLocked(id)
	st.HasPending = pending
	r.persistLocked()
	r.mu.Unlock()

	r.broadcastStates()
}

func (r *Registry) SetOnline(id domain.RoomID, online bool) {
	r.mu.Lock()
	st := r.roomLocked(id)
	st.Online = online
	r.persistLocked()
	r.mu.Unlock()
}

// FindAvailableRoom is the booth's first-fit room pick: the first room
// reporting available, else the first without a pending session.
func (r *Registry) FindAvailableRoom() (domain.RoomID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]domain.RoomID, 0, len(r.rooms))
	for id := range r.rooms {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var fallback domain.RoomID
	for _, id := range ids {
		st := r.rooms[id]
		if st.IsAvailable {
			return id, true
		}
		if !st.HasPending && fallback == "" {
			fallback = id
		}
	}
	if fallback != "" {
		return fallback, true
	}
	return "", false
}

func (r *Registry) roomLocked(id domain.RoomID) *domain.RoomStatus {
	st, ok := r.rooms[id]
	if !ok {
		st = &domain.RoomStatus{}
		r.rooms[id] = st
	}
	return st
}

func (r *Registry) persistLocked() {
	if err := r.store.Put(context.Background(), statusDoc, r.rooms); err != nil {
		log.Error().Err(err).Str("module", "registry").Msg("persist room status")
	}
}

func (r *Registry) broadcastStates() {
	r.hub.Broadcast(domain.GroupMonitor, struct {
		Type   domain.MessageType                   `json:"type"`
		States map[domain.RoomID]domain.RoomStatus `json:"states"`
	}{domain.MsgToggleRoom, r.Snapshot()})
}
