// Package hub is the pub/sub fan-out the terminals and the dashboard connect
// to. Connections register into named groups ("booth-1", "game-room-2",
// "monitor"); components broadcast to groups or await a single reply from one.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/avkor/facility/internal/domain"
	"github.com/avkor/facility/internal/store"
)

// ErrNoClients is returned by AwaitOne when the group has no live members;
// callers treat it as "terminal unreachable".
var ErrNoClients = errors.New("no clients registered under group")

// Conn is one live terminal connection. The transport adapter owns it and
// must Close it.
type Conn interface {
	TrySend(data []byte) error
	Close()
}

// StateSource supplies the last known scan-state snapshot replayed to a
// terminal on (re)connect.
type StateSource interface {
	StoredStates() map[domain.RoomID]domain.ScanState
}

// ErrorForwarder pushes the unresolved error table to a freshly connected
// dashboard client.
type ErrorForwarder interface {
	Forward()
}

const clientsDoc = "clients"

// clientConnections is the persisted aggregate client list shown on the
// dashboard.
type clientConnections struct {
	Booths      []string `json:"booths"`
	DoorScreens []string `json:"game-room-door-screens"`
}

type Hub struct {
	mu      sync.RWMutex
	groups  map[domain.GroupName]map[Conn]struct{}
	waiters map[domain.GroupName][]chan domain.Envelope

	store  store.Store
	states StateSource
	errors ErrorForwarder
}

func NewHub(st store.Store) *Hub {
	return &Hub{
		groups:  make(map[domain.GroupName]map[Conn]struct{}),
		waiters: make(map[domain.GroupName][]chan domain.Envelope),
		store:   st,
	}
}

// SetStateSource and SetErrorForwarder break the construction cycle between
// the hub and the components that broadcast through it.
func (h *Hub) SetStateSource(s StateSource)     { h.states = s }
func (h *Hub) SetErrorForwarder(f ErrorForwarder) { h.errors = f }

// Register joins the connection to the named group, creating the group on
// first use, then replays persisted state so a reconnecting terminal recovers
// mid-session.
func (h *Hub) Register(conn Conn, group domain.GroupName) {
	h.mu.Lock()
	if h.groups[group] == nil {
		h.groups[group] = make(map[Conn]struct{})
	}
	h.groups[group][conn] = struct{}{}
	h.mu.Unlock()

	log.Info().Str("module", "hub").Str("group", string(group)).Msg("client registered")

	if h.states != nil {
		if states := h.states.StoredStates(); len(states) > 0 {
			h.sendJSON(conn, struct {
				Type   domain.MessageType                  `json:"type"`
				States map[domain.RoomID]domain.ScanState `json:"states"`
			}{domain.MsgStoredStates, states})
		}
	}
	if group == domain.GroupMonitor && h.errors != nil {
		h.errors.Forward()
	}

	h.publishClientList()
}

// Unregister drops the connection; removing the last member evicts the group.
func (h *Hub) Unregister(conn Conn, group domain.GroupName) {
	h.mu.Lock()
	members, ok := h.groups[group]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(members, conn)
	evicted := len(members) == 0
	if evicted {
		delete(h.groups, group)
	}
	h.mu.Unlock()

	if evicted {
		log.Info().Str("module", "hub").Str("group", string(group)).Msg("group evicted, all clients disconnected")
	}
	h.publishClientList()
}

// Broadcast delivers to every live connection in the group, at most once per
// connection. Closed or slow connections are skipped, never retried.
func (h *Hub) Broadcast(group domain.GroupName, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "hub").Msg("broadcast marshal")
		return
	}

	h.mu.RLock()
	conns := make([]Conn, 0, len(h.groups[group]))
	for c := range h.groups[group] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		_ = c.TrySend(data)
	}
}

// AwaitOne resolves with the next inbound message from any member of the
// group. The listener is one-shot: it detaches on resolve, cancel, or
// timeout, so an abandoned handshake leaks nothing.
func (h *Hub) AwaitOne(ctx context.Context, group domain.GroupName) (domain.Envelope, error) {
	h.mu.Lock()
	if len(h.groups[group]) == 0 {
		h.mu.Unlock()
		return domain.Envelope{}, ErrNoClients
	}
	ch := make(chan domain.Envelope, 1)
	h.waiters[group] = append(h.waiters[group], ch)
	h.mu.Unlock()

	select {
	case env := <-ch:
		return env, nil
	case <-ctx.Done():
		h.dropWaiter(group, ch)
		return domain.Envelope{}, ctx.Err()
	}
}

func (h *Hub) dropWaiter(group domain.GroupName, ch chan domain.Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ws := h.waiters[group]
	for i, w := range ws {
		if w == ch {
			h.waiters[group] = append(ws[:i], ws[i+1:]...)
			return
		}
	}
}

// Receive routes an inbound frame from a registered connection: every waiter
// currently parked on the group resolves with it.
func (h *Hub) Receive(group domain.GroupName, raw []byte) {
	var env domain.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Warn().Err(err).Str("module", "hub").Str("group", string(group)).Msg("bad inbound frame")
		return
	}
	env.Raw = raw

	h.mu.Lock()
	ws := h.waiters[group]
	h.waiters[group] = nil
	h.mu.Unlock()

	for _, ch := range ws {
		ch <- env
	}
}

// GroupSize reports live membership; the coordinator uses it to decide whether
// a terminal is reachable at all.
func (h *Hub) GroupSize(group domain.GroupName) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[group])
}

// publishClientList persists the aggregate terminal list and pushes it to the
// dashboard.
func (h *Hub) publishClientList() {
	h.mu.RLock()
	clients := clientConnections{Booths: []string{}, DoorScreens: []string{}}
	for g := range h.groups {
		switch {
		case g.IsBooth():
			clients.Booths = append(clients.Booths, string(g))
		case g.IsDoorScreen():
			clients.DoorScreens = append(clients.DoorScreens, string(g))
		}
	}
	h.mu.RUnlock()

	sort.Strings(clients.Booths)
	sort.Strings(clients.DoorScreens)

	if err := h.store.Put(context.Background(), clientsDoc, clients); err != nil {
		log.Error().Err(err).Str("module", "hub").Msg("persist client list")
	}

	h.Broadcast(domain.GroupMonitor, struct {
		Type    domain.MessageType `json:"type"`
		Clients clientConnections  `json:"clients"`
	}{domain.MsgClientData, clients})
}

func (h *Hub) sendJSON(c Conn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "hub").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}
