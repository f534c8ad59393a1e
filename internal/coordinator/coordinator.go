// Package coordinator owns the scan-matching state machine: it turns the two
// independent RFID scan streams (booth kiosk, room door) into a single booked
// session, one room at a time. All per-room state is mutated under that room's
// lock; no caller touches the records directly.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/avkor/facility/internal/directory"
	"github.com/avkor/facility/internal/domain"
	"github.com/avkor/facility/internal/faults"
	"github.com/avkor/facility/internal/queue"
	"github.com/avkor/facility/internal/registry"
	"github.com/avkor/facility/internal/store"
)

var (
	ErrMissingTag        = errors.New("missing RFID tag")
	ErrMissingPlayer     = errors.New("missing player")
	ErrAllRoomsBusy      = errors.New("all rooms busy")
	ErrRoomBusy          = errors.New("game room busy")
	ErrBoothNotConfirmed = errors.New("booth not confirmed")
	ErrNoPendingSession  = errors.New("no session prepared")
	ErrScanMismatch      = errors.New("more players at the room than confirmed at the booth")
	ErrRoomFaulted       = errors.New("room scan state faulted, reset required")
)

const (
	scansDoc   = "scans"
	waitingDoc = "waiting-game-session"
	historyDoc = "session-history"
)

// Hub is the pub/sub surface the coordinator needs.
type Hub interface {
	Broadcast(group domain.GroupName, v any)
	AwaitOne(ctx context.Context, group domain.GroupName) (domain.Envelope, error)
}

// Deliverer hands booked sessions to the reliable delivery queue.
type Deliverer interface {
	Enqueue(ctx context.Context, dest string, rec queue.Record) error
	Run(ctx context.Context, dest string)
}

// Reporter is the aggregator surface the coordinator needs.
type Reporter interface {
	Report(source, message, stack string)
}

type Config struct {
	RoomServicePort int
	ConfirmTimeout  time.Duration
	GraceWindow     time.Duration
	BookingWindow   time.Duration
	StaleAfter      time.Duration
}

// roomState is the single-writer record for one room. Its mutex serializes
// every read-modify-write of the scan sets and the pending session.
type roomState struct {
	mu      sync.Mutex
	scan    domain.ScanState
	pending *domain.PendingSession
	boothID domain.BoothID

	// held marks a match or an elapsed grace window that could not book
	// because the room was unavailable; the next availability transition
	// retries it.
	held         bool
	graceElapsed bool
	graceTimer   *time.Timer
}

type Coordinator struct {
	hub       Hub
	registry  *registry.Registry
	queue     Deliverer
	directory *directory.Directory
	faults    Reporter
	store     store.Store
	cfg       Config

	mu    sync.Mutex
	rooms map[domain.RoomID]*roomState
	docs  docs

	runCtx context.Context
	now    func() time.Time
}

func New(hub Hub, reg *registry.Registry, q Deliverer, dir *directory.Directory, rep Reporter, st store.Store, cfg Config) *Coordinator {
	c := &Coordinator{
		hub:       hub,
		registry:  reg,
		queue:     q,
		directory: dir,
		faults:    rep,
		store:     st,
		cfg:       cfg,
		rooms:     make(map[domain.RoomID]*roomState),
		runCtx:    context.Background(),
		now:       time.Now,
	}
	c.restore()
	reg.OnAvailable(c.roomAvailable)
	return c
}

// restore reloads persisted scan state and held sessions so a restart does not
// strand players mid-check-in.
func (c *Coordinator) restore() {
	scans := make(map[domain.RoomID]domain.ScanState)
	if _, err := c.store.Get(context.Background(), scansDoc, &scans); err != nil {
		log.Error().Err(err).Str("module", "coordinator").Msg("load scan states")
	}
	waiting := make(map[domain.RoomID]domain.PendingSession)
	if _, err := c.store.Get(context.Background(), waitingDoc, &waiting); err != nil {
		log.Error().Err(err).Str("module", "coordinator").Msg("load waiting sessions")
	}

	for id, scan := range scans {
		c.rooms[id] = &roomState{scan: scan}
	}
	for id, pending := range waiting {
		rs := c.rooms[id]
		if rs == nil {
			rs = &roomState{scan: domain.NewScanState()}
			c.rooms[id] = rs
		}
		p := pending
		rs.pending = &p
	}
	c.docs.scans = scans
	c.docs.waiting = waiting
}

// Start arms grace timers for restored pending sessions and runs the stale
// cleanup loop until ctx is canceled.
func (c *Coordinator) Start(ctx context.Context) {
	c.runCtx = ctx

	c.mu.Lock()
	for id, rs := range c.rooms {
		rs.mu.Lock()
		if rs.pending != nil {
			c.armGraceLocked(rs, id)
		}
		rs.mu.Unlock()
	}
	c.mu.Unlock()

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.CleanupStale()
			}
		}
	}()
}

// ScanAtBooth records one kiosk scan. Room selection is first-fit across all
// rooms, not bound to the booth; the call then blocks on the booth's confirm
// handshake and prepares the session when it arrives.
func (c *Coordinator) ScanAtBooth(ctx context.Context, boothID domain.BoothID, tag string, player domain.PlayerID) (domain.RoomID, error) {
	if tag == "" {
		return "", ErrMissingTag
	}
	if player == "" {
		return "", ErrMissingPlayer
	}

	roomID, ok := c.registry.FindAvailableRoom()
	if !ok {
		return "", ErrAllRoomsBusy
	}

	rs := c.room(roomID)
	rs.mu.Lock()
	if rs.scan.Status == domain.ScanError {
		rs.mu.Unlock()
		return roomID, ErrRoomFaulted
	}
	if !contains(rs.scan.Booth, player) {
		rs.scan.Booth = append(rs.scan.Booth, player)
	}
	if rs.scan.Status == "" {
		rs.scan.Status = domain.ScanWaiting
	}
	rs.boothID = boothID
	c.saveScan(roomID, rs.scan)
	rs.mu.Unlock()

	scanned := scannedMsg("booth", string(boothID), player)
	c.hub.Broadcast(domain.BoothGroup(boothID), scanned)
	c.hub.Broadcast(domain.GroupMonitor, scanned)

	if err := c.confirmBooth(ctx, boothID, roomID, player); err != nil {
		return roomID, err
	}
	return roomID, nil
}

// confirmBooth waits for the booth's explicit confirm message and, on the
// first one, assembles the pending session for the room.
func (c *Coordinator) confirmBooth(ctx context.Context, boothID domain.BoothID, roomID domain.RoomID, player domain.PlayerID) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConfirmTimeout)
	defer cancel()

	env, err := c.hub.AwaitOne(ctx, domain.BoothGroup(boothID))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBoothNotConfirmed, err)
	}
	if env.Type != domain.MsgConfirm {
		return ErrBoothNotConfirmed
	}

	rs := c.room(roomID)
	rs.mu.Lock()
	if rs.scan.BoothConfirmed && rs.pending != nil {
		// Another scan's handshake already prepared the session; fold this
		// scan's player set into it instead of minting a second one.
		rs.pending.Data.Players = c.playerDetails(rs.scan.Booth)
		rs.pending.Data.Team, _ = c.directory.TeamFor(rs.scan.Booth)
		c.saveWaiting(roomID, rs.pending)
		rs.mu.Unlock()
		return nil
	}
	rs.scan.BoothConfirmed = true

	session, err := c.buildSession(roomID, rs.scan.Booth)
	if err != nil {
		rs.mu.Unlock()
		return err
	}
	rs.pending = &domain.PendingSession{Data: session, CreatedAt: c.now()}
	rs.held = false
	rs.graceElapsed = false
	c.saveScan(roomID, rs.scan)
	c.saveWaiting(roomID, rs.pending)
	c.armGraceLocked(rs, roomID)
	rs.mu.Unlock()

	log.Info().Str("module", "coordinator").Str("room", string(roomID)).
		Str("booth", string(boothID)).Str("session", session.ID).Msg("booth confirmed, session prepared")

	c.registry.SetPending(roomID, true)
	c.hub.Broadcast(domain.BoothGroup(boothID), struct {
		Type domain.MessageType `json:"type"`
		Goal domain.RoomID      `json:"goal"`
	}{domain.MsgDestination, roomID})
	c.hub.Broadcast(domain.RoomGroup(roomID), struct {
		Type     domain.MessageType `json:"type"`
		Location string             `json:"location"`
		ID       string             `json:"id"`
		Player   domain.PlayerID    `json:"player"`
	}{domain.MsgBoothConfirmed, "game-room", roomID.Num(), player})
	return nil
}

// ScanAtRoom records one door scan, gated on a confirmed booth, then
// evaluates the match.
func (c *Coordinator) ScanAtRoom(ctx context.Context, roomID domain.RoomID, tag string, player domain.PlayerID) (domain.ScanStatus, error) {
	if tag == "" {
		return "", ErrMissingTag
	}
	if player == "" {
		return "", ErrMissingPlayer
	}

	if st, ok := c.registry.Get(roomID); !ok || !st.IsAvailable {
		return "", ErrRoomBusy
	}

	rs := c.room(roomID)
	rs.mu.Lock()
	if rs.scan.Status == domain.ScanError {
		rs.mu.Unlock()
		return domain.ScanError, ErrRoomFaulted
	}
	if !rs.scan.BoothConfirmed {
		rs.mu.Unlock()
		return "", ErrBoothNotConfirmed
	}
	if rs.pending == nil {
		rs.mu.Unlock()
		return "", ErrNoPendingSession
	}
	if !contains(rs.scan.Room, player) {
		rs.scan.Room = append(rs.scan.Room, player)
	}
	c.saveScan(roomID, rs.scan)

	scanned := scannedMsg("game-room", roomID.Num(), player)
	c.hub.Broadcast(domain.RoomGroup(roomID), scanned)
	c.hub.Broadcast(domain.GroupMonitor, scanned)

	// Match evaluation, still under the room lock: two door scans must not
	// interleave their read-modify-write.
	switch {
	case setsEqual(rs.scan.Booth, rs.scan.Room):
		err := c.bookLocked(rs, roomID)
		rs.mu.Unlock()
		if err != nil {
			return "", err
		}
		return domain.ScanReady, nil

	case len(rs.scan.Room) > len(rs.scan.Booth):
		rs.scan.Status = domain.ScanError
		c.saveScan(roomID, rs.scan)
		rs.mu.Unlock()
		c.faults.Report(faults.DefaultSource,
			fmt.Sprintf("Scan mismatch at %s: more players at the room than confirmed at the booth", roomID), "")
		return domain.ScanError, ErrScanMismatch

	default:
		rs.scan.Status = domain.ScanWaiting
		c.saveScan(roomID, rs.scan)
		rs.mu.Unlock()
		return domain.ScanWaiting, nil
	}
}

// bookLocked books the pending session: stamps the room deadline, persists
// history, hands the payload to the delivery queue, and resets the room.
// When the room is unavailable the session is held instead, to be retried on
// the next availability transition. Caller holds rs.mu.
func (c *Coordinator) bookLocked(rs *roomState, roomID domain.RoomID) error {
	if rs.pending == nil {
		return ErrNoPendingSession
	}
	if st, ok := c.registry.Get(roomID); !ok || !st.IsAvailable {
		rs.held = true
		log.Info().Str("module", "coordinator").Str("room", string(roomID)).Msg("room unavailable, session held")
		return nil
	}

	data := rs.pending.Data
	data.BookRoomUntil = c.now().Add(c.cfg.BookingWindow)
	c.saveHistory(roomID, domain.SessionHistoryEntry{BookRoomUntil: data.BookRoomUntil})

	endpoint := fmt.Sprintf("http://%s:%d/api/start-game-session", roomID.Hostname(), c.cfg.RoomServicePort)
	rec := queue.NewRecord(endpoint, data)
	if err := c.queue.Enqueue(c.runCtx, queue.DestRooms, rec); err != nil {
		return fmt.Errorf("hand off session %s: %w", data.ID, err)
	}
	go c.queue.Run(c.runCtx, queue.DestRooms)

	log.Info().Str("module", "coordinator").Str("room", string(roomID)).
		Str("session", data.ID).Time("book_room_until", data.BookRoomUntil).Msg("session booked")

	ready := struct {
		Type   domain.MessageType `json:"type"`
		Status string             `json:"status"`
	}{domain.MsgStatusUpdate, "ready"}
	c.hub.Broadcast(domain.RoomGroup(roomID), ready)
	if rs.boothID != "" {
		c.hub.Broadcast(domain.BoothGroup(rs.boothID), ready)
	}

	c.resetLocked(rs, roomID)
	c.registry.SetPending(roomID, false)
	return nil
}

// graceExpired fires when the grace window closes. It re-reads current state
// before acting: a session that already booked or was cleaned up is a no-op.
func (c *Coordinator) graceExpired(roomID domain.RoomID) {
	rs := c.room(roomID)
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.pending == nil || !rs.scan.BoothConfirmed || rs.scan.Status == domain.ScanError {
		return
	}
	rs.graceElapsed = true
	log.Info().Str("module", "coordinator").Str("room", string(roomID)).Msg("grace window elapsed, proceeding with present players")
	if err := c.bookLocked(rs, roomID); err != nil {
		log.Error().Err(err).Str("module", "coordinator").Str("room", string(roomID)).Msg("grace booking failed")
	}
}

// roomAvailable retries a held or grace-elapsed session when the room comes
// back.
func (c *Coordinator) roomAvailable(roomID domain.RoomID) {
	rs := c.room(roomID)
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.pending == nil || !(rs.held || rs.graceElapsed) {
		return
	}
	if err := c.bookLocked(rs, roomID); err != nil {
		log.Error().Err(err).Str("module", "coordinator").Str("room", string(roomID)).Msg("held booking failed")
	}
}

// CleanupStale force-clears pending sessions past the staleness threshold and
// reports them; it is what un-sticks a room whose match never arrived.
func (c *Coordinator) CleanupStale() {
	c.mu.Lock()
	ids := make([]domain.RoomID, 0, len(c.rooms))
	for id := range c.rooms {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		rs := c.room(id)
		rs.mu.Lock()
		stale := rs.pending != nil && c.now().Sub(rs.pending.CreatedAt) > c.cfg.StaleAfter
		if stale {
			sessionID := rs.pending.Data.ID
			c.resetLocked(rs, id)
			rs.mu.Unlock()
			c.registry.SetPending(id, false)
			c.faults.Report(faults.DefaultSource,
				fmt.Sprintf("Pending session for %s timed out", id), "")
			log.Warn().Str("module", "coordinator").Str("room", string(id)).
				Str("session", sessionID).Msg("stale pending session cleared")
			continue
		}
		rs.mu.Unlock()
	}
}

// Reset is the external reset for a faulted room.
func (c *Coordinator) Reset(roomID domain.RoomID) {
	rs := c.room(roomID)
	rs.mu.Lock()
	c.resetLocked(rs, roomID)
	rs.mu.Unlock()
	c.registry.SetPending(roomID, false)
	log.Info().Str("module", "coordinator").Str("room", string(roomID)).Msg("room scan state reset")
}

// HasPending reports whether a session is currently held against the room.
func (c *Coordinator) HasPending(roomID domain.RoomID) bool {
	rs := c.room(roomID)
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.pending != nil
}

// StoredStates is the snapshot the hub replays to (re)connecting terminals.
func (c *Coordinator) StoredStates() map[domain.RoomID]domain.ScanState {
	c.mu.Lock()
	ids := make([]domain.RoomID, 0, len(c.rooms))
	for id := range c.rooms {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	out := make(map[domain.RoomID]domain.ScanState, len(ids))
	for _, id := range ids {
		rs := c.room(id)
		rs.mu.Lock()
		out[id] = cloneScan(rs.scan)
		rs.mu.Unlock()
	}
	return out
}

// buildSession assembles the session payload: team resolution when the booth
// set matches one, a random rule from the room's configured set, and seeded
// history entries.
func (c *Coordinator) buildSession(roomID domain.RoomID, players []domain.PlayerID) (domain.GameSession, error) {
	st, ok := c.registry.Get(roomID)
	if !ok {
		return domain.GameSession{}, fmt.Errorf("no room data for %s", roomID)
	}
	if len(st.Rules) == 0 {
		return domain.GameSession{}, fmt.Errorf("no rules configured for %s", roomID)
	}
	rule := st.Rules[rand.Intn(len(st.Rules))]

	team, _ := c.directory.TeamFor(players)
	c.directory.EnsureHistory(players, team, domain.RoomDescriptor(st.RoomType, rule, 1))

	return domain.GameSession{
		ID:              c.directory.NextGameSessionID(),
		Team:            team,
		Players:         c.playerDetails(players),
		IsCollaborative: true,
		Room:            fmt.Sprintf("%s,%s,1", st.RoomType, rule),
	}, nil
}

func (c *Coordinator) playerDetails(players []domain.PlayerID) []domain.Player {
	details := make([]domain.Player, 0, len(players))
	for _, id := range players {
		if p, ok := c.directory.CachedPlayer(id); ok {
			details = append(details, *p)
		} else {
			details = append(details, domain.Player{ID: id})
		}
	}
	return details
}

// resetLocked clears the room back to Idle. Caller holds rs.mu.
func (c *Coordinator) resetLocked(rs *roomState, roomID domain.RoomID) {
	if rs.graceTimer != nil {
		rs.graceTimer.Stop()
		rs.graceTimer = nil
	}
	rs.pending = nil
	rs.held = false
	rs.graceElapsed = false
	rs.scan = domain.NewScanState()
	c.saveScan(roomID, rs.scan)
	c.saveWaiting(roomID, nil)
}

func (c *Coordinator) armGraceLocked(rs *roomState, roomID domain.RoomID) {
	if rs.graceTimer != nil {
		rs.graceTimer.Stop()
	}
	rs.graceTimer = time.AfterFunc(c.cfg.GraceWindow, func() {
		c.graceExpired(roomID)
	})
}

func (c *Coordinator) room(id domain.RoomID) *roomState {
	c.mu.Lock()
	defer c.mu.Unlock()
	rs, ok := c.rooms[id]
	if !ok {
		rs = &roomState{scan: domain.NewScanState()}
		c.rooms[id] = rs
	}
	return rs
}

func scannedMsg(location, id string, player domain.PlayerID) any {
	return struct {
		Type     domain.MessageType `json:"type"`
		Location string             `json:"location"`
		ID       string             `json:"id"`
		Player   domain.PlayerID    `json:"player"`
	}{domain.MsgRFIDScanned, location, id, player}
}

func contains(set []domain.PlayerID, p domain.PlayerID) bool {
	for _, s := range set {
		if s == p {
			return true
		}
	}
	return false
}

func setsEqual(a, b []domain.PlayerID) bool {
	if len(a) != len(b) || len(a) == 0 {
		return false
	}
	in := make(map[domain.PlayerID]bool, len(a))
	for _, p := range a {
		in[p] = true
	}
	for _, p := range b {
		if !in[p] {
			return false
		}
	}
	return true
}

func cloneScan(s domain.ScanState) domain.ScanState {
	out := s
	out.Booth = append([]domain.PlayerID{}, s.Booth...)
	out.Room = append([]domain.PlayerID{}, s.Room...)
	return out
}
