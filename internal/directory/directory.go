// Package directory is the local cache of players and teams, with fallback
// lookups against the central account service. The coordinator resolves team
// membership through it; the accounting handlers mutate facility sessions
// through it.
package directory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/avkor/facility/internal/domain"
	"github.com/avkor/facility/internal/store"
)

const (
	playersDoc = "players"
	teamsDoc   = "teams"
)

// CentralClient is the outbound surface to the central account service.
type CentralClient interface {
	FetchPlayer(ctx context.Context, id domain.PlayerID) (*domain.Player, error)
	LatestPlayerNumber(ctx context.Context, facilityID int) (int, error)
	LatestSessionNumber(ctx context.Context, facilityID int) (int, error)
}

type Directory struct {
	mu      sync.Mutex
	store   store.Store
	central CentralClient

	facilityID  int
	players     map[domain.PlayerID]*domain.Player
	teams       map[string]*domain.Team
	nextPlayer  int
	nextSession int
}

func NewDirectory(st store.Store, central CentralClient, facilityID int) *Directory {
	d := &Directory{
		store:       st,
		central:     central,
		facilityID:  facilityID,
		players:     make(map[domain.PlayerID]*domain.Player),
		teams:       make(map[string]*domain.Team),
		nextPlayer:  1,
		nextSession: 1,
	}
	if _, err := st.Get(context.Background(), playersDoc, &d.players); err != nil {
		log.Error().Err(err).Str("module", "directory").Msg("load players")
	}
	if _, err := st.Get(context.Background(), teamsDoc, &d.teams); err != nil {
		log.Error().Err(err).Str("module", "directory").Msg("load teams")
	}
	return d
}

// InitCounters seeds the player and session ID counters from the central
// service, with one delayed retry; both fall back to 1 when the central
// service is unreachable at startup.
func (d *Directory) InitCounters(ctx context.Context, retryDelay time.Duration) {
	fetch := func() (int, int, error) {
		p, err := d.central.LatestPlayerNumber(ctx, d.facilityID)
		if err != nil {
			return 0, 0, err
		}
		s, err := d.central.LatestSessionNumber(ctx, d.facilityID)
		if err != nil {
			return 0, 0, err
		}
		return p, s, nil
	}

	p, s, err := fetch()
	if err != nil {
		select {
		case <-time.After(retryDelay):
		case <-ctx.Done():
			return
		}
		p, s, err = fetch()
	}
	if err != nil {
		log.Warn().Err(err).Str("module", "directory").Msg("id counters unavailable, starting from 1")
		return
	}

	d.mu.Lock()
	d.nextPlayer = p + 1
	d.nextSession = s + 1
	d.mu.Unlock()
	log.Info().Str("module", "directory").Int("next_player", p+1).Int("next_session", s+1).Msg("id counters seeded")
}

// NextGameSessionID mints the next facility-scoped session ID ("F1-42").
func (d *Directory) NextGameSessionID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := fmt.Sprintf("F%d-%d", d.facilityID, d.nextSession)
	d.nextSession++
	return id
}

// Player returns the cached player, fetching and caching from central on a
// miss.
func (d *Directory) Player(ctx context.Context, id domain.PlayerID) (*domain.Player, error) {
	d.mu.Lock()
	if p, ok := d.players[id]; ok {
		d.mu.Unlock()
		return p, nil
	}
	d.mu.Unlock()

	p, err := d.central.FetchPlayer(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetch player %s: %w", id, err)
	}
	d.SavePlayer(p)
	return p, nil
}

// CachedPlayer is a lookup that never leaves the node.
func (d *Directory) CachedPlayer(id domain.PlayerID) (*domain.Player, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.players[id]
	return p, ok
}

func (d *Directory) SavePlayer(p *domain.Player) {
	d.mu.Lock()
	if p.GamesHistory == nil {
		p.GamesHistory = make(map[string]*domain.GameStats)
	}
	if p.EventsToDebrief == nil {
		p.EventsToDebrief = []string{}
	}
	d.players[p.ID] = p
	d.persistPlayersLocked()
	d.mu.Unlock()
}

func (d *Directory) SaveTeam(t *domain.Team) {
	d.mu.Lock()
	if t.GamesHistory == nil {
		t.GamesHistory = make(map[string]*domain.GameStats)
	}
	d.teams[t.ID] = t
	d.persistTeamsLocked()
	d.mu.Unlock()
}

// TeamFor resolves the team whose membership is exactly the given player set,
// if one exists.
func (d *Directory) TeamFor(players []domain.PlayerID) (*domain.Team, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ids := make([]string, 0, len(d.teams))
	for id := range d.teams {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if d.teams[id].Matches(players) {
			return d.teams[id], true
		}
	}
	return nil, false
}

// EnsureHistory seeds an empty games-history slot for the room key on every
// participant (and the team, when one matched) so later result uploads always
// find a record to update.
func (d *Directory) EnsureHistory(players []domain.PlayerID, team *domain.Team, roomKey string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	changed := false
	for _, id := range players {
		p, ok := d.players[id]
		if !ok {
			continue
		}
		if p.GamesHistory == nil {
			p.GamesHistory = make(map[string]*domain.GameStats)
		}
		if _, ok := p.GamesHistory[roomKey]; !ok {
			p.GamesHistory[roomKey] = &domain.GameStats{}
			changed = true
		}
	}
	if changed {
		d.persistPlayersLocked()
	}
	if team != nil {
		if team.GamesHistory == nil {
			team.GamesHistory = make(map[string]*domain.GameStats)
		}
		if _, ok := team.GamesHistory[roomKey]; !ok {
			team.GamesHistory[roomKey] = &domain.GameStats{}
			d.persistTeamsLocked()
		}
	}
}

// ActivePlayers lists players whose facility session window covers now.
func (d *Directory) ActivePlayers(now time.Time) []*domain.Player {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*domain.Player
	for _, p := range d.sortedPlayersLocked() {
		if p.FacilitySession.Active(now) {
			out = append(out, p)
		}
	}
	return out
}

// RecentPlayers lists players whose session ended within the last hour.
func (d *Directory) RecentPlayers(now time.Time) []*domain.Player {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*domain.Player
	for _, p := range d.sortedPlayersLocked() {
		if p.FacilitySession.RecentlyEnded(now) {
			out = append(out, p)
		}
	}
	return out
}

// sortedPlayersLocked orders by the numeric suffix of the player ID.
func (d *Directory) sortedPlayersLocked() []*domain.Player {
	out := make([]*domain.Player, 0, len(d.players))
	for _, p := range d.players {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return playerNum(out[i].ID) < playerNum(out[j].ID)
	})
	return out
}

func playerNum(id domain.PlayerID) int {
	parts := strings.SplitN(string(id), "-", 2)
	if len(parts) != 2 {
		return 0
	}
	n, _ := strconv.Atoi(parts[1])
	return n
}

func (d *Directory) persistPlayersLocked() {
	if err := d.store.Put(context.Background(), playersDoc, d.players); err != nil {
		log.Error().Err(err).Str("module", "directory").Msg("persist players")
	}
}

func (d *Directory) persistTeamsLocked() {
	if err := d.store.Put(context.Background(), teamsDoc, d.teams); err != nil {
		log.Error().Err(err).Str("module", "directory").Msg("persist teams")
	}
}
