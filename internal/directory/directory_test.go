package directory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avkor/facility/internal/directory"
	"github.com/avkor/facility/internal/domain"
	"github.com/avkor/facility/internal/store/memory"
)

type fakeCentral struct {
	mu           sync.Mutex
	players      map[domain.PlayerID]*domain.Player
	playerNum    int
	sessionNum   int
	err          error
	fetchCalls   int
	counterCalls int
}

func (c *fakeCentral) FetchPlayer(_ context.Context, id domain.PlayerID) (*domain.Player, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetchCalls++
	if c.err != nil {
		return nil, c.err
	}
	p, ok := c.players[id]
	if !ok {
		return nil, errors.New("no such player")
	}
	return p, nil
}

func (c *fakeCentral) LatestPlayerNumber(context.Context, int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counterCalls++
	return c.playerNum, c.err
}

func (c *fakeCentral) LatestSessionNumber(context.Context, int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionNum, c.err
}

func TestPlayerFetchesFromCentralOnMiss(t *testing.T) {
	central := &fakeCentral{players: map[domain.PlayerID]*domain.Player{
		"P1-5": {ID: "P1-5", NickName: "ariadne"},
	}}
	dir := directory.NewDirectory(memory.NewStore(), central, 1)
	ctx := context.Background()

	p, err := dir.Player(ctx, "P1-5")
	require.NoError(t, err)
	assert.Equal(t, "ariadne", p.NickName)
	assert.Equal(t, 1, central.fetchCalls)

	// Second lookup comes from the cache.
	_, err = dir.Player(ctx, "P1-5")
	require.NoError(t, err)
	assert.Equal(t, 1, central.fetchCalls)
}

func TestPlayerUnknownEverywhere(t *testing.T) {
	dir := directory.NewDirectory(memory.NewStore(), &fakeCentral{}, 1)
	_, err := dir.Player(context.Background(), "P1-404")
	assert.Error(t, err)
}

func TestInitCountersSeedsIDs(t *testing.T) {
	central := &fakeCentral{playerNum: 12, sessionNum: 41}
	dir := directory.NewDirectory(memory.NewStore(), central, 1)

	dir.InitCounters(context.Background(), time.Millisecond)
	assert.Equal(t, "F1-42", dir.NextGameSessionID())
	assert.Equal(t, "F1-43", dir.NextGameSessionID())
}

func TestInitCountersFallsBackToOne(t *testing.T) {
	central := &fakeCentral{err: errors.New("unreachable")}
	dir := directory.NewDirectory(memory.NewStore(), central, 3)

	dir.InitCounters(context.Background(), time.Millisecond)
	assert.Equal(t, "F3-1", dir.NextGameSessionID())
	assert.GreaterOrEqual(t, central.counterCalls, 2, "one delayed retry before giving up")
}

func TestTeamForExactSetOnly(t *testing.T) {
	dir := directory.NewDirectory(memory.NewStore(), &fakeCentral{}, 1)
	dir.SaveTeam(&domain.Team{ID: "T1", Players: []domain.PlayerID{"P1", "P2"}})
	dir.SaveTeam(&domain.Team{ID: "T2", Players: []domain.PlayerID{"P1", "P2", "P3"}})

	team, ok := dir.TeamFor([]domain.PlayerID{"P2", "P1"})
	require.True(t, ok)
	assert.Equal(t, "T1", team.ID)

	_, ok = dir.TeamFor([]domain.PlayerID{"P1"})
	assert.False(t, ok)
	_, ok = dir.TeamFor(nil)
	assert.False(t, ok)
}

func TestEnsureHistorySeedsRoomKey(t *testing.T) {
	dir := directory.NewDirectory(memory.NewStore(), &fakeCentral{}, 1)
	dir.SavePlayer(&domain.Player{ID: "P1"})
	team := &domain.Team{ID: "T1", Players: []domain.PlayerID{"P1"}}
	dir.SaveTeam(team)

	key := domain.RoomDescriptor("maze", "classic", 1)
	dir.EnsureHistory([]domain.PlayerID{"P1", "P-unknown"}, team, key)

	p, ok := dir.CachedPlayer("P1")
	require.True(t, ok)
	require.Contains(t, p.GamesHistory, key)
	assert.Zero(t, p.GamesHistory[key].Played)
	assert.Contains(t, team.GamesHistory, key)
}

func TestDirectorySurvivesRestart(t *testing.T) {
	st := memory.NewStore()
	dir := directory.NewDirectory(st, &fakeCentral{}, 1)
	dir.SavePlayer(&domain.Player{ID: "P1-1", NickName: "theseus"})

	reloaded := directory.NewDirectory(st, &fakeCentral{}, 1)
	p, ok := reloaded.CachedPlayer("P1-1")
	require.True(t, ok)
	assert.Equal(t, "theseus", p.NickName)
}

func TestActiveAndRecentPlayers(t *testing.T) {
	dir := directory.NewDirectory(memory.NewStore(), &fakeCentral{}, 1)
	now := time.Now()

	dir.SavePlayer(&domain.Player{ID: "P1-1", FacilitySession: &domain.FacilitySession{
		DateStart: now.Add(-10 * time.Minute), DurationM: 60, DateEnd: now.Add(50 * time.Minute),
	}})
	dir.SavePlayer(&domain.Player{ID: "P1-2", FacilitySession: &domain.FacilitySession{
		DateStart: now.Add(-2 * time.Hour), DurationM: 90, DateEnd: now.Add(-30 * time.Minute),
	}})
	dir.SavePlayer(&domain.Player{ID: "P1-3", FacilitySession: &domain.FacilitySession{
		DateStart: now.Add(-5 * time.Hour), DurationM: 60, DateEnd: now.Add(-4 * time.Hour),
	}})
	dir.SavePlayer(&domain.Player{ID: "P1-4"})

	active := dir.ActivePlayers(now)
	require.Len(t, active, 1)
	assert.Equal(t, domain.PlayerID("P1-1"), active[0].ID)

	recent := dir.RecentPlayers(now)
	require.Len(t, recent, 1)
	assert.Equal(t, domain.PlayerID("P1-2"), recent[0].ID)
}
