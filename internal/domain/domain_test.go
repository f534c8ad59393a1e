package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/avkor/facility/internal/domain"
)

func TestRoomID(t *testing.T) {
	assert.Equal(t, "gra-1.local", domain.RoomID("gra-1").Hostname())
	assert.Equal(t, "1", domain.RoomID("gra-1").Num())
	assert.Equal(t, "12", domain.RoomID("gra-12").Num())
}

func TestGroupNames(t *testing.T) {
	assert.Equal(t, domain.GroupName("booth-1"), domain.BoothGroup("1"))
	assert.Equal(t, domain.GroupName("game-room-2"), domain.RoomGroup("gra-2"))
	assert.True(t, domain.BoothGroup("1").IsBooth())
	assert.True(t, domain.RoomGroup("gra-2").IsDoorScreen())
	assert.False(t, domain.GroupMonitor.IsBooth())
	assert.False(t, domain.GroupMonitor.IsDoorScreen())
}

func TestTeamMatches(t *testing.T) {
	team := &domain.Team{Players: []domain.PlayerID{"P1", "P2"}}
	assert.True(t, team.Matches([]domain.PlayerID{"P2", "P1"}))
	assert.False(t, team.Matches([]domain.PlayerID{"P1"}))
	assert.False(t, team.Matches([]domain.PlayerID{"P1", "P3"}))
	assert.False(t, team.Matches(nil))
}

func TestFacilitySessionWindows(t *testing.T) {
	now := time.Now()
	live := &domain.FacilitySession{DateEnd: now.Add(time.Minute)}
	assert.True(t, live.Active(now))
	assert.False(t, live.RecentlyEnded(now))

	ended := &domain.FacilitySession{DateEnd: now.Add(-30 * time.Minute)}
	assert.False(t, ended.Active(now))
	assert.True(t, ended.RecentlyEnded(now))

	old := &domain.FacilitySession{DateEnd: now.Add(-2 * time.Hour)}
	assert.False(t, old.RecentlyEnded(now))

	var none *domain.FacilitySession
	assert.False(t, none.Active(now))
	assert.False(t, none.RecentlyEnded(now))
}

func TestRoomDescriptor(t *testing.T) {
	assert.Equal(t, "maze > classic > L1", domain.RoomDescriptor("maze", "classic", 1))
}
