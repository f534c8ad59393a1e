package directory

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/avkor/facility/internal/domain"
)

var (
	ErrPlayerNotFound  = errors.New("player not found")
	ErrNoActiveSession = errors.New("player has no facility session")
)

// StartFacilitySession opens a paid time window for the player and returns the
// accounting payload to forward to the central service.
func (d *Directory) StartFacilitySession(ctx context.Context, playerID domain.PlayerID, durationM int) (*domain.FacilitySession, map[string]any, error) {
	p, err := d.Player(ctx, playerID)
	if err != nil {
		return nil, nil, ErrPlayerNotFound
	}

	now := time.Now()
	session := &domain.FacilitySession{
		DateStart: now,
		DurationM: durationM,
		DateEnd:   now.Add(time.Duration(durationM) * time.Minute),
	}

	d.mu.Lock()
	p.FacilitySession = session
	d.persistPlayersLocked()
	d.mu.Unlock()

	return session, d.sessionPayload(playerID, session), nil
}

// AddTimeCredits extends a live session or opens a fresh one when the previous
// window already ended. The second return is true for a fresh session, which
// the caller forwards as a create rather than an update.
func (d *Directory) AddTimeCredits(playerID domain.PlayerID, additionalM int) (*domain.FacilitySession, bool, map[string]any, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.players[playerID]
	if !ok || p.FacilitySession == nil {
		return nil, false, nil, ErrNoActiveSession
	}

	now := time.Now()
	prev := p.FacilitySession
	fresh := prev.DateEnd.Before(now)

	var session *domain.FacilitySession
	if fresh {
		session = &domain.FacilitySession{
			DateStart: now,
			DurationM: additionalM,
			DateEnd:   now.Add(time.Duration(additionalM) * time.Minute),
		}
	} else {
		session = &domain.FacilitySession{
			DateStart: prev.DateStart,
			DurationM: prev.DurationM + additionalM,
			DateEnd:   prev.DateEnd.Add(time.Duration(additionalM) * time.Minute),
		}
	}
	p.FacilitySession = session
	d.persistPlayersLocked()

	return session, fresh, d.sessionPayload(playerID, session), nil
}

func (d *Directory) sessionPayload(playerID domain.PlayerID, s *domain.FacilitySession) map[string]any {
	return map[string]any{
		"date_exec":   s.DateStart.Format(time.RFC3339),
		"duration_m":  s.DurationM,
		"facility_id": d.facilityID,
		"player_id":   playerID,
	}
}

// GameResult is the outcome a room's local service uploads when a game ends.
type GameResult struct {
	ID              string          `json:"id" binding:"required"`
	Players         []domain.Player `json:"players"`
	Team            *domain.Team    `json:"team"`
	RoomType        string          `json:"roomType"`
	GameRule        string          `json:"gameRule"`
	GameLevel       int             `json:"gameLevel"`
	DurationSTheory int             `json:"durationStheory"`
	IsWon           bool            `json:"isWon"`
	Score           float64         `json:"score"`
	IsCollaborative bool            `json:"isCollaborative"`
	Log             []string        `json:"log"`
	ParentGsID      string          `json:"parentGsId"`
}

// RecordGameResult merges uploaded player/team state into the cache and builds
// the game-session payload for the central service.
func (d *Directory) RecordGameResult(res *GameResult) map[string]any {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i := range res.Players {
		up := res.Players[i]
		if up.ID == "" {
			continue
		}
		if cur, ok := d.players[up.ID]; ok {
			mergePlayer(cur, &up)
		} else {
			d.players[up.ID] = &up
		}
	}
	if res.Team != nil && res.Team.ID != "" {
		if cur, ok := d.teams[res.Team.ID]; ok {
			mergeTeam(cur, res.Team)
		} else {
			d.teams[res.Team.ID] = res.Team
		}
	}
	d.persistPlayersLocked()
	d.persistTeamsLocked()

	roomKey := domain.RoomDescriptor(res.RoomType, res.GameRule, res.GameLevel)
	durationActual := d.bestTimeLocked(roomKey, res)
	gameLog := d.debriefLogLocked(res)

	var teamID any
	var playerID any
	if res.Team != nil && res.Team.ID != "" {
		teamID = res.Team.ID
	} else if len(res.Players) > 0 {
		playerID = res.Players[0].ID
	}

	var flatLog any
	if len(res.Log) > 0 {
		flatLog = strings.Join(res.Log, ",")
	}

	return map[string]any{
		"id":                res.ID,
		"room_type":         res.RoomType,
		"game_rule":         res.GameRule,
		"game_level":        res.GameLevel,
		"duration_s_theory": res.DurationSTheory,
		"duration_s_actual": durationActual,
		"game_log":          gameLog,
		"log":               flatLog,
		"is_collaborative":  res.IsCollaborative,
		"facility_id":       d.facilityID,
		"team_id":           teamID,
		"player_id":         playerID,
		"is_won":            res.IsWon,
		"score":             res.Score,
		"parent_gs_id":      res.ParentGsID,
	}
}

// bestTimeLocked picks the team's best time for the room, else the slowest
// best time across the players.
func (d *Directory) bestTimeLocked(roomKey string, res *GameResult) float64 {
	if res.Team != nil && res.Team.ID != "" {
		if t, ok := d.teams[res.Team.ID]; ok {
			if st, ok := t.GamesHistory[roomKey]; ok {
				return st.BestTime
			}
		}
		return 0
	}
	var best float64
	for _, up := range res.Players {
		p, ok := d.players[up.ID]
		if !ok {
			continue
		}
		if st, ok := p.GamesHistory[roomKey]; ok && st.BestTime > best {
			best = st.BestTime
		}
	}
	return best
}

func (d *Directory) debriefLogLocked(res *GameResult) string {
	if res.Team != nil && res.Team.ID != "" {
		if t, ok := d.teams[res.Team.ID]; ok && len(t.EventsToDebrief) > 0 {
			return strings.Join(t.EventsToDebrief, ",")
		}
		return ""
	}
	var events []string
	for _, up := range res.Players {
		if p, ok := d.players[up.ID]; ok {
			events = append(events, p.EventsToDebrief...)
		}
	}
	return strings.Join(events, ",")
}

func mergePlayer(dst, src *domain.Player) {
	dst.NickName = orStr(src.NickName, dst.NickName)
	dst.FirstName = orStr(src.FirstName, dst.FirstName)
	dst.LastName = orStr(src.LastName, dst.LastName)
	if src.GamesHistory != nil {
		if dst.GamesHistory == nil {
			dst.GamesHistory = make(map[string]*domain.GameStats)
		}
		for k, v := range src.GamesHistory {
			dst.GamesHistory[k] = v
		}
	}
	if src.EventsToDebrief != nil {
		dst.EventsToDebrief = src.EventsToDebrief
	}
	if src.FacilitySession != nil {
		dst.FacilitySession = src.FacilitySession
	}
}

func mergeTeam(dst, src *domain.Team) {
	dst.Name = orStr(src.Name, dst.Name)
	if src.GamesHistory != nil {
		if dst.GamesHistory == nil {
			dst.GamesHistory = make(map[string]*domain.GameStats)
		}
		for k, v := range src.GamesHistory {
			dst.GamesHistory[k] = v
		}
	}
	if src.EventsToDebrief != nil {
		dst.EventsToDebrief = src.EventsToDebrief
	}
}

func orStr(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
