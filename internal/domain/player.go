package domain

import "time"

type PlayerID string

// GameStats is one entry of a games-history map, keyed by the room descriptor
// "RoomType > Rule > L<level>".
type GameStats struct {
	BestTime    float64 `json:"best_time"`
	Played      int     `json:"played"`
	PlayedToday int     `json:"played_today"`
}

type League struct {
	Country  string `json:"country"`
	City     string `json:"city"`
	District string `json:"district"`
	Other    string `json:"other"`
}

// FacilitySession is the paid time window a player has at the facility.
type FacilitySession struct {
	DateStart time.Time `json:"date_start"`
	DurationM int       `json:"duration_m"`
	DateEnd   time.Time `json:"date_end"`
}

// Active reports whether the session window covers now.
func (s *FacilitySession) Active(now time.Time) bool {
	return s != nil && now.Before(s.DateEnd)
}

// RecentlyEnded reports whether the session ended within the last hour.
func (s *FacilitySession) RecentlyEnded(now time.Time) bool {
	if s == nil || now.Before(s.DateEnd) {
		return false
	}
	return now.Sub(s.DateEnd) <= time.Hour
}

type Player struct {
	ID              PlayerID              `json:"id"`
	NickName        string                `json:"nick_name"`
	FirstName       string                `json:"first_name"`
	LastName        string                `json:"last_name"`
	Gender          string                `json:"gender"`
	BirthDate       string                `json:"birth_date"`
	League          League                `json:"league"`
	GamesHistory    map[string]*GameStats `json:"games_history"`
	FacilitySession *FacilitySession      `json:"facility_session,omitempty"`
	EventsToDebrief []string              `json:"events_to_debrief"`
}

type Team struct {
	ID               string                `json:"id"`
	Name             string                `json:"name"`
	NbrOfPlayers     int                   `json:"nbr_of_players"`
	Players          []PlayerID            `json:"players"`
	UniqueIdentifier string                `json:"unique_identifier"`
	League           League                `json:"league"`
	GamesHistory     map[string]*GameStats `json:"games_history"`
	EventsToDebrief  []string              `json:"events_to_debrief"`
}

// Matches reports whether the team is exactly the given player set,
// order-insensitive.
func (t *Team) Matches(players []PlayerID) bool {
	if len(t.Players) != len(players) || len(players) == 0 {
		return false
	}
	in := make(map[PlayerID]bool, len(players))
	for _, p := range players {
		in[p] = true
	}
	for _, p := range t.Players {
		if !in[p] {
			return false
		}
	}
	return true
}
