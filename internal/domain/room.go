package domain

import "strings"

type (
	// RoomID is the short room key, e.g. "gra-1".
	RoomID  string
	BoothID string
)

// Hostname is the mDNS name the room's local service answers on.
func (r RoomID) Hostname() string {
	return string(r) + ".local"
}

// Num returns the numeric suffix of the room key ("gra-1" -> "1").
func (r RoomID) Num() string {
	if i := strings.LastIndex(string(r), "-"); i >= 0 {
		return string(r)[i+1:]
	}
	return string(r)
}

// RoomStatus is the registry record for one game room.
type RoomStatus struct {
	Online      bool     `json:"online"`
	IsAvailable bool     `json:"isAvailable"`
	Enabled     bool     `json:"enabled"`
	HasPending  bool     `json:"hasPending"`
	RoomType    string   `json:"roomType"`
	Rules       []string `json:"rules"`
}

type ScanStatus string

const (
	ScanWaiting ScanStatus = "waiting"
	ScanReady   ScanStatus = "ready"
	ScanError   ScanStatus = "error"
)

// ScanState holds the two scan sets being matched for one room.
// The JSON keys mirror what the terminals render.
type ScanState struct {
	Booth          []PlayerID `json:"booth"`
	Room           []PlayerID `json:"game-room"`
	BoothConfirmed bool       `json:"boothConfirmed"`
	Status         ScanStatus `json:"status"`
}

func NewScanState() ScanState {
	return ScanState{
		Booth:  []PlayerID{},
		Room:   []PlayerID{},
		Status: ScanWaiting,
	}
}
