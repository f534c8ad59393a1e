package domain

import (
	"fmt"
	"time"
)

// RoomDescriptor is the games-history key for one room configuration.
func RoomDescriptor(roomType, rule string, level int) string {
	return fmt.Sprintf("%s > %s > L%d", roomType, rule, level)
}

// GameSession is the payload handed to a room's local service to start a game.
type GameSession struct {
	ID              string    `json:"id"`
	Team            *Team     `json:"team"`
	Players         []Player  `json:"players"`
	IsCollaborative bool      `json:"is_collaborative"`
	Room            string    `json:"room"` // "RoomType,Rule,Level"
	BookRoomUntil   time.Time `json:"book_room_until"`
}

// PendingSession is an assembled session held against a room until the door
// scans match or the grace window runs out.
type PendingSession struct {
	Data      GameSession `json:"data"`
	CreatedAt time.Time   `json:"created_at"`
}

// SessionHistoryEntry records the booking deadline of the last session started
// in a room.
type SessionHistoryEntry struct {
	BookRoomUntil time.Time `json:"book_room_until"`
}
