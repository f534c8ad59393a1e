package domain

import "fmt"

// GroupName identifies a set of terminal connections on the hub.
type GroupName string

// GroupMonitor is the dashboard group.
const GroupMonitor GroupName = "monitor"

func BoothGroup(id BoothID) GroupName {
	return GroupName(fmt.Sprintf("booth-%s", id))
}

func RoomGroup(id RoomID) GroupName {
	return GroupName(fmt.Sprintf("game-room-%s", id.Num()))
}

func (g GroupName) IsBooth() bool {
	return len(g) > 6 && g[:6] == "booth-"
}

func (g GroupName) IsDoorScreen() bool {
	return len(g) > 10 && g[:10] == "game-room-"
}

type MessageType string

// Message types carried over the hub.
const (
	MsgClientData      MessageType = "clientData"
	MsgConfirm         MessageType = "confirm" // inbound, booth terminal
	MsgConfirmed       MessageType = "confirmed"
	MsgError           MessageType = "error"
	MsgFacilitySession MessageType = "facility_session"
	MsgRFIDScanned     MessageType = "rfid_scanned"
	MsgRoomAvailable   MessageType = "roomAvailable"
	MsgStatusUpdate    MessageType = "status_update"
	MsgToggleRoom      MessageType = "toggleRoom"
	MsgDestination     MessageType = "destination"
	MsgBoothConfirmed  MessageType = "booth_confirmed"
	MsgStoredStates    MessageType = "storedStates"
	MsgReportedErrors  MessageType = "reportedErrors"
)

// Envelope is an inbound terminal message: the routed type plus the raw frame
// for callers that need more than the type.
type Envelope struct {
	Type MessageType `json:"type"`
	Raw  []byte      `json:"-"`
}
