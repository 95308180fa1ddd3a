// Package messages defines the wire protocol between clients and the roam
// server. Frames are JSON objects tagged with a "kind" field so either side
// can dispatch without knowing the payload shape in advance.
package messages

// Inbound message kinds (client to server).
const (
	KindJoinRoom  = "join-room"
	KindMoveTo    = "move-to"
	KindLeaveRoom = "leave-room"
	KindPing      = "ping"
)

// Outbound message kinds (server to client).
const (
	KindRoomSnapshot = "room-snapshot"
	KindPlayerMoved  = "player-moved"
	KindPlayerJoined = "player-joined"
	KindPlayerLeft   = "player-left"
	KindPong         = "pong"
	KindError        = "error"
)

// ClientMessage is a single inbound frame. Fields beyond Kind are only
// meaningful for the kinds that use them.
type ClientMessage struct {
	Kind string  `json:"kind"`
	Room string  `json:"room,omitempty"`
	X    float64 `json:"x,omitempty"`
	Y    float64 `json:"y,omitempty"`
}

// PlayerSnapshot is one player's position inside a room snapshot.
type PlayerSnapshot struct {
	ID string  `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
}

// ServerMessage is a single outbound frame.
type ServerMessage struct {
	Kind    string           `json:"kind"`
	Room    string           `json:"room,omitempty"`
	ID      string           `json:"id,omitempty"`
	X       float64          `json:"x,omitempty"`
	Y       float64          `json:"y,omitempty"`
	Arrived bool             `json:"arrived,omitempty"`
	Players []PlayerSnapshot `json:"players,omitempty"`
	Message string           `json:"message,omitempty"`
}

func NewRoomSnapshotMessage(roomID string, players []PlayerSnapshot) ServerMessage {
	return ServerMessage{
		Kind:    KindRoomSnapshot,
		Room:    roomID,
		Players: players,
	}
}

func NewPlayerMovedMessage(playerID string, x, y float64, arrived bool) ServerMessage {
	return ServerMessage{
		Kind:    KindPlayerMoved,
		ID:      playerID,
		X:       x,
		Y:       y,
		Arrived: arrived,
	}
}

func NewPlayerJoinedMessage(playerID string, x, y float64) ServerMessage {
	return ServerMessage{
		Kind: KindPlayerJoined,
		ID:   playerID,
		X:    x,
		Y:    y,
	}
}

func NewPlayerLeftMessage(playerID string) ServerMessage {
	return ServerMessage{
		Kind: KindPlayerLeft,
		ID:   playerID,
	}
}

func NewPongMessage() ServerMessage {
	return ServerMessage{Kind: KindPong}
}

func NewErrorMessage(msg string) ServerMessage {
	return ServerMessage{
		Kind:    KindError,
		Message: msg,
	}
}
