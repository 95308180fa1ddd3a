// Package game_player models a connected player transport. The coordinator
// only sees the GamePlayer interface; the websocket implementation lives in
// ws_player.go.
package game_player

import (
	"context"

	messages "github.com/roamgame/roam/game/messages"
)

// GamePlayer is a message-oriented duplex channel for one connection.
//
// Send must not block on the peer: implementations queue the payload and
// deliver it from a dedicated writer, reporting a full queue or closed
// connection as an error so the caller can trigger disconnect cleanup.
type GamePlayer interface {
	ID() string
	// Read blocks until the next inbound frame, ctx cancellation, or
	// transport close.
	Read(ctx context.Context) (messages.ClientMessage, error)
	// Send enqueues an encoded frame for delivery in order.
	Send(payload []byte) error
	// Close tears down the transport with a normal closure.
	Close(reason string)
	// CloseWithError tears down the transport signalling an error to the peer.
	CloseWithError(err error)
}
