package game_errors

import (
	"errors"
)

// Connection lifecycle errors.
var (
	ErrSuperseded          = errors.New("connection superseded by a newer connection")
	ErrConnectionClosed    = errors.New("player connection closed")
	ErrContextCancelled    = errors.New("context cancelled")
	ErrProtocolViolation   = errors.New("protocol violation")
	ErrMessageRateExceeded = errors.New("inbound message rate exceeded")
)

// ErrSendQueueFull is a transient per-recipient failure: the dispatcher
// isolates it and triggers disconnect cleanup for that identity only.
var ErrSendQueueFull = errors.New("send queue full")

// ErrInvalidRoom rejects empty or otherwise unusable room identifiers.
var ErrInvalidRoom = errors.New("invalid room identifier")
