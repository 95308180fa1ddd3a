package game

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	game_errors "github.com/roamgame/roam/game/errors"
	messages "github.com/roamgame/roam/game/messages"
)

// fakePlayer is an in-memory GamePlayer for coordinator tests: inbound
// frames are fed through a channel, outbound frames are captured.
type fakePlayer struct {
	id string
	in chan messages.ClientMessage

	mu          sync.Mutex
	sent        [][]byte
	failSend    bool
	closed      bool
	closeReason string

	closec    chan struct{}
	closeOnce sync.Once
}

func newFakePlayer(id string) *fakePlayer {
	return &fakePlayer{
		id:     id,
		in:     make(chan messages.ClientMessage, 16),
		closec: make(chan struct{}),
	}
}

func (f *fakePlayer) ID() string { return f.id }

func (f *fakePlayer) Read(ctx context.Context) (messages.ClientMessage, error) {
	select {
	case msg := <-f.in:
		return msg, nil
	case <-f.closec:
		return messages.ClientMessage{}, game_errors.ErrConnectionClosed
	case <-ctx.Done():
		return messages.ClientMessage{}, game_errors.ErrContextCancelled
	}
}

func (f *fakePlayer) Send(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return game_errors.ErrConnectionClosed
	}
	if f.failSend {
		return game_errors.ErrSendQueueFull
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	f.sent = append(f.sent, cp)
	return nil
}

func (f *fakePlayer) Close(reason string) {
	f.mu.Lock()
	f.closed = true
	f.closeReason = reason
	f.mu.Unlock()
	f.closeOnce.Do(func() { close(f.closec) })
}

func (f *fakePlayer) CloseWithError(err error) {
	f.Close(err.Error())
}

func (f *fakePlayer) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// received decodes every captured outbound frame.
func (f *fakePlayer) received(t *testing.T) []messages.ServerMessage {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	msgs := make([]messages.ServerMessage, 0, len(f.sent))
	for _, payload := range f.sent {
		var msg messages.ServerMessage
		require.NoError(t, json.Unmarshal(payload, &msg))
		msgs = append(msgs, msg)
	}
	return msgs
}

// receivedOfKind filters captured frames by kind.
func (f *fakePlayer) receivedOfKind(t *testing.T, kind string) []messages.ServerMessage {
	t.Helper()
	var out []messages.ServerMessage
	for _, msg := range f.received(t) {
		if msg.Kind == kind {
			out = append(out, msg)
		}
	}
	return out
}
