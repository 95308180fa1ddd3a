package game_player

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	game_errors "github.com/roamgame/roam/game/errors"
	messages "github.com/roamgame/roam/game/messages"
)

// StatusSuperseded is sent when a newer connection replaces this one.
const StatusSuperseded websocket.StatusCode = 4001

// WSPlayer is the websocket GamePlayer. Outbound frames pass through a
// bounded queue drained by a single writer goroutine, so enqueue order is
// delivery order and a stalled peer only ever blocks its own writer.
type WSPlayer struct {
	id     string
	wsconn *websocket.Conn

	sendq        chan []byte
	writeTimeout time.Duration

	closeOnce sync.Once
	done      chan struct{}
}

// NewWSPlayer upgrades the request to a websocket and starts the writer.
func NewWSPlayer(id string, w http.ResponseWriter, r *http.Request, queueSize int, writeTimeout time.Duration) (*WSPlayer, error) {
	wsconn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return nil, err
	}
	p := &WSPlayer{
		id:           id,
		wsconn:       wsconn,
		sendq:        make(chan []byte, queueSize),
		writeTimeout: writeTimeout,
		done:         make(chan struct{}),
	}
	go p.writeLoop()
	return p, nil
}

func (p *WSPlayer) ID() string {
	return p.id
}

// Read blocks for the next inbound frame and maps transport failures onto
// the coordinator's error taxonomy.
func (p *WSPlayer) Read(ctx context.Context) (msg messages.ClientMessage, err error) {
	if err = wsjson.Read(ctx, p.wsconn, &msg); err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			err = game_errors.ErrContextCancelled
		case errors.Is(err, io.EOF), websocket.CloseStatus(err) != -1:
			err = game_errors.ErrConnectionClosed
		default:
			err = game_errors.ErrProtocolViolation
		}
	}
	return
}

// Send enqueues payload for the writer goroutine. It never blocks: a full
// queue means the peer is too slow to keep up and is reported as an error.
func (p *WSPlayer) Send(payload []byte) error {
	select {
	case <-p.done:
		return game_errors.ErrConnectionClosed
	default:
	}
	select {
	case p.sendq <- payload:
		return nil
	default:
		return game_errors.ErrSendQueueFull
	}
}

func (p *WSPlayer) writeLoop() {
	for {
		select {
		case <-p.done:
			return
		case payload := <-p.sendq:
			ctx, cancel := context.WithTimeout(context.Background(), p.writeTimeout)
			err := p.wsconn.Write(ctx, websocket.MessageText, payload)
			cancel()
			if err != nil {
				// Closing the transport unblocks the session's read
				// loop, which owns disconnect cleanup.
				p.close(websocket.StatusAbnormalClosure, "write failed")
				return
			}
		}
	}
}

// Close tears down the transport with a normal closure.
func (p *WSPlayer) Close(reason string) {
	p.close(websocket.StatusNormalClosure, reason)
}

// CloseWithError tears down the transport signalling the error to the peer.
// Supersession gets its own status code so clients can tell a duplicate
// login from a genuine failure.
func (p *WSPlayer) CloseWithError(err error) {
	switch {
	case errors.Is(err, game_errors.ErrSuperseded):
		p.close(StatusSuperseded, err.Error())
	case errors.Is(err, game_errors.ErrProtocolViolation),
		errors.Is(err, game_errors.ErrMessageRateExceeded):
		p.close(websocket.StatusProtocolError, err.Error())
	default:
		p.close(websocket.StatusAbnormalClosure, err.Error())
	}
}

func (p *WSPlayer) close(code websocket.StatusCode, reason string) {
	p.closeOnce.Do(func() {
		close(p.done)
		p.wsconn.Close(code, reason)
	})
}
