package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/coder/websocket"

	"github.com/voxmux/voxmux/internal/mux"
)

// wsConn adapts a [websocket.Conn] to the session transport interface.
//
// A dedicated read loop owns conn.Read, because cancelling a Read context
// closes the underlying connection. Receive selects on that loop's output, so
// a per-call timeout expires without harming the connection.
type wsConn struct {
	conn   *websocket.Conn
	frames chan []byte
	errs   chan error
	cancel context.CancelFunc
}

var _ mux.Conn = (*wsConn)(nil)

func newWSConn(ctx context.Context, conn *websocket.Conn) *wsConn {
	ctx, cancel := context.WithCancel(ctx)
	c := &wsConn{
		conn:   conn,
		frames: make(chan []byte),
		errs:   make(chan error, 1),
		cancel: cancel,
	}
	go c.readLoop(ctx)
	return c
}

// readLoop pumps frames from the socket until a read fails or the connection
// context ends. The error slot is buffered so the loop never blocks on exit.
func (c *wsConn) readLoop(ctx context.Context) {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			c.errs <- err
			return
		}
		if typ != websocket.MessageBinary {
			c.errs <- fmt.Errorf("%w: expected binary frame, got %v", mux.ErrProtocol, typ)
			return
		}
		select {
		case c.frames <- data:
		case <-ctx.Done():
			return
		}
	}
}

// Receive implements [mux.Conn].
func (c *wsConn) Receive(ctx context.Context) ([]byte, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case err := <-c.errs:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SendTranscript implements [mux.Conn]. Messages are JSON text frames.
func (c *wsConn) SendTranscript(ctx context.Context, msg mux.TranscriptMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("server: marshal transcript: %w", err)
	}
	return c.conn.Write(ctx, websocket.MessageText, data)
}

// stop ends the read loop. The caller still closes the websocket itself.
func (c *wsConn) stop() {
	c.cancel()
}
