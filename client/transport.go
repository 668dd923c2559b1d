// SPDX-License-Identifier: ice License 1.0

package client

import (
	"context"
	"net/http"
	"sync"
	stdlibtime "time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
)

type wsTransport struct {
	conn    *websocket.Conn
	writeMx sync.Mutex
}

const wsWriteTimeout = 10 * stdlibtime.Second

// DialRelay opens a websocket connection to the relay and wraps it as a frame
// Transport. No reconnect policy lives here.
func DialRelay(ctx context.Context, relayURL string) (Transport, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, relayURL, http.Header{})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial relay %v", relayURL)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	return &wsTransport{conn: conn}, nil
}

func (t *wsTransport) ReadFrame(ctx context.Context) ([]byte, error) {
	if deadline, ok := ctx.Deadline(); ok {
		if err := t.conn.SetReadDeadline(deadline); err != nil {
			return nil, errors.Wrap(err, "failed to set read deadline")
		}
	}
	for {
		messageType, frame, err := t.conn.ReadMessage()
		if err != nil {
			return nil, errors.Wrap(err, "failed to read websocket message")
		}
		if messageType == websocket.TextMessage {
			return frame, nil
		}
	}
}

func (t *wsTransport) WriteFrame(ctx context.Context, frame []byte) error {
	t.writeMx.Lock()
	defer t.writeMx.Unlock()
	deadline := stdlibtime.Now().Add(wsWriteTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return errors.Wrap(err, "failed to set write deadline")
	}

	return errors.Wrap(t.conn.WriteMessage(websocket.TextMessage, frame), "failed to write websocket message")
}

func (t *wsTransport) Close() error {
	t.writeMx.Lock()
	message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := t.conn.WriteControl(websocket.CloseMessage, message, stdlibtime.Now().Add(wsWriteTimeout)); err != nil {
		t.writeMx.Unlock()

		return errors.Wrap(t.conn.Close(), "failed to close websocket connection")
	}
	t.writeMx.Unlock()

	return errors.Wrap(t.conn.Close(), "failed to close websocket connection")
}
