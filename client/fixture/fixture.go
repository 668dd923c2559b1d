// SPDX-License-Identifier: ice License 1.0

// Package fixture provides a simulated relay for tests: an in-memory frame
// transport for protocol-level tests and a real websocket relay stub for
// transport-level ones.
package fixture

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

type (
	// Writer sends one frame back to the client under test.
	Writer interface {
		WriteFrame(frame []byte) error
	}

	// ProcessingFunc scripts the relay side: it is invoked once per frame the
	// client sends.
	ProcessingFunc func(ctx context.Context, w Writer, frame []byte)

	Relay struct {
		server         *httptest.Server
		processingFunc ProcessingFunc
		ctx            context.Context
		wg             sync.WaitGroup
	}
)

func NewTestRelay(ctx context.Context, processingFunc ProcessingFunc) *Relay {
	relay := &Relay{processingFunc: processingFunc, ctx: ctx}
	relay.server = httptest.NewServer(http.HandlerFunc(relay.handleUpgrade))

	return relay
}

func (r *Relay) URL() string {
	return "ws" + strings.TrimPrefix(r.server.URL, "http")
}

func (r *Relay) Close() {
	r.server.Close()
	r.wg.Wait()
}

func (r *Relay) handleUpgrade(w http.ResponseWriter, req *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(req, w)
	if err != nil {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer conn.Close()
		writer := &serverConnWriter{conn: conn}
		for r.ctx.Err() == nil {
			frame, op, readErr := wsutil.ReadClientData(conn)
			if readErr != nil {
				return
			}
			if op == ws.OpText && len(frame) > 0 {
				r.processingFunc(r.ctx, writer, frame)
			}
		}
	}()
}

type serverConnWriter struct {
	conn    net.Conn
	writeMx sync.Mutex
}

func (w *serverConnWriter) WriteFrame(frame []byte) error {
	w.writeMx.Lock()
	defer w.writeMx.Unlock()

	return wsutil.WriteServerMessage(w.conn, ws.OpText, frame)
}
