// SPDX-License-Identifier: ice License 1.0

package fixture

import (
	"context"
	"io"
	"sync"

	"github.com/cockroachdb/errors"
)

// MemoryTransport is a channel-backed frame transport. Tests play the relay by
// draining Outbound and feeding Inbound.
type MemoryTransport struct {
	Inbound  chan []byte
	Outbound chan []byte

	closed    chan struct{}
	closeOnce sync.Once
}

func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{
		Inbound:  make(chan []byte, 1024),
		Outbound: make(chan []byte, 1024),
		closed:   make(chan struct{}),
	}
}

func (t *MemoryTransport) ReadFrame(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-t.Inbound:
		return frame, nil
	case <-t.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "read cancelled")
	}
}

func (t *MemoryTransport) WriteFrame(ctx context.Context, frame []byte) error {
	select {
	case t.Outbound <- frame:
		return nil
	case <-t.closed:
		return errors.Wrap(io.ErrClosedPipe, "transport closed")
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "write cancelled")
	}
}

func (t *MemoryTransport) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })

	return nil
}
