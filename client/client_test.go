// SPDX-License-Identifier: ice License 1.0

package client

import (
	"context"
	"testing"
	stdlibtime "time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/marmotd/keyrelay/client/fixture"
	"github.com/marmotd/keyrelay/model"
)

const (
	testLocalIdentity = "0000000000000000000000000000000000000000000000000000000000000001"
	testTimeout       = 2 * stdlibtime.Second
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestConfig() *Config {
	return &Config{
		RelayURL:             "wss://relay.test.example.com",
		LocalIdentity:        testLocalIdentity,
		WatchedKind:          model.KindKeyPackage,
		RelayRequestsEnabled: true,
	}
}

func newTestClient(t *testing.T, cfg *Config, signer Signer) (*Client, *fixture.MemoryTransport) {
	t.Helper()

	transport := fixture.NewMemoryTransport()
	relayClient := New(cfg, transport, signer)
	ctx, cancel := context.WithCancel(context.Background())
	runExited := make(chan struct{})
	go func() {
		defer close(runExited)
		_ = relayClient.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		_ = transport.Close()
		<-runExited
	})

	return relayClient, transport
}

func helperNextOutboundEnvelope(t *testing.T, transport *fixture.MemoryTransport) model.Envelope {
	t.Helper()

	select {
	case frame := <-transport.Outbound:
		envelope, err := model.ParseMessage(frame)
		require.NoError(t, err)

		return envelope
	case <-stdlibtime.After(testTimeout):
		t.Fatal("expected an outbound frame, got none")
	}

	return nil
}

func helperDeliver(t *testing.T, transport *fixture.MemoryTransport, envelope model.Envelope) {
	t.Helper()

	frame, err := envelope.MarshalJSON()
	require.NoError(t, err)
	transport.Inbound <- frame
}

func helperSignedEvent(id string, kind int, content string) *model.Event {
	return &model.Event{Event: nostr.Event{
		ID:        id,
		PubKey:    testLocalIdentity,
		CreatedAt: 1,
		Kind:      kind,
		Tags:      model.Tags{},
		Content:   content,
		Sig:       "deadbeef",
	}}
}

type fakeSigner struct {
	calls int
}

func (s *fakeSigner) Sign(_ context.Context, event *model.Event) error {
	s.calls++
	event.ID = "signed-by-fake"
	event.Sig = "fake-signature"

	return nil
}
