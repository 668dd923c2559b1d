// SPDX-License-Identifier: ice License 1.0

package client

import (
	"context"
	"testing"
	stdlibtime "time"

	"github.com/stretchr/testify/require"

	"github.com/marmotd/keyrelay/model"
)

func TestSubscribeDeliversToHandler(t *testing.T) {
	relayClient, transport := newTestClient(t, newTestConfig(), nil)

	received := make(chan *model.Event, 8)
	subscriptionID, err := relayClient.Subscribe(context.Background(), model.Filters{{Kinds: []int{model.KindKeyPackage}}}, func(_ string, event *model.Event) {
		received <- event
	})
	require.NoError(t, err)

	req, ok := helperNextOutboundEnvelope(t, transport).(*model.ReqEnvelope)
	require.True(t, ok)
	require.Equal(t, subscriptionID, req.SubscriptionID)

	helperDeliver(t, transport, &model.EventEnvelope{SubscriptionID: &subscriptionID, Event: *helperSignedEvent("e1", model.KindKeyPackage, "aa")})
	event := <-received
	require.Equal(t, "e1", event.ID)

	require.NoError(t, relayClient.CloseSubscription(context.Background(), subscriptionID))
	helperExpectClose(t, transport, subscriptionID)
	require.Empty(t, relayClient.ActiveSubscriptions())
}

func TestCloseSubscriptionIsIdempotent(t *testing.T) {
	relayClient, transport := newTestClient(t, newTestConfig(), nil)

	subscriptionID, err := relayClient.Subscribe(context.Background(), model.Filters{{Kinds: []int{model.KindKeyPackage}}}, func(string, *model.Event) {})
	require.NoError(t, err)
	_, ok := helperNextOutboundEnvelope(t, transport).(*model.ReqEnvelope)
	require.True(t, ok)

	require.NoError(t, relayClient.CloseSubscription(context.Background(), subscriptionID))
	helperExpectClose(t, transport, subscriptionID)

	// Second close and a close of a never-opened id: no frames, no errors.
	require.NoError(t, relayClient.CloseSubscription(context.Background(), subscriptionID))
	require.NoError(t, relayClient.CloseSubscription(context.Background(), "never-opened"))
	require.Empty(t, transport.Outbound)
}

func TestDispatchDropsUnknownSubscriptionID(t *testing.T) {
	relayClient, transport := newTestClient(t, newTestConfig(), nil)

	unknown := "late-after-close"
	helperDeliver(t, transport, &model.EventEnvelope{SubscriptionID: &unknown, Event: *helperSignedEvent("e1", model.KindKeyPackage, "aa")})
	helperDeliver(t, transport, model.EOSEEnvelope(unknown))

	// The stream keeps working afterwards.
	go func() {
		helperServeQuery(t, transport, helperSignedEvent("e2", model.KindKeyPackage, "bb"))
	}()
	events, err := relayClient.Query(context.Background(), model.Filters{{Kinds: []int{model.KindKeyPackage}}}, testTimeout)
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestRemoteClosedRemovesSubscription(t *testing.T) {
	relayClient, transport := newTestClient(t, newTestConfig(), nil)

	subscriptionID, err := relayClient.Subscribe(context.Background(), model.Filters{{Kinds: []int{model.KindKeyPackage}}}, func(string, *model.Event) {})
	require.NoError(t, err)
	_, ok := helperNextOutboundEnvelope(t, transport).(*model.ReqEnvelope)
	require.True(t, ok)

	helperDeliver(t, transport, &model.ClosedEnvelope{SubscriptionID: subscriptionID, Reason: "auth-required"})
	require.Eventually(t, func() bool {
		return len(relayClient.ActiveSubscriptions()) == 0
	}, testTimeout, 10*stdlibtime.Millisecond)
}
