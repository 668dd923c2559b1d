// SPDX-License-Identifier: ice License 1.0

package client

import (
	"context"
	"testing"
	stdlibtime "time"

	"github.com/stretchr/testify/require"

	"github.com/marmotd/keyrelay/client/fixture"
	"github.com/marmotd/keyrelay/model"
)

// helperServeQuery plays the relay for one query: it answers the next REQ with
// the given events followed by EOSE and returns the subscription id it saw.
func helperServeQuery(t *testing.T, transport *fixture.MemoryTransport, events ...*model.Event) string {
	t.Helper()

	req, ok := helperNextOutboundEnvelope(t, transport).(*model.ReqEnvelope)
	require.True(t, ok)
	for _, event := range events {
		helperDeliver(t, transport, &model.EventEnvelope{SubscriptionID: &req.SubscriptionID, Event: *event})
	}
	helperDeliver(t, transport, model.EOSEEnvelope(req.SubscriptionID))

	return req.SubscriptionID
}

func helperExpectClose(t *testing.T, transport *fixture.MemoryTransport, subscriptionID string) {
	t.Helper()

	closeEnv, ok := helperNextOutboundEnvelope(t, transport).(model.CloseEnvelope)
	require.True(t, ok)
	require.Equal(t, subscriptionID, string(closeEnv))
}

func TestQueryCollectsUntilEOSE(t *testing.T) {
	relayClient, transport := newTestClient(t, newTestConfig(), nil)

	expected := []*model.Event{
		helperSignedEvent("e1", model.KindKeyPackage, "aa"),
		helperSignedEvent("e2", model.KindKeyPackage, "bb"),
		helperSignedEvent("e3", model.KindKeyPackage, "cc"),
	}
	var subscriptionID string
	done := make(chan struct{})
	go func() {
		defer close(done)
		subscriptionID = helperServeQuery(t, transport, expected...)
		helperExpectClose(t, transport, subscriptionID)
	}()

	events, err := relayClient.Query(context.Background(), model.Filters{{Kinds: []int{model.KindKeyPackage}}}, testTimeout)
	require.NoError(t, err)
	require.Len(t, events, len(expected))
	for i := range expected {
		require.Equal(t, expected[i].ID, events[i].ID)
	}
	<-done
	require.Empty(t, relayClient.ActiveSubscriptions())
	require.Zero(t, relayClient.PendingQueries())
}

func TestQueryDeadlineYieldsPartialResult(t *testing.T) {
	relayClient, transport := newTestClient(t, newTestConfig(), nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		req, ok := helperNextOutboundEnvelope(t, transport).(*model.ReqEnvelope)
		require.True(t, ok)
		// One event, then silence: EOSE never comes.
		helperDeliver(t, transport, &model.EventEnvelope{SubscriptionID: &req.SubscriptionID, Event: *helperSignedEvent("e1", model.KindKeyPackage, "aa")})
		helperExpectClose(t, transport, req.SubscriptionID)
	}()

	events, err := relayClient.Query(context.Background(), model.Filters{{Kinds: []int{model.KindKeyPackage}}}, 100*stdlibtime.Millisecond)
	require.NoError(t, err)
	require.Len(t, events, 1)
	<-done
	require.Empty(t, relayClient.ActiveSubscriptions())
}

func TestQueryCancellationStillCloses(t *testing.T) {
	relayClient, transport := newTestClient(t, newTestConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		req, ok := helperNextOutboundEnvelope(t, transport).(*model.ReqEnvelope)
		require.True(t, ok)
		cancel()
		helperExpectClose(t, transport, req.SubscriptionID)
	}()

	events, err := relayClient.Query(ctx, model.Filters{{Kinds: []int{model.KindKeyPackage}}}, testTimeout)
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, events)
	<-done
	require.Empty(t, relayClient.ActiveSubscriptions())
}

func TestConcurrentQueriesDoNotCrossDeliver(t *testing.T) {
	relayClient, transport := newTestClient(t, newTestConfig(), nil)

	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		// The two REQ frames arrive in either order, the filter kind tells the
		// subscriptions apart.
		subIDByKind := make(map[int]string, 2)
		for i := 0; i < 2; i++ {
			req, ok := helperNextOutboundEnvelope(t, transport).(*model.ReqEnvelope)
			require.True(t, ok)
			require.Len(t, req.Filters, 1)
			subIDByKind[req.Filters[0].Kinds[0]] = req.SubscriptionID
		}
		subA, subB := subIDByKind[1], subIDByKind[2]
		require.NotEqual(t, subA, subB)

		// Interleave deliveries across both subscriptions.
		helperDeliver(t, transport, &model.EventEnvelope{SubscriptionID: &subA, Event: *helperSignedEvent("a1", 1, "")})
		helperDeliver(t, transport, &model.EventEnvelope{SubscriptionID: &subB, Event: *helperSignedEvent("b1", 2, "")})
		helperDeliver(t, transport, &model.EventEnvelope{SubscriptionID: &subA, Event: *helperSignedEvent("a2", 1, "")})
		helperDeliver(t, transport, &model.EventEnvelope{SubscriptionID: &subB, Event: *helperSignedEvent("b2", 2, "")})
		helperDeliver(t, transport, model.EOSEEnvelope(subA))
		helperDeliver(t, transport, model.EOSEEnvelope(subB))
	}()

	type queryResult struct {
		events []*model.Event
		err    error
	}
	resultA := make(chan queryResult, 1)
	resultB := make(chan queryResult, 1)
	go func() {
		events, err := relayClient.Query(context.Background(), model.Filters{{Kinds: []int{1}}}, testTimeout)
		resultA <- queryResult{events, err}
	}()
	go func() {
		events, err := relayClient.Query(context.Background(), model.Filters{{Kinds: []int{2}}}, testTimeout)
		resultB <- queryResult{events, err}
	}()

	a := <-resultA
	b := <-resultB
	require.NoError(t, a.err)
	require.NoError(t, b.err)
	<-relayDone

	gotA := []string{}
	for _, event := range a.events {
		gotA = append(gotA, event.ID)
	}
	gotB := []string{}
	for _, event := range b.events {
		gotB = append(gotB, event.ID)
	}
	require.Equal(t, []string{"a1", "a2"}, gotA)
	require.Equal(t, []string{"b1", "b2"}, gotB)
}

func TestQuerySurvivesMalformedFrame(t *testing.T) {
	relayClient, transport := newTestClient(t, newTestConfig(), nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		req, ok := helperNextOutboundEnvelope(t, transport).(*model.ReqEnvelope)
		require.True(t, ok)
		helperDeliver(t, transport, &model.EventEnvelope{SubscriptionID: &req.SubscriptionID, Event: *helperSignedEvent("e1", model.KindKeyPackage, "aa")})
		transport.Inbound <- []byte(`["EVENT",42,"garbage"]`)
		helperDeliver(t, transport, &model.EventEnvelope{SubscriptionID: &req.SubscriptionID, Event: *helperSignedEvent("e2", model.KindKeyPackage, "bb")})
		helperDeliver(t, transport, model.EOSEEnvelope(req.SubscriptionID))
	}()

	events, err := relayClient.Query(context.Background(), model.Filters{{Kinds: []int{model.KindKeyPackage}}}, testTimeout)
	require.NoError(t, err)
	require.Len(t, events, 2)
	<-done
}

func TestQueryKeyPackages(t *testing.T) {
	relayClient, transport := newTestClient(t, newTestConfig(), nil)

	keyPackage, err := model.NewKeyPackageBuilder().
		SetKeyMaterial([]byte{1, 2, 3}, model.EncodingBase64).
		Build()
	require.NoError(t, err)
	keyPackage.ID = "kp1"
	keyPackage.Sig = "sig"

	go func() {
		helperServeQuery(t, transport, keyPackage)
	}()

	keyPackages, err := relayClient.QueryKeyPackages(context.Background(), []string{testLocalIdentity}, testTimeout)
	require.NoError(t, err)
	require.Len(t, keyPackages, 1)
	require.Equal(t, model.EncodingBase64, keyPackages[0].ContentEncoding())
	material, err := keyPackages[0].KeyMaterial()
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, material)
}

func TestCount(t *testing.T) {
	relayClient, transport := newTestClient(t, newTestConfig(), nil)

	go func() {
		countReq, ok := helperNextOutboundEnvelope(t, transport).(*model.CountEnvelope)
		require.True(t, ok)
		count := int64(7)
		helperDeliver(t, transport, &model.CountEnvelope{SubscriptionID: countReq.SubscriptionID, Count: &count})
	}()

	count, err := relayClient.Count(context.Background(), model.Filters{{Kinds: []int{model.KindKeyPackage}}}, testTimeout)
	require.NoError(t, err)
	require.Equal(t, int64(7), count)
}
