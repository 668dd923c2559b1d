// SPDX-License-Identifier: ice License 1.0

package client

import (
	"context"
	"log"
	stdlibtime "time"

	"github.com/gookit/goutil/errorx"

	"github.com/marmotd/keyrelay/model"
)

type queryOutcome string

const (
	queryOutcomeEOSE      queryOutcome = "eose"
	queryOutcomeDeadline  queryOutcome = "deadline"
	queryOutcomeCancelled queryOutcome = "cancelled"
)

// Query opens a one-shot subscription, collects events in arrival order and
// returns on the first of EOSE, the timeout or caller cancellation. The
// subscription is closed on every exit path: an orphaned open subscription on
// the relay is the failure mode this must never produce. Timeout and
// cancellation yield the partial result collected so far.
func (c *Client) Query(ctx context.Context, filters model.Filters, timeout stdlibtime.Duration) ([]*model.Event, error) {
	if timeout <= 0 {
		timeout = c.cfg.DefaultQueryTimeout
	}
	sub, err := c.openSubscription(ctx, filters, DispositionOneShotQuery)
	if err != nil {
		return nil, err
	}
	c.pendingQueries.Store(sub.SubscriptionID, sub)
	defer func() {
		c.pendingQueries.Delete(sub.SubscriptionID)
		// CLOSE must go out even when ctx is already cancelled.
		if closeErr := c.CloseSubscription(context.WithoutCancel(ctx), sub.SubscriptionID); closeErr != nil {
			log.Printf("WARN: failed to close query subscription %v: %v", sub.SubscriptionID, closeErr)
		}
	}()

	timer := stdlibtime.NewTimer(timeout)
	defer timer.Stop()
	var events []*model.Event
	for {
		select {
		case event := <-sub.events:
			events = append(events, event)
		case <-sub.eose:
			events = append(events, drainBufferedEvents(sub)...)
			c.logQueryOutcome(sub.SubscriptionID, queryOutcomeEOSE, len(events))

			return events, nil
		case <-timer.C:
			c.logQueryOutcome(sub.SubscriptionID, queryOutcomeDeadline, len(events))

			return events, nil
		case <-ctx.Done():
			c.logQueryOutcome(sub.SubscriptionID, queryOutcomeCancelled, len(events))

			return events, errorx.Withf(ctx.Err(), "query %v cancelled", sub.SubscriptionID)
		}
	}
}

// QueryKeyPackages is Query narrowed to the watched kind, returning validated
// key package views. Events of the right kind that fail the view check cannot
// happen (the kind is the only constraint), so the conversion never drops.
func (c *Client) QueryKeyPackages(ctx context.Context, authors []string, timeout stdlibtime.Duration) ([]*model.KeyPackageEvent, error) {
	filters := model.Filters{{
		Kinds:   []int{c.cfg.WatchedKind},
		Authors: authors,
	}}
	events, err := c.Query(ctx, filters, timeout)
	if err != nil {
		return nil, err
	}
	keyPackages := make([]*model.KeyPackageEvent, 0, len(events))
	for _, event := range events {
		keyPackage, kpErr := model.NewKeyPackageEvent(event)
		if kpErr != nil {
			log.Printf("WARN: skipping non key-package event %v: %v", event.ID, kpErr)

			continue
		}
		keyPackages = append(keyPackages, keyPackage)
	}

	return keyPackages, nil
}

// Count asks the relay for the number of stored events matching the filters,
// with the same teardown discipline as Query.
func (c *Client) Count(ctx context.Context, filters model.Filters, timeout stdlibtime.Duration) (int64, error) {
	if timeout <= 0 {
		timeout = c.cfg.DefaultQueryTimeout
	}
	sub := newSubscription(filters, DispositionOneShotQuery)
	c.registerSubscription(sub)
	defer func() {
		if closeErr := c.CloseSubscription(context.WithoutCancel(ctx), sub.SubscriptionID); closeErr != nil {
			log.Printf("WARN: failed to close count subscription %v: %v", sub.SubscriptionID, closeErr)
		}
	}()

	countReq := &model.CountEnvelope{SubscriptionID: sub.SubscriptionID, Filters: filters}
	if err := c.writeEnvelope(ctx, countReq); err != nil {
		return 0, errorx.Withf(err, "failed to request count for subscription %v", sub.SubscriptionID)
	}

	timer := stdlibtime.NewTimer(timeout)
	defer timer.Stop()
	select {
	case count := <-sub.count:
		return count, nil
	case <-timer.C:
		return 0, errorx.Errorf("no COUNT response for subscription %v within %v", sub.SubscriptionID, timeout)
	case <-ctx.Done():
		return 0, errorx.Withf(ctx.Err(), "count %v cancelled", sub.SubscriptionID)
	}
}

// PendingQueries reports how many one-shot queries are currently in flight.
func (c *Client) PendingQueries() int {
	return c.pendingQueries.Size()
}

func drainBufferedEvents(sub *subscription) []*model.Event {
	var events []*model.Event
	for {
		select {
		case event := <-sub.events:
			events = append(events, event)
		default:
			return events
		}
	}
}

// logQueryOutcome keeps an eose-with-zero-events result distinguishable from a
// deadline that fired before anything arrived.
func (c *Client) logQueryOutcome(subscriptionID string, outcome queryOutcome, collected int) {
	if outcome != queryOutcomeEOSE {
		log.Printf("WARN: query %v terminated by %v with %v event(s) collected", subscriptionID, outcome, collected)

		return
	}
	log.Printf("query %v completed, %v event(s)", subscriptionID, collected)
}
