// SPDX-License-Identifier: ice License 1.0

package client

import (
	"context"
	"log"

	"github.com/google/uuid"
	"github.com/gookit/goutil/errorx"

	"github.com/marmotd/keyrelay/model"
)

func newSubscription(filters model.Filters, disposition Disposition) *subscription {
	return &subscription{
		Subscription:   &model.Subscription{Filters: filters},
		SubscriptionID: uuid.NewString(),
		disposition:    disposition,
		events:         make(chan *model.Event, subscriptionBufferSize),
		eose:           make(chan struct{}),
		count:          make(chan int64, 1),
		done:           make(chan struct{}),
	}
}

func (s *subscription) markEOSE() {
	s.eoseOnce.Do(func() { close(s.eose) })
}

func (s *subscription) markDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

func (c *Client) registerSubscription(sub *subscription) {
	c.subsMx.Lock()
	defer c.subsMx.Unlock()
	c.subs[sub.SubscriptionID] = sub
}

// openSubscription registers the subscription locally before the REQ frame
// goes out, so a relay answering faster than we return cannot race the map.
func (c *Client) openSubscription(ctx context.Context, filters model.Filters, disposition Disposition) (*subscription, error) {
	sub := newSubscription(filters, disposition)
	c.registerSubscription(sub)
	req := &model.ReqEnvelope{SubscriptionID: sub.SubscriptionID, Filters: filters}
	if err := c.writeEnvelope(ctx, req); err != nil {
		c.removeSubscription(sub.SubscriptionID)

		return nil, errorx.Withf(err, "failed to open subscription %v", sub.SubscriptionID)
	}

	return sub, nil
}

// CloseSubscription tears the subscription down and emits CLOSE. Closing an
// unknown or already-closed id is a no-op: races between a local close and a
// remote EOSE are expected, not errors.
func (c *Client) CloseSubscription(ctx context.Context, subscriptionID string) error {
	if !c.removeSubscription(subscriptionID) {
		return nil
	}
	if err := c.writeEnvelope(ctx, model.CloseEnvelope(subscriptionID)); err != nil {
		return errorx.Withf(err, "failed to close subscription %v", subscriptionID)
	}

	return nil
}

func (c *Client) removeSubscription(subscriptionID string) bool {
	c.subsMx.Lock()
	sub, found := c.subs[subscriptionID]
	delete(c.subs, subscriptionID)
	c.subsMx.Unlock()
	if found {
		sub.markDone()
	}

	return found
}

func (c *Client) closeAllSubscriptions() {
	c.subsMx.Lock()
	defer c.subsMx.Unlock()
	for id, sub := range c.subs {
		sub.markDone()
		delete(c.subs, id)
	}
}

func (c *Client) lookupSubscription(subscriptionID string) *subscription {
	c.subsMx.Lock()
	defer c.subsMx.Unlock()

	return c.subs[subscriptionID]
}

func (c *Client) dispatchEvent(subscriptionID string, event *model.Event) {
	sub := c.lookupSubscription(subscriptionID)
	if sub == nil {
		// Late delivery after a local close, drop silently.
		return
	}
	select {
	case sub.events <- event:
	default:
		log.Printf("WARN: subscription %v buffer is full, dropping event %v", subscriptionID, event.ID)
	}
}

func (c *Client) dispatchEOSE(subscriptionID string) {
	sub := c.lookupSubscription(subscriptionID)
	if sub == nil {
		return
	}
	sub.markEOSE()
	if sub.disposition == DispositionLongLived {
		// For a watch this is only the backlog boundary, the subscription
		// stays open for live events.
		log.Printf("subscription %v reached end of stored events", subscriptionID)
	}
}

func (c *Client) dispatchCount(envelope *model.CountEnvelope) {
	sub := c.lookupSubscription(envelope.SubscriptionID)
	if sub == nil || envelope.Count == nil {
		return
	}
	select {
	case sub.count <- *envelope.Count:
	default:
	}
}

// Subscribe opens a long-lived subscription. The handler runs on a dedicated
// goroutine fed from the subscription's own buffer, so a slow consumer stalls
// only itself, never delivery to other subscriptions.
func (c *Client) Subscribe(ctx context.Context, filters model.Filters, handler EventHandler) (string, error) {
	sub, err := c.openSubscription(ctx, filters, DispositionLongLived)
	if err != nil {
		return "", err
	}
	go func() {
		for {
			select {
			case event := <-sub.events:
				handler(sub.SubscriptionID, event)
			case <-sub.done:
				return
			}
		}
	}()

	return sub.SubscriptionID, nil
}

// ActiveSubscriptions reports the ids currently routed to, mostly for tests
// and introspection.
func (c *Client) ActiveSubscriptions() []string {
	c.subsMx.Lock()
	defer c.subsMx.Unlock()
	ids := make([]string, 0, len(c.subs))
	for id := range c.subs {
		ids = append(ids, id)
	}

	return ids
}
