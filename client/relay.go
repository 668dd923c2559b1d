// SPDX-License-Identifier: ice License 1.0

package client

import (
	"context"
	"io"
	"log"
	stdlibtime "time"

	"github.com/cockroachdb/errors"
	"github.com/gookit/goutil/errorx"
	"github.com/hashicorp/go-multierror"
	"github.com/nbd-wtf/go-nostr"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/errgroup"

	"github.com/marmotd/keyrelay/model"
)

func New(cfg *Config, transport Transport, signer Signer) *Client {
	if cfg.DefaultQueryTimeout == 0 {
		cfg.DefaultQueryTimeout = defaultQueryTimeout
	}
	if cfg.PublishAckTimeout == 0 {
		cfg.PublishAckTimeout = defaultPublishAckWindow
	}

	return &Client{
		cfg:            cfg,
		transport:      transport,
		signer:         signer,
		subs:           make(map[string]*subscription),
		okWaiters:      xsync.NewMapOf[string, chan *model.OKEnvelope](),
		pendingQueries: xsync.NewMapOf[string, *subscription](),
	}
}

// Run drives the inbound side of the connection: one frame at a time is read,
// decoded and dispatched, in order. It returns when the transport fails or the
// context is cancelled. A frame that fails to decode is logged and dropped, it
// never terminates the stream.
func (c *Client) Run(ctx context.Context) error {
	defer c.closeAllSubscriptions()
	for ctx.Err() == nil {
		frame, err := c.transport.ReadFrame(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
				return nil
			}

			return errorx.Withf(err, "failed to read frame from relay")
		}
		if len(frame) == 0 {
			continue
		}
		envelope, err := model.ParseMessage(frame)
		if err != nil {
			log.Printf("WARN: dropping malformed frame: %v", err)

			continue
		}
		c.dispatch(ctx, envelope)
	}

	return nil
}

func (c *Client) dispatch(ctx context.Context, envelope model.Envelope) {
	switch e := envelope.(type) {
	case *model.EventEnvelope:
		if e.SubscriptionID == nil {
			return
		}
		c.dispatchEvent(*e.SubscriptionID, &e.Event)
	case model.EOSEEnvelope:
		c.dispatchEOSE(string(e))
	case *model.CountEnvelope:
		c.dispatchCount(e)
	case *model.ClosedEnvelope:
		log.Printf("WARN: relay closed subscription %v: %v", e.SubscriptionID, e.Reason)
		c.removeSubscription(e.SubscriptionID)
	case *model.OKEnvelope:
		if waiter, found := c.okWaiters.Load(e.EventID); found {
			select {
			case waiter <- e:
			default:
			}
		}
	case model.NoticeEnvelope:
		log.Printf("WARN: relay notice: %v", string(e))
	case *model.AuthEnvelope:
		if e.Challenge == nil {
			return
		}
		if err := c.answerAuthChallenge(ctx, *e.Challenge); err != nil {
			log.Printf("ERROR:%v", errors.Wrap(err, "failed to answer relay auth challenge"))
		}
	case *model.ReqEnvelope:
		// Relay-issued request, its subscription id intentionally does not
		// correlate with any local subscription.
		c.handleRelayRequest(e)
	case *model.UnrecognizedEnvelope:
		log.Printf("WARN: ignoring unrecognized %q frame", e.Label())
	}
}

// Publish sends the event and waits for the relay's OK acknowledgement. A
// draft event is signed first through the configured Signer. Rejections
// (including rate-limit reasons) are reported to the caller, never retried.
func (c *Client) Publish(ctx context.Context, event *model.Event) error {
	if err := event.Validate(); err != nil {
		return errorx.Withf(err, "refusing to publish invalid event")
	}
	if event.IsDraft() {
		if c.signer == nil {
			return errorx.Withf(ErrNotSignable, "no signer configured for draft event")
		}
		if err := c.signer.Sign(ctx, event); err != nil {
			return errorx.Withf(err, "failed to sign event before publishing")
		}
	}

	waiter := make(chan *model.OKEnvelope, 1)
	c.okWaiters.Store(event.ID, waiter)
	defer c.okWaiters.Delete(event.ID)

	if err := c.writeEnvelope(ctx, &model.EventEnvelope{Event: *event}); err != nil {
		return errorx.Withf(err, "failed to publish event %v", event.ID)
	}

	timer := stdlibtime.NewTimer(c.cfg.PublishAckTimeout)
	defer timer.Stop()
	select {
	case ack := <-waiter:
		if !ack.OK {
			return errorx.Withf(ErrEventRejected, "event %v: %v", ack.EventID, ack.Reason)
		}

		return nil
	case <-timer.C:
		return errorx.Errorf("no OK received for event %v within %v", event.ID, c.cfg.PublishAckTimeout)
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "cancelled while waiting for OK for event %v", event.ID)
	}
}

func (c *Client) answerAuthChallenge(ctx context.Context, challenge string) error {
	if c.signer == nil {
		log.Printf("WARN: relay requested auth but no signer is configured")

		return nil
	}
	authEvent := &model.Event{Event: nostr.Event{
		CreatedAt: model.Timestamp(stdlibtime.Now().Unix()),
		Kind:      model.KindClientAuth,
		Tags: model.Tags{
			model.Tag{"relay", c.cfg.RelayURL},
			model.Tag{"challenge", challenge},
		},
	}}
	if err := c.signer.Sign(ctx, authEvent); err != nil {
		return errorx.Withf(err, "failed to sign auth event")
	}

	return c.writeEnvelope(ctx, &model.AuthEnvelope{Event: authEvent})
}

func (c *Client) writeEnvelope(ctx context.Context, envelope model.Envelope) error {
	frame, err := envelope.MarshalJSON()
	if err != nil {
		return errors.Wrapf(err, "failed to serialize %+v into json", envelope)
	}

	return errors.Wrapf(c.transport.WriteFrame(ctx, frame), "failed to write %v frame", envelope.Label())
}

// Close announces CLOSE for every open subscription, then tears the transport
// down. Write failures are aggregated, not short-circuited: the transport is
// closed regardless.
func (c *Client) Close() error {
	var mErr *multierror.Error
	for _, subscriptionID := range c.ActiveSubscriptions() {
		mErr = multierror.Append(mErr, c.CloseSubscription(context.Background(), subscriptionID))
	}
	c.closeAllSubscriptions()
	mErr = multierror.Append(mErr, errors.Wrap(c.transport.Close(), "failed to close transport"))

	return mErr.ErrorOrNil()
}

// Broadcast publishes the same event to several relays concurrently, one
// client per relay connection.
func Broadcast(ctx context.Context, event *model.Event, clients ...*Client) error {
	eg := errgroup.Group{}
	for _, relayClient := range clients {
		relayClient := relayClient
		eg.Go(func() error {
			return errors.Wrapf(relayClient.Publish(ctx, event), "failed to publish %v to relay %v", event.ID, relayClient.cfg.RelayURL)
		})
	}

	return errors.Wrap(eg.Wait(), "failed to publish to some relay")
}
