// SPDX-License-Identifier: ice License 1.0

package client

import (
	"log"
	"slices"
	stdlibtime "time"

	"github.com/marmotd/keyrelay/model"
)

// RegisterReplenishmentObserver returns a channel that receives one signal per
// qualifying relay-issued request. Each observer has its own buffer, so one
// slow observer cannot stall dispatch or its peers; signals it cannot keep up
// with are dropped.
func (c *Client) RegisterReplenishmentObserver() <-chan *ReplenishmentSignal {
	observer := make(chan *ReplenishmentSignal, observerBufferSize)
	c.replenishObserversMx.Lock()
	defer c.replenishObserversMx.Unlock()
	c.replenishObservers = append(c.replenishObservers, observer)

	return observer
}

// handleRelayRequest evaluates a relay-issued REQ against the local identity
// and the watched kind. Relays that pre-date relay-initiated requests never
// send these frames, and the capability flag keeps the detector out of the
// path entirely when the feature is known to be unsupported.
func (c *Client) handleRelayRequest(req *model.ReqEnvelope) {
	if !c.cfg.RelayRequestsEnabled {
		return
	}
	if !qualifiesForReplenishment(req, c.cfg.LocalIdentity, c.cfg.WatchedKind) {
		return
	}
	signal := &ReplenishmentSignal{
		SubscriptionID: req.SubscriptionID,
		Filters:        req.Filters,
		ReceivedAt:     stdlibtime.Now(),
	}
	c.replenishObserversMx.Lock()
	observers := slices.Clone(c.replenishObservers)
	c.replenishObserversMx.Unlock()
	for _, observer := range observers {
		select {
		case observer <- signal:
		default:
			log.Printf("WARN: replenishment observer is not keeping up, dropping signal for %v", req.SubscriptionID)
		}
	}
}

// qualifiesForReplenishment is the pure predicate: a request qualifies when a
// single filter names both the local identity among its authors and the
// watched kind among its kinds. Cooldown or de-bouncing of repeated triggers
// is a caller policy, not enforced here.
func qualifiesForReplenishment(req *model.ReqEnvelope, localIdentity string, watchedKind int) bool {
	for _, filter := range req.Filters {
		if slices.Contains(filter.Authors, localIdentity) && slices.Contains(filter.Kinds, watchedKind) {
			return true
		}
	}

	return false
}
