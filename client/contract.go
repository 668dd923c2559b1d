// SPDX-License-Identifier: ice License 1.0

package client

import (
	"context"
	"errors"
	"sync"
	stdlibtime "time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/marmotd/keyrelay/model"
)

type (
	// Transport is the frame boundary to the relay socket. Everything below it
	// (TLS, reconnect backoff) is somebody else's problem.
	Transport interface {
		ReadFrame(ctx context.Context) ([]byte, error)
		WriteFrame(ctx context.Context, frame []byte) error
		Close() error
	}

	// Signer produces the id and signature of a draft event. Signing is
	// delegated entirely, this package never touches key material.
	Signer interface {
		Sign(ctx context.Context, event *model.Event) error
	}

	Disposition uint8

	EventHandler func(subscriptionID string, event *model.Event)

	ReplenishmentSignal struct {
		SubscriptionID string
		Filters        model.Filters
		ReceivedAt     stdlibtime.Time
	}

	Config struct {
		RelayURL             string              `yaml:"relayUrl"`
		LocalIdentity        string              `yaml:"localIdentity"`
		WatchedKind          int                 `yaml:"watchedKind"`
		DefaultQueryTimeout  stdlibtime.Duration `yaml:"defaultQueryTimeout"`
		PublishAckTimeout    stdlibtime.Duration `yaml:"publishAckTimeout"`
		RelayRequestsEnabled bool                `yaml:"relayRequestsEnabled"`
	}

	Client struct {
		cfg       *Config
		transport Transport
		signer    Signer

		subsMx sync.Mutex
		subs   map[string]*subscription

		okWaiters      *xsync.MapOf[string, chan *model.OKEnvelope]
		pendingQueries *xsync.MapOf[string, *subscription]

		replenishObserversMx sync.Mutex
		replenishObservers   []chan *ReplenishmentSignal
	}

	subscription struct {
		*model.Subscription
		SubscriptionID string
		disposition    Disposition
		events         chan *model.Event
		eose           chan struct{}
		count          chan int64
		done           chan struct{}
		eoseOnce       sync.Once
		doneOnce       sync.Once
	}
)

const (
	DispositionOneShotQuery Disposition = iota
	DispositionLongLived
)

const (
	subscriptionBufferSize  = 256
	observerBufferSize      = 16
	defaultQueryTimeout     = 10 * stdlibtime.Second
	defaultPublishAckWindow = 10 * stdlibtime.Second
)

var (
	ErrEventRejected = errors.New("event rejected by relay")
	ErrNotSignable   = errors.New("draft event cannot be signed")
)
