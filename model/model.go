// SPDX-License-Identifier: ice License 1.0

package model

import (
	"errors"

	"github.com/nbd-wtf/go-nostr"
)

type (
	TagMap    = nostr.TagMap
	Tag       = nostr.Tag
	Tags      = nostr.Tags
	Timestamp = nostr.Timestamp
	Kind      = int
	Filter    = nostr.Filter
	Filters   = nostr.Filters

	Subscription struct {
		Filters Filters
	}
)

var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrValidation     = errors.New("validation failed")
	ErrWrongEventKind = errors.New("wrong event kind")
	ErrDraftInvariant = errors.New("event id and signature must be set together")
)

const (
	KindKeyPackage = 443
	KindClientAuth = 22242
)

const (
	TagEncoding           = "encoding"
	TagProtocolVersion    = "mls_protocol_version"
	TagCiphersuite        = "ciphersuite"
	TagExtensions         = "extensions"
	TagClient             = "client"
	TagRelays             = "relays"
	TagAuthRequiredMarker = "-"
)
