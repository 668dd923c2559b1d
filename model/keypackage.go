// SPDX-License-Identifier: ice License 1.0

package model

import (
	"encoding/base64"
	"encoding/hex"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/nbd-wtf/go-nostr"
)

type (
	ContentEncoding string

	// KeyPackageEvent is a validated view over a kind-443 event. The wrapped
	// event is never mutated through it.
	KeyPackageEvent struct {
		Event
	}

	// KeyPackageBuilder accumulates the pending fields of a key package event.
	// All invariant checks run in a single Build step, so no partially built
	// event ever escapes.
	KeyPackageBuilder struct {
		keyMaterial     []byte
		encoding        ContentEncoding
		protocolVersion string
		ciphersuite     string
		extensions      []string
		clientName      string
		handlerEventID  string
		clientRelayURL  string
		relays          []string
		requireAuth     bool
		createdAt       Timestamp
	}
)

const (
	EncodingHex    ContentEncoding = "hex"
	EncodingBase64 ContentEncoding = "base64"

	defaultProtocolVersion = "1.0"
)

func NewKeyPackageEvent(ev *Event) (*KeyPackageEvent, error) {
	if ev.Kind != KindKeyPackage {
		return nil, errors.Wrapf(ErrWrongEventKind, "expected kind %v, got %v", KindKeyPackage, ev.Kind)
	}

	return &KeyPackageEvent{Event: *ev}, nil
}

// ContentEncoding derives the codec of the event content. The default is hex:
// only an `encoding` tag whose value is base64 (case-insensitive) switches to
// base64, any other value falls back to the legacy default. The derivation is
// total, it never fails.
func (e *KeyPackageEvent) ContentEncoding() ContentEncoding {
	if tag := e.GetTag(TagEncoding); tag != nil && strings.EqualFold(tag.Value(), string(EncodingBase64)) {
		return EncodingBase64
	}

	return EncodingHex
}

// KeyMaterial decodes the content with the codec reported by ContentEncoding.
func (e *KeyPackageEvent) KeyMaterial() ([]byte, error) {
	switch e.ContentEncoding() {
	case EncodingBase64:
		material, err := base64.StdEncoding.DecodeString(e.Content)

		return material, errors.Wrapf(err, "content is not valid base64: %q", e.Content)
	default:
		material, err := hex.DecodeString(e.Content)

		return material, errors.Wrapf(err, "content is not valid hex: %q", e.Content)
	}
}

func (e *KeyPackageEvent) ProtocolVersion() string {
	if tag := e.GetTag(TagProtocolVersion); tag != nil {
		return tag.Value()
	}

	return ""
}

func (e *KeyPackageEvent) Ciphersuite() string {
	if tag := e.GetTag(TagCiphersuite); tag != nil {
		return tag.Value()
	}

	return ""
}

func (e *KeyPackageEvent) Extensions() []string {
	tag := e.GetTag(TagExtensions)
	if tag == nil || tag.Value() == "" {
		return nil
	}

	return strings.Split(tag.Value(), ",")
}

func (e *KeyPackageEvent) Relays() []string {
	tag := e.GetTag(TagRelays)
	if tag == nil || tag.Value() == "" {
		return nil
	}

	return strings.Split(tag.Value(), ",")
}

func (e *KeyPackageEvent) RequiresAuth() bool {
	return e.GetTag(TagAuthRequiredMarker) != nil
}

func NewKeyPackageBuilder() *KeyPackageBuilder {
	return &KeyPackageBuilder{
		encoding:        EncodingBase64,
		protocolVersion: defaultProtocolVersion,
	}
}

// SetKeyMaterial stages the opaque key material and the codec its text form
// will use. Calling it again simply replaces the staged values, the encoding
// tag is emitted at most once by Build.
func (b *KeyPackageBuilder) SetKeyMaterial(material []byte, encoding ContentEncoding) *KeyPackageBuilder {
	b.keyMaterial = material
	b.encoding = encoding

	return b
}

func (b *KeyPackageBuilder) ProtocolVersion(version string) *KeyPackageBuilder {
	b.protocolVersion = version

	return b
}

func (b *KeyPackageBuilder) Ciphersuite(id string) *KeyPackageBuilder {
	b.ciphersuite = id

	return b
}

func (b *KeyPackageBuilder) Extensions(ids ...string) *KeyPackageBuilder {
	b.extensions = ids

	return b
}

func (b *KeyPackageBuilder) Client(name, handlerEventID, relayURL string) *KeyPackageBuilder {
	b.clientName = name
	b.handlerEventID = handlerEventID
	b.clientRelayURL = relayURL

	return b
}

func (b *KeyPackageBuilder) Relays(urls ...string) *KeyPackageBuilder {
	b.relays = urls

	return b
}

func (b *KeyPackageBuilder) RequireAuth() *KeyPackageBuilder {
	b.requireAuth = true

	return b
}

func (b *KeyPackageBuilder) CreatedAt(ts Timestamp) *KeyPackageBuilder {
	b.createdAt = ts

	return b
}

// Build validates the accumulated fields and produces an unsigned draft event.
// Validation happens here, before anything touches the wire, so a bad relay
// URL never results in partially transmitted state.
func (b *KeyPackageBuilder) Build() (*Event, error) {
	if len(b.keyMaterial) == 0 {
		return nil, errors.Wrap(ErrValidation, "key material is not set")
	}
	if b.encoding != EncodingHex && b.encoding != EncodingBase64 {
		return nil, errors.Wrapf(ErrValidation, "unknown content encoding: %q", b.encoding)
	}
	for _, relayURL := range b.relays {
		if err := validateRelayURL(relayURL); err != nil {
			return nil, err
		}
	}
	if b.clientRelayURL != "" {
		if err := validateRelayURL(b.clientRelayURL); err != nil {
			return nil, err
		}
	}

	var content string
	tags := Tags{
		Tag{TagProtocolVersion, b.protocolVersion},
		Tag{TagCiphersuite, b.ciphersuite},
		Tag{TagExtensions, strings.Join(b.extensions, ",")},
	}
	if b.clientName != "" {
		clientTag := Tag{TagClient, b.clientName}
		if b.handlerEventID != "" || b.clientRelayURL != "" {
			clientTag = append(clientTag, b.handlerEventID)
		}
		if b.clientRelayURL != "" {
			clientTag = append(clientTag, b.clientRelayURL)
		}
		tags = append(tags, clientTag)
	}
	if len(b.relays) > 0 {
		tags = append(tags, Tag{TagRelays, strings.Join(b.relays, ",")})
	}
	switch b.encoding {
	case EncodingBase64:
		content = base64.StdEncoding.EncodeToString(b.keyMaterial)
		tags = append(tags, Tag{TagEncoding, string(EncodingBase64)})
	case EncodingHex:
		// Legacy default interpretation, signaled by the absence of the tag.
		content = hex.EncodeToString(b.keyMaterial)
	}
	if b.requireAuth {
		tags = append(tags, Tag{TagAuthRequiredMarker})
	}

	createdAt := b.createdAt
	if createdAt == 0 {
		createdAt = Timestamp(time.Now().Unix())
	}

	return &Event{Event: nostr.Event{
		CreatedAt: createdAt,
		Kind:      KindKeyPackage,
		Tags:      tags,
		Content:   content,
	}}, nil
}

func validateRelayURL(relayURL string) error {
	parsed, err := url.Parse(relayURL)
	if err != nil {
		return errors.Wrapf(ErrValidation, "malformed relay url %q: %v", relayURL, err)
	}
	if (parsed.Scheme != "wss" && parsed.Scheme != "ws") || parsed.Host == "" {
		return errors.Wrapf(ErrValidation, "relay url %q must be ws:// or wss://", relayURL)
	}

	return nil
}
