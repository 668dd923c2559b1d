// SPDX-License-Identifier: ice License 1.0

package model

import (
	"github.com/cockroachdb/errors"
	"github.com/nbd-wtf/go-nostr"
)

type Event struct {
	nostr.Event
}

// GetTag returns the first tag with the given name, preserving the
// first-match-wins rule for tags that may repeat.
func (e *Event) GetTag(tagName string) Tag {
	for _, tag := range e.Tags {
		if tag.Key() == tagName {
			return tag
		}
	}

	return nil
}

func (e *Event) GetTagValues(tagName string) []string {
	var values []string
	for _, tag := range e.Tags {
		if tag.Key() == tagName && len(tag) > 1 {
			values = append(values, tag[1])
		}
	}

	return values
}

// IsDraft reports whether the event is an unsigned draft. Drafts carry
// neither an id nor a signature; signed events carry both.
func (e *Event) IsDraft() bool {
	return e.ID == "" && e.Sig == ""
}

func (e *Event) Validate() error {
	if (e.ID == "") != (e.Sig == "") {
		return errors.Wrapf(ErrDraftInvariant, "id: %q, sig: %q", e.ID, e.Sig)
	}
	if e.Kind < 0 || e.Kind > 65535 {
		return errors.Wrapf(ErrValidation, "wrong kind value: %v", e.Kind)
	}

	return nil
}
