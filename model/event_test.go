// SPDX-License-Identifier: ice License 1.0

package model

import (
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/require"
)

func TestEventValidate(t *testing.T) {
	t.Parallel()

	t.Run("UnsignedDraft", func(t *testing.T) {
		var ev Event
		ev.Kind = KindKeyPackage
		require.NoError(t, ev.Validate())
		require.True(t, ev.IsDraft())
	})
	t.Run("Signed", func(t *testing.T) {
		var ev Event
		ev.Kind = KindKeyPackage
		ev.CreatedAt = 1
		require.NoError(t, ev.Sign(nostr.GeneratePrivateKey()))
		require.NoError(t, ev.Validate())
		require.False(t, ev.IsDraft())
	})
	t.Run("IDWithoutSignature", func(t *testing.T) {
		var ev Event
		ev.Kind = KindKeyPackage
		ev.ID = "deadbeef"
		require.ErrorIs(t, ev.Validate(), ErrDraftInvariant)
	})
	t.Run("SignatureWithoutID", func(t *testing.T) {
		var ev Event
		ev.Kind = KindKeyPackage
		ev.Sig = "deadbeef"
		require.ErrorIs(t, ev.Validate(), ErrDraftInvariant)
	})
	t.Run("WrongKind", func(t *testing.T) {
		var ev Event
		ev.Kind = -1
		require.ErrorIs(t, ev.Validate(), ErrValidation)
	})
}

func TestEventGetTag(t *testing.T) {
	t.Parallel()

	var ev Event
	ev.Tags = Tags{
		{"e", "first"},
		{"p", "pubkey"},
		{"e", "second"},
	}

	require.Equal(t, Tag{"e", "first"}, ev.GetTag("e"))
	require.Nil(t, ev.GetTag("missing"))
	require.Equal(t, []string{"first", "second"}, ev.GetTagValues("e"))
}
