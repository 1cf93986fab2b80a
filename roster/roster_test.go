// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package roster

import (
	"path/filepath"
	"testing"

	"github.com/katzenpost/hpqc/rand"
	"github.com/stretchr/testify/require"

	"github.com/katzenpost/pact/core/log"
	"github.com/katzenpost/pact/identity"
	"github.com/katzenpost/pact/ledger"
	"github.com/katzenpost/pact/registry"
)

type fixture struct {
	ledger   *ledger.Ledger
	registry *registry.Registry
	roster   *Roster

	alice identity.Identity
	bob   identity.Identity
}

func newFixture(t *testing.T) *fixture {
	logBackend, err := log.New("", "DEBUG", true)
	require.NoError(t, err)
	l, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"), logBackend)
	require.NoError(t, err)
	t.Cleanup(l.Close)

	reg, err := registry.New(l, logBackend)
	require.NoError(t, err)
	ros, err := New(l, logBackend)
	require.NoError(t, err)

	f := &fixture{ledger: l, registry: reg, roster: ros}
	f.alice = randIdentity(t)
	f.bob = randIdentity(t)
	require.NoError(t, reg.Register(f.alice, "alice"))
	require.NoError(t, reg.Register(f.bob, "bob"))
	return f
}

func randIdentity(t *testing.T) identity.Identity {
	var id identity.Identity
	_, err := rand.Reader.Read(id[:])
	require.NoError(t, err)
	return id
}

func TestRequestAccept(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)

	require.NoError(f.roster.SendRequest(f.alice, f.bob))

	out, err := f.roster.PendingOutgoing(f.alice)
	require.NoError(err)
	require.Len(out, 1)
	require.Equal(f.bob, out[0].To)

	in, err := f.roster.PendingIncoming(f.bob)
	require.NoError(err)
	require.Len(in, 1)
	require.Equal(f.alice, in[0].From)

	require.NoError(f.roster.Accept(f.alice, f.bob))

	friends, err := f.roster.AreFriends(f.alice, f.bob)
	require.NoError(err)
	require.True(friends)

	// Both friend lists carry the edge.
	rec, err := f.registry.Lookup(f.alice)
	require.NoError(err)
	require.Contains(rec.Friends, f.bob)
	rec, err = f.registry.Lookup(f.bob)
	require.NoError(err)
	require.Contains(rec.Friends, f.alice)

	// The pending indices are cleared on both sides.
	out, err = f.roster.PendingOutgoing(f.alice)
	require.NoError(err)
	require.Empty(out)
	in, err = f.roster.PendingIncoming(f.bob)
	require.NoError(err)
	require.Empty(in)
}

func TestSendRequestRejections(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)
	mallory := randIdentity(t)

	require.Equal(ErrSelfRequest, f.roster.SendRequest(f.alice, f.alice))
	require.Equal(ErrUnregistered, f.roster.SendRequest(f.alice, mallory))
	require.Equal(ErrUnregistered, f.roster.SendRequest(mallory, f.bob))

	require.NoError(f.roster.SendRequest(f.alice, f.bob))
	require.Equal(ErrDuplicateRequest, f.roster.SendRequest(f.alice, f.bob))

	// Crossing requests: bob must accept alice's instead of re-sending.
	require.Equal(ErrReciprocalPending, f.roster.SendRequest(f.bob, f.alice))

	require.NoError(f.roster.Accept(f.alice, f.bob))
	require.Equal(ErrAlreadyFriends, f.roster.SendRequest(f.alice, f.bob))
	require.Equal(ErrAlreadyFriends, f.roster.SendRequest(f.bob, f.alice))
}

func TestReject(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)

	require.NoError(f.roster.SendRequest(f.alice, f.bob))
	require.NoError(f.roster.Reject(f.alice, f.bob))

	friends, err := f.roster.AreFriends(f.alice, f.bob)
	require.NoError(err)
	require.False(friends)

	in, err := f.roster.PendingIncoming(f.bob)
	require.NoError(err)
	require.Empty(in)

	// Rejection is not a ban; alice may ask again.
	require.NoError(f.roster.SendRequest(f.alice, f.bob))
}

func TestCancel(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)

	require.Equal(ErrNoSuchRequest, f.roster.Cancel(f.alice, f.bob))

	require.NoError(f.roster.SendRequest(f.alice, f.bob))
	require.NoError(f.roster.Cancel(f.alice, f.bob))

	in, err := f.roster.PendingIncoming(f.bob)
	require.NoError(err)
	require.Empty(in)

	// Accepting a withdrawn request fails.
	require.Equal(ErrNoSuchRequest, f.roster.Accept(f.alice, f.bob))

	// Cancellation is silent: only the request event reached the outbox.
	events, err := f.ledger.EventsSince(0)
	require.NoError(err)
	var kinds []string
	for _, ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	require.NotContains(kinds, EventRejected)
	require.NotContains(kinds, EventUnfriended)
}

func TestAcceptRejectUnknown(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)

	require.Equal(ErrNoSuchRequest, f.roster.Accept(f.alice, f.bob))
	require.Equal(ErrNoSuchRequest, f.roster.Reject(f.alice, f.bob))

	// Direction matters: bob cannot accept a request he never received.
	require.NoError(f.roster.SendRequest(f.alice, f.bob))
	require.Equal(ErrNoSuchRequest, f.roster.Accept(f.bob, f.alice))
}

func TestRemoveFriend(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)

	require.Equal(ErrNotFriends, f.roster.RemoveFriend(f.alice, f.bob))

	require.NoError(f.roster.SendRequest(f.alice, f.bob))
	require.NoError(f.roster.Accept(f.alice, f.bob))
	require.NoError(f.roster.RemoveFriend(f.bob, f.alice))

	friends, err := f.roster.AreFriends(f.alice, f.bob)
	require.NoError(err)
	require.False(friends)

	rec, err := f.registry.Lookup(f.alice)
	require.NoError(err)
	require.NotContains(rec.Friends, f.bob)
	rec, err = f.registry.Lookup(f.bob)
	require.NoError(err)
	require.NotContains(rec.Friends, f.alice)

	// Consent is not permanent; the pair can start over.
	require.NoError(f.roster.SendRequest(f.bob, f.alice))
	require.NoError(f.roster.Accept(f.bob, f.alice))
	friends, err = f.roster.AreFriends(f.alice, f.bob)
	require.NoError(err)
	require.True(friends)
}

func TestLifecycleEvents(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)

	require.NoError(f.roster.SendRequest(f.alice, f.bob))
	require.NoError(f.roster.Accept(f.alice, f.bob))
	require.NoError(f.roster.RemoveFriend(f.alice, f.bob))

	events, err := f.ledger.EventsSince(0)
	require.NoError(err)

	// Skip the two registration events from the fixture.
	require.Len(events, 6)
	events = events[2:]

	require.Equal(EventRequested, events[0].Kind)
	decoded, err := DecodeEvent(events[0])
	require.NoError(err)
	req, ok := decoded.(*RequestedEvent)
	require.True(ok)
	require.Equal(f.alice, req.From)
	require.Equal(f.bob, req.To)

	require.Equal(EventAccepted, events[1].Kind)
	require.Equal(EventFriended, events[2].Kind)
	decoded, err = DecodeEvent(events[2])
	require.NoError(err)
	fr, ok := decoded.(*FriendedEvent)
	require.True(ok)
	require.Equal(f.alice, fr.A)
	require.Equal(f.bob, fr.B)

	require.Equal(EventUnfriended, events[3].Kind)
}
