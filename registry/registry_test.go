// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package registry

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/katzenpost/hpqc/rand"
	"github.com/stretchr/testify/require"

	"github.com/katzenpost/pact/core/log"
	"github.com/katzenpost/pact/identity"
	"github.com/katzenpost/pact/ledger"
)

func testRegistry(t *testing.T) *Registry {
	logBackend, err := log.New("", "DEBUG", true)
	require.NoError(t, err)
	l, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"), logBackend)
	require.NoError(t, err)
	t.Cleanup(l.Close)
	r, err := New(l, logBackend)
	require.NoError(t, err)
	return r
}

func randIdentity(t *testing.T) identity.Identity {
	var id identity.Identity
	_, err := rand.Reader.Read(id[:])
	require.NoError(t, err)
	return id
}

func TestRegisterAndLookup(t *testing.T) {
	require := require.New(t)
	r := testRegistry(t)

	alice := randIdentity(t)
	bob := randIdentity(t)

	require.NoError(r.Register(alice, "alice"))
	require.NoError(r.Register(bob, "bob"))

	id, err := r.LookupHandle("alice")
	require.NoError(err)
	require.Equal(alice, id)

	rec, err := r.Lookup(alice)
	require.NoError(err)
	require.Equal("alice", rec.Handle)
	require.Equal(alice, rec.Identity)
	require.Empty(rec.Friends)

	exists, err := r.Exists(alice)
	require.NoError(err)
	require.True(exists)
}

func TestRegisterRejections(t *testing.T) {
	require := require.New(t)
	r := testRegistry(t)

	alice := randIdentity(t)
	mallory := randIdentity(t)

	require.NoError(r.Register(alice, "alice"))
	require.Equal(ErrAlreadyRegistered, r.Register(alice, "alice2"))
	require.Equal(ErrHandleTaken, r.Register(mallory, "alice"))
	require.Equal(ErrInvalidHandle, r.Register(mallory, ""))
	require.Equal(ErrInvalidHandle, r.Register(mallory, strings.Repeat("x", MaxHandleLen+1)))

	// A handle of exactly MaxHandleLen bytes is fine.
	require.NoError(r.Register(mallory, strings.Repeat("x", MaxHandleLen)))
}

func TestLookupUnknownIsEmpty(t *testing.T) {
	require := require.New(t)
	r := testRegistry(t)

	rec, err := r.Lookup(randIdentity(t))
	require.NoError(err)
	require.Empty(rec.Handle)

	_, err = r.LookupHandle("nobody")
	require.Equal(ErrHandleNotFound, err)

	exists, err := r.Exists(randIdentity(t))
	require.NoError(err)
	require.False(exists)
}

func TestRegisteredEvent(t *testing.T) {
	require := require.New(t)

	logBackend, err := log.New("", "DEBUG", true)
	require.NoError(err)
	l, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"), logBackend)
	require.NoError(err)
	t.Cleanup(l.Close)
	r, err := New(l, logBackend)
	require.NoError(err)

	alice := randIdentity(t)
	require.NoError(r.Register(alice, "alice"))

	events, err := l.EventsSince(0)
	require.NoError(err)
	require.Len(events, 1)
	require.Equal(EventRegistered, events[0].Kind)

	decoded, err := DecodeEvent(events[0])
	require.NoError(err)
	ev, ok := decoded.(*RegisteredEvent)
	require.True(ok)
	require.Equal(alice, ev.Identity)
	require.Equal("alice", ev.Handle)
}
