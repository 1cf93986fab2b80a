// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package messenger

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/katzenpost/hpqc/rand"
	"github.com/stretchr/testify/require"

	"github.com/katzenpost/pact/core/log"
	"github.com/katzenpost/pact/identity"
	"github.com/katzenpost/pact/ledger"
	"github.com/katzenpost/pact/registry"
	"github.com/katzenpost/pact/roster"
	"github.com/katzenpost/pact/spool"
)

type harness struct {
	logBackend *log.Backend
	ledger     *ledger.Ledger
	registry   *registry.Registry
	roster     *roster.Roster
	spool      *spool.Spool
	dataDir    string
}

func newHarness(t *testing.T) *harness {
	logBackend, err := log.New("", "DEBUG", true)
	require.NoError(t, err)
	dataDir := t.TempDir()
	l, err := ledger.Open(filepath.Join(dataDir, "ledger.db"), logBackend)
	require.NoError(t, err)
	t.Cleanup(l.Close)

	reg, err := registry.New(l, logBackend)
	require.NoError(t, err)
	ros, err := roster.New(l, logBackend)
	require.NoError(t, err)
	sp, err := spool.New(l, logBackend)
	require.NoError(t, err)
	return &harness{
		logBackend: logBackend,
		ledger:     l,
		registry:   reg,
		roster:     ros,
		spool:      sp,
		dataDir:    dataDir,
	}
}

func (h *harness) newIdentity(t *testing.T) identity.Identity {
	var id identity.Identity
	_, err := rand.Reader.Read(id[:])
	require.NoError(t, err)
	return id
}

func (h *harness) newClient(t *testing.T, name string) *Client {
	stateWorker, err := NewStateWriter(h.logBackend.GetLogger(name+"_state"), filepath.Join(h.dataDir, name+".state"), []byte("passphrase"))
	require.NoError(t, err)
	stateWorker.Start()
	c, err := NewClientWithNewKey(h.logBackend, h.ledger, h.registry, h.roster, h.spool, stateWorker)
	require.NoError(t, err)
	c.Start()
	t.Cleanup(c.Shutdown)
	return c
}

func TestMessengerLifecycle(t *testing.T) {
	require := require.New(t)
	h := newHarness(t)

	alice := h.newClient(t, "alice")
	bob := h.newClient(t, "bob")

	require.NoError(alice.Register("alice"))
	require.NoError(bob.Register("bob"))
	require.Equal(registry.ErrAlreadyRegistered, alice.Register("alice2"))

	require.NoError(alice.AddContact("bob", bob.Identity()))
	require.Equal(roster.ErrReciprocalPending, bob.AddContact("alice", alice.Identity()))
	require.NoError(bob.AcceptContact("alice"))

	friends, err := h.roster.AreFriends(alice.Identity(), bob.Identity())
	require.NoError(err)
	require.True(friends)

	require.NoError(alice.SendMessage("bob", []byte("hello bob")))
	require.NoError(bob.SendFile("alice", []byte("https://example.com/cat.png")))

	// Both sides decrypt the same channel.
	entries, err := bob.Conversation("alice")
	require.NoError(err)
	require.Len(entries, 2)
	require.False(entries[0].Outbound)
	require.Equal([]byte("hello bob"), entries[0].Plaintext)
	require.Equal(spool.KindText, entries[0].Kind)
	require.True(entries[1].Outbound)
	require.Equal([]byte("https://example.com/cat.png"), entries[1].Plaintext)
	require.Equal(spool.KindFile, entries[1].Kind)

	// Bob marks alice's message read; alice observes the receipt.
	require.NoError(bob.MarkRead("alice", 0))
	entries, err = alice.Conversation("bob")
	require.NoError(err)
	require.Equal(spool.StatusRead, entries[0].Status)
	require.NotZero(entries[0].ReadAt)

	// Only the receiving party advances status.
	require.Equal(spool.ErrAlreadyRead, alice.MarkRead("bob", 0))
	require.Equal(spool.ErrStatusAlreadyAdvanced, bob.MarkDelivered("alice", 0))

	require.NoError(alice.RemoveContact("bob"))
	_, ok := alice.GetContacts()["bob"]
	require.False(ok)
	friends, err = h.roster.AreFriends(alice.Identity(), bob.Identity())
	require.NoError(err)
	require.False(friends)
}

func TestMessengerRejectAndCancel(t *testing.T) {
	require := require.New(t)
	h := newHarness(t)

	alice := h.newClient(t, "alice")
	bob := h.newClient(t, "bob")
	require.NoError(alice.Register("alice"))
	require.NoError(bob.Register("bob"))

	require.NoError(alice.AddContact("bob", bob.Identity()))
	require.NoError(alice.CancelContact("bob"))

	// The withdrawn request cannot be accepted.
	require.NoError(bob.AddContact("alice", alice.Identity()))
	require.Equal(roster.ErrNoSuchRequest, bob.AcceptContact("alice"))

	// Bob's AddContact sent his own request; alice turns it down.
	require.NoError(alice.RejectContact("bob"))
	friends, err := h.roster.AreFriends(alice.Identity(), bob.Identity())
	require.NoError(err)
	require.False(friends)
	_, ok := alice.GetContacts()["bob"]
	require.False(ok)

	require.Equal(errContactNotFound, alice.SendMessage("carol", []byte("hi")))
}

func TestConversationOpaqueEntry(t *testing.T) {
	require := require.New(t)
	h := newHarness(t)

	alice := h.newClient(t, "alice")
	bob := h.newClient(t, "bob")
	require.NoError(alice.Register("alice"))
	require.NoError(bob.Register("bob"))
	require.NoError(alice.AddContact("bob", bob.Identity()))
	require.Equal(roster.ErrReciprocalPending, bob.AddContact("alice", alice.Identity()))
	require.NoError(bob.AcceptContact("alice"))

	require.NoError(alice.SendMessage("bob", []byte("readable")))

	// A confidential record that was never properly sealed must surface
	// as opaque, not break the conversation.
	_, err := h.spool.Send(bob.Identity(), alice.Identity(), []byte("garbage, not a sealed blob"), spool.KindText, true)
	require.NoError(err)

	entries, err := alice.Conversation("bob")
	require.NoError(err)
	require.Len(entries, 2)
	require.False(entries[0].Opaque)
	require.True(entries[1].Opaque)
	require.Empty(entries[1].Plaintext)
}

func TestStatePersistence(t *testing.T) {
	require := require.New(t)
	h := newHarness(t)

	stateFile := filepath.Join(h.dataDir, "alice.state")
	stateWorker, err := NewStateWriter(h.logBackend.GetLogger("alice_state"), stateFile, []byte("passphrase"))
	require.NoError(err)
	stateWorker.Start()

	alice, err := NewClientWithNewKey(h.logBackend, h.ledger, h.registry, h.roster, h.spool, stateWorker)
	require.NoError(err)
	alice.Start()
	require.NoError(alice.Register("alice"))

	bob := h.newClient(t, "bob")
	require.NoError(bob.Register("bob"))
	require.NoError(alice.AddContact("bob", bob.Identity()))

	id := alice.Identity()
	alice.Shutdown()
	alice.Wait()
	stateWorker.Wait()

	// The statefile only opens with the right passphrase.
	_, _, err = LoadStateWriter(h.logBackend.GetLogger("alice_state2"), stateFile, []byte("wrong"))
	require.Equal(ErrDecryptState, err)

	stateWorker2, state, err := LoadStateWriter(h.logBackend.GetLogger("alice_state3"), stateFile, []byte("passphrase"))
	require.NoError(err)
	stateWorker2.Start()
	defer stateWorker2.Halt()

	require.Equal(id, state.Identity)
	require.Equal("alice", state.Handle)
	require.Equal(bob.Identity(), state.AddressBook["bob"])

	restored, err := New(h.logBackend, h.ledger, h.registry, h.roster, h.spool, stateWorker2, state)
	require.NoError(err)
	restored.Start()
	defer restored.Halt()
	require.Equal(id, restored.Identity())
}

func TestEventSink(t *testing.T) {
	require := require.New(t)
	h := newHarness(t)

	// A single sink consumer; bob's side is driven through the contracts.
	alice := h.newClient(t, "alice")
	require.NoError(alice.Register("alice"))

	bobID := h.newIdentity(t)
	require.NoError(h.registry.Register(bobID, "bob"))
	require.NoError(alice.AddContact("bob", bobID))

	deadline := time.After(5 * time.Second)
	var sawRequested bool
	for !sawRequested {
		select {
		case ev := <-alice.EventSink:
			if req, ok := ev.(*roster.RequestedEvent); ok {
				require.Equal(alice.Identity(), req.From)
				require.Equal(bobID, req.To)
				sawRequested = true
			}
		case <-deadline:
			t.Fatal("timeout waiting for request event")
		}
	}
}
