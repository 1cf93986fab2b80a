// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package messenger provides the client facade over the pact contracts: a
// nickname address book, sealed conversations and an event sink, with the
// client's own state persisted to an encrypted statefile.
package messenger

import (
	"errors"
	"sync"

	"gopkg.in/eapache/channels.v1"
	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/hpqc/sign/ed25519"

	"github.com/katzenpost/pact/core/log"
	"github.com/katzenpost/pact/core/worker"
	"github.com/katzenpost/pact/identity"
	"github.com/katzenpost/pact/ledger"
	"github.com/katzenpost/pact/registry"
	"github.com/katzenpost/pact/roster"
	"github.com/katzenpost/pact/spool"
)

var (
	errContactNotFound = errors.New("messenger: contact not found")
	errNotRegistered   = errors.New("messenger: not registered")
	errHalted          = errors.New("messenger: halted")
)

// Entry is one decrypted conversation record. Opaque is set when the
// payload could not be decrypted; Plaintext is empty in that case and the
// stored ciphertext stands in for the message.
type Entry struct {
	Outbound  bool
	Plaintext []byte
	Opaque    bool
	Kind      spool.Kind
	Status    spool.Status
	SentAt    uint64
	ReadAt    uint64
}

// Client is the messenger client. All operations are serialized onto a
// single worker goroutine; the public methods are safe to call from any
// goroutine.
type Client struct {
	worker.Worker

	eventCh   channels.Channel
	EventSink chan interface{}
	opCh      chan interface{}

	stateWorker *StateWriter
	stateMutex  *sync.Mutex
	state       *State

	ledger   *ledger.Ledger
	registry *registry.Registry
	roster   *roster.Roster
	spool    *spool.Spool

	log        *logging.Logger
	logBackend *log.Backend
}

// NewClientWithNewKey generates a fresh identity keypair and returns a new
// Client around it. This constructor is used when creating a client for
// the first time, as opposed to loading a previously saved state.
func NewClientWithNewKey(logBackend *log.Backend, l *ledger.Ledger, reg *registry.Registry, ros *roster.Roster, sp *spool.Spool, stateWorker *StateWriter) (*Client, error) {
	pub, priv, err := ed25519.Scheme().GenerateKey()
	if err != nil {
		return nil, err
	}
	privBytes, err := priv.MarshalBinary()
	if err != nil {
		return nil, err
	}
	pubBytes, err := pub.MarshalBinary()
	if err != nil {
		return nil, err
	}
	state := &State{
		PrivateKey:  privBytes,
		AddressBook: make(map[string]identity.Identity),
	}
	state.Identity, err = identity.FromBytes(pubBytes)
	if err != nil {
		return nil, err
	}
	c, err := New(logBackend, l, reg, ros, sp, stateWorker, state)
	if err != nil {
		return nil, err
	}
	c.save()
	return c, nil
}

// New creates a Client from a previously saved (or freshly created) state.
func New(logBackend *log.Backend, l *ledger.Ledger, reg *registry.Registry, ros *roster.Roster, sp *spool.Spool, stateWorker *StateWriter, state *State) (*Client, error) {
	if state == nil {
		state = new(State)
	}
	if state.AddressBook == nil {
		state.AddressBook = make(map[string]identity.Identity)
	}
	c := &Client{
		eventCh:     channels.NewInfiniteChannel(),
		EventSink:   make(chan interface{}),
		opCh:        make(chan interface{}, 8),
		stateWorker: stateWorker,
		stateMutex:  new(sync.Mutex),
		state:       state,
		ledger:      l,
		registry:    reg,
		roster:      ros,
		spool:       sp,
		log:         logBackend.GetLogger("pact/messenger"),
		logBackend:  logBackend,
	}
	return c, nil
}

// Start starts the client worker goroutines.
func (c *Client) Start() {
	c.Go(c.worker)
	c.Go(c.eventSinkWorker)
}

// Shutdown halts the client and its state writer.
func (c *Client) Shutdown() {
	c.Halt()
	if c.stateWorker != nil {
		c.stateWorker.Halt()
	}
}

// Identity returns the client's own identity.
func (c *Client) Identity() identity.Identity {
	c.stateMutex.Lock()
	defer c.stateMutex.Unlock()
	return c.state.Identity
}

// Register claims handle for the client's identity.
func (c *Client) Register(handle string) error {
	op := &opRegister{handle: handle, responseChan: make(chan error, 1)}
	return c.do(op, op.responseChan)
}

// AddContact records nickname for id in the address book and sends id a
// friend request. When id already has a request pending towards us the
// nickname is still recorded and roster.ErrReciprocalPending is returned;
// the caller should AcceptContact instead.
func (c *Client) AddContact(nickname string, id identity.Identity) error {
	op := &opAddContact{nickname: nickname, id: id, responseChan: make(chan error, 1)}
	return c.do(op, op.responseChan)
}

// AcceptContact accepts the pending friend request from nickname.
func (c *Client) AcceptContact(nickname string) error {
	op := &opAcceptContact{nickname: nickname, responseChan: make(chan error, 1)}
	return c.do(op, op.responseChan)
}

// RejectContact declines the pending friend request from nickname and
// drops the address book entry.
func (c *Client) RejectContact(nickname string) error {
	op := &opRejectContact{nickname: nickname, responseChan: make(chan error, 1)}
	return c.do(op, op.responseChan)
}

// CancelContact withdraws the friend request previously sent to nickname.
func (c *Client) CancelContact(nickname string) error {
	op := &opCancelContact{nickname: nickname, responseChan: make(chan error, 1)}
	return c.do(op, op.responseChan)
}

// RemoveContact removes the friend edge with nickname and drops the
// address book entry.
func (c *Client) RemoveContact(nickname string) error {
	op := &opRemoveContact{nickname: nickname, responseChan: make(chan error, 1)}
	return c.do(op, op.responseChan)
}

// GetContacts returns the address book.
func (c *Client) GetContacts() map[string]identity.Identity {
	op := &opGetContacts{responseChan: make(chan map[string]identity.Identity, 1)}
	select {
	case c.opCh <- op:
	case <-c.HaltCh():
		return nil
	}
	select {
	case book := <-op.responseChan:
		return book
	case <-c.HaltCh():
		return nil
	}
}

// SendMessage seals text for nickname's channel and appends it.
func (c *Client) SendMessage(nickname string, text []byte) error {
	op := &opSendMessage{nickname: nickname, payload: text, kind: spool.KindText, responseChan: make(chan error, 1)}
	return c.do(op, op.responseChan)
}

// SendFile seals the file URL for nickname's channel and appends it as a
// file record.
func (c *Client) SendFile(nickname string, url []byte) error {
	op := &opSendMessage{nickname: nickname, payload: url, kind: spool.KindFile, responseChan: make(chan error, 1)}
	return c.do(op, op.responseChan)
}

// Conversation returns the decrypted conversation with nickname.
// Undecryptable records come back as opaque entries, never as an error.
func (c *Client) Conversation(nickname string) ([]Entry, error) {
	op := &opGetConversation{nickname: nickname, responseChan: make(chan conversationResult, 1)}
	select {
	case c.opCh <- op:
	case <-c.HaltCh():
		return nil, errHalted
	}
	select {
	case result := <-op.responseChan:
		return result.entries, result.err
	case <-c.HaltCh():
		return nil, errHalted
	}
}

// MarkRead advances the status of message index in nickname's channel to
// read.
func (c *Client) MarkRead(nickname string, index uint64) error {
	op := &opMarkRead{nickname: nickname, index: index, responseChan: make(chan error, 1)}
	return c.do(op, op.responseChan)
}

// MarkDelivered advances the status of message index in nickname's channel
// to delivered.
func (c *Client) MarkDelivered(nickname string, index uint64) error {
	op := &opMarkDelivered{nickname: nickname, index: index, responseChan: make(chan error, 1)}
	return c.do(op, op.responseChan)
}

func (c *Client) do(op interface{}, responseChan chan error) error {
	select {
	case c.opCh <- op:
	case <-c.HaltCh():
		return errHalted
	}
	select {
	case err := <-responseChan:
		return err
	case <-c.HaltCh():
		return errHalted
	}
}

// save snapshots the client state onto the state writer.
func (c *Client) save() {
	if c.stateWorker == nil {
		return
	}
	c.stateMutex.Lock()
	serialized, err := c.state.marshal()
	c.stateMutex.Unlock()
	if err != nil {
		c.log.Errorf("Failed to serialize state: %v", err)
		return
	}
	c.log.Debug("Saving statefile.")
	select {
	case c.stateWorker.stateCh <- serialized:
	case <-c.HaltCh():
	}
}

func (c *Client) eventSinkWorker() {
	defer func() {
		c.log.Debug("Event sink worker terminating gracefully.")
		close(c.EventSink)
	}()
	for {
		var event interface{}
		select {
		case <-c.HaltCh():
			return
		case event = <-c.eventCh.Out():
		}
		select {
		case c.EventSink <- event:
		case <-c.HaltCh():
			return
		}
	}
}
