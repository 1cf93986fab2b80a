// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package messenger

import (
	"errors"
	"strings"

	"github.com/katzenpost/pact/identity"
	"github.com/katzenpost/pact/ledger"
	"github.com/katzenpost/pact/registry"
	"github.com/katzenpost/pact/roster"
	"github.com/katzenpost/pact/seal"
	"github.com/katzenpost/pact/spool"
)

func (c *Client) worker() {
	for {
		var qo interface{}
		select {
		case <-c.HaltCh():
			c.log.Debug("Terminating gracefully.")
			c.save()
			return
		case ev, ok := <-c.ledger.Sink():
			if !ok {
				return
			}
			c.processLedgerEvent(ev)
			continue
		case qo = <-c.opCh:
		}
		switch op := qo.(type) {
		case *opRegister:
			op.responseChan <- c.doRegister(op.handle)
		case *opAddContact:
			op.responseChan <- c.doAddContact(op.nickname, op.id)
		case *opAcceptContact:
			op.responseChan <- c.doAcceptContact(op.nickname)
		case *opRejectContact:
			op.responseChan <- c.doRejectContact(op.nickname)
		case *opCancelContact:
			op.responseChan <- c.doCancelContact(op.nickname)
		case *opRemoveContact:
			op.responseChan <- c.doRemoveContact(op.nickname)
		case *opGetContacts:
			op.responseChan <- c.doGetContacts()
		case *opSendMessage:
			op.responseChan <- c.doSendMessage(op.nickname, op.payload, op.kind)
		case *opGetConversation:
			entries, err := c.doGetConversation(op.nickname)
			op.responseChan <- conversationResult{entries: entries, err: err}
		case *opMarkRead:
			op.responseChan <- c.doMarkRead(op.nickname, op.index)
		case *opMarkDelivered:
			op.responseChan <- c.doMarkDelivered(op.nickname, op.index)
		default:
			c.log.Error("BUG, unknown operation type.")
		}
	}
}

// processLedgerEvent decodes a committed outbox record into the emitting
// contract's typed event and forwards it to the EventSink.
func (c *Client) processLedgerEvent(ev ledger.Event) {
	var decoded interface{}
	var err error
	switch {
	case strings.HasPrefix(ev.Kind, "registry."):
		decoded, err = registry.DecodeEvent(ev)
	case strings.HasPrefix(ev.Kind, "roster."):
		decoded, err = roster.DecodeEvent(ev)
	case strings.HasPrefix(ev.Kind, "spool."):
		decoded, err = spool.DecodeEvent(ev)
	default:
		c.log.Warningf("Dropping event of unknown kind %q", ev.Kind)
		return
	}
	if err != nil {
		c.log.Errorf("Failed to decode event %d: %v", ev.Seq, err)
		return
	}
	c.eventCh.In() <- decoded
}

func (c *Client) doRegister(handle string) error {
	err := c.registry.Register(c.state.Identity, handle)
	if err != nil {
		return err
	}
	c.stateMutex.Lock()
	c.state.Handle = handle
	c.stateMutex.Unlock()
	c.save()
	return nil
}

func (c *Client) contact(nickname string) (identity.Identity, error) {
	c.stateMutex.Lock()
	defer c.stateMutex.Unlock()
	id, ok := c.state.AddressBook[nickname]
	if !ok {
		return identity.Identity{}, errContactNotFound
	}
	return id, nil
}

func (c *Client) doAddContact(nickname string, id identity.Identity) error {
	c.stateMutex.Lock()
	if existing, ok := c.state.AddressBook[nickname]; ok && existing != id {
		c.stateMutex.Unlock()
		return errors.New("messenger: nickname already in use")
	}
	c.stateMutex.Unlock()
	err := c.roster.SendRequest(c.state.Identity, id)
	if err != nil && err != roster.ErrReciprocalPending {
		return err
	}
	// On a crossing request the nickname is still recorded so the caller
	// can accept instead of re-sending.
	c.stateMutex.Lock()
	c.state.AddressBook[nickname] = id
	c.stateMutex.Unlock()
	c.save()
	return err
}

func (c *Client) doAcceptContact(nickname string) error {
	id, err := c.contact(nickname)
	if err != nil {
		return err
	}
	return c.roster.Accept(id, c.state.Identity)
}

func (c *Client) doRejectContact(nickname string) error {
	id, err := c.contact(nickname)
	if err != nil {
		return err
	}
	if err := c.roster.Reject(id, c.state.Identity); err != nil {
		return err
	}
	c.stateMutex.Lock()
	delete(c.state.AddressBook, nickname)
	c.stateMutex.Unlock()
	c.save()
	return nil
}

func (c *Client) doCancelContact(nickname string) error {
	id, err := c.contact(nickname)
	if err != nil {
		return err
	}
	return c.roster.Cancel(c.state.Identity, id)
}

func (c *Client) doRemoveContact(nickname string) error {
	id, err := c.contact(nickname)
	if err != nil {
		return err
	}
	if err := c.roster.RemoveFriend(c.state.Identity, id); err != nil {
		return err
	}
	c.stateMutex.Lock()
	delete(c.state.AddressBook, nickname)
	c.stateMutex.Unlock()
	c.save()
	return nil
}

func (c *Client) doGetContacts() map[string]identity.Identity {
	c.stateMutex.Lock()
	defer c.stateMutex.Unlock()
	book := make(map[string]identity.Identity, len(c.state.AddressBook))
	for nickname, id := range c.state.AddressBook {
		book[nickname] = id
	}
	return book
}

func (c *Client) doSendMessage(nickname string, payload []byte, kind spool.Kind) error {
	if c.state.Handle == "" {
		return errNotRegistered
	}
	id, err := c.contact(nickname)
	if err != nil {
		return err
	}
	sealed, err := seal.Encrypt(payload, c.state.Identity, id)
	if err != nil {
		return err
	}
	_, err = c.spool.Send(c.state.Identity, id, sealed, kind, true)
	return err
}

func (c *Client) doGetConversation(nickname string) ([]Entry, error) {
	id, err := c.contact(nickname)
	if err != nil {
		return nil, err
	}
	msgs, err := c.spool.Messages(c.state.Identity, id)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(msgs))
	for _, msg := range msgs {
		entry := Entry{
			Outbound: msg.Sender == c.state.Identity,
			Kind:     msg.Kind,
			Status:   msg.Status,
			SentAt:   msg.SentAt,
			ReadAt:   msg.ReadAt,
		}
		if msg.Confidential {
			plaintext, err := seal.Decrypt(msg.Payload, c.state.Identity, id)
			if err != nil {
				// A record we cannot open stays in the log; surface
				// it as opaque rather than failing the conversation.
				entry.Opaque = true
			} else {
				entry.Plaintext = plaintext
			}
		} else {
			entry.Plaintext = msg.Payload
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (c *Client) doMarkRead(nickname string, index uint64) error {
	id, err := c.contact(nickname)
	if err != nil {
		return err
	}
	return c.spool.MarkRead(c.state.Identity, id, index)
}

func (c *Client) doMarkDelivered(nickname string, index uint64) error {
	id, err := c.contact(nickname)
	if err != nil {
		return err
	}
	return c.spool.MarkDelivered(c.state.Identity, id, index)
}
