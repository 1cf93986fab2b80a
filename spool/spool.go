// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package spool implements the message log contract: an append-only,
// per-channel ordered sequence of message records. Each record carries a
// delivery status that only the receiving party may advance, and advances
// monotonically from sent through delivered to read.
package spool

import (
	"encoding/binary"
	"errors"

	"github.com/fxamacker/cbor/v2"
	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/pact/channel"
	"github.com/katzenpost/pact/core/log"
	"github.com/katzenpost/pact/identity"
	"github.com/katzenpost/pact/internal/instrument"
	"github.com/katzenpost/pact/ledger"
	"github.com/katzenpost/pact/registry"
)

const channelsBucket = "channels"

var (
	// ErrInvalidRecipient is returned when the recipient is the null
	// identity or the sender itself.
	ErrInvalidRecipient = errors.New("spool: invalid recipient")

	// ErrEmptyPayload is returned for a zero-length payload.
	ErrEmptyPayload = errors.New("spool: empty payload")

	// ErrSenderUnregistered is returned when the sender has no registry
	// record.
	ErrSenderUnregistered = errors.New("spool: sender not registered")

	// ErrRecipientUnregistered is returned when the recipient has no
	// registry record.
	ErrRecipientUnregistered = errors.New("spool: recipient not registered")

	// ErrNotFriends is returned when no friend edge exists between sender
	// and recipient.
	ErrNotFriends = errors.New("spool: not friends")

	// ErrInvalidKind is returned for a message kind other than text or
	// file.
	ErrInvalidKind = errors.New("spool: invalid message kind")

	// ErrIndexOutOfRange is returned when a message index is at or past
	// the end of the channel.
	ErrIndexOutOfRange = errors.New("spool: message index out of range")

	// ErrStatusAlreadyAdvanced is returned by MarkDelivered when the
	// message is not eligible: the caller is not the receiving party or
	// the status already moved past sent.
	ErrStatusAlreadyAdvanced = errors.New("spool: status already advanced")

	// ErrAlreadyRead is returned by MarkRead when the message is not
	// eligible: the caller is not the receiving party or the message was
	// already read.
	ErrAlreadyRead = errors.New("spool: message already read")
)

// Kind distinguishes message payloads.
type Kind uint8

const (
	// KindText is an opaque (usually sealed) text payload.
	KindText Kind = iota

	// KindFile is a file reference; the payload is an opaque URL.
	KindFile
)

// Status is a message's delivery state. It only ever advances.
type Status uint8

const (
	// StatusSent is the initial status of every appended message.
	StatusSent Status = iota

	// StatusDelivered means the receiving party acknowledged receipt.
	StatusDelivered

	// StatusRead means the receiving party read the message.
	StatusRead
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusSent:
		return "sent"
	case StatusDelivered:
		return "delivered"
	case StatusRead:
		return "read"
	default:
		return "unknown"
	}
}

// Message is one record in a channel's log.
type Message struct {
	Sender       identity.Identity
	Payload      []byte
	Kind         Kind
	Confidential bool
	Status       Status
	SentAt       uint64
	ReadAt       uint64
}

// Spool is the message log contract.
type Spool struct {
	ledger *ledger.Ledger
	log    *logging.Logger
}

// New creates the spool contract's bucket and returns the contract.
func New(l *ledger.Ledger, logBackend *log.Backend) (*Spool, error) {
	s := &Spool{
		ledger: l,
		log:    logBackend.GetLogger("pact/spool"),
	}
	err := l.Update(func(tx *ledger.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(channelsBucket))
		return err
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Send appends a message from sender to recipient and returns its index in
// the pair's channel. The payload is stored as given; confidential senders
// seal it before calling.
func (s *Spool) Send(sender, recipient identity.Identity, payload []byte, kind Kind, confidential bool) (index uint64, err error) {
	defer func() { instrument.Operation("spool.send", err) }()

	if recipient.IsNull() || recipient == sender {
		return 0, ErrInvalidRecipient
	}
	if len(payload) == 0 {
		return 0, ErrEmptyPayload
	}
	if kind != KindText && kind != KindFile {
		return 0, ErrInvalidKind
	}
	chID := channel.Address(sender, recipient)
	err = s.ledger.Update(func(tx *ledger.Tx) error {
		if !registry.ExistsTx(tx, sender) {
			return ErrSenderUnregistered
		}
		if !registry.ExistsTx(tx, recipient) {
			return ErrRecipientUnregistered
		}
		friends, err := registry.IsFriendTx(tx, sender, recipient)
		if err != nil {
			return err
		}
		if !friends {
			return ErrNotFriends
		}
		ch, err := tx.Bucket([]byte(channelsBucket)).CreateBucketIfNotExists(chID[:])
		if err != nil {
			return err
		}
		seq, err := ch.NextSequence()
		if err != nil {
			return err
		}
		index = seq - 1
		msg := &Message{
			Sender:       sender,
			Payload:      payload,
			Kind:         kind,
			Confidential: confidential,
			Status:       StatusSent,
			SentAt:       tx.Now(),
		}
		raw, err := cbor.Marshal(msg)
		if err != nil {
			return err
		}
		if err := ch.Put(indexKey(index), raw); err != nil {
			return err
		}
		s.log.Debugf("Appended message %d to channel %x", index, chID[:8])
		return tx.Emit(EventSent, &SentEvent{
			Sender:       sender,
			Recipient:    recipient,
			Channel:      chID,
			Index:        index,
			Payload:      payload,
			Kind:         kind,
			Confidential: confidential,
			SentAt:       msg.SentAt,
		})
	})
	if err != nil {
		return 0, err
	}
	instrument.MessageAppended()
	return index, nil
}

// Messages returns the full ordered log of the channel between caller and
// counterparty. There is no friendship check at read time; confidentiality
// rests on the seal, not on access control.
func (s *Spool) Messages(caller, counterparty identity.Identity) ([]Message, error) {
	chID := channel.Address(caller, counterparty)
	var out []Message
	err := s.ledger.View(func(tx *ledger.Tx) error {
		ch := tx.Bucket([]byte(channelsBucket)).Bucket(chID[:])
		if ch == nil {
			return nil
		}
		return ch.ForEach(func(_, v []byte) error {
			var msg Message
			if _, err := cbor.UnmarshalFirst(v, &msg); err != nil {
				return err
			}
			out = append(out, msg)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Count returns the number of messages in the pair's channel.
func (s *Spool) Count(caller, counterparty identity.Identity) (uint64, error) {
	chID := channel.Address(caller, counterparty)
	var n uint64
	err := s.ledger.View(func(tx *ledger.Tx) error {
		if ch := tx.Bucket([]byte(channelsBucket)).Bucket(chID[:]); ch != nil {
			n = ch.Sequence()
		}
		return nil
	})
	return n, err
}

// ByIndex returns the message at index i in the pair's channel.
func (s *Spool) ByIndex(caller, counterparty identity.Identity, i uint64) (*Message, error) {
	chID := channel.Address(caller, counterparty)
	msg := new(Message)
	err := s.ledger.View(func(tx *ledger.Tx) error {
		ch := tx.Bucket([]byte(channelsBucket)).Bucket(chID[:])
		if ch == nil {
			return ErrIndexOutOfRange
		}
		raw := ch.Get(indexKey(i))
		if raw == nil {
			return ErrIndexOutOfRange
		}
		_, err := cbor.UnmarshalFirst(raw, msg)
		return err
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// MarkDelivered advances the status of message i from sent to delivered.
// Only the receiving party may advance it, and only from sent.
func (s *Spool) MarkDelivered(caller, counterparty identity.Identity, i uint64) (err error) {
	defer func() { instrument.Operation("spool.markDelivered", err) }()

	chID := channel.Address(caller, counterparty)
	return s.ledger.Update(func(tx *ledger.Tx) error {
		msg, put, err := messageTx(tx, chID, i)
		if err != nil {
			return err
		}
		if msg.Sender != counterparty || msg.Status != StatusSent {
			return ErrStatusAlreadyAdvanced
		}
		msg.Status = StatusDelivered
		if err := put(msg); err != nil {
			return err
		}
		return tx.Emit(EventDelivered, &DeliveredEvent{Channel: chID, Index: i})
	})
}

// MarkRead advances the status of message i to read and records the read
// receipt timestamp. Delivery marking may be skipped; sent to read directly
// is legal.
func (s *Spool) MarkRead(caller, counterparty identity.Identity, i uint64) (err error) {
	defer func() { instrument.Operation("spool.markRead", err) }()

	chID := channel.Address(caller, counterparty)
	return s.ledger.Update(func(tx *ledger.Tx) error {
		msg, put, err := messageTx(tx, chID, i)
		if err != nil {
			return err
		}
		if msg.Sender != counterparty || msg.Status >= StatusRead {
			return ErrAlreadyRead
		}
		msg.Status = StatusRead
		msg.ReadAt = tx.Now()
		if err := put(msg); err != nil {
			return err
		}
		return tx.Emit(EventRead, &ReadEvent{Channel: chID, Index: i, ReadAt: msg.ReadAt})
	})
}

// messageTx loads message i of the channel and returns it together with a
// writeback closure storing it under the same key.
func messageTx(tx *ledger.Tx, chID channel.ID, i uint64) (*Message, func(*Message) error, error) {
	ch := tx.Bucket([]byte(channelsBucket)).Bucket(chID[:])
	if ch == nil {
		return nil, nil, ErrIndexOutOfRange
	}
	raw := ch.Get(indexKey(i))
	if raw == nil {
		return nil, nil, ErrIndexOutOfRange
	}
	msg := new(Message)
	if _, err := cbor.UnmarshalFirst(raw, msg); err != nil {
		return nil, nil, err
	}
	put := func(m *Message) error {
		raw, err := cbor.Marshal(m)
		if err != nil {
			return err
		}
		return ch.Put(indexKey(i), raw)
	}
	return msg, put, nil
}

func indexKey(i uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], i)
	return k[:]
}
