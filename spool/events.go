// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package spool

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/katzenpost/pact/channel"
	"github.com/katzenpost/pact/identity"
	"github.com/katzenpost/pact/ledger"
)

const (
	// EventSent is emitted once per appended message.
	EventSent = "spool.sent"

	// EventDelivered is emitted when a message advances to delivered.
	EventDelivered = "spool.delivered"

	// EventRead is emitted when a message advances to read.
	EventRead = "spool.read"
)

// SentEvent is the body of an EventSent outbox record.
type SentEvent struct {
	Sender       identity.Identity
	Recipient    identity.Identity
	Channel      channel.ID
	Index        uint64
	Payload      []byte
	Kind         Kind
	Confidential bool
	SentAt       uint64
}

// DeliveredEvent is the body of an EventDelivered outbox record.
type DeliveredEvent struct {
	Channel channel.ID
	Index   uint64
}

// ReadEvent is the body of an EventRead outbox record.
type ReadEvent struct {
	Channel channel.ID
	Index   uint64
	ReadAt  uint64
}

// DecodeEvent decodes a spool outbox record into its typed event.
func DecodeEvent(ev ledger.Event) (interface{}, error) {
	var body interface{}
	switch ev.Kind {
	case EventSent:
		body = new(SentEvent)
	case EventDelivered:
		body = new(DeliveredEvent)
	case EventRead:
		body = new(ReadEvent)
	default:
		return nil, fmt.Errorf("spool: unknown event kind %q", ev.Kind)
	}
	if _, err := cbor.UnmarshalFirst(ev.Body, body); err != nil {
		return nil, err
	}
	return body, nil
}
