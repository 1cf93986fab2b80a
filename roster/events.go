// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package roster

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/katzenpost/pact/identity"
	"github.com/katzenpost/pact/ledger"
)

const (
	// EventRequested is emitted when a request becomes pending.
	EventRequested = "roster.requested"

	// EventAccepted is emitted towards the requester when the recipient
	// accepts. Cancellation emits nothing.
	EventAccepted = "roster.accepted"

	// EventFriended is emitted when a friend edge is created.
	EventFriended = "roster.friended"

	// EventRejected is emitted towards the requester when the recipient
	// declines.
	EventRejected = "roster.rejected"

	// EventUnfriended is emitted when a friend edge is dissolved.
	EventUnfriended = "roster.unfriended"
)

// RequestedEvent is the body of an EventRequested outbox record.
type RequestedEvent struct {
	From identity.Identity
	To   identity.Identity
}

// AcceptedEvent is the body of an EventAccepted outbox record.
type AcceptedEvent struct {
	From identity.Identity
	To   identity.Identity
}

// FriendedEvent is the body of an EventFriended outbox record.
type FriendedEvent struct {
	A identity.Identity
	B identity.Identity
}

// RejectedEvent is the body of an EventRejected outbox record.
type RejectedEvent struct {
	From identity.Identity
	To   identity.Identity
}

// UnfriendedEvent is the body of an EventUnfriended outbox record.
type UnfriendedEvent struct {
	A identity.Identity
	B identity.Identity
}

// DecodeEvent decodes a roster outbox record into its typed event.
func DecodeEvent(ev ledger.Event) (interface{}, error) {
	var body interface{}
	switch ev.Kind {
	case EventRequested:
		body = new(RequestedEvent)
	case EventAccepted:
		body = new(AcceptedEvent)
	case EventFriended:
		body = new(FriendedEvent)
	case EventRejected:
		body = new(RejectedEvent)
	case EventUnfriended:
		body = new(UnfriendedEvent)
	default:
		return nil, fmt.Errorf("roster: unknown event kind %q", ev.Kind)
	}
	if _, err := cbor.UnmarshalFirst(ev.Body, body); err != nil {
		return nil, err
	}
	return body, nil
}
