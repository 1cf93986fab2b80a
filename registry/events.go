// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package registry

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/katzenpost/pact/identity"
	"github.com/katzenpost/pact/ledger"
)

// EventRegistered is emitted once per successful registration.
const EventRegistered = "registry.registered"

// RegisteredEvent is the body of an EventRegistered outbox record.
type RegisteredEvent struct {
	Identity identity.Identity
	Handle   string
}

// DecodeEvent decodes a registry outbox record into its typed event.
func DecodeEvent(ev ledger.Event) (interface{}, error) {
	switch ev.Kind {
	case EventRegistered:
		body := new(RegisteredEvent)
		if _, err := cbor.UnmarshalFirst(ev.Body, body); err != nil {
			return nil, err
		}
		return body, nil
	default:
		return nil, fmt.Errorf("registry: unknown event kind %q", ev.Kind)
	}
}
