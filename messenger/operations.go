// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package messenger

import (
	"github.com/katzenpost/pact/identity"
	"github.com/katzenpost/pact/spool"
)

type opRegister struct {
	handle       string
	responseChan chan error
}

type opAddContact struct {
	nickname     string
	id           identity.Identity
	responseChan chan error
}

type opAcceptContact struct {
	nickname     string
	responseChan chan error
}

type opRejectContact struct {
	nickname     string
	responseChan chan error
}

type opCancelContact struct {
	nickname     string
	responseChan chan error
}

type opRemoveContact struct {
	nickname     string
	responseChan chan error
}

type opGetContacts struct {
	responseChan chan map[string]identity.Identity
}

type opSendMessage struct {
	nickname     string
	payload      []byte
	kind         spool.Kind
	responseChan chan error
}

type conversationResult struct {
	entries []Entry
	err     error
}

type opGetConversation struct {
	nickname     string
	responseChan chan conversationResult
}

type opMarkRead struct {
	nickname     string
	index        uint64
	responseChan chan error
}

type opMarkDelivered struct {
	nickname     string
	index        uint64
	responseChan chan error
}
