// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package channel implements the deterministic channel addressing scheme.
// Every unordered pair of identities maps to a single 256 bit channel
// identifier which both parties compute independently, with no
// coordination round trip.
package channel

import (
	"encoding/hex"

	"golang.org/x/crypto/sha3"

	"github.com/katzenpost/pact/identity"
)

// IDSize is the length in bytes of a channel identifier.
const IDSize = 32

// ID is a channel identifier, the sole sharding key of the message spool.
type ID [IDSize]byte

// String returns the hex representation of the channel identifier.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// Address computes the channel identifier for the unordered identity pair
// (a, b): SHA3-256 over the pair in ascending byte order. Address is
// commutative, Address(a, b) == Address(b, a).
func Address(a, b identity.Identity) ID {
	lo, hi := identity.Order(a, b)
	h := sha3.New256()
	h.Write(lo[:])
	h.Write(hi[:])
	var id ID
	copy(id[:], h.Sum(nil))
	return id
}
