// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package identity defines the on-ledger identity type, a fixed width
// public key which acts as a caller's sole credential.
package identity

import (
	"bytes"
	"encoding/hex"
	"fmt"
)

// Size is the length in bytes of an Identity.
const Size = 32

// Identity is a fixed width public key.
type Identity [Size]byte

// Null is the all zero Identity, used as an absence marker. It is not a
// valid participant.
var Null Identity

// IsNull returns true if id is the all zero Identity.
func (id Identity) IsNull() bool {
	return id == Null
}

// Bytes returns a copy of the raw identity bytes.
func (id Identity) Bytes() []byte {
	b := make([]byte, Size)
	copy(b, id[:])
	return b
}

// String returns the hex representation of the identity.
func (id Identity) String() string {
	return hex.EncodeToString(id[:])
}

// FromBytes returns the Identity corresponding to the raw bytes b.
func FromBytes(b []byte) (Identity, error) {
	var id Identity
	if len(b) != Size {
		return id, fmt.Errorf("identity: invalid length: %d", len(b))
	}
	copy(id[:], b)
	return id, nil
}

// FromString parses a hex encoded Identity.
func FromString(s string) (Identity, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Null, fmt.Errorf("identity: malformed hex: %v", err)
	}
	return FromBytes(b)
}

// Order returns the pair (a, b) in ascending byte order. Both the channel
// address and the shared key derivation hash the pair in this canonical
// order so that either party computes identical values.
func Order(a, b Identity) (lo, hi Identity) {
	if bytes.Compare(a[:], b[:]) <= 0 {
		return a, b
	}
	return b, a
}
