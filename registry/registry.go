// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package registry implements the identity registry contract: it binds a
// human chosen handle to exactly one identity and owns each identity's
// friend list. Friend edges are only ever created or dissolved through the
// roster contract's transaction-level API.
package registry

import (
	"errors"

	"github.com/fxamacker/cbor/v2"
	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/pact/core/log"
	"github.com/katzenpost/pact/identity"
	"github.com/katzenpost/pact/internal/instrument"
	"github.com/katzenpost/pact/ledger"
)

const (
	identitiesBucket = "identities"
	handlesBucket    = "handles"

	// MaxHandleLen is the maximum handle length in bytes.
	MaxHandleLen = 32
)

var (
	// ErrAlreadyRegistered is returned when the caller already has a record.
	ErrAlreadyRegistered = errors.New("registry: identity already registered")

	// ErrInvalidHandle is returned for an empty or oversized handle.
	ErrInvalidHandle = errors.New("registry: invalid handle")

	// ErrHandleTaken is returned when the handle is bound to another identity.
	ErrHandleTaken = errors.New("registry: handle already taken")

	// ErrHandleNotFound is returned by LookupHandle for an unbound handle.
	ErrHandleNotFound = errors.New("registry: handle not found")

	// ErrNotFriends is returned by UnlinkTx when no edge exists.
	ErrNotFriends = errors.New("registry: not friends")
)

// Record is an identity's registry entry. A zero Record (empty Handle)
// denotes an unknown identity; lookups never fail on absence.
type Record struct {
	Identity identity.Identity
	Handle   string
	Friends  []identity.Identity
}

// Registry is the identity registry contract.
type Registry struct {
	ledger *ledger.Ledger
	log    *logging.Logger
}

// New creates the registry contract's buckets and returns the contract.
func New(l *ledger.Ledger, logBackend *log.Backend) (*Registry, error) {
	r := &Registry{
		ledger: l,
		log:    logBackend.GetLogger("pact/registry"),
	}
	err := l.Update(func(tx *ledger.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(identitiesBucket)); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists([]byte(handlesBucket))
		return err
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Register creates the caller's identity record and binds handle to it.
func (r *Registry) Register(caller identity.Identity, handle string) (err error) {
	defer func() { instrument.Operation("registry.register", err) }()

	if len(handle) == 0 || len(handle) > MaxHandleLen {
		return ErrInvalidHandle
	}
	return r.ledger.Update(func(tx *ledger.Tx) error {
		identities := tx.Bucket([]byte(identitiesBucket))
		if identities.Get(caller[:]) != nil {
			return ErrAlreadyRegistered
		}
		handles := tx.Bucket([]byte(handlesBucket))
		if handles.Get([]byte(handle)) != nil {
			return ErrHandleTaken
		}
		if err := putRecordTx(tx, &Record{Identity: caller, Handle: handle}); err != nil {
			return err
		}
		if err := handles.Put([]byte(handle), caller[:]); err != nil {
			return err
		}
		r.log.Debugf("Registered %s as %s", caller, handle)
		return tx.Emit(EventRegistered, &RegisteredEvent{Identity: caller, Handle: handle})
	})
}

// Lookup returns the identity's record. An unknown identity yields a zero
// Record, never an error; callers check for an empty handle.
func (r *Registry) Lookup(id identity.Identity) (Record, error) {
	var rec Record
	err := r.ledger.View(func(tx *ledger.Tx) error {
		got, err := GetTx(tx, id)
		if err != nil {
			return err
		}
		if got != nil {
			rec = *got
		}
		return nil
	})
	return rec, err
}

// LookupHandle resolves a handle to its bound identity.
func (r *Registry) LookupHandle(handle string) (identity.Identity, error) {
	var id identity.Identity
	err := r.ledger.View(func(tx *ledger.Tx) error {
		raw := tx.Bucket([]byte(handlesBucket)).Get([]byte(handle))
		if raw == nil {
			return ErrHandleNotFound
		}
		var err error
		id, err = identity.FromBytes(raw)
		return err
	})
	return id, err
}

// Exists returns true if the identity has a registry record. It is the
// precondition check used by the other contracts.
func (r *Registry) Exists(id identity.Identity) (bool, error) {
	var exists bool
	err := r.ledger.View(func(tx *ledger.Tx) error {
		exists = ExistsTx(tx, id)
		return nil
	})
	return exists, err
}

// ExistsTx reports whether id has a record, within an open transaction.
func ExistsTx(tx *ledger.Tx, id identity.Identity) bool {
	return tx.Bucket([]byte(identitiesBucket)).Get(id[:]) != nil
}

// GetTx fetches id's record within an open transaction, or nil when absent.
func GetTx(tx *ledger.Tx, id identity.Identity) (*Record, error) {
	raw := tx.Bucket([]byte(identitiesBucket)).Get(id[:])
	if raw == nil {
		return nil, nil
	}
	rec := new(Record)
	if _, err := cbor.UnmarshalFirst(raw, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// IsFriendTx reports whether the edge (a, b) exists. Both directions are
// checked so a desynchronized edge is never reported as a friendship.
func IsFriendTx(tx *ledger.Tx, a, b identity.Identity) (bool, error) {
	ra, err := GetTx(tx, a)
	if err != nil {
		return false, err
	}
	rb, err := GetTx(tx, b)
	if err != nil {
		return false, err
	}
	if ra == nil || rb == nil {
		return false, nil
	}
	return contains(ra.Friends, b) && contains(rb.Friends, a), nil
}

// LinkTx creates the friend edge (a, b) symmetrically. Only the roster
// contract's accept path calls this.
func LinkTx(tx *ledger.Tx, a, b identity.Identity) error {
	ra, err := GetTx(tx, a)
	if err != nil {
		return err
	}
	rb, err := GetTx(tx, b)
	if err != nil {
		return err
	}
	ra.Friends = append(ra.Friends, b)
	rb.Friends = append(rb.Friends, a)
	if err := putRecordTx(tx, ra); err != nil {
		return err
	}
	return putRecordTx(tx, rb)
}

// UnlinkTx dissolves the friend edge (a, b) from both sides, or fails with
// ErrNotFriends leaving no partial state. Removal is swap-and-pop; order
// among remaining friends is not preserved.
func UnlinkTx(tx *ledger.Tx, a, b identity.Identity) error {
	ra, err := GetTx(tx, a)
	if err != nil {
		return err
	}
	rb, err := GetTx(tx, b)
	if err != nil {
		return err
	}
	if ra == nil || rb == nil || !contains(ra.Friends, b) || !contains(rb.Friends, a) {
		return ErrNotFriends
	}
	ra.Friends = remove(ra.Friends, b)
	rb.Friends = remove(rb.Friends, a)
	if err := putRecordTx(tx, ra); err != nil {
		return err
	}
	return putRecordTx(tx, rb)
}

func putRecordTx(tx *ledger.Tx, rec *Record) error {
	raw, err := cbor.Marshal(rec)
	if err != nil {
		return err
	}
	return tx.Bucket([]byte(identitiesBucket)).Put(rec.Identity[:], raw)
}

func contains(friends []identity.Identity, id identity.Identity) bool {
	for _, f := range friends {
		if f == id {
			return true
		}
	}
	return false
}

func remove(friends []identity.Identity, id identity.Identity) []identity.Identity {
	for i, f := range friends {
		if f == id {
			friends[i] = friends[len(friends)-1]
			return friends[:len(friends)-1]
		}
	}
	return friends
}
