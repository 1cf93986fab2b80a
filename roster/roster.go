// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package roster implements the friend request contract. It tracks
// directed pending requests between registered identities and mediates
// their accept/reject/cancel lifecycle; acceptance is the only path that
// creates a friend edge. Per ordered pair the state machine is
// NoRelation -> Pending -> {Accepted | Rejected | Cancelled} -> NoRelation.
package roster

import (
	"bytes"
	"errors"

	"github.com/fxamacker/cbor/v2"
	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/pact/core/log"
	"github.com/katzenpost/pact/identity"
	"github.com/katzenpost/pact/internal/instrument"
	"github.com/katzenpost/pact/ledger"
	"github.com/katzenpost/pact/registry"
)

const (
	// Outgoing entries are keyed sender||recipient, incoming entries
	// recipient||sender, so each identity's pending sets are contiguous
	// prefix ranges.
	outgoingBucket = "requestsOut"
	incomingBucket = "requestsIn"
)

var (
	// ErrUnregistered is returned when either party has no registry record.
	ErrUnregistered = errors.New("roster: identity not registered")

	// ErrSelfRequest is returned for a request from an identity to itself.
	ErrSelfRequest = errors.New("roster: cannot befriend self")

	// ErrAlreadyFriends is returned when the friend edge already exists.
	ErrAlreadyFriends = errors.New("roster: already friends")

	// ErrDuplicateRequest is returned when the same directed request is
	// already pending.
	ErrDuplicateRequest = errors.New("roster: request already pending")

	// ErrReciprocalPending is returned when the opposite direction is
	// already pending; the caller should accept instead of re-sending.
	ErrReciprocalPending = errors.New("roster: reciprocal request pending")

	// ErrNoSuchRequest is returned when no matching pending request exists.
	ErrNoSuchRequest = errors.New("roster: no such request")

	// ErrNotFriends is returned by RemoveFriend when no edge exists.
	ErrNotFriends = errors.New("roster: not friends")
)

// Request is a pending directed friend request.
type Request struct {
	From identity.Identity
	To   identity.Identity
	Time uint64
}

// Roster is the friend request contract.
type Roster struct {
	ledger *ledger.Ledger
	log    *logging.Logger
}

// New creates the roster contract's buckets and returns the contract.
func New(l *ledger.Ledger, logBackend *log.Backend) (*Roster, error) {
	r := &Roster{
		ledger: l,
		log:    logBackend.GetLogger("pact/roster"),
	}
	err := l.Update(func(tx *ledger.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(outgoingBucket)); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists([]byte(incomingBucket))
		return err
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// SendRequest records a pending request from -> to.
func (r *Roster) SendRequest(from, to identity.Identity) (err error) {
	defer func() { instrument.Operation("roster.sendRequest", err) }()

	if from == to {
		return ErrSelfRequest
	}
	return r.ledger.Update(func(tx *ledger.Tx) error {
		if !registry.ExistsTx(tx, from) || !registry.ExistsTx(tx, to) {
			return ErrUnregistered
		}
		friends, err := registry.IsFriendTx(tx, from, to)
		if err != nil {
			return err
		}
		if friends {
			return ErrAlreadyFriends
		}
		out := tx.Bucket([]byte(outgoingBucket))
		if out.Get(pairKey(from, to)) != nil {
			return ErrDuplicateRequest
		}
		if out.Get(pairKey(to, from)) != nil {
			return ErrReciprocalPending
		}
		if err := putRequestTx(tx, &Request{From: from, To: to, Time: tx.Now()}); err != nil {
			return err
		}
		r.log.Debugf("Request %s -> %s pending", from, to)
		return tx.Emit(EventRequested, &RequestedEvent{From: from, To: to})
	})
}

// Accept is called by to, accepting from's pending request. It creates the
// friend edge symmetrically, clears both index entries and emits an
// acceptance event followed by a friend-added event.
func (r *Roster) Accept(from, to identity.Identity) (err error) {
	defer func() { instrument.Operation("roster.accept", err) }()

	return r.ledger.Update(func(tx *ledger.Tx) error {
		if tx.Bucket([]byte(incomingBucket)).Get(pairKey(to, from)) == nil {
			return ErrNoSuchRequest
		}
		friends, err := registry.IsFriendTx(tx, from, to)
		if err != nil {
			return err
		}
		if friends {
			return ErrAlreadyFriends
		}
		if err := deleteRequestTx(tx, from, to); err != nil {
			return err
		}
		if err := registry.LinkTx(tx, from, to); err != nil {
			return err
		}
		r.log.Debugf("Request %s -> %s accepted", from, to)
		if err := tx.Emit(EventAccepted, &AcceptedEvent{From: from, To: to}); err != nil {
			return err
		}
		return tx.Emit(EventFriended, &FriendedEvent{A: from, B: to})
	})
}

// Reject is called by to, declining from's pending request. Both index
// entries are cleared and no edge is created.
func (r *Roster) Reject(from, to identity.Identity) (err error) {
	defer func() { instrument.Operation("roster.reject", err) }()

	return r.ledger.Update(func(tx *ledger.Tx) error {
		if tx.Bucket([]byte(incomingBucket)).Get(pairKey(to, from)) == nil {
			return ErrNoSuchRequest
		}
		if err := deleteRequestTx(tx, from, to); err != nil {
			return err
		}
		r.log.Debugf("Request %s -> %s rejected", from, to)
		return tx.Emit(EventRejected, &RejectedEvent{From: from, To: to})
	})
}

// Cancel is called by from, withdrawing its own pending request. Unlike
// rejection this is silent: no event is emitted.
func (r *Roster) Cancel(from, to identity.Identity) (err error) {
	defer func() { instrument.Operation("roster.cancel", err) }()

	return r.ledger.Update(func(tx *ledger.Tx) error {
		if tx.Bucket([]byte(outgoingBucket)).Get(pairKey(from, to)) == nil {
			return ErrNoSuchRequest
		}
		if err := deleteRequestTx(tx, from, to); err != nil {
			return err
		}
		r.log.Debugf("Request %s -> %s cancelled", from, to)
		return nil
	})
}

// RemoveFriend dissolves the edge (a, b) from both sides atomically.
func (r *Roster) RemoveFriend(a, b identity.Identity) (err error) {
	defer func() { instrument.Operation("roster.removeFriend", err) }()

	return r.ledger.Update(func(tx *ledger.Tx) error {
		friends, err := registry.IsFriendTx(tx, a, b)
		if err != nil {
			return err
		}
		if !friends {
			return ErrNotFriends
		}
		if err := registry.UnlinkTx(tx, a, b); err != nil {
			return err
		}
		r.log.Debugf("Edge %s <-> %s removed", a, b)
		return tx.Emit(EventUnfriended, &UnfriendedEvent{A: a, B: b})
	})
}

// AreFriends reports whether the edge (a, b) exists on both sides.
func (r *Roster) AreFriends(a, b identity.Identity) (bool, error) {
	var friends bool
	err := r.ledger.View(func(tx *ledger.Tx) error {
		var err error
		friends, err = registry.IsFriendTx(tx, a, b)
		return err
	})
	return friends, err
}

// PendingIncoming returns the requests awaiting id's decision.
func (r *Roster) PendingIncoming(id identity.Identity) ([]Request, error) {
	return r.scan(incomingBucket, id)
}

// PendingOutgoing returns the requests id has sent and not yet resolved.
func (r *Roster) PendingOutgoing(id identity.Identity) ([]Request, error) {
	return r.scan(outgoingBucket, id)
}

func (r *Roster) scan(bucket string, id identity.Identity) ([]Request, error) {
	var out []Request
	err := r.ledger.View(func(tx *ledger.Tx) error {
		c := tx.Bucket([]byte(bucket)).Cursor()
		for k, v := c.Seek(id[:]); k != nil && bytes.HasPrefix(k, id[:]); k, v = c.Next() {
			var req Request
			if _, err := cbor.UnmarshalFirst(v, &req); err != nil {
				return err
			}
			out = append(out, req)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func pairKey(a, b identity.Identity) []byte {
	k := make([]byte, 0, 2*identity.Size)
	k = append(k, a[:]...)
	return append(k, b[:]...)
}

func putRequestTx(tx *ledger.Tx, req *Request) error {
	raw, err := cbor.Marshal(req)
	if err != nil {
		return err
	}
	if err := tx.Bucket([]byte(outgoingBucket)).Put(pairKey(req.From, req.To), raw); err != nil {
		return err
	}
	return tx.Bucket([]byte(incomingBucket)).Put(pairKey(req.To, req.From), raw)
}

// deleteRequestTx removes both index entries of the pending request
// from -> to; they are always created and destroyed together.
func deleteRequestTx(tx *ledger.Tx, from, to identity.Identity) error {
	if err := tx.Bucket([]byte(outgoingBucket)).Delete(pairKey(from, to)); err != nil {
		return err
	}
	return tx.Bucket([]byte(incomingBucket)).Delete(pairKey(to, from))
}
