// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package ledger provides the host execution environment for the pact
// contracts: a durable, ordered key-value store with atomic, serialized
// state transitions, a monotonically non-decreasing clock and an
// append-only event outbox. Contracts never observe partial state; an
// operation either commits as a single transaction or has no effect.
package ledger

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"
	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/pact/core/log"
	"github.com/katzenpost/pact/core/worker"
	"github.com/katzenpost/pact/internal/instrument"
)

const (
	metadataBucket = "metadata"
	eventsBucket   = "events"
	versionKey     = "version"
	lastTimeKey    = "lastTime"

	// StorageVersion is the ledger's on-disk schema version.
	StorageVersion = 0
)

// Event is an append-only, externally observable notification record. One
// event is emitted per state transition; Body is the cbor encoding of the
// emitting contract's typed event struct.
type Event struct {
	Seq  uint64
	Time uint64
	Kind string
	Body []byte
}

// Ledger is the shared execution environment. All contract state lives in
// its buckets and every public contract operation runs inside exactly one
// of its transactions.
type Ledger struct {
	worker.Worker

	db  *bolt.DB
	log *logging.Logger

	notifyCh chan interface{}
	sinkCh   chan Event

	// nowFunc returns the wall clock reading; the ledger clamps it so
	// the persisted clock never runs backwards.
	nowFunc func() uint64
}

// Tx is a single atomic state transition. It carries the transaction's
// ledger timestamp, fixed at Begin so every record and event written by
// one operation observes the same time.
type Tx struct {
	btx     *bolt.Tx
	now     uint64
	emitted int
}

// Now returns the ledger timestamp of this transaction, in seconds.
func (t *Tx) Now() uint64 {
	return t.now
}

// Bucket returns the named top level bucket, or nil if it does not exist.
func (t *Tx) Bucket(name []byte) *bolt.Bucket {
	return t.btx.Bucket(name)
}

// CreateBucketIfNotExists creates the named top level bucket when absent.
// Only legal in an Update transaction.
func (t *Tx) CreateBucketIfNotExists(name []byte) (*bolt.Bucket, error) {
	return t.btx.CreateBucketIfNotExists(name)
}

// Emit appends an event record to the outbox within this transaction. The
// event commits, or rolls back, together with the state transition that
// produced it.
func (t *Tx) Emit(kind string, body interface{}) error {
	blob, err := cbor.Marshal(body)
	if err != nil {
		return err
	}
	events := t.btx.Bucket([]byte(eventsBucket))
	seq, err := events.NextSequence()
	if err != nil {
		return err
	}
	record, err := cbor.Marshal(&Event{Seq: seq, Time: t.now, Kind: kind, Body: blob})
	if err != nil {
		return err
	}
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], seq)
	if err := events.Put(key[:], record); err != nil {
		return err
	}
	t.emitted++
	return nil
}

// Open opens or creates the ledger database at path.
func Open(path string, logBackend *log.Backend) (*Ledger, error) {
	l := &Ledger{
		log:      logBackend.GetLogger("pact/ledger"),
		notifyCh: make(chan interface{}, 1),
		sinkCh:   make(chan Event),
		nowFunc:  func() uint64 { return uint64(time.Now().Unix()) },
	}
	var err error
	l.db, err = bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}
	if err = l.db.Update(func(tx *bolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists([]byte(metadataBucket))
		if err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(eventsBucket)); err != nil {
			return err
		}
		if b := meta.Get([]byte(versionKey)); b != nil {
			if len(b) != 1 || b[0] != StorageVersion {
				return fmt.Errorf("ledger: incompatible version: %d", uint(b[0]))
			}
			return nil
		}
		return meta.Put([]byte(versionKey), []byte{StorageVersion})
	}); err != nil {
		l.db.Close()
		return nil, err
	}
	l.Go(l.sinkWorker)
	return l, nil
}

// Update executes fn inside a writable transaction. The ledger clock is
// advanced before fn runs; any error from fn rolls back every write,
// including emitted events.
func (l *Ledger) Update(fn func(*Tx) error) error {
	emitted := 0
	err := l.db.Update(func(btx *bolt.Tx) error {
		now, err := l.advanceClock(btx)
		if err != nil {
			return err
		}
		tx := &Tx{btx: btx, now: now}
		if err := fn(tx); err != nil {
			return err
		}
		emitted = tx.emitted
		return nil
	})
	if err == nil && emitted > 0 {
		instrument.EventsEmitted(emitted)
		l.notify()
	}
	return err
}

// View executes fn inside a read-only transaction. The transaction's
// timestamp is the last committed clock reading.
func (l *Ledger) View(fn func(*Tx) error) error {
	return l.db.View(func(btx *bolt.Tx) error {
		meta := btx.Bucket([]byte(metadataBucket))
		var now uint64
		if b := meta.Get([]byte(lastTimeKey)); b != nil {
			now = binary.BigEndian.Uint64(b)
		}
		return fn(&Tx{btx: btx, now: now})
	})
}

// EventsSince returns all events with sequence number strictly greater
// than seq, in commit order.
func (l *Ledger) EventsSince(seq uint64) ([]Event, error) {
	var out []Event
	err := l.db.View(func(btx *bolt.Tx) error {
		c := btx.Bucket([]byte(eventsBucket)).Cursor()
		var from [8]byte
		binary.BigEndian.PutUint64(from[:], seq+1)
		for k, v := c.Seek(from[:]); k != nil; k, v = c.Next() {
			var ev Event
			if _, err := cbor.UnmarshalFirst(v, &ev); err != nil {
				return err
			}
			out = append(out, ev)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Sink returns the channel on which events committed after Open are
// delivered, in commit order. The consumer must drain it promptly or
// halt the ledger.
func (l *Ledger) Sink() <-chan Event {
	return l.sinkCh
}

// Close halts the sink worker and closes the database.
func (l *Ledger) Close() {
	l.Halt()
	if err := l.db.Close(); err != nil {
		l.log.Errorf("Failed to close database: %v", err)
	}
}

// advanceClock reads, clamps and persists the ledger clock. The returned
// timestamp never decreases across transactions, even if the wall clock
// steps backwards.
func (l *Ledger) advanceClock(btx *bolt.Tx) (uint64, error) {
	meta := btx.Bucket([]byte(metadataBucket))
	now := l.nowFunc()
	if b := meta.Get([]byte(lastTimeKey)); b != nil {
		if last := binary.BigEndian.Uint64(b); now < last {
			now = last
		}
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], now)
	return now, meta.Put([]byte(lastTimeKey), buf[:])
}

func (l *Ledger) notify() {
	select {
	case l.notifyCh <- nil:
	default:
	}
}

func (l *Ledger) sinkWorker() {
	defer close(l.sinkCh)

	var delivered uint64
	err := l.db.View(func(btx *bolt.Tx) error {
		delivered = btx.Bucket([]byte(eventsBucket)).Sequence()
		return nil
	})
	if err != nil {
		l.log.Errorf("Sink worker failed to read outbox sequence: %v", err)
		return
	}

	for {
		select {
		case <-l.HaltCh():
			l.log.Debug("Terminating gracefully.")
			return
		case <-l.notifyCh:
		}
		events, err := l.EventsSince(delivered)
		if err != nil {
			l.log.Errorf("Sink worker failed to read outbox: %v", err)
			continue
		}
		for _, ev := range events {
			select {
			case <-l.HaltCh():
				return
			case l.sinkCh <- ev:
				delivered = ev.Seq
			}
		}
	}
}
