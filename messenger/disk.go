// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package messenger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"
	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/hpqc/rand"

	"github.com/katzenpost/pact/core/worker"
	"github.com/katzenpost/pact/identity"
)

const (
	stateKeySize   = 32
	stateNonceSize = 24
)

// ErrDecryptState is returned when the statefile cannot be decrypted.
var ErrDecryptState = errors.New("messenger: failed to decrypt statefile")

// State is the client state which is encrypted and persisted to disk.
type State struct {
	PrivateKey  []byte
	Identity    identity.Identity
	Handle      string
	AddressBook map[string]identity.Identity
}

func (s *State) marshal() ([]byte, error) {
	return cbor.Marshal(s)
}

// StateWriter takes ownership of the client's encrypted statefile and has
// a worker goroutine which writes updates to disk.
type StateWriter struct {
	worker.Worker

	log *logging.Logger

	stateCh   chan []byte
	stateFile string

	key *[stateKeySize]byte
}

func stretchKey(passphrase []byte) *[stateKeySize]byte {
	secret := argon2.Key(passphrase, nil, 3, 32*1024, 4, stateKeySize)
	key := [stateKeySize]byte{}
	copy(key[:], secret)
	return &key
}

func encryptState(state []byte, key *[stateKeySize]byte) ([]byte, error) {
	nonce := [stateNonceSize]byte{}
	_, err := rand.Reader.Read(nonce[:])
	if err != nil {
		return nil, err
	}
	ciphertext := secretbox.Seal(nil, state, &nonce, key)
	return append(nonce[:], ciphertext...), nil
}

func decryptState(ciphertext []byte, key *[stateKeySize]byte) ([]byte, error) {
	if len(ciphertext) < stateNonceSize {
		return nil, ErrDecryptState
	}
	nonce := [stateNonceSize]byte{}
	copy(nonce[:], ciphertext[:stateNonceSize])
	plaintext, ok := secretbox.Open(nil, ciphertext[stateNonceSize:], &nonce, key)
	if !ok {
		return nil, ErrDecryptState
	}
	return plaintext, nil
}

func decryptStateFile(stateFile string, key *[stateKeySize]byte) (*State, error) {
	rawFile, err := os.ReadFile(stateFile)
	if err != nil {
		return nil, err
	}
	plaintext, err := decryptState(rawFile, key)
	if err != nil {
		return nil, err
	}
	state := new(State)
	if _, err = cbor.UnmarshalFirst(plaintext, state); err != nil {
		return nil, err
	}
	return state, nil
}

// encryptStateFile writes the encrypted state to a temporary file, keeps
// the previous statefile as a backup and renames the new one into place.
func encryptStateFile(stateFile string, state []byte, key *[stateKeySize]byte) error {
	tmpFn := fmt.Sprintf("%s.tmp", stateFile)
	backupFn := fmt.Sprintf("%s~", stateFile)
	ciphertext, err := encryptState(state, key)
	if err != nil {
		return err
	}
	out, err := os.OpenFile(tmpFn, os.O_TRUNC|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	if _, err = out.Write(ciphertext); err != nil {
		out.Close()
		return err
	}
	if err = out.Sync(); err != nil {
		out.Close()
		return err
	}
	if err = out.Close(); err != nil {
		return err
	}
	if err := os.Rename(stateFile, backupFn); err != nil && !os.IsNotExist(err) {
		return err
	}
	dir, err := os.Open(filepath.Dir(stateFile))
	if err != nil {
		return err
	}
	defer dir.Close()
	if err := dir.Sync(); err != nil {
		return err
	}
	if err := os.Rename(tmpFn, stateFile); err != nil {
		return err
	}
	return dir.Sync()
}

// LoadStateWriter decrypts the given stateFile and returns the State as
// well as a new StateWriter.
func LoadStateWriter(log *logging.Logger, stateFile string, passphrase []byte) (*StateWriter, *State, error) {
	w := &StateWriter{
		log:       log,
		stateCh:   make(chan []byte),
		stateFile: stateFile,
	}
	key := stretchKey(passphrase)
	state, err := decryptStateFile(stateFile, key)
	if err != nil {
		return nil, nil, err
	}
	w.key = key
	return w, state, nil
}

// NewStateWriter is a constructor for StateWriter which is to be used when
// creating the statefile for the first time.
func NewStateWriter(log *logging.Logger, stateFile string, passphrase []byte) (*StateWriter, error) {
	w := &StateWriter{
		log:       log,
		stateCh:   make(chan []byte),
		stateFile: stateFile,
		key:       stretchKey(passphrase),
	}
	return w, nil
}

// Start starts the StateWriter's worker goroutine.
func (w *StateWriter) Start() {
	w.log.Debug("StateWriter starting worker")
	w.Go(w.worker)
}

func (w *StateWriter) worker() {
	for {
		select {
		case <-w.HaltCh():
			w.log.Debug("Terminating gracefully.")
			return
		case newState := <-w.stateCh:
			if err := encryptStateFile(w.stateFile, newState, w.key); err != nil {
				w.log.Errorf("Failed to write state to disk: %v", err)
			}
		}
	}
}
