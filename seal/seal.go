// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package seal implements the client side message cipher. A symmetric
// AES-256-GCM key is derived deterministically from the two public
// identities of a channel, so no key exchange round trip or stored shared
// secret is needed; whoever knows both identities can derive the key, and
// compromise of one channel key exposes no other channel.
package seal

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"errors"

	"golang.org/x/crypto/pbkdf2"

	"github.com/katzenpost/hpqc/rand"

	"github.com/katzenpost/pact/channel"
	"github.com/katzenpost/pact/identity"
)

const (
	// KeySize is the AES-256 key length.
	KeySize = 32

	// NonceSize is the GCM nonce length prepended to every sealed blob.
	NonceSize = 12

	// TagSize is the GCM authentication tag length appended to every
	// sealed blob.
	TagSize = 16

	// Overhead is the total expansion of a sealed blob over its plaintext.
	Overhead = NonceSize + TagSize

	saltSize      = 16
	kdfIterations = 10000
)

// ErrDecryptionFailed is returned for any malformed, truncated or
// unauthentic blob. No partial plaintext is ever returned.
var ErrDecryptionFailed = errors.New("seal: decryption failed")

// DeriveKey derives the shared channel key for the unordered identity pair
// (mine, theirs). The channel address digest doubles as the key material:
// its first 16 bytes salt a PBKDF2-SHA256 stretch of the full digest.
func DeriveKey(mine, theirs identity.Identity) *[KeySize]byte {
	digest := channel.Address(mine, theirs)
	key := new([KeySize]byte)
	copy(key[:], pbkdf2.Key(digest[:], digest[:saltSize], kdfIterations, KeySize, sha256.New))
	return key
}

// Encrypt seals plaintext for the channel shared with recipient, producing
// nonce | ciphertext | tag. A fresh random nonce is generated per call, so
// sealing the same plaintext twice yields distinct blobs.
func Encrypt(plaintext []byte, mine, theirs identity.Identity) ([]byte, error) {
	aead, err := newAEAD(mine, theirs)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, NonceSize)
	if _, err := rand.Reader.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a blob produced by Encrypt for the channel shared with
// sender. It fails closed with ErrDecryptionFailed on any nonce or tag
// mismatch or corrupted input.
func Decrypt(blob []byte, mine, theirs identity.Identity) ([]byte, error) {
	if len(blob) < Overhead {
		return nil, ErrDecryptionFailed
	}
	aead, err := newAEAD(mine, theirs)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, blob[:NonceSize], blob[NonceSize:], nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

func newAEAD(mine, theirs identity.Identity) (cipher.AEAD, error) {
	key := DeriveKey(mine, theirs)
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
