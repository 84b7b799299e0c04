// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokenlock Contributors

// Package vault seals credentials under a user passphrase.
//
// A sealed credential is the prefix "tokenlock.v1:" followed by a JSON
// envelope holding the argon2id parameters, salt, nonce and AES-256-GCM
// ciphertext. Keys are derived per credential and never stored.
package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/crypto/argon2"
)

// Key derivation parameters for new envelopes.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024 // 64 MiB
	argonThreads = 4
	argonKeyLen  = 32
	saltLength   = 16
)

// Limits applied when opening an envelope, so a forged envelope cannot make
// key derivation arbitrarily expensive.
const (
	maxArgonTime   = 10
	maxArgonMemory = 1024 * 1024 // 1 GiB
)

const (
	envelopePrefix = "tokenlock.v1:"
	algAES256GCM   = "AES-256-GCM"
	kdfArgon2id    = "argon2id"
)

var (
	// ErrIncorrectPassphrase is returned by Open when the passphrase does not
	// authenticate the ciphertext.
	ErrIncorrectPassphrase = errors.New("incorrect passphrase")

	// ErrInvalidEnvelope is returned by Open when the input is not a sealed
	// credential.
	ErrInvalidEnvelope = errors.New("invalid credential envelope")
)

type envelope struct {
	Alg        string `json:"alg"`
	KDF        string `json:"kdf"`
	Memory     uint32 `json:"m"`
	Time       uint32 `json:"t"`
	Threads    uint8  `json:"p"`
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// Seal encrypts plaintext under passphrase. Empty plaintext is allowed.
func Seal(plaintext, passphrase []byte) ([]byte, error) {
	if len(passphrase) == 0 {
		return nil, oops.Code("VAULT_EMPTY_PASSPHRASE").Errorf("passphrase cannot be empty")
	}

	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, oops.Code("VAULT_SALT_FAILED").Wrap(err)
	}

	key := argon2.IDKey(passphrase, salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	defer clear(key)

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, oops.Code("VAULT_NONCE_FAILED").Wrap(err)
	}

	env := envelope{
		Alg:        algAES256GCM,
		KDF:        kdfArgon2id,
		Memory:     argonMemory,
		Time:       argonTime,
		Threads:    argonThreads,
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: gcm.Seal(nil, nonce, plaintext, []byte(envelopePrefix)),
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, oops.Code("VAULT_ENCODE_FAILED").Wrap(err)
	}
	return append([]byte(envelopePrefix), payload...), nil
}

// Open decrypts a sealed credential.
func Open(sealed, passphrase []byte) ([]byte, error) {
	env, err := parseEnvelope(sealed)
	if err != nil {
		return nil, err
	}

	key := argon2.IDKey(passphrase, env.Salt, env.Time, env.Memory, env.Threads, argonKeyLen)
	defer clear(key)

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(env.Nonce) != gcm.NonceSize() {
		return nil, oops.Code("VAULT_INVALID_ENVELOPE").
			With("nonce_length", len(env.Nonce)).
			Wrapf(ErrInvalidEnvelope, "bad nonce length")
	}

	plaintext, err := gcm.Open(nil, env.Nonce, env.Ciphertext, []byte(envelopePrefix))
	if err != nil {
		return nil, ErrIncorrectPassphrase
	}
	if plaintext == nil {
		plaintext = []byte{}
	}
	return plaintext, nil
}

func parseEnvelope(sealed []byte) (*envelope, error) {
	raw, ok := strings.CutPrefix(string(sealed), envelopePrefix)
	if !ok {
		return nil, oops.Code("VAULT_INVALID_ENVELOPE").Wrapf(ErrInvalidEnvelope, "missing prefix")
	}

	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, oops.Code("VAULT_INVALID_ENVELOPE").Wrapf(ErrInvalidEnvelope, "decode: %v", err)
	}

	switch {
	case env.Alg != algAES256GCM:
		return nil, oops.Code("VAULT_INVALID_ENVELOPE").
			With("alg", env.Alg).
			Wrapf(ErrInvalidEnvelope, "unsupported algorithm")
	case env.KDF != kdfArgon2id:
		return nil, oops.Code("VAULT_INVALID_ENVELOPE").
			With("kdf", env.KDF).
			Wrapf(ErrInvalidEnvelope, "unsupported key derivation")
	case env.Time == 0 || env.Time > maxArgonTime,
		env.Memory == 0 || env.Memory > maxArgonMemory,
		env.Threads == 0:
		return nil, oops.Code("VAULT_INVALID_ENVELOPE").
			With("t", env.Time).
			With("m", env.Memory).
			With("p", env.Threads).
			Wrapf(ErrInvalidEnvelope, "key derivation parameters out of range")
	case len(env.Salt) == 0:
		return nil, oops.Code("VAULT_INVALID_ENVELOPE").Wrapf(ErrInvalidEnvelope, "missing salt")
	}
	return &env, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, oops.Code("VAULT_CIPHER_FAILED").Wrap(err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, oops.Code("VAULT_CIPHER_FAILED").Wrap(err)
	}
	return gcm, nil
}

// Vault adapts Seal and Open to the auth package's Decrypter and Sealer.
type Vault struct{}

// New creates a Vault.
func New() *Vault {
	return &Vault{}
}

// Decrypt opens ciphertext with passphrase. Context cancellation is checked
// before the key derivation starts.
func (v *Vault) Decrypt(ctx context.Context, ciphertext, passphrase []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, oops.Code("VAULT_CANCELLED").Wrap(err)
	}
	return Open(ciphertext, passphrase)
}

// Encrypt seals plaintext under passphrase.
func (v *Vault) Encrypt(ctx context.Context, plaintext, passphrase []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, oops.Code("VAULT_CANCELLED").Wrap(err)
	}
	return Seal(plaintext, passphrase)
}
