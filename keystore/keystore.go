// Copyright (c) 2025 The satpayout developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package keystore seals wallet private keys at rest with AES-256-GCM.
//
// Sealed values are stored as a text envelope of three colon separated hex
// fields:
//
//	hex(nonce):hex(tag):hex(ciphertext)
//
// The nonce is 12 random bytes drawn fresh for every call to Encrypt and the
// tag is the 16 byte GCM authentication tag.  A KeyStore is constructed once
// from the process secret and handed to whoever needs it; there is no package
// level key.
package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chorebit/satpayout/internal/zero"
)

const (
	// SecretEnvVar is the environment variable holding the hex encoded
	// primary encryption key.
	SecretEnvVar = "CRYPTO_SECRET"

	// RetiredSecretsEnvVar optionally holds a comma separated list of hex
	// encoded keys that may still open old envelopes but never seal new
	// ones.
	RetiredSecretsEnvVar = "CRYPTO_SECRET_RETIRED"

	// KeySize is the required length of the decoded secret in bytes.
	KeySize = 32

	// NonceSize is the GCM nonce length in bytes.
	NonceSize = 12

	// TagSize is the GCM authentication tag length in bytes.
	TagSize = 16

	envelopeSep = ":"
)

// KeyStore encrypts and decrypts private key material.  It is safe for
// concurrent use.
type KeyStore struct {
	primary cipher.AEAD
	retired []cipher.AEAD

	// rand is the nonce source.  It is only replaced by tests.
	rand io.Reader
}

// New returns a KeyStore sealing under key.  Any retired keys are tried, in
// order, when the primary key fails to open an envelope.  The passed key
// slices may be zeroed by the caller once New returns.
func New(key []byte, retired ...[]byte) (*KeyStore, error) {
	primary, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	ks := &KeyStore{
		primary: primary,
		rand:    rand.Reader,
	}
	for i, k := range retired {
		aead, err := newAEAD(k)
		if err != nil {
			return nil, fmt.Errorf("retired key %d: %w", i, err)
		}
		ks.retired = append(ks.retired, aead)
	}

	return ks, nil
}

// FromHex parses a 64 character hex secret, plus any retired secrets, and
// returns the resulting KeyStore.
func FromHex(secret string, retired ...string) (*KeyStore, error) {
	key, err := parseSecret(secret)
	if err != nil {
		return nil, err
	}
	defer zero.Bytes(key)

	var retiredKeys [][]byte
	defer func() {
		for _, k := range retiredKeys {
			zero.Bytes(k)
		}
	}()
	for _, s := range retired {
		k, err := parseSecret(s)
		if err != nil {
			return nil, err
		}
		retiredKeys = append(retiredKeys, k)
	}

	return New(key, retiredKeys...)
}

// FromEnv builds a KeyStore from SecretEnvVar and, when set,
// RetiredSecretsEnvVar.  A missing primary secret is a configuration error.
func FromEnv() (*KeyStore, error) {
	secret, ok := os.LookupEnv(SecretEnvVar)
	if !ok || secret == "" {
		return nil, fmt.Errorf("%w: %s is not set", ErrConfiguration,
			SecretEnvVar)
	}

	var retired []string
	if s := os.Getenv(RetiredSecretsEnvVar); s != "" {
		for _, r := range strings.Split(s, ",") {
			if r = strings.TrimSpace(r); r != "" {
				retired = append(retired, r)
			}
		}
	}

	ks, err := FromHex(secret, retired...)
	if err != nil {
		return nil, err
	}

	log.Infof("Loaded encryption key (%d retired)", len(retired))

	return ks, nil
}

// Encrypt seals plaintext under the primary key and returns the envelope.
func (k *KeyStore) Encrypt(plaintext []byte) (string, error) {
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(k.rand, nonce); err != nil {
		return "", fmt.Errorf("%w: %v", ErrRandomNonce, err)
	}

	sealed := k.primary.Seal(nil, nonce, plaintext, nil)
	ct, tag := sealed[:len(sealed)-TagSize], sealed[len(sealed)-TagSize:]

	return strings.Join([]string{
		hex.EncodeToString(nonce),
		hex.EncodeToString(tag),
		hex.EncodeToString(ct),
	}, envelopeSep), nil
}

// Decrypt opens an envelope produced by Encrypt.  Every failure is reported
// as a *DecryptError matching ErrDecryptionFailed and one of
// ErrMalformedEnvelope or ErrAuthenticationFailed.
func (k *KeyStore) Decrypt(envelope string) ([]byte, error) {
	nonce, sealed, err := parseEnvelope(envelope)
	if err != nil {
		return nil, decryptErr(ErrMalformedEnvelope)
	}

	plaintext, err := k.primary.Open(nil, nonce, sealed, nil)
	if err == nil {
		return plaintext, nil
	}
	for _, aead := range k.retired {
		plaintext, err = aead.Open(nil, nonce, sealed, nil)
		if err == nil {
			log.Debugf("Opened envelope with retired key")
			return plaintext, nil
		}
	}

	return nil, decryptErr(ErrAuthenticationFailed)
}

// Reencrypt opens envelope with any known key and seals the result under the
// primary key with a fresh nonce.
func (k *KeyStore) Reencrypt(envelope string) (string, error) {
	plaintext, err := k.Decrypt(envelope)
	if err != nil {
		return "", err
	}
	defer zero.Bytes(plaintext)

	return k.Encrypt(plaintext)
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: key is %d bytes, want %d",
			ErrConfiguration, len(key), KeySize)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	return cipher.NewGCMWithNonceSize(block, NonceSize)
}

func parseSecret(secret string) ([]byte, error) {
	secret = strings.TrimSpace(secret)
	if len(secret) != hex.EncodedLen(KeySize) {
		return nil, fmt.Errorf("%w: secret must be %d hex characters",
			ErrConfiguration, hex.EncodedLen(KeySize))
	}

	key, err := hex.DecodeString(secret)
	if err != nil {
		return nil, fmt.Errorf("%w: secret is not valid hex",
			ErrConfiguration)
	}

	return key, nil
}

// parseEnvelope splits an envelope into its nonce and the ciphertext with the
// tag appended, which is the layout cipher.AEAD.Open expects.
func parseEnvelope(envelope string) ([]byte, []byte, error) {
	parts := strings.Split(envelope, envelopeSep)
	if len(parts) != 3 {
		return nil, nil, ErrMalformedEnvelope
	}

	nonce, err := hex.DecodeString(parts[0])
	if err != nil || len(nonce) != NonceSize {
		return nil, nil, ErrMalformedEnvelope
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil || len(tag) != TagSize {
		return nil, nil, ErrMalformedEnvelope
	}
	ct, err := hex.DecodeString(parts[2])
	if err != nil {
		return nil, nil, ErrMalformedEnvelope
	}

	return nonce, append(ct, tag...), nil
}
