// Copyright (c) 2025 The satpayout developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package keystore

import "errors"

var (
	// ErrConfiguration is returned when the encryption secret is missing,
	// is not valid hex, or does not decode to exactly KeySize bytes.
	ErrConfiguration = errors.New("invalid encryption secret")

	// ErrDecryptionFailed is matched by every error returned from Decrypt.
	// It is also the only text such an error renders, so callers never
	// learn why an envelope was refused.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrMalformedEnvelope indicates the envelope did not have three hex
	// fields of the expected lengths.
	ErrMalformedEnvelope = errors.New("malformed envelope")

	// ErrAuthenticationFailed indicates the GCM tag did not verify, either
	// because the envelope was modified or because it was sealed under a
	// different key.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrRandomNonce is returned when the nonce could not be read from the
	// system randomness source.
	ErrRandomNonce = errors.New("unable to read random nonce")
)

// DecryptError is returned by Decrypt. Its message is always the generic
// "decryption failed"; errors.Is exposes the reason to code that needs it.
type DecryptError struct {
	reason error
}

// Error satisfies the error interface.
func (e *DecryptError) Error() string {
	return ErrDecryptionFailed.Error()
}

// Is reports whether target is ErrDecryptionFailed or the specific reason.
func (e *DecryptError) Is(target error) bool {
	return target == ErrDecryptionFailed || target == e.reason
}

func decryptErr(reason error) error {
	return &DecryptError{reason: reason}
}
