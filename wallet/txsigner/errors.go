// Copyright (c) 2025 The satpayout developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txsigner

import (
	"errors"
	"fmt"
)

var (
	// ErrSignatureVerification is matched by *SignatureVerificationError.
	ErrSignatureVerification = errors.New("signature verification failed")

	// ErrFinalization is returned when a signed packet cannot be turned
	// into a valid network transaction.
	ErrFinalization = errors.New("transaction finalization failed")

	// ErrUnsupportedInput is returned for inputs that do not spend a
	// P2WPKH output.
	ErrUnsupportedInput = errors.New("input does not spend a P2WPKH output")

	// ErrKeyMismatch is returned when the signing key does not control an
	// input.
	ErrKeyMismatch = errors.New("key does not match input")
)

// SignatureVerificationError is returned by Verify for the first input whose
// signature does not check out.  A transaction producing this error must
// never be broadcast.
type SignatureVerificationError struct {
	Index  int
	Reason string
}

// Error satisfies the error interface.
func (e *SignatureVerificationError) Error() string {
	return fmt.Sprintf("signature verification failed for input %d: %s",
		e.Index, e.Reason)
}

// Is matches ErrSignatureVerification.
func (e *SignatureVerificationError) Is(target error) bool {
	return target == ErrSignatureVerification
}
