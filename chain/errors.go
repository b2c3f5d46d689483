// Copyright (c) 2025 The satpayout developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAddressLookup is returned when the indexer could not be reached
	// or returned an unusable answer for an address query.
	ErrAddressLookup = errors.New("address lookup failed")

	// ErrBroadcast is matched by every *BroadcastError.
	ErrBroadcast = errors.New("broadcast failed")

	// ErrConflict is matched by a *BroadcastError whose reason shows the
	// transaction spends an output that is already spent or unknown.  The
	// caller may rebuild against fresh UTXOs and try again.
	ErrConflict = errors.New("transaction conflicts with a known spend")
)

// conflictReasons are the node rejection reasons, as relayed by the indexer,
// that indicate a double spend or a stale UTXO set.
var conflictReasons = []string{
	"txn-mempool-conflict",
	"bad-txns-inputs-missingorspent",
	"bad-txns-spends-conflicting-tx",
	"missing-inputs",
	"insufficient fee, rejecting replacement",
}

// BroadcastError is returned when the indexer refuses a transaction or
// cannot be reached while submitting it.
type BroadcastError struct {
	// StatusCode is the HTTP status of the rejection, or zero if no
	// response was received.
	StatusCode int

	// Reason is the rejection text returned by the indexer.
	Reason string

	// Err is the transport error, if any.
	Err error
}

// Error satisfies the error interface.
func (e *BroadcastError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("broadcast failed: %v", e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("broadcast rejected (status %d): %s",
			e.StatusCode, e.Reason)
	default:
		return fmt.Sprintf("broadcast rejected: %s", e.Reason)
	}
}

// Unwrap returns the underlying transport error.
func (e *BroadcastError) Unwrap() error {
	return e.Err
}

// Is makes every BroadcastError match ErrBroadcast, and conflicting ones
// match ErrConflict.
func (e *BroadcastError) Is(target error) bool {
	switch target {
	case ErrBroadcast:
		return true
	case ErrConflict:
		return e.IsConflict()
	}
	return false
}

// IsConflict returns true if the rejection reason indicates that the inputs
// were already spent or are unknown to the node.
func (e *BroadcastError) IsConflict() bool {
	if e.Reason == "" {
		return false
	}

	reason := errors.New(e.Reason)
	for _, s := range conflictReasons {
		if matchErrStr(reason, s) {
			return true
		}
	}
	return false
}

// matchErrStr takes an error returned from the node and matches it against
// the specified string. If the expected string pattern is found in the error
// passed, return true. Both the error strings are normalized before matching.
func matchErrStr(err error, s string) bool {
	// Replace all dashes found in the error string with spaces.
	strippedErrStr := strings.ReplaceAll(err.Error(), "-", " ")

	// Replace all dashes found in the error string with spaces.
	strippedMatchStr := strings.ReplaceAll(s, "-", " ")

	// Match against the lowercase.
	return strings.Contains(
		strings.ToLower(strippedErrStr),
		strings.ToLower(strippedMatchStr),
	)
}
