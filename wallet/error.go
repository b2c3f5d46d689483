// Copyright (c) 2014 The btcsuite developers
// Copyright (c) 2025 The satpayout developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a kind of error.
type ErrorCode int

// These constants are used to identify a specific Error.
const (
	// ErrDatabase indicates an error with the wallet store.  When this
	// error code is set, the Err field of the Error will be set to the
	// underlying error returned from the store.
	ErrDatabase ErrorCode = iota

	// ErrConfiguration indicates the service was constructed with missing
	// or invalid dependencies.
	ErrConfiguration

	// ErrKeyGeneration indicates a new wallet key could not be generated.
	ErrKeyGeneration

	// ErrAddressDerivation indicates an address could not be derived from
	// a public key.
	ErrAddressDerivation

	// ErrDecryption indicates a stored private key could not be recovered.
	// The underlying reason is never exposed.
	ErrDecryption

	// ErrDustAmount indicates the payout amount is below the dust
	// threshold.
	ErrDustAmount

	// ErrNoSpendableFunds indicates the sender has no confirmed outputs.
	ErrNoSpendableFunds

	// ErrInsufficientFunds indicates the sender's confirmed outputs do
	// not cover the payout amount.
	ErrInsufficientFunds

	// ErrInsufficientFundsForFee indicates the selected outputs cover the
	// amount but not the fee.
	ErrInsufficientFundsForFee

	// ErrFeeRate indicates the fee rate was unusable.
	ErrFeeRate

	// ErrSigning indicates the sender key could not sign the payout.
	ErrSigning

	// ErrSignatureVerification indicates a produced signature failed the
	// independent check.  Nothing was broadcast.
	ErrSignatureVerification

	// ErrFinalization indicates the signed payout could not be finalized.
	ErrFinalization

	// ErrBroadcast indicates the indexer refused or did not acknowledge
	// the payout.
	ErrBroadcast

	// ErrConflict indicates the payout spent outputs that were already
	// spent.  The caller may retry.
	ErrConflict

	// ErrAddressLookup indicates the indexer could not answer an address
	// query.
	ErrAddressLookup

	// ErrInvalidAddress indicates an address is malformed or belongs to
	// another network.
	ErrInvalidAddress

	// ErrWalletExists indicates the owner already has a wallet.
	ErrWalletExists

	// ErrWalletNotFound indicates the owner has no wallet.
	ErrWalletNotFound

	// ErrInvalidAmount indicates a non-positive payout amount.
	ErrInvalidAmount

	// ErrInvalidOwner indicates an empty owner reference.
	ErrInvalidOwner

	// ErrInternal indicates a broken internal invariant, such as an
	// authored transaction that does not conserve value.
	ErrInternal
)

// Map of ErrorCode values back to their constant names for pretty printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrDatabase:                "ErrDatabase",
	ErrConfiguration:           "ErrConfiguration",
	ErrKeyGeneration:           "ErrKeyGeneration",
	ErrAddressDerivation:       "ErrAddressDerivation",
	ErrDecryption:              "ErrDecryption",
	ErrDustAmount:              "ErrDustAmount",
	ErrNoSpendableFunds:        "ErrNoSpendableFunds",
	ErrInsufficientFunds:       "ErrInsufficientFunds",
	ErrInsufficientFundsForFee: "ErrInsufficientFundsForFee",
	ErrFeeRate:                 "ErrFeeRate",
	ErrSigning:                 "ErrSigning",
	ErrSignatureVerification:   "ErrSignatureVerification",
	ErrFinalization:            "ErrFinalization",
	ErrBroadcast:               "ErrBroadcast",
	ErrConflict:                "ErrConflict",
	ErrAddressLookup:           "ErrAddressLookup",
	ErrInvalidAddress:          "ErrInvalidAddress",
	ErrWalletExists:            "ErrWalletExists",
	ErrWalletNotFound:          "ErrWalletNotFound",
	ErrInvalidAmount:           "ErrInvalidAmount",
	ErrInvalidOwner:            "ErrInvalidOwner",
	ErrInternal:                "ErrInternal",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// Retryable reports whether an operation failing with this code may succeed
// when repeated without changes.
func (e ErrorCode) Retryable() bool {
	switch e {
	case ErrConflict, ErrAddressLookup:
		return true
	}
	return false
}

// Error provides a single type for errors that can happen during wallet
// service operation.
type Error struct {
	Code        ErrorCode // Describes the kind of error
	Description string    // Human readable description of the issue
	Err         error     // Underlying error
}

// Error satisfies the error interface and prints human-readable errors.
func (e Error) Error() string {
	if e.Err != nil {
		return e.Description + ": " + e.Err.Error()
	}
	return e.Description
}

// Unwrap returns the underlying error so errors.Is and errors.As can reach
// the sentinel of the failing component.
func (e Error) Unwrap() error {
	return e.Err
}

func walletError(c ErrorCode, desc string, err error) Error {
	return Error{Code: c, Description: desc, Err: err}
}

// IsError returns whether err is an Error with a matching error code.
func IsError(err error, code ErrorCode) bool {
	var e Error
	return errors.As(err, &e) && e.Code == code
}

// Code returns the code of err, and false if err is not an Error.
func Code(err error) (ErrorCode, bool) {
	var e Error
	if !errors.As(err, &e) {
		return 0, false
	}
	return e.Code, true
}
