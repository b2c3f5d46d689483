// Copyright (c) 2025 The satpayout developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txbuilder

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcwallet/wallet/txauthor"
)

var (
	// ErrDustAmount is returned when the payout amount is below the dust
	// threshold.  No UTXOs are fetched in that case.
	ErrDustAmount = errors.New("amount is below the dust threshold")

	// ErrNoSpendableFunds is returned when the sender has no confirmed,
	// unreserved UTXOs.
	ErrNoSpendableFunds = errors.New("no spendable funds")

	// ErrInsufficientFunds is matched by *InsufficientFundsError.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInsufficientFundsForFee is matched by
	// *InsufficientFundsForFeeError.
	ErrInsufficientFundsForFee = errors.New("insufficient funds for fee")

	// ErrMissingFeeRate is returned when the fee source returned a
	// non-positive rate.
	ErrMissingFeeRate = errors.New("missing fee rate")
)

// InsufficientFundsError is returned when even all spendable UTXOs do not
// cover the payout amount.
type InsufficientFundsError struct {
	Available btcutil.Amount
	Needed    btcutil.Amount
}

// Compile time check that the error can be handled like any other input
// selection failure.
var _ txauthor.InputSourceError = (*InsufficientFundsError)(nil)

// InputSourceError marks the error as an input selection failure.
func (e *InsufficientFundsError) InputSourceError() {}

// Error satisfies the error interface.
func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: available %d sat, needed %d sat",
		int64(e.Available), int64(e.Needed))
}

// Is matches ErrInsufficientFunds.
func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}

// InsufficientFundsForFeeError is returned when the selected UTXOs cover the
// amount but not the amount plus the estimated fee.
type InsufficientFundsForFeeError struct {
	Available btcutil.Amount
	Needed    btcutil.Amount
	Fee       btcutil.Amount
}

// Compile time check, see InsufficientFundsError.
var _ txauthor.InputSourceError = (*InsufficientFundsForFeeError)(nil)

// InputSourceError marks the error as an input selection failure.
func (e *InsufficientFundsForFeeError) InputSourceError() {}

// Error satisfies the error interface.
func (e *InsufficientFundsForFeeError) Error() string {
	return fmt.Sprintf("insufficient funds for amount plus fee: available "+
		"%d sat, needed %d sat (fee %d sat)", int64(e.Available),
		int64(e.Needed), int64(e.Fee))
}

// Is matches ErrInsufficientFundsForFee.
func (e *InsufficientFundsForFeeError) Is(target error) bool {
	return target == ErrInsufficientFundsForFee
}
