// Copyright (c) 2025 The satpayout developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package unit provides the fee-rate and transaction size units used when
// pricing a payout transaction.
package unit

import (
	"log/slog"
	"math"
	"math/big"

	"github.com/btcsuite/btcd/btcutil"
)

const (
	// floatStringPrecision is the number of decimal places to use when
	// converting a fee rate to a string.
	floatStringPrecision = 2

	// ratePrecision is the denominator used when converting a float fee
	// rate, as reported by an indexer, into a rational one.
	ratePrecision = 1000
)

// MinRelayFeeRate is the lowest fee rate default nodes relay.
var MinRelayFeeRate = NewSatPerVByte(1, NewVByte(1))

// SatPerVByte represents a fee rate in sat/vbyte. The fee rate is encoded
// as a big.Rat to allow for fractional (sub-satoshi) fee rates.
type SatPerVByte struct {
	*big.Rat
}

// NewSatPerVByte creates a new fee rate in sat/vb. The given fee and vbytes
// are used to calculate the fee rate.
func NewSatPerVByte(fee btcutil.Amount, vb VByte) SatPerVByte {
	if vb.val == 0 {
		return SatPerVByte{big.NewRat(0, 1)}
	}

	return SatPerVByte{
		big.NewRat(int64(fee), safeUint64ToInt64(vb.val)),
	}
}

// SatPerVByteFromFloat converts a float rate, the representation used by
// block explorers' fee endpoints, into a SatPerVByte. Values that are not
// finite are mapped to a zero rate so callers can treat them as implausible.
func SatPerVByteFromFloat(rate float64) SatPerVByte {
	if math.IsNaN(rate) || math.IsInf(rate, 0) {
		return SatPerVByte{big.NewRat(0, 1)}
	}

	return SatPerVByte{
		big.NewRat(int64(math.Round(rate*ratePrecision)), ratePrecision),
	}
}

// FeeForVSize calculates the fee resulting from this fee rate and the given
// vsize in vbytes, rounding up to the nearest satoshi.
func (s SatPerVByte) FeeForVSize(vb VByte) btcutil.Amount {
	feeRat := new(big.Rat).Mul(
		s.Rat, big.NewRat(safeUint64ToInt64(vb.val), 1),
	)

	num := new(big.Int).Set(feeRat.Num())
	den := feeRat.Denom()
	num.Add(num, den)
	num.Sub(num, big.NewInt(1))
	num.Div(num, den)

	return btcutil.Amount(num.Int64())
}

// IsPositive returns true if the rate is strictly greater than zero.
func (s SatPerVByte) IsPositive() bool {
	return s.Rat != nil && s.Sign() > 0
}

// String returns a human-readable string of the fee rate.
func (s SatPerVByte) String() string {
	if s.Rat == nil {
		return "<nil> sat/vb"
	}
	return s.FloatString(floatStringPrecision) + " sat/vb"
}

// Equal returns true if the fee rate is equal to the other fee rate.
func (s SatPerVByte) Equal(other SatPerVByte) bool {
	return s.Cmp(other.Rat) == 0
}

// GreaterThan returns true if the fee rate is greater than the other fee rate.
func (s SatPerVByte) GreaterThan(other SatPerVByte) bool {
	return s.Cmp(other.Rat) > 0
}

// LessThan returns true if the fee rate is less than the other fee rate.
func (s SatPerVByte) LessThan(other SatPerVByte) bool {
	return s.Cmp(other.Rat) < 0
}

// safeUint64ToInt64 converts a uint64 to an int64, capping at math.MaxInt64.
// The values converted are transaction sizes, which are bounded by consensus
// rules.
func safeUint64ToInt64(u uint64) int64 {
	if u > math.MaxInt64 {
		slog.Warn("Capping uint64 value to math.MaxInt64",
			slog.Uint64("old", u), slog.Int64("new", math.MaxInt64))

		return math.MaxInt64
	}

	return int64(u)
}
