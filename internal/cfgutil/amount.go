// Copyright (c) 2015-2016 The btcsuite developers
// Copyright (c) 2025 The satpayout developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package cfgutil

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/chorebit/satpayout/pkg/unit"
)

// AmountFlag embeds a btcutil.Amount and implements the flags.Marshaler and
// Unmarshaler interfaces so it can be used as a config struct field.  Values
// are whole satoshis, optionally suffixed with " sat", or decimal bitcoin
// suffixed with " BTC".
type AmountFlag struct {
	btcutil.Amount
}

// NewAmountFlag creates an AmountFlag with a default btcutil.Amount.
func NewAmountFlag(defaultValue btcutil.Amount) *AmountFlag {
	return &AmountFlag{defaultValue}
}

// MarshalFlag satisfies the flags.Marshaler interface.
func (a *AmountFlag) MarshalFlag() (string, error) {
	return strconv.FormatInt(int64(a.Amount), 10), nil
}

// UnmarshalFlag satisfies the flags.Unmarshaler interface.
func (a *AmountFlag) UnmarshalFlag(value string) error {
	value = strings.TrimSpace(value)

	if btc, ok := strings.CutSuffix(value, " BTC"); ok {
		valueF64, err := strconv.ParseFloat(btc, 64)
		if err != nil {
			return err
		}
		amount, err := btcutil.NewAmount(valueF64)
		if err != nil {
			return err
		}
		if amount < 0 {
			return fmt.Errorf("negative amount %v", amount)
		}
		a.Amount = amount
		return nil
	}

	sats, err := strconv.ParseInt(strings.TrimSuffix(value, " sat"), 10, 64)
	if err != nil {
		return err
	}
	if sats < 0 {
		return fmt.Errorf("negative amount %d sat", sats)
	}
	a.Amount = btcutil.Amount(sats)
	return nil
}

// FeeRateFlag embeds a unit.SatPerVByte and implements the flags.Marshaler
// and Unmarshaler interfaces.  Values are decimal sat/vB, optionally
// suffixed with " sat/vb".
type FeeRateFlag struct {
	unit.SatPerVByte
}

// NewFeeRateFlag creates a FeeRateFlag with a default rate in whole sat/vB.
func NewFeeRateFlag(satPerVByte btcutil.Amount) *FeeRateFlag {
	return &FeeRateFlag{unit.NewSatPerVByte(satPerVByte, unit.NewVByte(1))}
}

// MarshalFlag satisfies the flags.Marshaler interface.
func (f *FeeRateFlag) MarshalFlag() (string, error) {
	if f.Rat == nil {
		return "0", nil
	}
	return f.Rat.FloatString(3), nil
}

// UnmarshalFlag satisfies the flags.Unmarshaler interface.
func (f *FeeRateFlag) UnmarshalFlag(value string) error {
	value = strings.TrimSpace(value)
	value = strings.TrimSuffix(strings.ToLower(value), " sat/vb")

	valueF64, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return err
	}

	rate := unit.SatPerVByteFromFloat(valueF64)
	if !rate.IsPositive() {
		return fmt.Errorf("fee rate must be positive, got %s", value)
	}
	f.SatPerVByte = rate
	return nil
}
