// Copyright (c) 2025 The satpayout developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txbuilder

import (
	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcwallet/wallet/txsizes"
	"github.com/chorebit/satpayout/pkg/unit"
)

const (
	// baseOverheadSize is the non-witness size of a transaction without
	// inputs and outputs.  It is calculated as:
	//
	//   - 4 bytes version
	//   - 1 byte compact int encoding the input count
	//   - 1 byte compact int encoding the output count
	//   - 4 bytes lock time
	baseOverheadSize = 4 + 1 + 1 + 4

	// witnessHeaderWeight is the weight of the segwit marker and flag.
	witnessHeaderWeight = 1 + 1

	// overheadWeight is 42 wu, or 10.5 vbytes.
	overheadWeight = baseOverheadSize*blockchain.WitnessScaleFactor +
		witnessHeaderWeight

	// p2wpkhInputWeight is 273 wu, or 68.25 vbytes.
	p2wpkhInputWeight = txsizes.RedeemP2WPKHInputSize*
		blockchain.WitnessScaleFactor +
		txsizes.RedeemP2WPKHInputWitnessWeight

	// p2wpkhOutputWeight is 124 wu, or 31 vbytes.
	p2wpkhOutputWeight = txsizes.P2WPKHOutputSize *
		blockchain.WitnessScaleFactor
)

// SizeModel estimates the virtual size of a signed transaction from its
// input and output counts.
type SizeModel interface {
	EstimateVSize(numInputs, numOutputs int) unit.VByte
}

// LinearSizeModel prices a transaction as a fixed overhead plus a fixed
// weight per input and per output.  The sum is rounded up to whole vbytes.
type LinearSizeModel struct {
	Overhead  unit.WeightUnit
	PerInput  unit.WeightUnit
	PerOutput unit.WeightUnit
}

// DefaultSizeModel is the worst case model for a transaction spending only
// P2WPKH outputs and paying only P2WPKH outputs.
var DefaultSizeModel = LinearSizeModel{
	Overhead:  unit.NewWeightUnit(overheadWeight),
	PerInput:  unit.NewWeightUnit(p2wpkhInputWeight),
	PerOutput: unit.NewWeightUnit(p2wpkhOutputWeight),
}

// EstimateVSize returns the estimated virtual size.
func (m LinearSizeModel) EstimateVSize(numInputs, numOutputs int) unit.VByte {
	weight := m.Overhead.Uint64() +
		uint64(numInputs)*m.PerInput.Uint64() +
		uint64(numOutputs)*m.PerOutput.Uint64()

	return unit.NewWeightUnit(weight).ToVB()
}
