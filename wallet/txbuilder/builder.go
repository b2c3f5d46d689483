// Copyright (c) 2025 The satpayout developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package txbuilder authors the unsigned transaction of a payout.
//
// A payout spends confirmed P2WPKH outputs of the sender, in the order the
// indexer reports them, until they cover the amount plus a dust sized margin.
// It pays the recipient at output index 0 and, if the leftover is at least
// the dust threshold, returns change to the sender at index 1.  Leftover
// below the threshold is added to the fee.  The resulting transaction always
// satisfies
//
//	TotalInput == amount + change + Fee
package txbuilder

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txauthor"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/chorebit/satpayout/chain"
	"github.com/chorebit/satpayout/pkg/unit"
	"github.com/davecgh/go-spew/spew"
)

const (
	// DustThreshold is the smallest output value the builder creates.
	DustThreshold btcutil.Amount = 546

	// TxVersion is the version of authored transactions.
	TxVersion = 2

	// changeIndex is the fixed position of the change output.  The
	// recipient is always paid at index 0.
	changeIndex = 1

	// estimatedOutputs is the output count assumed when estimating the
	// fee.  The estimate always includes a change output, even if the
	// change later turns out to be dust.
	estimatedOutputs = 2
)

// DefaultMaxFeeRate is the largest fee rate the builder pays.
var DefaultMaxFeeRate = unit.NewSatPerVByte(1000, unit.NewVByte(1))

// UtxoSource lists the unspent outputs of an address.
type UtxoSource interface {
	Utxos(ctx context.Context, address string) ([]chain.Utxo, error)
}

// FeeSource returns the fee rate to pay.
type FeeSource interface {
	RecommendedFeeRate(ctx context.Context) unit.SatPerVByte
}

// Config houses the dependencies of a Builder.
type Config struct {
	Utxos UtxoSource
	Fees  FeeSource

	// SizeModel estimates transaction sizes.  DefaultSizeModel is used if
	// nil.
	SizeModel SizeModel

	// MaxFeeRate caps the estimated fee rate.  DefaultMaxFeeRate is used
	// if nil.
	MaxFeeRate *unit.SatPerVByte
}

// Builder authors payout transactions.
type Builder struct {
	utxos      UtxoSource
	fees       FeeSource
	sizes      SizeModel
	maxFeeRate unit.SatPerVByte
}

// New returns a Builder using the given sources.
func New(cfg Config) *Builder {
	sizes := cfg.SizeModel
	if sizes == nil {
		sizes = DefaultSizeModel
	}

	maxFeeRate := DefaultMaxFeeRate
	if cfg.MaxFeeRate != nil {
		maxFeeRate = *cfg.MaxFeeRate
	}

	return &Builder{
		utxos:      cfg.Utxos,
		fees:       cfg.Fees,
		sizes:      sizes,
		maxFeeRate: maxFeeRate,
	}
}

// Request describes a single payout.
type Request struct {
	// Sender is the address funding the payout and receiving change.
	Sender btcutil.Address

	// Recipient is the address paid.
	Recipient btcutil.Address

	// Amount is the value paid to Recipient.
	Amount btcutil.Amount

	// Exclude, if set, reports outpoints that must not be selected, for
	// example because an earlier payout already spent them.
	Exclude func(wire.OutPoint) bool
}

// AuthoredTx holds a newly authored, unsigned payout transaction and
// everything needed to sign it.
type AuthoredTx struct {
	Tx              *wire.MsgTx
	PrevScripts     [][]byte
	PrevInputValues []btcutil.Amount
	TotalInput      btcutil.Amount

	// Fee is the absolute fee, including any change dropped as dust.
	Fee btcutil.Amount

	// FeeRate and VSize are the inputs of the fee estimate.
	FeeRate unit.SatPerVByte
	VSize   unit.VByte

	// ChangeIndex is the index of the change output, or -1 if the change
	// was dropped.
	ChangeIndex int
}

// Change returns the value of the change output, or zero if there is none.
func (tx *AuthoredTx) Change() btcutil.Amount {
	if tx.ChangeIndex < 0 {
		return 0
	}
	return btcutil.Amount(tx.Tx.TxOut[tx.ChangeIndex].Value)
}

// PrevOutFetcher returns a fetcher over the outputs spent by the transaction.
func (tx *AuthoredTx) PrevOutFetcher() (*txscript.MultiPrevOutFetcher, error) {
	return txauthor.TXPrevOutFetcher(
		tx.Tx, tx.PrevScripts, tx.PrevInputValues,
	)
}

// OutPoints returns the outpoints spent by the transaction in input order.
func (tx *AuthoredTx) OutPoints() []wire.OutPoint {
	ops := make([]wire.OutPoint, 0, len(tx.Tx.TxIn))
	for _, in := range tx.Tx.TxIn {
		ops = append(ops, in.PreviousOutPoint)
	}
	return ops
}

// Build authors the payout described by req.
func (b *Builder) Build(ctx context.Context, req *Request) (*AuthoredTx,
	error) {

	// Dust is rejected before touching the indexer.
	if req.Amount < DustThreshold {
		return nil, fmt.Errorf("%w: %v < %v", ErrDustAmount, req.Amount,
			DustThreshold)
	}

	senderScript, err := txscript.PayToAddrScript(req.Sender)
	if err != nil {
		return nil, fmt.Errorf("sender script: %w", err)
	}
	recipientScript, err := txscript.PayToAddrScript(req.Recipient)
	if err != nil {
		return nil, fmt.Errorf("recipient script: %w", err)
	}

	senderAddr := req.Sender.EncodeAddress()
	utxos, err := b.utxos.Utxos(ctx, senderAddr)
	if err != nil {
		return nil, err
	}

	spendable := make([]chain.Utxo, 0, len(utxos))
	for _, u := range utxos {
		if !u.Confirmed {
			continue
		}
		if req.Exclude != nil && req.Exclude(u.OutPoint()) {
			log.Debugf("Skipping reserved output %v", u.OutPoint())
			continue
		}
		spendable = append(spendable, u)
	}
	if len(spendable) == 0 {
		return nil, fmt.Errorf("%w: %s has no confirmed outputs",
			ErrNoSpendableFunds, senderAddr)
	}

	selected, total := selectInputs(spendable, req.Amount+DustThreshold)
	if total < req.Amount {
		return nil, &InsufficientFundsError{
			Available: total,
			Needed:    req.Amount,
		}
	}

	feeRate := b.fees.RecommendedFeeRate(ctx)
	if !feeRate.IsPositive() {
		return nil, ErrMissingFeeRate
	}
	if feeRate.GreaterThan(b.maxFeeRate) {
		log.Warnf("Fee rate %v exceeds the maximum, paying %v",
			feeRate, b.maxFeeRate)
		feeRate = b.maxFeeRate
	}

	vsize := b.sizes.EstimateVSize(len(selected), estimatedOutputs)
	fee := feeRate.FeeForVSize(vsize)

	change := total - req.Amount - fee
	if change < 0 {
		return nil, &InsufficientFundsForFeeError{
			Available: total,
			Needed:    req.Amount + fee,
			Fee:       fee,
		}
	}

	tx := wire.NewMsgTx(TxVersion)
	prevScripts := make([][]byte, 0, len(selected))
	prevValues := make([]btcutil.Amount, 0, len(selected))
	for _, u := range selected {
		op := u.OutPoint()
		tx.AddTxIn(wire.NewTxIn(&op, nil, nil))
		prevScripts = append(prevScripts, senderScript)
		prevValues = append(prevValues, u.Value)
	}

	tx.AddTxOut(wire.NewTxOut(int64(req.Amount), recipientScript))

	authored := &AuthoredTx{
		Tx:              tx,
		PrevScripts:     prevScripts,
		PrevInputValues: prevValues,
		TotalInput:      total,
		Fee:             fee,
		FeeRate:         feeRate,
		VSize:           vsize,
		ChangeIndex:     -1,
	}

	if change >= DustThreshold {
		tx.AddTxOut(wire.NewTxOut(int64(change), senderScript))
		authored.ChangeIndex = changeIndex
	} else {
		log.Debugf("Change %v below dust threshold, adding it to the fee",
			change)
		authored.Fee += change
	}

	if err := checkAuthored(authored); err != nil {
		return nil, err
	}

	log.Debugf("Authored payout of %v to %v: %d inputs totalling %v, "+
		"fee %v at %v over %v", req.Amount, req.Recipient.EncodeAddress(),
		len(selected), total, authored.Fee, feeRate, vsize)
	log.Tracef("Unsigned payout transaction: %v", newLogClosure(
		func() string {
			return spew.Sdump(tx)
		}),
	)

	return authored, nil
}

// selectInputs accumulates UTXOs in the given order until their sum reaches
// target, returning all of them if it never does.
func selectInputs(utxos []chain.Utxo, target btcutil.Amount) ([]chain.Utxo,
	btcutil.Amount) {

	var total btcutil.Amount
	for i, u := range utxos {
		total += u.Value
		if total >= target {
			return utxos[:i+1], total
		}
	}
	return utxos, total
}

// checkAuthored verifies the value conservation and output policy of a
// freshly authored transaction.
func checkAuthored(tx *AuthoredTx) error {
	outputs := txauthor.SumOutputValues(tx.Tx.TxOut)
	if tx.TotalInput != outputs+tx.Fee {
		return fmt.Errorf("value not conserved: inputs %v, outputs %v, "+
			"fee %v", tx.TotalInput, outputs, tx.Fee)
	}
	if tx.Fee < 0 {
		return errors.New("negative fee")
	}

	for i, out := range tx.Tx.TxOut {
		if btcutil.Amount(out.Value) < DustThreshold {
			return fmt.Errorf("output %d: %w", i, ErrDustAmount)
		}
		err := txrules.CheckOutput(out, txrules.DefaultRelayFeePerKb)
		if err != nil {
			return fmt.Errorf("output %d: %w", i, err)
		}
	}

	return nil
}
