// Copyright (c) 2025 The satpayout developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"context"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/chorebit/satpayout/pkg/unit"
)

// Indexer is the read and broadcast surface of a public block explorer.  It
// allows the payout pipeline to run without a local node.
type Indexer interface {
	// Utxos returns the unspent outputs paying to address, in the order
	// the indexer reports them.
	Utxos(ctx context.Context, address string) ([]Utxo, error)

	// RecommendedFeeRate returns the current fee rate to pay.  It never
	// fails; implementations fall back to a fixed rate instead.
	RecommendedFeeRate(ctx context.Context) unit.SatPerVByte

	// Balance returns the confirmed balance of address.
	Balance(ctx context.Context, address string) (btcutil.Amount, error)

	// History returns up to limit of the most recent transactions
	// touching address.
	History(ctx context.Context, address string,
		limit int) ([]TxSummary, error)

	// Broadcast submits a serialized transaction and returns the txid
	// reported by the indexer.
	Broadcast(ctx context.Context, rawTxHex string) (string, error)
}

// Utxo is an unspent output as reported by the indexer.
type Utxo struct {
	TxID      chainhash.Hash
	Vout      uint32
	Value     btcutil.Amount
	Confirmed bool
}

// OutPoint returns the outpoint identifying the output.
func (u Utxo) OutPoint() wire.OutPoint {
	return wire.OutPoint{Hash: u.TxID, Index: u.Vout}
}

// Direction describes how a transaction relates to a watched address.
type Direction uint8

const (
	// Incoming is a transaction that does not lower the balance of the
	// address.
	Incoming Direction = iota

	// Outgoing is a transaction with a negative net effect on the
	// address, including sends that return change to it.
	Outgoing
)

// String returns the direction as a human-readable name.
func (d Direction) String() string {
	if d == Incoming {
		return "incoming"
	}
	return "outgoing"
}

// TxSummary is a single entry of an address history.
type TxSummary struct {
	TxID      string
	Direction Direction

	// Net is the value of outputs paying to the address minus the value
	// of spent outputs that belonged to it.  It is negative for sends.
	Net btcutil.Amount

	Confirmed   bool
	BlockHeight int32

	// BlockTime is the zero time for unconfirmed transactions.
	BlockTime time.Time
}
