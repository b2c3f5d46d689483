// Copyright (c) 2025 The btcsuite developers
// Copyright (c) 2025 The satpayout developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// This file contains mock implementations of the chain.Indexer and Store
// interfaces.  They are used to isolate the service from the network and the
// database.

package wallet

import (
	"context"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/chorebit/satpayout/chain"
	"github.com/chorebit/satpayout/pkg/unit"
	"github.com/chorebit/satpayout/wallet/txsigner"
	"github.com/stretchr/testify/mock"
)

// mockIndexer is a mock implementation of the chain.Indexer interface.
type mockIndexer struct {
	mock.Mock
}

// A compile-time assertion to ensure that mockIndexer implements the
// chain.Indexer interface.
var _ chain.Indexer = (*mockIndexer)(nil)

// Utxos implements the chain.Indexer interface.
func (m *mockIndexer) Utxos(ctx context.Context,
	address string) ([]chain.Utxo, error) {

	args := m.Called(ctx, address)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]chain.Utxo), args.Error(1)
}

// RecommendedFeeRate implements the chain.Indexer interface.
func (m *mockIndexer) RecommendedFeeRate(
	ctx context.Context) unit.SatPerVByte {

	args := m.Called(ctx)
	return args.Get(0).(unit.SatPerVByte)
}

// Balance implements the chain.Indexer interface.
func (m *mockIndexer) Balance(ctx context.Context,
	address string) (btcutil.Amount, error) {

	args := m.Called(ctx, address)
	return args.Get(0).(btcutil.Amount), args.Error(1)
}

// History implements the chain.Indexer interface.
func (m *mockIndexer) History(ctx context.Context, address string,
	limit int) ([]chain.TxSummary, error) {

	args := m.Called(ctx, address, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]chain.TxSummary), args.Error(1)
}

// Broadcast implements the chain.Indexer interface.
func (m *mockIndexer) Broadcast(ctx context.Context,
	rawTxHex string) (string, error) {

	args := m.Called(ctx, rawTxHex)
	return args.String(0), args.Error(1)
}

// memStore is an in-memory Store.
type memStore struct {
	mu      sync.Mutex
	wallets []*Wallet

	// skipUniqueness disables the owner check so tests can exercise the
	// service's own check.
	skipUniqueness bool

	// hideOwners makes WalletByOwner find nothing, as if another process
	// created the wallet after the lookup.
	hideOwners bool

	// err, if set, is returned from every call.
	err error
}

// A compile-time assertion to ensure that memStore implements the Store
// and EnvelopeStore interfaces.
var (
	_ Store         = (*memStore)(nil)
	_ EnvelopeStore = (*memStore)(nil)
)

func (s *memStore) InsertWallet(_ context.Context, w *Wallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return s.err
	}
	for _, existing := range s.wallets {
		if s.skipUniqueness {
			break
		}
		if existing.OwnerKind == w.OwnerKind &&
			existing.OwnerID == w.OwnerID {

			return ErrDuplicateWallet
		}
	}

	stored := *w
	s.wallets = append(s.wallets, &stored)
	return nil
}

func (s *memStore) WalletByOwner(_ context.Context, kind OwnerKind,
	ownerID string) (*Wallet, error) {

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return nil, s.err
	}
	if s.hideOwners {
		return nil, ErrNoWallet
	}
	for _, w := range s.wallets {
		if w.OwnerKind == kind && w.OwnerID == ownerID {
			found := *w
			return &found, nil
		}
	}
	return nil, ErrNoWallet
}

func (s *memStore) WalletByAddress(_ context.Context,
	address string) (*Wallet, error) {

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return nil, s.err
	}
	for _, w := range s.wallets {
		if w.Address == address {
			found := *w
			return &found, nil
		}
	}
	return nil, ErrNoWallet
}

func (s *memStore) Wallets(_ context.Context) ([]*Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return nil, s.err
	}
	wallets := make([]*Wallet, 0, len(s.wallets))
	for _, w := range s.wallets {
		found := *w
		wallets = append(wallets, &found)
	}
	return wallets, nil
}

func (s *memStore) ReplaceEnvelope(_ context.Context, id, oldEnvelope,
	newEnvelope string) error {

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return s.err
	}
	for _, w := range s.wallets {
		if w.ID != id {
			continue
		}
		if w.EncryptedPrivateKey != oldEnvelope {
			return ErrStaleEnvelope
		}
		w.EncryptedPrivateKey = newEnvelope
		return nil
	}
	return ErrNoWallet
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.wallets)
}

// corruptingSigner signs with txsigner.Signer and then flips a bit of the
// first partial signature, as a faulty signing backend would.
type corruptingSigner struct {
	txsigner.Signer
}

func (c corruptingSigner) Sign(packet *psbt.Packet,
	key *btcec.PrivateKey) error {

	if err := c.Signer.Sign(packet, key); err != nil {
		return err
	}

	sig := packet.Inputs[0].PartialSigs[0].Signature
	sig[len(sig)-2] ^= 0x01

	return nil
}

// recordingObserver records the outcomes reported by the service.
type recordingObserver struct {
	mu       sync.Mutex
	created  []OwnerKind
	sent     []btcutil.Amount
	fees     []btcutil.Amount
	failures []ErrorCode
}

func (o *recordingObserver) WalletCreated(kind OwnerKind) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.created = append(o.created, kind)
}

func (o *recordingObserver) PayoutSent(amount, fee btcutil.Amount, _ int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, amount)
	o.fees = append(o.fees, fee)
}

func (o *recordingObserver) PayoutFailed(code ErrorCode) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures = append(o.failures, code)
}
