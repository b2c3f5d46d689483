// Copyright (c) 2025 The satpayout developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/chorebit/satpayout/addrmgr"
	"github.com/chorebit/satpayout/chain"
	"github.com/chorebit/satpayout/internal/zero"
	"github.com/chorebit/satpayout/pkg/unit"
	"github.com/chorebit/satpayout/wallet/txbuilder"
	"github.com/chorebit/satpayout/wallet/txsigner"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Sealer encrypts wallet keys at rest.  It is implemented by
// *keystore.KeyStore.
type Sealer interface {
	Encrypt(plaintext []byte) (string, error)
	Decrypt(envelope string) ([]byte, error)
}

// PayoutSigner runs the signing stages of a payout.  Every stage must
// succeed before the service broadcasts.  It is implemented by
// txsigner.Signer.
type PayoutSigner interface {
	NewPacket(tx *txbuilder.AuthoredTx) (*psbt.Packet, error)
	Sign(packet *psbt.Packet, key *btcec.PrivateKey) error
	Verify(packet *psbt.Packet) error
	Finalize(packet *psbt.Packet) (*wire.MsgTx, error)
}

// Observer is notified of service outcomes.  It is implemented by the
// metrics package.
type Observer interface {
	WalletCreated(kind OwnerKind)
	PayoutSent(amount, fee btcutil.Amount, numInputs int)
	PayoutFailed(code ErrorCode)
}

type noopObserver struct{}

func (noopObserver) WalletCreated(OwnerKind) {}

func (noopObserver) PayoutSent(btcutil.Amount, btcutil.Amount, int) {}

func (noopObserver) PayoutFailed(ErrorCode) {}

// Config houses the dependencies of a Service.
type Config struct {
	Store   Store
	Indexer chain.Indexer
	Sealer  Sealer

	// Params is the network wallets are created on.
	Params *chaincfg.Params

	// Signer defaults to txsigner.Signer.
	Signer PayoutSigner

	// SizeModel and MaxFeeRate are passed to the transaction builder.
	SizeModel  txbuilder.SizeModel
	MaxFeeRate *unit.SatPerVByte

	// ReservationTTL defaults to DefaultReservationTTL.
	ReservationTTL time.Duration

	// HistoryLimit is the number of transactions in a snapshot.  It
	// defaults to chain.DefaultHistoryLimit.
	HistoryLimit int

	Observer Observer
}

// Service creates custodial wallets and pays out from them.  All methods are
// safe for concurrent use.
type Service struct {
	store    Store
	indexer  chain.Indexer
	sealer   Sealer
	params   *chaincfg.Params
	signer   PayoutSigner
	builder  *txbuilder.Builder
	observer Observer

	historyLimit int

	// owners serialises wallet creation per owner, senders serialises
	// payouts per sending address.
	owners   *keyedMutex
	senders  *keyedMutex
	reserved *reservations
}

// New returns a Service.  Close must be called to release it.
func New(cfg Config) (*Service, error) {
	switch {
	case cfg.Store == nil:
		return nil, walletError(ErrConfiguration, "missing wallet store", nil)
	case cfg.Indexer == nil:
		return nil, walletError(ErrConfiguration, "missing indexer", nil)
	case cfg.Sealer == nil:
		return nil, walletError(ErrConfiguration, "missing key sealer", nil)
	case cfg.Params == nil:
		return nil, walletError(ErrConfiguration, "missing network", nil)
	}

	signer := cfg.Signer
	if signer == nil {
		signer = txsigner.Signer{}
	}
	observer := cfg.Observer
	if observer == nil {
		observer = noopObserver{}
	}
	ttl := cfg.ReservationTTL
	if ttl <= 0 {
		ttl = DefaultReservationTTL
	}
	historyLimit := cfg.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = chain.DefaultHistoryLimit
	}

	reserved, err := newReservations(ttl)
	if err != nil {
		return nil, walletError(ErrConfiguration,
			"unable to create reservation cache", err)
	}

	return &Service{
		store:   cfg.Store,
		indexer: cfg.Indexer,
		sealer:  cfg.Sealer,
		params:  cfg.Params,
		signer:  signer,
		builder: txbuilder.New(txbuilder.Config{
			Utxos:      cfg.Indexer,
			Fees:       cfg.Indexer,
			SizeModel:  cfg.SizeModel,
			MaxFeeRate: cfg.MaxFeeRate,
		}),
		observer:     observer,
		historyLimit: historyLimit,
		owners:       newKeyedMutex(),
		senders:      newKeyedMutex(),
		reserved:     reserved,
	}, nil
}

// Close releases the reservation cache.
func (s *Service) Close() error {
	return s.reserved.close()
}

// Network returns the name of the network the service operates on.
func (s *Service) Network() string {
	return s.params.Name
}

// CreateUserWallet creates the wallet of a user.
func (s *Service) CreateUserWallet(ctx context.Context,
	userID string) (*Info, error) {

	return s.CreateWallet(ctx, OwnerUser, userID)
}

// CreateOrgWallet creates the wallet of an organization.
func (s *Service) CreateOrgWallet(ctx context.Context,
	orgID string) (*Info, error) {

	return s.CreateWallet(ctx, OwnerOrganization, orgID)
}

// CreateWallet generates a key for the owner, stores it encrypted and
// returns the new wallet.  It fails with ErrWalletExists if the owner
// already has a wallet.
func (s *Service) CreateWallet(ctx context.Context, kind OwnerKind,
	ownerID string) (*Info, error) {

	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" || !kind.Valid() {
		return nil, walletError(ErrInvalidOwner,
			"owner kind and id are required", nil)
	}

	unlock := s.owners.lock(kind.String() + ":" + ownerID)
	defer unlock()

	_, err := s.store.WalletByOwner(ctx, kind, ownerID)
	switch {
	case err == nil:
		return nil, walletError(ErrWalletExists,
			"wallet already exists for "+kind.String()+" "+ownerID, nil)
	case !errors.Is(err, ErrNoWallet):
		return nil, walletError(ErrDatabase, "wallet lookup failed", err)
	}

	keyPair, err := addrmgr.GenerateKeyPair()
	if err != nil {
		return nil, walletError(ErrKeyGeneration,
			"unable to generate wallet key", err)
	}
	defer keyPair.Zero()

	addr, err := addrmgr.DeriveAddress(keyPair.SerializedPubKey(), s.params)
	if err != nil {
		return nil, walletError(ErrAddressDerivation,
			"unable to derive wallet address", err)
	}

	wif, err := addrmgr.ExportPrivateKey(keyPair.PrivKey, s.params)
	if err != nil {
		return nil, walletError(ErrInternal,
			"unable to serialize wallet key", err)
	}
	plaintext := []byte(wif)
	envelope, err := s.sealer.Encrypt(plaintext)
	zero.Bytes(plaintext)
	if err != nil {
		return nil, walletError(ErrInternal,
			"unable to encrypt wallet key", err)
	}

	w := &Wallet{
		ID:                  uuid.NewString(),
		OwnerKind:           kind,
		OwnerID:             ownerID,
		Address:             addr.EncodeAddress(),
		EncryptedPrivateKey: envelope,
		Network:             s.params.Name,
		CreatedAt:           time.Now().UTC(),
	}
	if err := s.store.InsertWallet(ctx, w); err != nil {
		if errors.Is(err, ErrDuplicateWallet) {
			return nil, walletError(ErrWalletExists,
				"wallet already exists for "+kind.String()+" "+
					ownerID, err)
		}
		return nil, walletError(ErrDatabase, "unable to store wallet", err)
	}

	log.Infof("Created %s wallet %s with address %s", kind, w.ID,
		w.Address)
	s.observer.WalletCreated(kind)

	return w.info(), nil
}

// WalletInfo returns the wallet of an owner.
func (s *Service) WalletInfo(ctx context.Context, kind OwnerKind,
	ownerID string) (*Info, error) {

	w, err := s.wallet(ctx, kind, ownerID)
	if err != nil {
		return nil, err
	}
	return w.info(), nil
}

func (s *Service) wallet(ctx context.Context, kind OwnerKind,
	ownerID string) (*Wallet, error) {

	w, err := s.store.WalletByOwner(ctx, kind, ownerID)
	switch {
	case errors.Is(err, ErrNoWallet):
		return nil, walletError(ErrWalletNotFound,
			"no wallet for "+kind.String()+" "+ownerID, err)
	case err != nil:
		return nil, walletError(ErrDatabase, "wallet lookup failed", err)
	}
	return w, nil
}

// decodeAddress parses an address and checks it belongs to the service
// network.
func (s *Service) decodeAddress(address string) (btcutil.Address, error) {
	addr, err := btcutil.DecodeAddress(strings.TrimSpace(address), s.params)
	if err != nil {
		return nil, walletError(ErrInvalidAddress,
			"invalid address "+address, err)
	}
	if !addr.IsForNet(s.params) {
		return nil, walletError(ErrInvalidAddress,
			"address "+address+" is not for "+s.params.Name, nil)
	}
	return addr, nil
}

// SendPayout pays amount satoshis from the wallet of an organization to the
// wallet of a user and returns the txid reported by the indexer.  Nothing
// is broadcast unless every build, signing and verification step succeeds.
func (s *Service) SendPayout(ctx context.Context, senderOrgID,
	recipientUserID string, amount int64) (string, error) {

	txid, authored, err := s.sendPayout(
		ctx, senderOrgID, recipientUserID, amount,
	)
	if err != nil {
		if code, ok := Code(err); ok {
			s.observer.PayoutFailed(code)
		}
		log.Errorf("Payout of %d sat from organization %s to user %s "+
			"failed: %v", amount, senderOrgID, recipientUserID, err)
		return "", err
	}

	s.observer.PayoutSent(
		btcutil.Amount(amount), authored.Fee, len(authored.Tx.TxIn),
	)

	return txid, nil
}

func (s *Service) sendPayout(ctx context.Context, senderOrgID,
	recipientUserID string, amount int64) (string, *txbuilder.AuthoredTx,
	error) {

	if amount <= 0 {
		return "", nil, walletError(ErrInvalidAmount,
			"amount must be a positive number of satoshis", nil)
	}

	sender, err := s.wallet(ctx, OwnerOrganization, senderOrgID)
	if err != nil {
		return "", nil, err
	}
	recipient, err := s.wallet(ctx, OwnerUser, recipientUserID)
	if err != nil {
		return "", nil, err
	}

	senderAddr, err := s.decodeAddress(sender.Address)
	if err != nil {
		return "", nil, err
	}
	recipientAddr, err := s.decodeAddress(recipient.Address)
	if err != nil {
		return "", nil, err
	}

	// Payouts from one sender are built and broadcast one at a time so
	// that none of them selects an output another one is spending.
	unlock := s.senders.lock(sender.Address)
	defer unlock()

	authored, err := s.builder.Build(ctx, &txbuilder.Request{
		Sender:    senderAddr,
		Recipient: recipientAddr,
		Amount:    btcutil.Amount(amount),
		Exclude:   s.reserved.reserved(sender.Address),
	})
	if err != nil {
		return "", nil, buildError(err)
	}

	outPoints := authored.OutPoints()
	s.reserved.reserve(sender.Address, outPoints)

	rawTx, err := s.signPayout(sender, authored)
	if err != nil {
		s.reserved.release(sender.Address, outPoints)
		return "", nil, err
	}

	txid, err := s.indexer.Broadcast(ctx, rawTx)
	if err != nil {
		// An explicit rejection means the outputs are not spent by
		// this transaction.  Without an answer they may be.
		var bErr *chain.BroadcastError
		if errors.As(err, &bErr) && bErr.StatusCode >= http.StatusBadRequest {
			s.reserved.release(sender.Address, outPoints)
		}
		if errors.Is(err, chain.ErrConflict) {
			return "", nil, walletError(ErrConflict,
				"payout conflicts with a known spend", err)
		}
		return "", nil, walletError(ErrBroadcast, "broadcast failed", err)
	}

	log.Infof("Paid %v from %s to %s in %s (fee %v, %d %s)",
		btcutil.Amount(amount), sender.Address, recipient.Address, txid,
		authored.Fee, len(outPoints),
		pickNoun(len(outPoints), "input", "inputs"))

	return txid, authored, nil
}

// signPayout decrypts the sender's WIF key, runs every signing stage and
// returns the serialized transaction.  A key encoded for another network is
// reported as a decryption failure.
func (s *Service) signPayout(sender *Wallet,
	authored *txbuilder.AuthoredTx) (string, error) {

	plaintext, err := s.sealer.Decrypt(sender.EncryptedPrivateKey)
	if err != nil {
		return "", walletError(ErrDecryption,
			"unable to recover sender key", err)
	}
	privKey, err := addrmgr.ImportPrivateKey(string(plaintext), s.params)
	zero.Bytes(plaintext)
	if err != nil {
		return "", walletError(ErrDecryption,
			"unable to recover sender key", err)
	}
	defer privKey.Zero()

	packet, err := s.signer.NewPacket(authored)
	if err != nil {
		return "", walletError(ErrSigning, "unable to create packet", err)
	}
	if err := s.signer.Sign(packet, privKey); err != nil {
		return "", walletError(ErrSigning, "unable to sign payout", err)
	}
	if err := s.signer.Verify(packet); err != nil {
		return "", walletError(ErrSignatureVerification,
			"signature check failed", err)
	}
	tx, err := s.signer.Finalize(packet)
	if err != nil {
		return "", walletError(ErrFinalization,
			"unable to finalize payout", err)
	}

	var buf bytes.Buffer
	buf.Grow(tx.SerializeSize())
	if err := tx.Serialize(&buf); err != nil {
		return "", walletError(ErrFinalization,
			"unable to serialize payout", err)
	}

	return hex.EncodeToString(buf.Bytes()), nil
}

// buildError maps a transaction builder failure onto an error code.
func buildError(err error) error {
	switch {
	case errors.Is(err, txbuilder.ErrDustAmount):
		return walletError(ErrDustAmount, "amount below dust threshold", err)
	case errors.Is(err, txbuilder.ErrNoSpendableFunds):
		return walletError(ErrNoSpendableFunds, "no spendable funds", err)
	case errors.Is(err, txbuilder.ErrInsufficientFunds):
		return walletError(ErrInsufficientFunds, "insufficient funds", err)
	case errors.Is(err, txbuilder.ErrInsufficientFundsForFee):
		return walletError(ErrInsufficientFundsForFee,
			"insufficient funds for fee", err)
	case errors.Is(err, txbuilder.ErrMissingFeeRate):
		return walletError(ErrFeeRate, "unusable fee rate", err)
	case errors.Is(err, chain.ErrAddressLookup):
		return walletError(ErrAddressLookup, "unable to list outputs", err)
	default:
		return walletError(ErrInternal, "unable to build payout", err)
	}
}

// Balance returns the confirmed balance of an address.
func (s *Service) Balance(ctx context.Context,
	address string) (btcutil.Amount, error) {

	addr, err := s.decodeAddress(address)
	if err != nil {
		return 0, err
	}

	balance, err := s.indexer.Balance(ctx, addr.EncodeAddress())
	if err != nil {
		return 0, walletError(ErrAddressLookup, "balance lookup failed", err)
	}
	return balance, nil
}

// History returns up to limit recent transactions of an address.  A
// non-positive limit selects the configured default.
func (s *Service) History(ctx context.Context, address string,
	limit int) ([]chain.TxSummary, error) {

	addr, err := s.decodeAddress(address)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = s.historyLimit
	}

	history, err := s.indexer.History(ctx, addr.EncodeAddress(), limit)
	if err != nil {
		return nil, walletError(ErrAddressLookup, "history lookup failed", err)
	}
	return history, nil
}

// Snapshot is the balance and recent history of an address.
type Snapshot struct {
	Address string
	Balance btcutil.Amount
	History []chain.TxSummary
}

// WalletSnapshot returns the balance and recent history of an address.  The
// two lookups run concurrently; either failing fails the snapshot.
func (s *Service) WalletSnapshot(ctx context.Context,
	address string) (*Snapshot, error) {

	addr, err := s.decodeAddress(address)
	if err != nil {
		return nil, err
	}
	snapshot := &Snapshot{Address: addr.EncodeAddress()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		balance, err := s.indexer.Balance(gctx, snapshot.Address)
		if err != nil {
			return err
		}
		snapshot.Balance = balance
		return nil
	})
	g.Go(func() error {
		history, err := s.indexer.History(
			gctx, snapshot.Address, s.historyLimit,
		)
		if err != nil {
			return err
		}
		snapshot.History = history
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, walletError(ErrAddressLookup, "snapshot failed", err)
	}

	return snapshot, nil
}

// UserWalletSnapshot returns the snapshot of a user's wallet.
func (s *Service) UserWalletSnapshot(ctx context.Context,
	userID string) (*Snapshot, error) {

	w, err := s.wallet(ctx, OwnerUser, userID)
	if err != nil {
		return nil, err
	}
	return s.WalletSnapshot(ctx, w.Address)
}

// OrgWalletSnapshot returns the snapshot of an organization's wallet.
func (s *Service) OrgWalletSnapshot(ctx context.Context,
	orgID string) (*Snapshot, error) {

	w, err := s.wallet(ctx, OwnerOrganization, orgID)
	if err != nil {
		return nil, err
	}
	return s.WalletSnapshot(ctx, w.Address)
}
