// Copyright (c) 2025 The satpayout developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// OwnerKind identifies what kind of party owns a wallet.
type OwnerKind uint8

// Every wallet is owned by exactly one user or one organization.
const (
	OwnerUser OwnerKind = iota + 1
	OwnerOrganization
)

// String returns the name the kind is persisted under.
func (k OwnerKind) String() string {
	switch k {
	case OwnerUser:
		return "user"
	case OwnerOrganization:
		return "organization"
	default:
		return fmt.Sprintf("OwnerKind(%d)", uint8(k))
	}
}

// Valid returns whether k is a known owner kind.
func (k OwnerKind) Valid() bool {
	return k == OwnerUser || k == OwnerOrganization
}

// ParseOwnerKind is the inverse of OwnerKind.String.  "org" is accepted as a
// shorthand.
func ParseOwnerKind(s string) (OwnerKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "user":
		return OwnerUser, nil
	case "organization", "org":
		return OwnerOrganization, nil
	}
	return 0, fmt.Errorf("unknown owner kind %q", s)
}

// Wallet is the persisted record of a custodial wallet.  It is written once
// when the wallet is created.  Only the envelope of its key is ever rewritten,
// when RotateEnvelopes reseals it under a new encryption key.
type Wallet struct {
	ID        string
	OwnerKind OwnerKind
	OwnerID   string

	// Address is the bech32 P2WPKH address of the wallet key.
	Address string

	// EncryptedPrivateKey is the keystore envelope of the compressed WIF
	// encoding of the private key.  The plaintext key is never stored.
	EncryptedPrivateKey string

	// Network is the chaincfg name of the network the address belongs to.
	Network string

	CreatedAt time.Time
}

// Info is the public view of a wallet returned by the service.  It never
// carries key material.
type Info struct {
	ID      string `json:"id"`
	Address string `json:"address"`
	Network string `json:"network"`
}

func (w *Wallet) info() *Info {
	return &Info{ID: w.ID, Address: w.Address, Network: w.Network}
}

var (
	// ErrNoWallet is returned by a Store when no wallet matches a lookup.
	ErrNoWallet = errors.New("no such wallet")

	// ErrDuplicateWallet is returned by a Store when inserting a wallet for
	// an owner that already has one, or with an address already stored.
	ErrDuplicateWallet = errors.New("duplicate wallet")
)

// Store persists wallet records.  Implementations must enforce that each
// owner has at most one wallet.
type Store interface {
	// InsertWallet stores a new wallet.  It returns ErrDuplicateWallet if
	// the owner already has a wallet.
	InsertWallet(ctx context.Context, w *Wallet) error

	// WalletByOwner returns the wallet of an owner, or ErrNoWallet.
	WalletByOwner(ctx context.Context, kind OwnerKind,
		ownerID string) (*Wallet, error)

	// WalletByAddress returns the wallet with the given address, or
	// ErrNoWallet.
	WalletByAddress(ctx context.Context, address string) (*Wallet, error)
}
