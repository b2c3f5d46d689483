// Copyright (c) 2025 The satpayout developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package kvstore stores wallets and payout records in a walletdb key-value
// database, by default the bbolt backed "bdb" driver.
//
// Wallet rows live in the id bucket, with the owner and address buckets
// mapping to their ids.  Both indexes are written in the same transaction as
// the row, so an owner or address can never map to two wallets.
package kvstore

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/btcsuite/btcwallet/walletdb"
	_ "github.com/btcsuite/btcwallet/walletdb/bdb" // Register the bdb driver.
	"github.com/chorebit/satpayout/internal/cfgutil"
	"github.com/chorebit/satpayout/payout"
	"github.com/chorebit/satpayout/wallet"
)

const (
	// DBName is the file name of the database inside its directory.
	DBName = "payout.db"

	// DefaultDBTimeout is how long opening the database waits for the
	// file lock.
	DefaultDBTimeout = 60 * time.Second

	// dbDriver is the walletdb driver used by Open.
	dbDriver = "bdb"
)

// Store implements wallet.Store and payout.Recorder on a walletdb database.
type Store struct {
	db walletdb.DB
}

// Compile time checks.
var (
	_ wallet.Store         = (*Store)(nil)
	_ wallet.EnvelopeStore = (*Store)(nil)
	_ payout.Recorder      = (*Store)(nil)
)

// Open opens the database in dir, creating the directory and the database
// if needed.
func Open(dir string, timeout time.Duration) (*Store, error) {
	if timeout <= 0 {
		timeout = DefaultDBTimeout
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}

	dbPath := filepath.Join(dir, DBName)
	exists, err := cfgutil.FileExists(dbPath)
	if err != nil {
		return nil, err
	}

	var db walletdb.DB
	if exists {
		db, err = walletdb.Open(dbDriver, dbPath, true, timeout)
	} else {
		db, err = walletdb.Create(dbDriver, dbPath, true, timeout)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to open %s: %w", dbPath, err)
	}

	s, err := New(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// New returns a Store using an already opened database, creating the
// buckets it needs.
func New(db walletdb.DB) (*Store, error) {
	err := walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		top := []struct {
			name   []byte
			nested [][]byte
		}{
			{walletBucketName, [][]byte{
				walletByIDBucketName,
				walletByOwnerBucketName,
				walletByAddressBucketName,
			}},
			{payoutBucketName, [][]byte{
				payoutByIDBucketName,
				payoutByUserBucketName,
			}},
		}

		for _, b := range top {
			bucket, err := tx.CreateTopLevelBucket(b.name)
			if err != nil {
				return err
			}
			for _, name := range b.nested {
				_, err := bucket.CreateBucketIfNotExists(name)
				if err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("unable to create buckets: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// InsertWallet stores a new wallet.  It fails with wallet.ErrDuplicateWallet
// if the owner or the address already has a wallet.
func (s *Store) InsertWallet(_ context.Context, w *wallet.Wallet) error {
	return walletdb.Update(s.db, func(tx walletdb.ReadWriteTx) error {
		ns := tx.ReadWriteBucket(walletBucketName)
		byID := ns.NestedReadWriteBucket(walletByIDBucketName)
		byOwner := ns.NestedReadWriteBucket(walletByOwnerBucketName)
		byAddress := ns.NestedReadWriteBucket(walletByAddressBucketName)

		id := []byte(w.ID)
		owner := ownerKey(w.OwnerKind, w.OwnerID)
		address := []byte(w.Address)

		switch {
		case byOwner.Get(owner) != nil:
			return fmt.Errorf("%w: %s %s", wallet.ErrDuplicateWallet,
				w.OwnerKind, w.OwnerID)
		case byAddress.Get(address) != nil:
			return fmt.Errorf("%w: address %s",
				wallet.ErrDuplicateWallet, w.Address)
		case byID.Get(id) != nil:
			return fmt.Errorf("%w: id %s", wallet.ErrDuplicateWallet,
				w.ID)
		}

		if err := byID.Put(id, serializeWallet(w)); err != nil {
			return err
		}
		if err := byOwner.Put(owner, id); err != nil {
			return err
		}
		return byAddress.Put(address, id)
	})
}

// WalletByOwner returns the wallet of an owner.
func (s *Store) WalletByOwner(_ context.Context, kind wallet.OwnerKind,
	ownerID string) (*wallet.Wallet, error) {

	return s.walletByIndex(walletByOwnerBucketName, ownerKey(kind, ownerID))
}

// WalletByAddress returns the wallet with the given address.
func (s *Store) WalletByAddress(_ context.Context,
	address string) (*wallet.Wallet, error) {

	return s.walletByIndex(walletByAddressBucketName, []byte(address))
}

func (s *Store) walletByIndex(index, key []byte) (*wallet.Wallet, error) {
	var w *wallet.Wallet
	err := walletdb.View(s.db, func(tx walletdb.ReadTx) error {
		ns := tx.ReadBucket(walletBucketName)

		id := ns.NestedReadBucket(index).Get(key)
		if id == nil {
			return wallet.ErrNoWallet
		}

		row := ns.NestedReadBucket(walletByIDBucketName).Get(id)
		if row == nil {
			return fmt.Errorf("%w: index entry without row %s",
				errDeserialize, id)
		}

		var err error
		w, err = deserializeWallet(row)
		return err
	})
	return w, err
}

// Wallets returns every stored wallet in id order.
func (s *Store) Wallets(_ context.Context) ([]*wallet.Wallet, error) {
	var wallets []*wallet.Wallet
	err := walletdb.View(s.db, func(tx walletdb.ReadTx) error {
		byID := tx.ReadBucket(walletBucketName).
			NestedReadBucket(walletByIDBucketName)

		return byID.ForEach(func(_, row []byte) error {
			w, err := deserializeWallet(row)
			if err != nil {
				return err
			}
			wallets = append(wallets, w)
			return nil
		})
	})
	return wallets, err
}

// ReplaceEnvelope rewrites the key envelope of a wallet if it still holds
// oldEnvelope.  The indexes are untouched since owner and address never
// change.
func (s *Store) ReplaceEnvelope(_ context.Context, id, oldEnvelope,
	newEnvelope string) error {

	return walletdb.Update(s.db, func(tx walletdb.ReadWriteTx) error {
		byID := tx.ReadWriteBucket(walletBucketName).
			NestedReadWriteBucket(walletByIDBucketName)

		row := byID.Get([]byte(id))
		if row == nil {
			return fmt.Errorf("%w: id %s", wallet.ErrNoWallet, id)
		}
		w, err := deserializeWallet(row)
		if err != nil {
			return err
		}
		if w.EncryptedPrivateKey != oldEnvelope {
			return fmt.Errorf("%w: wallet %s", wallet.ErrStaleEnvelope,
				id)
		}

		w.EncryptedPrivateKey = newEnvelope
		return byID.Put([]byte(id), serializeWallet(w))
	})
}

// RecordPayout stores a payout record.
func (s *Store) RecordPayout(_ context.Context, r *payout.Record) error {
	return walletdb.Update(s.db, func(tx walletdb.ReadWriteTx) error {
		ns := tx.ReadWriteBucket(payoutBucketName)
		byID := ns.NestedReadWriteBucket(payoutByIDBucketName)
		byUser := ns.NestedReadWriteBucket(payoutByUserBucketName)

		id := []byte(r.ID)
		if byID.Get(id) != nil {
			return fmt.Errorf("payout %s already recorded", r.ID)
		}

		if err := byID.Put(id, serializePayout(r)); err != nil {
			return err
		}
		return byUser.Put(userPayoutKey(r.UserID, r.PaidAt, r.ID), id)
	})
}

// PayoutsByUser returns the payouts of a user, oldest first.
func (s *Store) PayoutsByUser(_ context.Context,
	userID string) ([]*payout.Record, error) {

	var records []*payout.Record
	err := walletdb.View(s.db, func(tx walletdb.ReadTx) error {
		ns := tx.ReadBucket(payoutBucketName)
		byID := ns.NestedReadBucket(payoutByIDBucketName)

		prefix := append([]byte(userID), 0)
		cursor := ns.NestedReadBucket(payoutByUserBucketName).ReadCursor()
		for k, id := cursor.Seek(prefix); k != nil &&
			bytes.HasPrefix(k, prefix); k, id = cursor.Next() {

			row := byID.Get(id)
			if row == nil {
				return fmt.Errorf("%w: index entry without row %s",
					errDeserialize, id)
			}
			r, err := deserializePayout(row)
			if err != nil {
				return err
			}
			records = append(records, r)
		}
		return nil
	})
	return records, err
}
