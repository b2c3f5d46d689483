// Copyright (c) 2025 The satpayout developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

//go:build integration_test

package sqltest

import (
	"context"
	"testing"

	"github.com/chorebit/satpayout/wallet"
	"github.com/chorebit/satpayout/walletstore/sqlstore"
	"github.com/stretchr/testify/require"
)

// TestStoresAreIsolated checks that wallets seeded into one store are not
// visible from another store of the same backend.
func TestStoresAreIsolated(t *testing.T) {
	Run(t, func(t *testing.T, b Backend) {
		ctx := context.Background()

		seeded := b.OpenStore(t)
		wallets := SeedWallets(t, seeded, 5)

		got, err := seeded.WalletByOwner(ctx, wallet.OwnerUser, "user-3")
		require.NoError(t, err)
		require.Equal(t, wallets[3], got)

		empty := b.OpenStore(t)
		_, err = empty.WalletByAddress(ctx, wallets[0].Address)
		require.ErrorIs(t, err, wallet.ErrNoWallet)
	})
}

// TestSchemaConstraints checks the constraints the stores rely on directly
// against the migrated schema.
func TestSchemaConstraints(t *testing.T) {
	const (
		insertWallet = `
			INSERT INTO wallets (
				id, owner_kind, owner_id, address,
				encrypted_private_key, network, created_at
			) VALUES ($1, $2, $3, $4, 'aa:bb:cc', 'testnet3', 0)`
		insertPayout = `
			INSERT INTO payouts (
				id, org_id, user_id, amount, bonus_amount, txid,
				wallet_address, on_time, grace_claim, paid_at
			) VALUES ($1, 'org-1', 'user-1', 1000, 0, 'tx', 'tb1q',
				TRUE, FALSE, 0)`
		insertChoreLog = `
			INSERT INTO payout_chore_logs (payout_id, chore_log_id,
				position) VALUES ($1, $2, $3)`
	)

	Run(t, func(t *testing.T, b Backend) {
		db := b.OpenDB(t)
		_, err := sqlstore.New(context.Background(), db)
		require.NoError(t, err)

		_, err = db.Exec(insertWallet, "w1", "user", "user-1", "tb1qa")
		require.NoError(t, err)

		testCases := []struct {
			name  string
			query string
			args  []any
			ok    bool
		}{
			{
				name:  "same owner",
				query: insertWallet,
				args:  []any{"w2", "user", "user-1", "tb1qb"},
			},
			{
				name:  "same address",
				query: insertWallet,
				args:  []any{"w3", "organization", "org-1", "tb1qa"},
			},
			{
				name:  "same id for the other kind",
				query: insertWallet,
				args:  []any{"w4", "organization", "user-1", "tb1qd"},
				ok:    true,
			},
			{
				name:  "payout",
				query: insertPayout,
				args:  []any{"p1"},
				ok:    true,
			},
			{
				name:  "chore log",
				query: insertChoreLog,
				args:  []any{"p1", "c1", 0},
				ok:    true,
			},
			{
				name:  "repeated chore log",
				query: insertChoreLog,
				args:  []any{"p1", "c1", 1},
			},
			{
				name:  "chore log of unknown payout",
				query: insertChoreLog,
				args:  []any{"p9", "c2", 0},
			},
		}
		for _, tc := range testCases {
			_, err := db.Exec(tc.query, tc.args...)
			if tc.ok {
				require.NoError(t, err, tc.name)
			} else {
				require.Error(t, err, tc.name)
			}
		}
	})
}
