// Copyright (c) 2025 The satpayout developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

//go:build integration_test

// Package sqltest provisions throwaway Postgres and SQLite databases for the
// wallet store tests.  Every database is private to one test and removed when
// that test ends.
package sqltest

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chorebit/satpayout/wallet"
	"github.com/chorebit/satpayout/walletstore/sqlstore"
	"github.com/stretchr/testify/require"
)

// openTimeout bounds opening and migrating a test database.
const openTimeout = time.Minute

// Backend provisions databases of one kind.
type Backend struct {
	Name   string
	Driver string

	// NewDSN returns the data source name of a fresh empty database that
	// is dropped when t ends.
	NewDSN func(t testing.TB) string
}

// Backends lists every database the stores support.
var Backends = []Backend{
	{
		Name:   "Postgres",
		Driver: sqlstore.DriverPostgres,
		NewDSN: newPostgresDSN,
	},
	{
		Name:   "SQLite",
		Driver: sqlstore.DriverSQLite,
		NewDSN: newSQLiteDSN,
	},
}

// Run runs f once per backend, in parallel subtests.
func Run(t *testing.T, f func(t *testing.T, b Backend)) {
	t.Helper()

	for _, b := range Backends {
		t.Run(b.Name, func(t *testing.T) {
			t.Parallel()
			f(t, b)
		})
	}
}

// OpenDB returns a raw connection to a fresh, unmigrated database.
func (b Backend) OpenDB(t testing.TB) *sql.DB {
	t.Helper()

	db, err := sql.Open(b.Driver, b.NewDSN(t))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
	defer cancel()
	require.NoError(t, db.PingContext(ctx))

	return db
}

// OpenStore returns a migrated store on a fresh database.  It goes through
// sqlstore.Open so the daemon's pool settings are exercised too.
func (b Backend) OpenStore(t testing.TB) *sqlstore.Store {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
	defer cancel()

	s, err := sqlstore.Open(ctx, b.Driver, b.NewDSN(t))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
	})

	return s
}

// SeedWallets stores n user wallets named user-0 to user-(n-1) and returns
// them in that order.
func SeedWallets(t testing.TB, s wallet.Store, n int) []*wallet.Wallet {
	t.Helper()

	created := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	wallets := make([]*wallet.Wallet, 0, n)
	for i := 0; i < n; i++ {
		w := &wallet.Wallet{
			ID:                  fmt.Sprintf("wallet-%d", i),
			OwnerKind:           wallet.OwnerUser,
			OwnerID:             fmt.Sprintf("user-%d", i),
			Address:             fmt.Sprintf("tb1qseed%d", i),
			EncryptedPrivateKey: "00:11:22",
			Network:             "testnet3",
			CreatedAt:           created.Add(time.Duration(i) * time.Hour),
		}
		require.NoError(t, s.InsertWallet(context.Background(), w))
		wallets = append(wallets, w)
	}

	return wallets
}

// databaseSeq tells apart databases opened by the same test.
var databaseSeq atomic.Uint32

// databaseName derives a short name from the test name, so that long subtest
// names stay within identifier limits.
func databaseName(t testing.TB) string {
	t.Helper()

	h := fnv.New32a()
	_, _ = h.Write([]byte(t.Name()))

	return fmt.Sprintf("satpayout_%08x_%d", h.Sum32(), databaseSeq.Add(1))
}
