// Copyright (c) 2025 The satpayout developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

//go:build integration_test

package sqltest

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/chorebit/satpayout/walletstore/sqlstore"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// postgresImage is the server every Postgres test runs against.
const postgresImage = "postgres:16-alpine"

// adminDSN starts one container for the whole test binary and returns the
// DSN of its maintenance database.
var adminDSN = sync.OnceValues(func() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := postgres.Run(ctx, postgresImage,
		postgres.WithDatabase("satpayout"),
		postgres.WithUsername("satpayout"),
		postgres.WithPassword("satpayout"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		return "", fmt.Errorf("start postgres: %w", err)
	}

	return container.ConnectionString(ctx, "sslmode=disable")
})

// newPostgresDSN creates an empty database in the shared container and
// drops it, with any open connections, when t ends.
func newPostgresDSN(t testing.TB) string {
	t.Helper()

	admin, err := adminDSN()
	require.NoError(t, err)

	name := databaseName(t)
	execAdmin(t, admin, "CREATE DATABASE "+name)
	t.Cleanup(func() {
		execAdmin(t, admin, "DROP DATABASE IF EXISTS "+name+
			" WITH (FORCE)")
	})

	u, err := url.Parse(admin)
	require.NoError(t, err)
	u.Path = "/" + name

	return u.String()
}

// execAdmin runs a single statement on the maintenance database.
func execAdmin(t testing.TB, dsn, stmt string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
	defer cancel()

	db, err := sql.Open(sqlstore.DriverPostgres, dsn)
	require.NoError(t, err)
	defer func() {
		_ = db.Close()
	}()

	_, err = db.ExecContext(ctx, stmt)
	require.NoError(t, err, stmt)
}
