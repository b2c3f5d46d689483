// Copyright (c) 2025 The satpayout developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

//go:build integration_test

package sqltest

import (
	"path/filepath"
	"testing"

	"github.com/chorebit/satpayout/walletstore/sqlstore"
)

// newSQLiteDSN returns a database file in the test's temporary directory,
// which the testing package removes when t ends.
func newSQLiteDSN(t testing.TB) string {
	t.Helper()

	return sqlstore.SQLiteDSN(
		filepath.Join(t.TempDir(), databaseName(t)+".sqlite"),
	)
}
