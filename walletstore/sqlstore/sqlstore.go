// Copyright (c) 2025 The satpayout developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package sqlstore stores wallets and payout records in Postgres, through
// the pgx driver, or in SQLite, through the pure Go modernc driver.  The same
// statements are used for both.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/chorebit/satpayout/payout"
	"github.com/chorebit/satpayout/wallet"
	"github.com/jackc/pgx/v5/pgconn"

	// Register the pgx driver under name "pgx".
	_ "github.com/jackc/pgx/v5/stdlib"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const (
	// DriverPostgres and DriverSQLite are the database/sql driver names
	// accepted by Open.
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite"

	// pgUniqueViolation is the Postgres SQLSTATE of a unique constraint
	// violation.
	pgUniqueViolation = "23505"

	// DefaultMaxConns bounds the connection pool.
	DefaultMaxConns = 10
)

// SQLiteDSN returns the data source name of a file backed SQLite database
// opened read/write/create, with foreign keys enforced and a busy timeout so
// that pooled connections wait for each other's write locks.
func SQLiteDSN(path string) string {
	return "file:" + path + "?mode=rwc" +
		"&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

// Store implements wallet.Store and payout.Recorder on a SQL database.
type Store struct {
	db *sql.DB
}

// Compile time checks.
var (
	_ wallet.Store         = (*Store)(nil)
	_ wallet.EnvelopeStore = (*Store)(nil)
	_ payout.Recorder      = (*Store)(nil)
)

// Open connects to the database and migrates its schema.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	switch driver {
	case DriverPostgres, DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(DefaultMaxConns)
	db.SetMaxIdleConns(DefaultMaxConns)
	db.SetConnMaxIdleTime(30 * time.Second)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("unable to reach database: %w", err)
	}

	s, err := New(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// New returns a Store on an open database, migrating its schema.
func New(ctx context.Context, db *sql.DB) (*Store, error) {
	if err := migrate(ctx, db); err != nil {
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// isUniqueViolation reports whether err was caused by a unique or primary
// key constraint.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE,
			sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:

			return true
		}
	}

	return false
}

const insertWallet = `
INSERT INTO wallets (
    id, owner_kind, owner_id, address, encrypted_private_key, network,
    created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7)`

// InsertWallet stores a new wallet.  The unique constraints on owner and
// address surface as wallet.ErrDuplicateWallet.
func (s *Store) InsertWallet(ctx context.Context, w *wallet.Wallet) error {
	_, err := s.db.ExecContext(ctx, insertWallet,
		w.ID, w.OwnerKind.String(), w.OwnerID, w.Address,
		w.EncryptedPrivateKey, w.Network, w.CreatedAt.UnixNano(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s %s", wallet.ErrDuplicateWallet,
				w.OwnerKind, w.OwnerID)
		}
		return err
	}

	return nil
}

const selectWallet = `
SELECT id, owner_kind, owner_id, address, encrypted_private_key, network,
    created_at
FROM wallets`

// WalletByOwner returns the wallet of an owner.
func (s *Store) WalletByOwner(ctx context.Context, kind wallet.OwnerKind,
	ownerID string) (*wallet.Wallet, error) {

	row := s.db.QueryRowContext(ctx,
		selectWallet+` WHERE owner_kind = $1 AND owner_id = $2`,
		kind.String(), ownerID,
	)
	return scanWallet(row)
}

// WalletByAddress returns the wallet with the given address.
func (s *Store) WalletByAddress(ctx context.Context,
	address string) (*wallet.Wallet, error) {

	row := s.db.QueryRowContext(ctx, selectWallet+` WHERE address = $1`,
		address)
	return scanWallet(row)
}

// Wallets returns every stored wallet in id order.
func (s *Store) Wallets(ctx context.Context) ([]*wallet.Wallet, error) {
	rows, err := s.db.QueryContext(ctx, selectWallet+` ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var wallets []*wallet.Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		wallets = append(wallets, w)
	}

	return wallets, rows.Err()
}

const updateEnvelope = `
UPDATE wallets SET encrypted_private_key = $1
WHERE id = $2 AND encrypted_private_key = $3`

// ReplaceEnvelope rewrites the key envelope of a wallet if it still holds
// oldEnvelope.
func (s *Store) ReplaceEnvelope(ctx context.Context, id, oldEnvelope,
	newEnvelope string) error {

	res, err := s.db.ExecContext(ctx, updateEnvelope, newEnvelope, id,
		oldEnvelope)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var exists bool
	err = s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM wallets WHERE id = $1)`, id,
	).Scan(&exists)
	switch {
	case err != nil:
		return err
	case !exists:
		return fmt.Errorf("%w: id %s", wallet.ErrNoWallet, id)
	default:
		return fmt.Errorf("%w: wallet %s", wallet.ErrStaleEnvelope, id)
	}
}

// rowScanner is implemented by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanWallet(row rowScanner) (*wallet.Wallet, error) {
	var (
		w         wallet.Wallet
		kind      string
		createdAt int64
	)
	err := row.Scan(&w.ID, &kind, &w.OwnerID, &w.Address,
		&w.EncryptedPrivateKey, &w.Network, &createdAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, wallet.ErrNoWallet
	case err != nil:
		return nil, err
	}

	w.OwnerKind, err = wallet.ParseOwnerKind(kind)
	if err != nil {
		return nil, err
	}
	w.CreatedAt = time.Unix(0, createdAt).UTC()

	return &w, nil
}

const insertPayout = `
INSERT INTO payouts (
    id, org_id, user_id, amount, bonus_amount, txid, wallet_address,
    on_time, grace_claim, paid_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

const insertPayoutChoreLog = `
INSERT INTO payout_chore_logs (payout_id, chore_log_id, position)
VALUES ($1, $2, $3)`

// RecordPayout stores a payout record and the chore logs it settled in one
// transaction.
func (s *Store) RecordPayout(ctx context.Context, r *payout.Record) error {
	return inTx(ctx, s.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, insertPayout,
			r.ID, r.OrgID, r.UserID, int64(r.Amount),
			int64(r.BonusAmount), r.TxID, r.WalletAddress, r.OnTime,
			r.GraceClaim, r.PaidAt.UnixNano(),
		)
		if err != nil {
			return err
		}

		for i, id := range r.ChoreLogIDs {
			_, err := tx.ExecContext(ctx, insertPayoutChoreLog,
				r.ID, id, i)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

const selectPayoutsByUser = `
SELECT id, org_id, user_id, amount, bonus_amount, txid, wallet_address,
    on_time, grace_claim, paid_at
FROM payouts
WHERE user_id = $1
ORDER BY paid_at, id`

const selectPayoutChoreLogs = `
SELECT chore_log_id FROM payout_chore_logs
WHERE payout_id = $1
ORDER BY position`

// PayoutsByUser returns the payouts of a user, oldest first.
func (s *Store) PayoutsByUser(ctx context.Context,
	userID string) ([]*payout.Record, error) {

	rows, err := s.db.QueryContext(ctx, selectPayoutsByUser, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var records []*payout.Record
	for rows.Next() {
		var (
			r             payout.Record
			amount, bonus int64
			paidAt        int64
		)
		err := rows.Scan(&r.ID, &r.OrgID, &r.UserID, &amount, &bonus,
			&r.TxID, &r.WalletAddress, &r.OnTime, &r.GraceClaim,
			&paidAt)
		if err != nil {
			return nil, err
		}
		r.Amount = btcutil.Amount(amount)
		r.BonusAmount = btcutil.Amount(bonus)
		r.PaidAt = time.Unix(0, paidAt).UTC()

		records = append(records, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, r := range records {
		r.ChoreLogIDs, err = s.choreLogs(ctx, r.ID)
		if err != nil {
			return nil, err
		}
	}

	return records, nil
}

func (s *Store) choreLogs(ctx context.Context,
	payoutID string) ([]string, error) {

	rows, err := s.db.QueryContext(ctx, selectPayoutChoreLogs, payoutID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}
