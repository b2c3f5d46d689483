// Copyright (c) 2025 The btcsuite developers
// Copyright (c) 2025 The satpayout developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Command merge-sql-schemas applies the payout store's up migrations against
// an in-memory SQLite database and exports a consolidated schema with a
// deterministic order.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chorebit/satpayout/walletstore/sqlstore"
	_ "modernc.org/sqlite" // Register the pure-Go SQLite driver.
)

func main() {
	err := run()
	if err != nil {
		log.Fatal(err)
	}
}

const (
	schemaOutDir   = "walletstore/sqlstore/schemas"
	schemaFilename = "generated_sqlite_schema.sql"

	dirPerm        = 0o750
	filePerm       = 0o600
	defaultTimeout = 3 * time.Minute
)

func run() error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return fmt.Errorf("failed to open in-memory db: %w", err)
	}

	defer func() { _ = db.Close() }()

	// Every statement must run on the single in-memory connection.
	db.SetMaxOpenConns(1)

	migrations, err := sqlstore.Migrations()
	if err != nil {
		return err
	}

	err = applyMigrations(ctx, db, migrations)
	if err != nil {
		return err
	}

	schema, err := extractSchema(ctx, db)
	if err != nil {
		return err
	}

	outPath := filepath.Join(schemaOutDir, schemaFilename)

	err = writeSchema(outPath, schema)
	if err != nil {
		return err
	}

	log.Printf("Final consolidated schema of %d migrations written to %s",
		len(migrations), outPath)

	return nil
}

func applyMigrations(
	ctx context.Context,
	db *sql.DB,
	migrations []sqlstore.Migration,
) error {

	for _, m := range migrations {
		_, err := db.ExecContext(ctx, m.SQL)
		if err != nil {
			return fmt.Errorf(
				"failed to exec migration %s: %w",
				m.Name, err,
			)
		}
	}

	return nil
}

func extractSchema(ctx context.Context, db *sql.DB) (string, error) {
	rows, err := db.QueryContext(ctx, `
        SELECT type, name, sql FROM sqlite_master
        WHERE type IN ('table','view','index') AND sql IS NOT NULL
        ORDER BY
            CASE type
                WHEN 'table' THEN 1
                WHEN 'view' THEN 2
                WHEN 'index' THEN 3
                ELSE 4
            END,
            name`)
	if err != nil {
		return "", fmt.Errorf("failed to query schema: %w", err)
	}

	defer func() { _ = rows.Close() }()

	var b strings.Builder
	for rows.Next() {
		var typ, name, sqlDef string

		err := rows.Scan(&typ, &name, &sqlDef)
		if err != nil {
			return "", fmt.Errorf(
				"failed to scan schema row: %w",
				err,
			)
		}

		b.WriteString(sqlDef)
		b.WriteString(";\n")
	}

	err = rows.Err()
	if err != nil {
		return "", fmt.Errorf("failed to iterate schema rows: %w", err)
	}

	return b.String(), nil
}

func writeSchema(outPath, schema string) error {
	outDir := filepath.Dir(outPath)

	// Ensure the destination directory exists.
	err := os.MkdirAll(outDir, dirPerm)
	if err != nil {
		return fmt.Errorf("failed to create schema dir: %w", err)
	}

	err = os.WriteFile(outPath, []byte(schema), filePerm)
	if err != nil {
		return fmt.Errorf("failed to write schema file: %w", err)
	}

	return nil
}
