// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/cobalt/lib/sqlitepool"
)

const testSchema = `CREATE TABLE IF NOT EXISTS counts (key TEXT PRIMARY KEY, value INTEGER NOT NULL);`

func openTestPool(t *testing.T) *sqlitepool.Pool {
	t.Helper()
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:   filepath.Join(t.TempDir(), "test.db"),
		Schema: testSchema,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := pool.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return pool
}

func countRows(t *testing.T, pool *sqlitepool.Pool) int {
	t.Helper()
	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	defer pool.Put(conn)

	var count int
	err = sqlitex.Execute(conn, "SELECT COUNT(*) FROM counts", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			count = stmt.ColumnInt(0)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("SELECT: %v", err)
	}
	return count
}

func TestPragmasApplied(t *testing.T) {
	pool := openTestPool(t)
	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	defer pool.Put(conn)

	var journalMode string
	err = sqlitex.Execute(conn, "PRAGMA journal_mode", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			journalMode = stmt.ColumnText(0)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("PRAGMA journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("journal_mode = %q, want wal", journalMode)
	}
}

func TestTransactionCommits(t *testing.T) {
	pool := openTestPool(t)
	err := pool.Transaction(context.Background(), func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "INSERT INTO counts (key, value) VALUES (?, ?)", &sqlitex.ExecOptions{
			Args: []any{"a", 1},
		})
	})
	if err != nil {
		t.Fatalf("Transaction: %v", err)
	}
	if got := countRows(t, pool); got != 1 {
		t.Fatalf("rows = %d, want 1", got)
	}
}

func TestTransactionRollsBack(t *testing.T) {
	pool := openTestPool(t)
	failure := errors.New("abort")
	err := pool.Transaction(context.Background(), func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn, "INSERT INTO counts (key, value) VALUES ('a', 1)", nil); err != nil {
			return err
		}
		return failure
	})
	if !errors.Is(err, failure) {
		t.Fatalf("Transaction = %v, want %v", err, failure)
	}
	if got := countRows(t, pool); got != 0 {
		t.Fatalf("rows = %d after rollback, want 0", got)
	}
}

func TestEmptyPathRejected(t *testing.T) {
	if _, err := sqlitepool.Open(sqlitepool.Config{}); err == nil {
		t.Fatal("expected error for empty Path")
	}
}

func TestTakeHonorsContext(t *testing.T) {
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     filepath.Join(t.TempDir(), "cancel.db"),
		PoolSize: 1,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer pool.Close()

	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	defer pool.Put(conn)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := pool.Take(ctx); err == nil {
		t.Fatal("Take succeeded on an exhausted pool with a cancelled context")
	}
}
