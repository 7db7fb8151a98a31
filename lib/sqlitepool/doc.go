// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool opens the on-device SQLite database that backs
// the persistent aggregation store.
//
// It wraps zombiezen.com/go/sqlite's sqlitex.Pool and applies the same
// pragmas to every connection:
//
//   - journal_mode=WAL, so the recorder's writes never block the
//     periodic job's reads
//   - synchronous=NORMAL: committed counts survive a process crash
//   - busy_timeout=5000
//   - foreign_keys=OFF
//   - temp_store=MEMORY
//
// Callers either [Pool.Take] and [Pool.Put] a connection themselves or
// run a function inside an immediate transaction with
// [Pool.Transaction]. Connections are not safe for concurrent use.
//
//	pool, err := sqlitepool.Open(sqlitepool.Config{
//	    Path:   "/var/lib/cobalt/aggregates.db",
//	    Schema: schema,
//	})
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
//
//	err = pool.Transaction(ctx, func(conn *sqlite.Conn) error {
//	    return sqlitex.Execute(conn, "DELETE FROM aggregates WHERE day < ?", &sqlitex.ExecOptions{
//	        Args: []any{oldestDay},
//	    })
//	})
//
// There is no query builder: stores write SQL and use sqlitex.Execute
// for cached statements.
package sqlitepool
