// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package aggregate

import (
	"context"
	"fmt"
	"strings"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/cobalt/lib/eventvector"
	"github.com/bureau-foundation/cobalt/lib/sqlitepool"
)

// Schema is applied to every connection of a SQLiteStore's pool.
//
// Event vectors are stored as their packed big-endian bytes, so
// ORDER BY event_vector matches EventVector.Compare.
const Schema = `
CREATE TABLE IF NOT EXISTS aggregates (
	customer_id  INTEGER NOT NULL,
	project_id   INTEGER NOT NULL,
	metric_id    INTEGER NOT NULL,
	report_id    INTEGER NOT NULL,
	day          INTEGER NOT NULL,
	event_vector BLOB    NOT NULL,
	string_index INTEGER NOT NULL,
	count        INTEGER NOT NULL,
	PRIMARY KEY (customer_id, project_id, metric_id, report_id, day, event_vector, string_index)
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS string_hashes (
	customer_id INTEGER NOT NULL,
	project_id  INTEGER NOT NULL,
	metric_id   INTEGER NOT NULL,
	report_id   INTEGER NOT NULL,
	day         INTEGER NOT NULL,
	list_index  INTEGER NOT NULL,
	hash        BLOB    NOT NULL,
	PRIMARY KEY (customer_id, project_id, metric_id, report_id, day, list_index),
	UNIQUE (customer_id, project_id, metric_id, report_id, day, hash)
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS reports (
	customer_id   INTEGER NOT NULL,
	project_id    INTEGER NOT NULL,
	metric_id     INTEGER NOT NULL,
	report_id     INTEGER NOT NULL,
	last_sent_day INTEGER NOT NULL,
	PRIMARY KEY (customer_id, project_id, metric_id, report_id)
) WITHOUT ROWID;
`

const reportColumns = "customer_id = ? AND project_id = ? AND metric_id = ? AND report_id = ?"

// SQLiteStore is a Store persisted in SQLite.
type SQLiteStore struct {
	pool *sqlitepool.Pool
}

// NewSQLiteStore wraps a pool opened with Schema.
func NewSQLiteStore(pool *sqlitepool.Pool) *SQLiteStore {
	return &SQLiteStore{pool: pool}
}

// OpenSQLiteStore opens the database at path and returns a store over
// it along with the pool, which the caller must close.
func OpenSQLiteStore(cfg sqlitepool.Config) (*SQLiteStore, *sqlitepool.Pool, error) {
	cfg.Schema = Schema
	pool, err := sqlitepool.Open(cfg)
	if err != nil {
		return nil, nil, err
	}
	return NewSQLiteStore(pool), pool, nil
}

func reportArgs(report ReportKey, extra ...any) []any {
	return append([]any{report.CustomerID, report.ProjectID, report.MetricID, report.ReportID}, extra...)
}

// eventVectorState reports whether ev has any count on the report-day
// and how many distinct event vectors the report-day has.
func eventVectorState(conn *sqlite.Conn, report ReportKey, day uint32, ev eventvector.EventVector) (found bool, distinct int, err error) {
	err = sqlitex.Execute(conn,
		`SELECT COUNT(DISTINCT event_vector), COALESCE(MAX(event_vector = ?), 0)
		 FROM aggregates WHERE `+reportColumns+` AND day = ?`,
		&sqlitex.ExecOptions{
			Args: append([]any{ev.Bytes()}, reportArgs(report, day)...),
			ResultFunc: func(stmt *sqlite.Stmt) error {
				distinct = stmt.ColumnInt(0)
				found = stmt.ColumnInt(1) != 0
				return nil
			},
		})
	if err != nil {
		return false, 0, fmt.Errorf("aggregate: counting event vectors: %w", err)
	}
	return found, distinct, nil
}

func upsertCount(conn *sqlite.Conn, key CountKey, delta int64) error {
	err := sqlitex.Execute(conn,
		`INSERT INTO aggregates (customer_id, project_id, metric_id, report_id, day, event_vector, string_index, count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (customer_id, project_id, metric_id, report_id, day, event_vector, string_index)
		 DO UPDATE SET count = count + excluded.count`,
		&sqlitex.ExecOptions{
			Args: reportArgs(key.Report, key.Day, key.EventVector.Bytes(), key.StringIndex, delta),
		})
	if err != nil {
		return fmt.Errorf("aggregate: upserting count: %w", err)
	}
	return nil
}

func noteReport(conn *sqlite.Conn, report ReportKey, day uint32) error {
	err := sqlitex.Execute(conn,
		`INSERT INTO reports (customer_id, project_id, metric_id, report_id, last_sent_day)
		 VALUES (?, ?, ?, ?, ?) ON CONFLICT DO NOTHING`,
		&sqlitex.ExecOptions{Args: reportArgs(report, initialLastSent(day))})
	if err != nil {
		return fmt.Errorf("aggregate: recording report: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AggregateCount(ctx context.Context, report ReportKey, day uint32, ev eventvector.EventVector, eventVectorBufferMax uint32, delta int64) (Outcome, error) {
	outcome := Aggregated
	err := s.pool.Transaction(ctx, func(conn *sqlite.Conn) error {
		found, distinct, err := eventVectorState(conn, report, day, ev)
		if err != nil {
			return err
		}
		if !found && eventVectorBufferMax > 0 && distinct >= int(eventVectorBufferMax) {
			outcome = EventVectorBufferFull
			return nil
		}
		key := CountKey{Report: report, Day: day, EventVector: ev, StringIndex: OccurrenceIndex}
		if err := upsertCount(conn, key, delta); err != nil {
			return err
		}
		return noteReport(conn, report, day)
	})
	if err != nil {
		return Aggregated, err
	}
	return outcome, nil
}

func (s *SQLiteStore) AggregateString(ctx context.Context, report ReportKey, day uint32, ev eventvector.EventVector, eventVectorBufferMax, stringBufferMax uint32, hash []byte) (Outcome, error) {
	outcome := Aggregated
	err := s.pool.Transaction(ctx, func(conn *sqlite.Conn) error {
		index, listLength := -1, 0
		err := sqlitex.Execute(conn,
			`SELECT COUNT(*), COALESCE(MAX(CASE WHEN hash = ? THEN list_index END), -1)
			 FROM string_hashes WHERE `+reportColumns+` AND day = ?`,
			&sqlitex.ExecOptions{
				Args: append([]any{hash}, reportArgs(report, day)...),
				ResultFunc: func(stmt *sqlite.Stmt) error {
					listLength = stmt.ColumnInt(0)
					index = stmt.ColumnInt(1)
					return nil
				},
			})
		if err != nil {
			return fmt.Errorf("aggregate: reading string list: %w", err)
		}
		isNew := index < 0
		if isNew {
			if stringBufferMax > 0 && listLength >= int(stringBufferMax) {
				outcome = StringBufferFull
				return nil
			}
			index = listLength
		}

		found, distinct, err := eventVectorState(conn, report, day, ev)
		if err != nil {
			return err
		}
		if !found && eventVectorBufferMax > 0 && distinct >= int(eventVectorBufferMax) {
			outcome = EventVectorBufferFull
			return nil
		}

		if isNew {
			err := sqlitex.Execute(conn,
				`INSERT INTO string_hashes (customer_id, project_id, metric_id, report_id, day, list_index, hash)
				 VALUES (?, ?, ?, ?, ?, ?, ?)`,
				&sqlitex.ExecOptions{Args: reportArgs(report, day, index, hash)})
			if err != nil {
				return fmt.Errorf("aggregate: inserting string hash: %w", err)
			}
		}
		key := CountKey{Report: report, Day: day, EventVector: ev, StringIndex: int32(index)}
		if err := upsertCount(conn, key, 1); err != nil {
			return err
		}
		return noteReport(conn, report, day)
	})
	if err != nil {
		return Aggregated, err
	}
	return outcome, nil
}

func scanReport(stmt *sqlite.Stmt) ReportKey {
	return ReportKey{
		CustomerID: uint32(stmt.ColumnInt64(0)),
		ProjectID:  uint32(stmt.ColumnInt64(1)),
		MetricID:   uint32(stmt.ColumnInt64(2)),
		ReportID:   uint32(stmt.ColumnInt64(3)),
	}
}

func columnBytes(stmt *sqlite.Stmt, column int) []byte {
	data := make([]byte, stmt.ColumnLen(column))
	stmt.ColumnBytes(column, data)
	return data
}

func (s *SQLiteStore) LastSentDays(ctx context.Context) (map[ReportKey]uint32, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	lastSent := make(map[ReportKey]uint32)
	err = sqlitex.Execute(conn,
		`SELECT customer_id, project_id, metric_id, report_id, last_sent_day FROM reports`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				lastSent[scanReport(stmt)] = uint32(stmt.ColumnInt64(4))
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("aggregate: reading reports: %w", err)
	}
	return lastSent, nil
}

func (s *SQLiteStore) ReadPending(ctx context.Context, throughDay uint32) (Pending, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return Pending{}, err
	}
	defer s.pool.Put(conn)

	pending := Pending{Strings: make(map[ReportDay]StringList)}
	err = sqlitex.Execute(conn,
		`SELECT customer_id, project_id, metric_id, report_id, day, event_vector, string_index, count
		 FROM aggregates WHERE day <= ?
		 ORDER BY customer_id, project_id, metric_id, report_id, day, event_vector, string_index`,
		&sqlitex.ExecOptions{
			Args: []any{throughDay},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				ev, err := eventvector.FromBytes(columnBytes(stmt, 5))
				if err != nil {
					return err
				}
				pending.Counts = append(pending.Counts, Count{
					Key: CountKey{
						Report:      scanReport(stmt),
						Day:         uint32(stmt.ColumnInt64(4)),
						EventVector: ev,
						StringIndex: int32(stmt.ColumnInt64(6)),
					},
					Value: stmt.ColumnInt64(7),
				})
				return nil
			},
		})
	if err != nil {
		return Pending{}, fmt.Errorf("aggregate: reading counts: %w", err)
	}

	err = sqlitex.Execute(conn,
		`SELECT customer_id, project_id, metric_id, report_id, day, hash
		 FROM string_hashes WHERE day <= ?
		 ORDER BY customer_id, project_id, metric_id, report_id, day, list_index`,
		&sqlitex.ExecOptions{
			Args: []any{throughDay},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				reportDay := ReportDay{Report: scanReport(stmt), Day: uint32(stmt.ColumnInt64(4))}
				pending.Strings[reportDay] = append(pending.Strings[reportDay], columnBytes(stmt, 5))
				return nil
			},
		})
	if err != nil {
		return Pending{}, fmt.Errorf("aggregate: reading string lists: %w", err)
	}
	return pending, nil
}

func (s *SQLiteStore) Acknowledge(ctx context.Context, ack Ack) error {
	return s.pool.Transaction(ctx, func(conn *sqlite.Conn) error {
		const keyColumns = reportColumns + " AND day = ? AND event_vector = ? AND string_index = ?"
		touched := make(map[ReportDay]struct{})
		for _, count := range ack.Counts {
			key := count.Key
			args := reportArgs(key.Report, key.Day, key.EventVector.Bytes(), key.StringIndex)
			err := sqlitex.Execute(conn, `UPDATE aggregates SET count = count - ? WHERE `+keyColumns,
				&sqlitex.ExecOptions{Args: append([]any{count.Value}, args...)})
			if err != nil {
				return fmt.Errorf("aggregate: acknowledging count: %w", err)
			}
			err = sqlitex.Execute(conn, `DELETE FROM aggregates WHERE `+keyColumns+` AND count <= 0`,
				&sqlitex.ExecOptions{Args: args})
			if err != nil {
				return fmt.Errorf("aggregate: deleting count: %w", err)
			}
			touched[ReportDay{Report: key.Report, Day: key.Day}] = struct{}{}
		}

		for reportDay := range touched {
			err := sqlitex.Execute(conn,
				`DELETE FROM string_hashes WHERE `+reportColumns+` AND day = ?
				 AND NOT EXISTS (SELECT 1 FROM aggregates WHERE `+reportColumns+` AND day = ?)`,
				&sqlitex.ExecOptions{Args: append(
					reportArgs(reportDay.Report, reportDay.Day),
					reportArgs(reportDay.Report, reportDay.Day)...)})
			if err != nil {
				return fmt.Errorf("aggregate: deleting string list: %w", err)
			}
		}

		for report, day := range ack.SentThrough {
			err := sqlitex.Execute(conn,
				`INSERT INTO reports (customer_id, project_id, metric_id, report_id, last_sent_day)
				 VALUES (?, ?, ?, ?, ?)
				 ON CONFLICT (customer_id, project_id, metric_id, report_id)
				 DO UPDATE SET last_sent_day = excluded.last_sent_day`,
				&sqlitex.ExecOptions{Args: reportArgs(report, day)})
			if err != nil {
				return fmt.Errorf("aggregate: updating last sent day: %w", err)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) Cleanup(ctx context.Context, relevant []ReportKey, oldestDay uint32) error {
	return s.pool.Transaction(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.ExecuteScript(conn, `
			CREATE TEMP TABLE IF NOT EXISTS relevant_reports (
				customer_id INTEGER, project_id INTEGER, metric_id INTEGER, report_id INTEGER
			);
			DELETE FROM relevant_reports;`, nil)
		if err != nil {
			return fmt.Errorf("aggregate: preparing cleanup: %w", err)
		}
		for _, report := range relevant {
			err := sqlitex.Execute(conn, `INSERT INTO relevant_reports VALUES (?, ?, ?, ?)`,
				&sqlitex.ExecOptions{Args: reportArgs(report)})
			if err != nil {
				return fmt.Errorf("aggregate: preparing cleanup: %w", err)
			}
		}

		const irrelevant = `NOT EXISTS (SELECT 1 FROM relevant_reports r
			WHERE r.customer_id = %[1]s.customer_id AND r.project_id = %[1]s.project_id
			AND r.metric_id = %[1]s.metric_id AND r.report_id = %[1]s.report_id)`
		for _, table := range []string{"aggregates", "string_hashes"} {
			query := fmt.Sprintf(`DELETE FROM %[1]s WHERE day < ? OR `+irrelevant, table)
			if err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{Args: []any{oldestDay}}); err != nil {
				return fmt.Errorf("aggregate: cleaning %s: %w", table, err)
			}
		}
		query := fmt.Sprintf(`DELETE FROM reports WHERE `+irrelevant, "reports")
		if err := sqlitex.Execute(conn, strings.TrimSpace(query), nil); err != nil {
			return fmt.Errorf("aggregate: cleaning reports: %w", err)
		}
		return nil
	})
}
