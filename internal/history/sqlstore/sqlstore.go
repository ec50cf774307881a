// Package sqlstore keeps server_history rows in a database/sql database.
// The sqlite and postgres sinks differ only in their Dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/loykin/mcvisor/internal/history"
)

// Table is the name every SQL sink writes to.
const Table = "server_history"

var columns = []string{"timestamp", "event", "server", "family", "pid", "status", "detail"}

// Dialect describes what differs between SQL engines.
type Dialect struct {
	// Placeholder returns the bind marker for the n-th argument, starting at 1.
	Placeholder func(n int) string

	// TimeType is the column type of timestamp.
	TimeType string

	// Now is the SQL default for timestamp.
	Now string
}

// Question is the "?" style used by SQLite and MySQL.
func Question(int) string { return "?" }

// Dollar is the "$n" style used by PostgreSQL.
func Dollar(n int) string { return fmt.Sprintf("$%d", n) }

// Store implements history.Sink and history.Querier on a *sql.DB.
type Store struct {
	db     *sql.DB
	d      Dialect
	insert string
	recent string
	count  string
}

// Open wraps db and creates the table and its index. db is closed when the
// schema cannot be created.
func Open(ctx context.Context, db *sql.DB, d Dialect) (*Store, error) {
	s := &Store{db: db, d: d}
	marks := make([]string, len(columns))
	for i := range marks {
		marks[i] = d.Placeholder(i + 1)
	}
	s.insert = fmt.Sprintf("INSERT INTO %s(%s) VALUES(%s)", Table, strings.Join(columns, ", "), strings.Join(marks, ", "))
	s.recent = fmt.Sprintf("SELECT %s FROM %s WHERE server = %s ORDER BY timestamp DESC LIMIT %s",
		strings.Join(columns, ", "), Table, d.Placeholder(1), d.Placeholder(2))
	s.count = fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE server = %s", Table, d.Placeholder(1))

	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create %s: %w", Table, err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s(
			timestamp %s NOT NULL DEFAULT %s,
			event TEXT NOT NULL,
			server TEXT NOT NULL,
			family TEXT NOT NULL,
			pid INTEGER NOT NULL,
			status TEXT NOT NULL,
			detail TEXT
		)`, Table, s.d.TimeType, s.d.Now),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%[1]s_server_ts ON %[1]s(server, timestamp)", Table),
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

// Send inserts one row. An empty detail is stored as NULL.
func (s *Store) Send(ctx context.Context, e history.Event) error {
	var detail sql.NullString
	if e.Record.Detail != "" {
		detail = sql.NullString{String: e.Record.Detail, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, s.insert,
		e.OccurredAt.UTC(), string(e.Type), e.Record.Server, e.Record.Family, e.Record.PID, e.Record.Status, detail)
	return err
}

// Recent returns up to limit events of server, newest first.
func (s *Store) Recent(ctx context.Context, server string, limit int) ([]history.Event, error) {
	rows, err := s.db.QueryContext(ctx, s.recent, server, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []history.Event
	for rows.Next() {
		var (
			e      history.Event
			typ    string
			ts     time.Time
			detail sql.NullString
		)
		if err := rows.Scan(&ts, &typ, &e.Record.Server, &e.Record.Family, &e.Record.PID, &e.Record.Status, &detail); err != nil {
			return nil, err
		}
		e.Type = history.EventType(typ)
		e.OccurredAt = ts.UTC()
		e.Record.Detail = detail.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// Count returns how many events were stored for server.
func (s *Store) Count(ctx context.Context, server string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.count, server).Scan(&n)
	return n, err
}

// DB exposes the handle for tests and ad-hoc queries.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
