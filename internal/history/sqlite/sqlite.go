// Package sqlite stores history events in a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/mcvisor/internal/history/sqlstore"
)

const scheme = "sqlite://"

var dialect = sqlstore.Dialect{
	Placeholder: sqlstore.Question,
	TimeType:    "TIMESTAMP",
	Now:         "(CURRENT_TIMESTAMP)",
}

// Sink writes history events to an SQLite database.
type Sink struct {
	*sqlstore.Store
}

// New opens the database named by dsn, which is "sqlite:///abs/file.db",
// "sqlite://:memory:" or a bare file path. The parent directory of a file
// database is created when missing.
func New(dsn string) (*Sink, error) {
	path, err := parseDSN(dsn)
	if err != nil {
		return nil, err
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one connection keeps :memory: alive and serializes writers
	db.SetMaxOpenConns(1)
	st, err := sqlstore.Open(context.Background(), db, dialect)
	if err != nil {
		return nil, err
	}
	return &Sink{Store: st}, nil
}

func parseDSN(dsn string) (string, error) {
	dsn = strings.TrimSpace(dsn)
	if len(dsn) >= len(scheme) && strings.EqualFold(dsn[:len(scheme)], scheme) {
		dsn = dsn[len(scheme):]
	}
	if dsn == "" {
		return "", errors.New("empty SQLite DSN")
	}
	return dsn, nil
}
