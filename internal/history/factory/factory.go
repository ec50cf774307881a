// Package factory opens history sinks from the DSNs in [history].
package factory

import (
	"fmt"
	"strings"

	"github.com/loykin/mcvisor/internal/history"
	"github.com/loykin/mcvisor/internal/history/clickhouse"
	"github.com/loykin/mcvisor/internal/history/opensearch"
	"github.com/loykin/mcvisor/internal/history/postgres"
	"github.com/loykin/mcvisor/internal/history/sqlite"
)

type opener func(dsn string) (history.Sink, error)

var openers = map[string]opener{
	"sqlite":     func(dsn string) (history.Sink, error) { return sqlite.New(dsn) },
	"postgres":   func(dsn string) (history.Sink, error) { return postgres.New(dsn) },
	"postgresql": func(dsn string) (history.Sink, error) { return postgres.New(dsn) },
	"opensearch": func(dsn string) (history.Sink, error) { return opensearch.New(dsn) },
	"clickhouse": func(dsn string) (history.Sink, error) {
		o, err := clickhouse.ParseDSN(dsn)
		if err != nil {
			return nil, err
		}
		return clickhouse.New(o)
	},
}

// NewSinkFromDSN picks the sink by URL scheme: sqlite://, postgres://,
// postgresql://, clickhouse:// or opensearch://. A DSN without a scheme is
// an SQLite file path.
func NewSinkFromDSN(dsn string) (history.Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("empty history DSN")
	}
	scheme, _, found := strings.Cut(dsn, "://")
	if !found {
		return sqlite.New(dsn)
	}
	open, ok := openers[strings.ToLower(scheme)]
	if !ok {
		return nil, fmt.Errorf("unsupported history DSN scheme %q", scheme)
	}
	return open(dsn)
}

// NewFanout opens every non-blank DSN. Sinks already opened are closed when
// a later one fails.
func NewFanout(dsns []string) (*history.Fanout, error) {
	f := &history.Fanout{}
	for i, d := range dsns {
		if strings.TrimSpace(d) == "" {
			continue
		}
		s, err := NewSinkFromDSN(d)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("history.dsns[%d]: %w", i, err)
		}
		f.Sinks = append(f.Sinks, s)
	}
	return f, nil
}
