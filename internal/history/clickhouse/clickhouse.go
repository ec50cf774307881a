// Package clickhouse stores history events in a ClickHouse MergeTree table
// over the native protocol.
package clickhouse

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/loykin/mcvisor/internal/history"
)

// Options selects the server and table. Zero fields take the ClickHouse
// defaults: localhost:9000, database and user "default", table
// server_history.
type Options struct {
	Addr     string
	Database string
	Username string
	Password string
	Table    string
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ParseDSN reads clickhouse://[user[:pass]@]host:port[/database][?table=name].
func ParseDSN(dsn string) (Options, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return Options{}, err
	}
	o := Options{Addr: u.Host, Table: u.Query().Get("table")}
	if len(u.Path) > 1 {
		o.Database = u.Path[1:]
	}
	if u.User != nil {
		o.Username = u.User.Username()
		o.Password, _ = u.User.Password()
	}
	return o.withDefaults(), nil
}

func (o Options) withDefaults() Options {
	if o.Addr == "" {
		o.Addr = "localhost:9000"
	}
	if o.Database == "" {
		o.Database = "default"
	}
	if o.Username == "" {
		o.Username = "default"
	}
	if o.Table == "" {
		o.Table = "server_history"
	}
	return o
}

// Sink writes events with the official ClickHouse Go client.
type Sink struct {
	conn  driver.Conn
	table string
}

// New connects, pings, and creates the table when it does not exist.
func New(o Options) (*Sink, error) {
	o = o.withDefaults()
	if !identRe.MatchString(o.Table) {
		return nil, fmt.Errorf("invalid ClickHouse table name %q", o.Table)
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr:        []string{o.Addr},
		Auth:        clickhouse.Auth{Database: o.Database, Username: o.Username, Password: o.Password},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("open clickhouse %s: %w", o.Addr, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s := &Sink{conn: conn, table: o.Table}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping clickhouse %s: %w", o.Addr, err)
	}
	if err := conn.Exec(ctx, s.ddl()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("create %s: %w", o.Table, err)
	}
	return s, nil
}

func (s *Sink) ddl() string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		occurred_at DateTime64(6, 'UTC'),
		type LowCardinality(String),
		server LowCardinality(String),
		family LowCardinality(String),
		pid Int64,
		status LowCardinality(String),
		detail String
	) ENGINE = MergeTree
	PARTITION BY toYYYYMM(occurred_at)
	ORDER BY (server, occurred_at)`, s.table)
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	q := fmt.Sprintf("INSERT INTO %s (occurred_at, type, server, family, pid, status, detail) VALUES (?, ?, ?, ?, ?, ?, ?)", s.table)
	r := e.Record
	if err := s.conn.Exec(ctx, q, e.OccurredAt.UTC(), string(e.Type), r.Server, r.Family, int64(r.PID), r.Status, r.Detail); err != nil {
		return fmt.Errorf("clickhouse insert: %w", err)
	}
	return nil
}

// Recent returns up to limit events of server, newest first.
func (s *Sink) Recent(ctx context.Context, server string, limit int) ([]history.Event, error) {
	q := fmt.Sprintf("SELECT occurred_at, type, server, family, pid, status, detail FROM %s WHERE server = ? ORDER BY occurred_at DESC LIMIT %d", s.table, limit)
	rows, err := s.conn.Query(ctx, q, server)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []history.Event
	for rows.Next() {
		var (
			e   history.Event
			typ string
			pid int64
		)
		if err := rows.Scan(&e.OccurredAt, &typ, &e.Record.Server, &e.Record.Family, &pid, &e.Record.Status, &e.Record.Detail); err != nil {
			return nil, err
		}
		e.Type = history.EventType(typ)
		e.Record.PID = int(pid)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Sink) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}
