package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loykin/mcvisor/internal/history"
)

func TestSinkStoresAndReadsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.db")
	sink, err := New("SQLITE://" + path)
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()

	ctx := context.Background()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	events := []history.Event{
		{Type: history.EventStart, OccurredAt: base, Record: history.Record{Server: "alpha", Family: "vanilla", PID: 4242, Status: "running"}},
		{Type: history.EventBackup, OccurredAt: base.Add(time.Minute), Record: history.Record{Server: "alpha", Family: "vanilla", PID: 4242, Status: "ok", Detail: "backups/server/2024-01-01.12.01.00.zip"}},
		{Type: history.EventExit, OccurredAt: base.Add(2 * time.Minute), Record: history.Record{Server: "alpha", Family: "vanilla", PID: 4242, Status: "error"}},
		{Type: history.EventBuild, OccurredAt: base, Record: history.Record{Server: "beta", Family: "forge", Status: "ok"}},
	}
	for _, e := range events {
		require.NoError(t, sink.Send(ctx, e), e.Type)
	}

	n, err := sink.Count(ctx, "alpha")
	require.NoError(t, err)
	require.Equal(t, 3, n)

	got, err := sink.Recent(ctx, "alpha", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, history.EventExit, got[0].Type)
	require.Equal(t, history.EventBackup, got[1].Type)
	require.Equal(t, "backups/server/2024-01-01.12.01.00.zip", got[1].Record.Detail)
	require.True(t, got[1].OccurredAt.Equal(base.Add(time.Minute)))
	require.Empty(t, got[0].Record.Detail)
}

func TestSinkInMemory(t *testing.T) {
	sink, err := New("sqlite://:memory:")
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()

	ctx := context.Background()
	require.NoError(t, sink.Send(ctx, history.Event{Type: history.EventBuild, OccurredAt: time.Now(), Record: history.Record{Server: "b", Status: "0"}}))
	n, err := sink.Count(ctx, "b")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	none, err := sink.Recent(ctx, "missing", 5)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestParseDSN(t *testing.T) {
	cases := map[string]string{
		"sqlite:///var/lib/h.db": "/var/lib/h.db",
		"sqlite://:memory:":      ":memory:",
		" relative/h.db ":        "relative/h.db",
	}
	for in, want := range cases {
		got, err := parseDSN(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
	for _, bad := range []string{"", "  ", "sqlite://"} {
		_, err := parseDSN(bad)
		require.Error(t, err, bad)
	}
}
