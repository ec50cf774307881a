package mcvisor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/loykin/mcvisor/pkg/client"
	"github.com/prometheus/client_golang/prometheus"
)

// The fake runtime plays a first run on its first launch and a console
// echo loop afterwards.
const fakeJava = `#!/bin/sh
if [ ! -f .built ]; then
  touch .built
  mkdir -p world
  echo "[12:00:00] [Server thread/INFO]: Preparing level \"world\""
  sleep 30
  exit 0
fi
echo "[12:00:00] [Server thread/INFO]: Done (1.0s)!"
while read line; do
  echo "[12:00:01] [Server thread/INFO]: got $line"
  [ "$line" = "stop" ] && exit 0
done
`

func requireUnix(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix-like environment")
	}
}

func newFacade(t *testing.T) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	ipc, err := os.MkdirTemp("", "mcvf")
	if err != nil {
		t.Fatalf("ipc dir: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(ipc) })
	file := filepath.Join(dir, "mcvisor.toml")
	data := fmt.Sprintf("servers_dir = \"servers\"\nipc_dir = %q\nstop_timeout = \"2s\"\n", ipc)
	if err := os.WriteFile(file, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	c, err := LoadConfig(file)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	m, err := New(c, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	t.Cleanup(func() {
		_ = m.StopAll(time.Second)
		_ = m.Close()
	})
	return m, c.ServersDir
}

func seedServer(t *testing.T, servers, name string) {
	t.Helper()
	rt := t.TempDir()
	if err := os.MkdirAll(filepath.Join(rt, "bin"), 0o755); err != nil {
		t.Fatalf("mkdir runtime: %v", err)
	}
	if err := os.WriteFile(filepath.Join(rt, "bin", "java"), []byte(fakeJava), 0o755); err != nil {
		t.Fatalf("write java: %v", err)
	}
	dir := filepath.Join(servers, name)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		t.Fatalf("mkdir server: %v", err)
	}
	settings := fmt.Sprintf("javaruntimepath = %q\n", rt)
	if err := os.WriteFile(filepath.Join(dir, "server_settings.toml"), []byte(settings), 0o644); err != nil {
		t.Fatalf("write settings: %v", err)
	}
}

func TestManagerFacadeBuildStartInputStop(t *testing.T) {
	requireUnix(t)
	m, servers := newFacade(t)
	seedServer(t, servers, "alpha")
	installer := filepath.Join(t.TempDir(), "minecraft_server.jar")
	if err := os.WriteFile(installer, []byte("PK"), 0o644); err != nil {
		t.Fatalf("write installer: %v", err)
	}
	kind, err := ParseKind("vanilla")
	if err != nil {
		t.Fatalf("parse kind: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	code, err := m.Build(ctx, "alpha", kind, installer)
	if err != nil || code != ResultOK {
		t.Fatalf("build: code=%v err=%v", code, err)
	}
	if _, err := os.Stat(filepath.Join(servers, "alpha", "world")); !os.IsNotExist(err) {
		t.Fatalf("world should be removed after the first run")
	}

	if err := m.Start(ctx, "alpha"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Start(ctx, "alpha"); err == nil {
		t.Fatalf("second start should fail")
	}
	if err := m.WriteInput(ctx, "alpha", "say hi"); err != nil {
		t.Fatalf("write input: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		if line, ok := m.Latest("alpha"); ok && strings.Contains(line, "got say hi") {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("input not echoed, output=%v", m.Output("alpha"))
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err := m.Stop("alpha", 2*time.Second); err != nil {
		t.Fatalf("stop: %v", err)
	}
	st, err := m.Status("alpha")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Running || st.State != "exited" {
		t.Fatalf("unexpected status %+v", st)
	}
	m.ClearOutput("alpha")
	if len(m.Output("alpha")) != 0 {
		t.Fatalf("output not cleared")
	}
}

func TestConfigHelpers(t *testing.T) {
	c, err := LoadConfig("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if c.PortProbeLimit != 100 {
		t.Fatalf("probe limit %d", c.PortProbeLimit)
	}
	if _, err := ParseKind("bukkit"); err == nil {
		t.Fatalf("expected unknown type error")
	}
}

func TestRouterAndMetricsHelpers(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := RegisterMetrics(reg); err != nil {
		t.Fatalf("RegisterMetrics: %v", err)
	}
	m, servers := newFacade(t)
	if err := os.MkdirAll(filepath.Join(servers, "alpha"), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	h := Router(m, "/api", true)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/status?name=alpha", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"name":"alpha"`) {
		t.Fatalf("status: %d %s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics handler status %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "go_goroutines") {
		t.Fatalf("metrics output missing runtime collectors")
	}
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

func TestNewHTTPServerTLS(t *testing.T) {
	m, servers := newFacade(t)
	if err := os.MkdirAll(filepath.Join(servers, "alpha"), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	c, err := LoadConfig("")
	if err != nil {
		t.Fatalf("default config: %v", err)
	}
	c.Server.Listen = freeAddr(t)
	c.Server.TLS.Enabled = true
	c.Server.TLS.Dir = filepath.Join(t.TempDir(), "tls")
	c.Server.TLS.AutoGenerate = true

	srv, err := NewHTTPServer(c, m)
	if err != nil {
		t.Fatalf("NewHTTPServer: %v", err)
	}
	defer func() { _ = srv.Close() }()

	cl := client.New(client.Config{
		BaseURL: "https://" + c.Server.Listen + "/api",
		CACert:  filepath.Join(c.Server.TLS.Dir, "tls_ca.crt"),
		Timeout: 5 * time.Second,
	})
	st, err := cl.Status(context.Background(), "alpha")
	if err != nil {
		t.Fatalf("status over https: %v", err)
	}
	if st.Name != "alpha" {
		t.Fatalf("unexpected status %+v", st)
	}

	plain := client.New(client.Config{BaseURL: "https://" + c.Server.Listen + "/api", Timeout: 5 * time.Second})
	if _, err := plain.Status(context.Background(), "alpha"); err == nil {
		t.Fatalf("untrusted certificate should be rejected")
	}
}

func TestFacadeSchedules(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "mcvisor.toml")
	data := "servers_dir = \"servers\"\n\n[[schedule]]\nname = \"save\"\nserver = \"alpha\"\nschedule = \"@every 10m\"\ncommand = \"save-all\"\n"
	if err := os.WriteFile(file, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	c, err := LoadConfig(file)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	m, err := New(c, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	defer func() { _ = m.Close() }()
	es := m.Schedules()
	if len(es) != 1 || es[0].Name != "save" || es[0].Next.IsZero() {
		t.Fatalf("unexpected schedules %+v", es)
	}

	rr := httptest.NewRecorder()
	Router(m, "/api", false).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/schedules", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"save-all"`) {
		t.Fatalf("schedules endpoint: %d %s", rr.Code, rr.Body.String())
	}
}

func TestFacadeHistory(t *testing.T) {
	dir := t.TempDir()
	c, err := LoadConfig("")
	if err != nil {
		t.Fatalf("defaults: %v", err)
	}
	c.ServersDir = filepath.Join(dir, "servers")
	c.History.DSNs = []string{"sqlite://" + filepath.Join(dir, "history.db")}
	m, err := New(c, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	defer func() { _ = m.Close() }()

	kind, err := ParseKind("vanilla")
	if err != nil {
		t.Fatalf("kind: %v", err)
	}
	code, err := m.Build(context.Background(), "alpha", kind, filepath.Join(dir, "missing.jar"))
	if err != nil || code != ResultFailed {
		t.Fatalf("build: %v %v", code, err)
	}
	events, err := m.History(context.Background(), "alpha", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(events) != 1 || events[0].Type != "build" || events[0].Record.Status != "failed" {
		t.Fatalf("unexpected events %+v", events)
	}

	rr := httptest.NewRecorder()
	Router(m, "/api", false).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/history?name=alpha", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"build"`) {
		t.Fatalf("history endpoint: %d %s", rr.Code, rr.Body.String())
	}
}
