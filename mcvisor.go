package mcvisor

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/loykin/mcvisor/internal/auth"
	"github.com/loykin/mcvisor/internal/classify"
	cfg "github.com/loykin/mcvisor/internal/config"
	"github.com/loykin/mcvisor/internal/cron"
	"github.com/loykin/mcvisor/internal/family"
	"github.com/loykin/mcvisor/internal/history"
	"github.com/loykin/mcvisor/internal/history/factory"
	"github.com/loykin/mcvisor/internal/javart"
	"github.com/loykin/mcvisor/internal/metrics"
	"github.com/loykin/mcvisor/internal/output"
	iapi "github.com/loykin/mcvisor/internal/server"
	"github.com/loykin/mcvisor/internal/settings"
	"github.com/loykin/mcvisor/internal/supervisor"
	itls "github.com/loykin/mcvisor/internal/tls"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = cfg.Config

type Status = supervisor.ServerStatus

type Kind = family.Kind

type ResultCode = supervisor.ResultCode

type HistorySink = history.Sink

type ScheduleEntry = cron.Entry

type HistoryEvent = history.Event

const (
	ResultOK     = supervisor.ResultOK
	ResultFailed = supervisor.ResultFailed
	ResultNoPort = supervisor.ResultNoPort
)

var (
	ErrAlreadyRunning = supervisor.ErrAlreadyRunning
	ErrUnknownServer  = supervisor.ErrUnknownServer
	ErrNotRunning     = supervisor.ErrNotRunning
)

// ParseKind maps a server type name such as "forge" to a Kind.
func ParseKind(s string) (Kind, error) { return family.Parse(s) }

// LoadConfig reads a TOML config file; an empty path yields the defaults.
func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// Manager is a thin facade over internal/supervisor.Manager.
// It provides a stable public API for embedding.
type Manager struct {
	inner   *supervisor.Manager
	history *history.Fanout
	sched   *cron.Scheduler
}

// Option adjusts the manager built by New.
type Option func(*supervisor.Options)

// WithConsole prints classified server output to w instead of the logger.
func WithConsole(w io.Writer) Option {
	return func(o *supervisor.Options) { o.Sink = output.NewConsoleSink(w) }
}

// New builds a Manager from c. History sinks named in c are opened here and
// released by Close.
func New(c *Config, log *slog.Logger, options ...Option) (*Manager, error) {
	if c == nil {
		def, err := cfg.Default()
		if err != nil {
			return nil, err
		}
		c = def
	}
	if log == nil {
		log = slog.Default()
	}
	envs, err := c.GlobalEnv()
	if err != nil {
		return nil, err
	}
	fan, err := factory.NewFanout(c.History.DSNs)
	if err != nil {
		return nil, err
	}
	fan.Log = log
	fan.Timeout = 5 * time.Second
	if c.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			_ = fan.Close()
			return nil, err
		}
	}
	opts := supervisor.Options{
		ServersDir:     c.ServersDir,
		IPCDir:         c.IPCDir,
		BufferCapacity: c.BufferCapacity,
		ProbeLimit:     c.PortProbeLimit,
		Probe:          settings.TCPProber,
		Whitelist:      classify.Whitelist(c.SpecialErrors),
		StopTimeout:    c.StopTimeout,
		ProcessLog:     c.Log,
		Env:            envs,
		Runtimes:       &javart.Resolver{CacheDir: c.RuntimeDir, BaseURL: c.RuntimeBaseURL, Log: log},
		Logger:         log,
	}
	if len(fan.Sinks) > 0 {
		opts.History = fan
	}
	for _, o := range options {
		o(&opts)
	}
	m := &Manager{inner: supervisor.NewManager(opts), history: fan}
	m.sched = cron.NewScheduler(m.inner, log)
	for _, j := range c.Schedules {
		if err := m.sched.Add(j); err != nil {
			_ = fan.Close()
			return nil, err
		}
	}
	m.sched.Start()
	return m, nil
}

func (m *Manager) Build(ctx context.Context, name string, kind Kind, installer string) (ResultCode, error) {
	return m.inner.Build(ctx, name, kind, installer)
}
func (m *Manager) Start(ctx context.Context, name string) error { return m.inner.Start(ctx, name) }
func (m *Manager) Stop(name string, wait time.Duration) error   { return m.inner.Stop(name, wait) }
func (m *Manager) StopAll(wait time.Duration) error             { return m.inner.StopAll(wait) }
func (m *Manager) Status(name string) (Status, error)           { return m.inner.Status(name) }
func (m *Manager) Servers() ([]string, error)                   { return m.inner.Servers() }
func (m *Manager) Wait(ctx context.Context, name string) (Status, error) {
	return m.inner.Wait(ctx, name)
}
func (m *Manager) WriteInput(ctx context.Context, name, text string) error {
	return m.inner.WriteInput(ctx, name, text)
}
func (m *Manager) Output(name string) []string       { return m.inner.Output(name) }
func (m *Manager) Latest(name string) (string, bool) { return m.inner.Latest(name) }
func (m *Manager) ClearOutput(name string)           { m.inner.ClearOutput(name) }

// Close releases the history sinks. Running servers are left alone; call
// StopAll first to shut them down.
func (m *Manager) Close() error {
	m.sched.Stop()
	return m.history.Close()
}

// Schedules lists the scheduled console commands.
func (m *Manager) Schedules() []ScheduleEntry { return m.sched.Entries() }

// History returns up to limit recorded events of server, newest first, read
// from the first configured sqlite, postgres or clickhouse sink.
func (m *Manager) History(ctx context.Context, server string, limit int) ([]HistoryEvent, error) {
	return m.history.Recent(ctx, server, limit)
}

// Router returns the HTTP API as a handler to mount under basePath in any mux.
func Router(m *Manager, basePath string, withMetrics bool) http.Handler {
	return iapi.NewRouter(m.inner, basePath).WithSchedules(m.sched).WithHistory(m.history).WithMetrics(withMetrics).Handler()
}

// NewHTTPServer starts the API server described by c.Server, with TLS and
// authentication when configured. The metrics handler is mounted on it when
// metrics are enabled without their own listener.
func NewHTTPServer(c *Config, m *Manager) (*http.Server, error) {
	tlsCfg, err := itls.SetupTLS(c.Server.TLS)
	if err != nil {
		return nil, err
	}
	svc, err := auth.NewService(c.Server.Auth)
	if err != nil {
		return nil, err
	}
	withMetrics := c.Metrics.Enabled && c.Metrics.Listen == ""
	r := iapi.NewRouter(m.inner, c.Server.BasePath).
		WithSchedules(m.sched).
		WithHistory(m.history).
		WithAuth(svc).
		WithMetrics(withMetrics)
	return iapi.NewServer(c.Server.Listen, r, tlsCfg)
}

// HashPassword returns the bcrypt hash for a [[server.auth.users]] entry.
func HashPassword(password string) (string, error) { return auth.HashPassword(password) }

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the default registry.
// It runs the server in the caller goroutine.
func ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
