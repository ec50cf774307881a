package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/loykin/mcvisor/internal/backup"
	"github.com/loykin/mcvisor/internal/classify"
	"github.com/loykin/mcvisor/internal/detector"
	"github.com/loykin/mcvisor/internal/env"
	"github.com/loykin/mcvisor/internal/family"
	"github.com/loykin/mcvisor/internal/history"
	"github.com/loykin/mcvisor/internal/javart"
	"github.com/loykin/mcvisor/internal/logger"
	"github.com/loykin/mcvisor/internal/metrics"
	"github.com/loykin/mcvisor/internal/output"
	"github.com/loykin/mcvisor/internal/process"
	"github.com/loykin/mcvisor/internal/settings"
)

// StopCommand is written to a server's stdin to ask it to shut down.
const StopCommand = "stop"

// DefaultStopTimeout bounds each phase of Stop.
const DefaultStopTimeout = 30 * time.Second

// Options configures a Manager.
type Options struct {
	ServersDir string // one directory per server
	IPCDir     string // input sockets and pid files
	// BufferCapacity bounds each server's output history.
	BufferCapacity int
	ProbeLimit     int
	Probe          settings.Prober
	Whitelist      classify.Whitelist
	StopTimeout    time.Duration
	// ProcessLog tees raw server output into rotated files when its
	// File.Dir is set.
	ProcessLog logger.Config
	Env        []string // extra KEY=VALUE entries for every server

	Runtimes *javart.Resolver
	Registry *output.Registry
	Sink     output.Sink
	History  history.Sink
	Logger   *slog.Logger
}

// Manager owns every server known to one mcvisor instance.
type Manager struct {
	opts     Options
	log      *slog.Logger
	reg      *output.Registry
	env      *env.Env
	runtimes *javart.Resolver
	history  history.Sink
	sink     output.Sink

	mu      sync.Mutex
	editors map[string]*settings.Editor
	runs    map[string]*Supervisor
}

func NewManager(o Options) *Manager {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Registry == nil {
		o.Registry = output.NewRegistry(o.BufferCapacity)
	}
	if o.Sink == nil {
		o.Sink = output.LogSink{Log: o.Logger}
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = DefaultStopTimeout
	}
	if o.IPCDir == "" {
		o.IPCDir = os.TempDir()
	}
	e := env.New()
	e.FromOS()
	for _, kv := range o.Env {
		if i := strings.IndexByte(kv, '='); i > 0 {
			e = e.WithSet(kv[:i], kv[i+1:])
		}
	}
	return &Manager{
		opts:     o,
		log:      o.Logger,
		reg:      o.Registry,
		env:      e,
		runtimes: o.Runtimes,
		history:  o.History,
		sink:     o.Sink,
		editors:  make(map[string]*settings.Editor),
		runs:     make(map[string]*Supervisor),
	}
}

// Registry is the shared output history.
func (m *Manager) Registry() *output.Registry { return m.reg }

// ServerDir is where a server's files live.
func (m *Manager) ServerDir(name string) string { return filepath.Join(m.opts.ServersDir, name) }

func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%q: %w", name, ErrInvalidName)
	}
	return nil
}

// Editor returns the cached settings editor of a server. With create the
// server directory is made when missing.
func (m *Manager) Editor(name string, create bool) (*settings.Editor, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if ed := m.editors[name]; ed != nil {
		return ed, nil
	}
	dir := m.ServerDir(name)
	if create {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, err
		}
	} else if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		return nil, fmt.Errorf("%s: %w", name, ErrUnknownServer)
	}
	ed, err := settings.Open(dir)
	if err != nil {
		return nil, err
	}
	m.editors[name] = ed
	return ed, nil
}

// Servers lists the server directories.
func (m *Manager) Servers() ([]string, error) {
	entries, err := os.ReadDir(m.opts.ServersDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *Manager) session(name string, kind family.Kind, ed *settings.Editor) *Session {
	return &Session{
		Name:   name,
		Kind:   kind,
		Editor: ed,
		Log:    m.log.With("server", name, "family", kind.String()),
		m:      m,
	}
}

func (m *Manager) pipeline(server string, cls classify.Classifier, state *classify.State, kill func() error) *pipeline {
	return &pipeline{
		server: server,
		cls:    cls,
		state:  state,
		reg:    m.reg,
		sink:   m.sink,
		log:    m.log.With("server", server),
		kill:   kill,
	}
}

// claim registers a new attempt for name unless one is still active.
func (m *Manager) claim(name string, kind family.Kind) (*Supervisor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur := m.runs[name]; cur != nil && cur.active() {
		return nil, fmt.Errorf("%s: %w", name, ErrAlreadyRunning)
	}
	sv := newSupervisor(name, kind)
	m.runs[name] = sv
	return sv, nil
}

func (m *Manager) run(name string) *Supervisor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs[name]
}

func (m *Manager) record(ctx context.Context, t history.EventType, rec history.Record) {
	if m.history == nil {
		return
	}
	if err := m.history.Send(ctx, history.Event{Type: t, OccurredAt: time.Now().UTC(), Record: rec}); err != nil {
		m.log.Warn("history send failed", "type", t, "server", rec.Server, "error", err)
	}
}

// Build installs a server of the given family from installer and performs
// its first run. The error is set only when the build could not be attempted.
func (m *Manager) Build(ctx context.Context, name string, kind family.Kind, installer string) (ResultCode, error) {
	ed, err := m.Editor(name, true)
	if err != nil {
		return ResultFailed, err
	}
	sv, err := m.claim(name, kind)
	if err != nil {
		return ResultFailed, err
	}
	defer sv.finish()

	if installer != "" {
		if abs, err := filepath.Abs(installer); err == nil {
			installer = abs
		}
	}
	ed.UpdateInfo(func(i *settings.Info) {
		i.Name = name
		i.Type = kind.String()
	})
	if err := ed.Flush(); err != nil {
		return ResultFailed, err
	}

	b := BehaviourFor(kind)
	s := m.session(name, kind, ed)
	code := func() ResultCode {
		sv.setState(Installing)
		artifact, err := b.Builder.Install(ctx, s, installer)
		if err != nil {
			s.Log.Error("install failed", "error", err)
			return ResultFailed
		}
		rel, err := filepath.Rel(ed.Dir(), artifact)
		if err != nil || strings.HasPrefix(rel, "..") {
			rel = artifact
		}
		ed.UpdateInfo(func(i *settings.Info) { i.ServerJar = rel })
		if err := ed.Flush(); err != nil {
			s.Log.Error("persist settings", "error", err)
			return ResultFailed
		}
		sv.setState(FirstRun)
		return b.Builder.FirstRun(ctx, s, artifact)
	}()

	metrics.IncBuild(kind.String(), strconv.Itoa(int(code)))
	m.record(ctx, history.EventBuild, history.Record{Server: name, Family: kind.String(), Status: code.String()})
	s.Log.Info("build finished", "result", code.String())
	return code, nil
}

// Start launches a built server and returns once it is running. Output is
// classified into the registry and the sink; a license prompt kills the
// process tree. Backups run until the process is gone.
func (m *Manager) Start(ctx context.Context, name string) error {
	ed, err := m.Editor(name, false)
	if err != nil {
		return err
	}
	if err := ed.Reload(); err != nil {
		return err
	}
	info := ed.Info()
	kind, perr := family.Parse(info.Type)
	javaName := filepath.Base(javart.Binary(info.JavaRuntimePath))
	if pid := info.CurrentServerProcessID; pid > 0 {
		if ok, _ := (detector.ExecDetector{PID: pid, Names: []string{javaName}}).Alive(); ok && m.run(name) == nil {
			return fmt.Errorf("%s (pid %d): %w", name, pid, ErrAlreadyRunning)
		}
	}
	sv, err := m.claim(name, kind)
	if err != nil {
		return err
	}
	s := m.session(name, kind, ed)
	if perr != nil {
		s.Log.Warn("unknown server type, using defaults", "type", info.Type)
	}
	fail := func(err error) error {
		sv.finish()
		return err
	}

	if _, err := s.ResolvePort(); err != nil {
		return fail(&ConfigError{Server: name, Op: "resolve port", Err: err})
	}
	launch, err := BehaviourFor(kind).Starter.Launch(s)
	if err != nil {
		return fail(&ConfigError{Server: name, Op: "build launch command", Err: err})
	}

	spec := process.Spec{
		Name:    name,
		Program: launch.Program,
		Args:    launch.Args,
		Command: launch.Line,
		WorkDir: ed.Dir(),
		PIDFile: filepath.Join(m.opts.IPCDir, name+".pid"),
		Names:   []string{filepath.Base(s.Java())},
		Log:     m.opts.ProcessLog,
	}
	proc := process.New(spec)
	pl := m.pipeline(name, classify.NewGeneric(classify.Options{Whitelist: m.opts.Whitelist}), sv.result, proc.KillTree)
	if err := proc.Start(s.Environ(), pl.handle, pl.handle); err != nil {
		return fail(fmt.Errorf("start %s: %w", name, err))
	}
	pid := proc.PID()
	sv.mu.Lock()
	sv.proc = proc
	sv.mu.Unlock()
	sv.setState(Running)
	metrics.IncStart(name)
	s.Log.Info("server started", "pid", pid, "launch", launch.String())
	m.record(ctx, history.EventStart, history.Record{Server: name, Family: kind.String(), PID: pid, Status: "running"})

	if err := ed.SetProcessID(pid); err != nil {
		s.Log.Warn("persist pid", "error", err)
	}
	if ln, err := output.Listen(m.opts.IPCDir, name, proc.Stdin(), s.Log); err != nil {
		s.Log.Warn("input channel unavailable", "error", err)
	} else {
		sv.mu.Lock()
		sv.listener = ln
		sv.mu.Unlock()
	}

	sched := backup.New(backup.FromSettings(name, ed), detector.NewExecDetector(pid, spec.Names...), s.Log)
	sched.History = m.history
	sched.Family = kind.String()
	go sched.Run()

	go m.wait(sv, s, proc)
	return nil
}

// wait closes a run once its process exited.
func (m *Manager) wait(sv *Supervisor, s *Session, proc *process.Process) {
	<-proc.Done()
	sv.mu.Lock()
	ln := sv.listener
	sv.listener = nil
	sv.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
	st := proc.Snapshot()
	label := resultLabel(sv.result.Value())
	if err := s.Editor.SetProcessID(-1); err != nil {
		s.Log.Warn("clear pid", "error", err)
	}
	metrics.IncExit(s.Name, label)
	s.Log.Info("server exited", "exit_code", st.ExitCode, "result", label)
	detail := ""
	if st.ExitErr != nil {
		detail = st.ExitErr.Error()
	}
	m.record(context.Background(), history.EventExit, history.Record{
		Server: s.Name, Family: s.Kind.String(), PID: st.PID, Status: label, Detail: detail,
	})
	sv.finish()
}

// Stop asks a running server to shut down and waits for it. wait bounds
// each escalation step; zero uses the configured stop timeout.
func (m *Manager) Stop(name string, wait time.Duration) error {
	if wait <= 0 {
		wait = m.opts.StopTimeout
	}
	sv := m.run(name)
	if sv == nil || sv.process() == nil {
		if _, err := m.Editor(name, false); err != nil {
			return err
		}
		return fmt.Errorf("%s: %w", name, ErrNotRunning)
	}
	if err := sv.process().Stop(StopCommand, wait); err != nil {
		return err
	}
	<-sv.Done()
	return nil
}

// StopAll stops every running server concurrently.
func (m *Manager) StopAll(wait time.Duration) error {
	m.mu.Lock()
	var names []string
	for name, sv := range m.runs {
		if sv.active() && sv.process() != nil {
			names = append(names, name)
		}
	}
	m.mu.Unlock()

	var (
		wg   sync.WaitGroup
		emu  sync.Mutex
		errs []error
	)
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			if err := m.Stop(name, wait); err != nil && !errors.Is(err, ErrNotRunning) {
				emu.Lock()
				errs = append(errs, err)
				emu.Unlock()
			}
		}(name)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Status reports a server. Without an attempt in this instance the
// persisted pid is checked against the live process table.
func (m *Manager) Status(name string) (ServerStatus, error) {
	if sv := m.run(name); sv != nil {
		return sv.Status(), nil
	}
	ed, err := m.Editor(name, false)
	if err != nil {
		return ServerStatus{}, err
	}
	info := ed.Info()
	kind, _ := family.Parse(info.Type)
	st := ServerStatus{Name: name, Family: kind.String(), State: NotStarted.String(), Result: resultLabel(classify.Unset)}
	if pid := info.CurrentServerProcessID; pid > 0 {
		d := detector.ExecDetector{PID: pid, Names: []string{filepath.Base(javart.Binary(info.JavaRuntimePath))}}
		st.Detector = d.Describe()
		ok, err := d.Alive()
		if err != nil {
			return st, err
		}
		if ok {
			st.Running, st.PID, st.State = true, pid, Running.String()
		}
	}
	return st, nil
}

// Wait blocks until the current attempt of name finished.
func (m *Manager) Wait(ctx context.Context, name string) (ServerStatus, error) {
	sv := m.run(name)
	if sv == nil {
		return ServerStatus{}, fmt.Errorf("%s: %w", name, ErrNotRunning)
	}
	select {
	case <-sv.Done():
		return sv.Status(), nil
	case <-ctx.Done():
		return sv.Status(), ctx.Err()
	}
}

// WriteInput sends one line to the server's stdin through its input channel.
func (m *Manager) WriteInput(ctx context.Context, name, text string) error {
	if err := validName(name); err != nil {
		return err
	}
	err := output.ForwardInput(ctx, m.opts.IPCDir, name, text)
	if errors.Is(err, output.ErrNoListener) {
		m.log.Warn("input not delivered", "server", name, "error", err)
	}
	return err
}

// Output returns the buffered output of name, newest first.
func (m *Manager) Output(name string) []string { return m.reg.Snapshot(name) }

// Latest returns the newest buffered line.
func (m *Manager) Latest(name string) (string, bool) { return m.reg.Latest(name) }

// ClearOutput empties the buffer of name.
func (m *Manager) ClearOutput(name string) {
	m.reg.Clear(name)
	metrics.SetBufferedLines(name, 0)
}
