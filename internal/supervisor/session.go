package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/loykin/mcvisor/internal/classify"
	"github.com/loykin/mcvisor/internal/env"
	"github.com/loykin/mcvisor/internal/family"
	"github.com/loykin/mcvisor/internal/javart"
	"github.com/loykin/mcvisor/internal/metrics"
	"github.com/loykin/mcvisor/internal/process"
	"github.com/loykin/mcvisor/internal/settings"
)

// Session is the context of one build or run of a server. Builders and
// starters receive it instead of reaching into the Manager.
type Session struct {
	Name   string
	Kind   family.Kind
	Editor *settings.Editor
	Log    *slog.Logger
	m      *Manager
}

// Dir is the server directory.
func (s *Session) Dir() string { return s.Editor.Dir() }

// Java is the interpreter configured for the server.
func (s *Session) Java() string { return javart.Binary(s.Editor.Info().JavaRuntimePath) }

// RAM returns the configured memory in MB.
func (s *Session) RAM() string {
	ram := s.Editor.Info().RAM
	if ram <= 0 {
		ram = settings.DefaultRAM
	}
	return strconv.Itoa(ram)
}

// ServerJar locates the runnable jar recorded in the settings, falling back
// to server.jar in the server directory.
func (s *Session) ServerJar() (string, error) {
	jar := s.Editor.Info().ServerJar
	if jar == "" {
		jar = "server.jar"
	}
	jar = s.Editor.Resolve(jar)
	if fi, err := os.Stat(jar); err != nil || fi.IsDir() {
		return "", fmt.Errorf("%s: %w", jar, ErrArtifactMissing)
	}
	return jar, nil
}

// DetectRuntime installs the runtime jar was compiled for and stores its
// path in the settings.
func (s *Session) DetectRuntime(ctx context.Context, jar string) error {
	if s.m.runtimes == nil {
		return errors.New("no runtime resolver configured")
	}
	rt, err := s.m.runtimes.AutoDetect(ctx, jar)
	if err != nil {
		return fmt.Errorf("detect runtime for %s: %w", filepath.Base(jar), err)
	}
	s.Editor.UpdateInfo(func(i *settings.Info) { i.JavaRuntimePath = rt })
	if err := s.Editor.Flush(); err != nil {
		return err
	}
	s.Log.Info("runtime selected", "runtime", rt)
	return nil
}

// ResolvePort allocates the listening port, mapping exhaustion to ResultNoPort.
func (s *Session) ResolvePort() (ResultCode, error) {
	port, err := s.Editor.ResolvePort(s.m.opts.Probe, s.m.opts.ProbeLimit)
	if err != nil {
		metrics.IncPortFailure(s.Name)
		if errors.Is(err, settings.ErrNoPort) {
			return ResultNoPort, err
		}
		return ResultFailed, err
	}
	if port > 0 {
		s.Log.Info("port allocated", "port", port)
	}
	return ResultOK, nil
}

// Environ is the environment for a process launched with the server's runtime.
func (s *Session) Environ() []string {
	return s.m.env.Merge(env.Runtime(s.Editor.Info().JavaRuntimePath))
}

// ExecOptions tunes Exec.
type ExecOptions struct {
	Classifier    classify.Classifier
	DiscardStdout bool
	// Initial seeds the termination state; zero value means Unset.
	Initial *int
}

// Exec runs a short-lived process to completion in the server directory,
// classifying its output. Cancelling ctx kills the process tree.
func (s *Session) Exec(ctx context.Context, program string, args []string, o ExecOptions) (*classify.State, process.Status, error) {
	state := classify.NewState()
	if o.Initial != nil {
		state.Reset(*o.Initial)
	}
	proc := process.New(process.Spec{
		Name:    s.Name,
		Program: program,
		Args:    args,
		WorkDir: s.Dir(),
		Log:     s.m.opts.ProcessLog,
	})
	pl := s.m.pipeline(s.Name, o.Classifier, state, proc.KillTree)

	onOut := pl.handle
	if o.DiscardStdout {
		onOut = nil
	}
	s.Log.Debug("exec", "program", program, "args", strings.Join(args, " "))
	if err := proc.Start(s.Environ(), onOut, pl.handle); err != nil {
		return state, process.Status{}, err
	}
	select {
	case <-proc.Done():
	case <-ctx.Done():
		_ = proc.KillTree()
		<-proc.Done()
		return state, proc.Snapshot(), ctx.Err()
	}
	return state, proc.Snapshot(), nil
}

// removeWorld deletes the world generated by a first run.
func (s *Session) removeWorld() {
	if err := os.RemoveAll(filepath.Join(s.Dir(), "world")); err != nil {
		s.Log.Warn("remove world", "error", err)
	}
}

// builderOptions are the classifier options for install and first-run output.
func (s *Session) builderOptions() classify.Options {
	return classify.Options{
		Whitelist: s.m.opts.Whitelist,
		Triggers:  []string{classify.PreparingLevelTrigger},
	}
}
