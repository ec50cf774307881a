//go:build !windows

package process

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/loykin/mcvisor/internal/detector"
)

// LineFunc receives one line of process output without its newline.
// It is called from the stream's pump goroutine.
type LineFunc func(line string)

// ErrAlreadyStarted is returned by Start on a process that was started before.
var ErrAlreadyStarted = errors.New("process already started")

const maxLine = 1 << 20

// Process runs one server process with all three standard streams redirected.
// A Process is started at most once.
type Process struct {
	spec     Spec
	mu       sync.Mutex
	started  bool
	pid      int
	stdin    io.WriteCloser
	stdinMu  sync.Mutex
	status   Status
	waitDone chan struct{}
}

func New(spec Spec) *Process {
	return &Process{spec: spec, waitDone: make(chan struct{})}
}

// Spec returns the launch spec.
func (r *Process) Spec() Spec { return r.spec }

// Start launches the process in its own process group, without a terminal.
// Each output stream is read line by line on its own goroutine; a nil
// handler discards that stream (it is still teed to the log files).
func (r *Process) Start(env []string, onStdout, onStderr LineFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return ErrAlreadyStarted
	}

	cmd := r.spec.BuildCommand()
	if r.spec.WorkDir != "" {
		cmd.Dir = r.spec.WorkDir
	}
	if len(env) > 0 {
		cmd.Env = env
	}
	configureSysProcAttr(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if r.spec.Log.File.Dir != "" {
		_ = os.MkdirAll(r.spec.Log.File.Dir, 0o750)
	}
	outW, errW, _ := r.spec.Log.ProcessWriters(r.spec.Name)

	if err := cmd.Start(); err != nil {
		closeAll(outW, errW)
		return fmt.Errorf("start %s: %w", r.spec.Name, err)
	}
	r.started = true
	r.pid = cmd.Process.Pid
	r.stdin = stdin
	r.status = Status{Name: r.spec.Name, Running: true, PID: r.pid, StartedAt: time.Now()}
	r.writePIDFile()

	var pumps sync.WaitGroup
	pumps.Add(2)
	go pump(stdout, outW, onStdout, &pumps)
	go pump(stderr, errW, onStderr, &pumps)
	go func() {
		// Wait closes the pipes, so all output must be read first.
		pumps.Wait()
		err := cmd.Wait()
		code := -1
		if cmd.ProcessState != nil {
			code = cmd.ProcessState.ExitCode()
		}
		closeAll(outW, errW)
		r.markExited(code, err)
		r.removePIDFile()
		close(r.waitDone)
	}()
	return nil
}

func pump(src io.Reader, tee io.Writer, fn LineFunc, wg *sync.WaitGroup) {
	defer wg.Done()
	if fn == nil && tee == nil {
		_, _ = io.Copy(io.Discard, src)
		return
	}
	sc := bufio.NewScanner(src)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)
	for sc.Scan() {
		line := sc.Text()
		if tee != nil {
			_, _ = io.WriteString(tee, line+"\n")
		}
		if fn != nil {
			fn(line)
		}
	}
	// drain whatever is left after an over-long line
	_, _ = io.Copy(io.Discard, src)
}

func closeAll(cs ...io.WriteCloser) {
	for _, c := range cs {
		if c != nil {
			_ = c.Close()
		}
	}
}

// PID returns the process id, or 0 before Start.
func (r *Process) PID() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pid
}

// Stdin returns a writer into the process's standard input. Writes are serialized.
func (r *Process) Stdin() io.Writer { return stdinWriter{r} }

type stdinWriter struct{ r *Process }

func (w stdinWriter) Write(p []byte) (int, error) {
	w.r.mu.Lock()
	in := w.r.stdin
	w.r.mu.Unlock()
	if in == nil {
		return 0, errors.New("process not started")
	}
	w.r.stdinMu.Lock()
	defer w.r.stdinMu.Unlock()
	return in.Write(p)
}

// Done is closed once the process has exited and its output is drained.
func (r *Process) Done() <-chan struct{} { return r.waitDone }

// Wait blocks until the process exits and returns its exit error.
func (r *Process) Wait() error {
	<-r.waitDone
	return r.Snapshot().ExitErr
}

// Running reports whether the process has started and not yet exited.
func (r *Process) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status.Running
}

// KillTree sends SIGKILL to the whole process group. It does not wait.
func (r *Process) KillTree() error {
	pid := r.PID()
	if pid <= 0 || !r.Running() {
		return nil
	}
	if err := killProcess(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return err
	}
	return nil
}

// Stop asks the process to exit. When command is not empty it is written
// to stdin first. Each phase waits up to wait before escalating to SIGTERM
// and finally SIGKILL on the process group.
func (r *Process) Stop(command string, wait time.Duration) error {
	if !r.Running() {
		return nil
	}
	pid := r.PID()
	if command != "" {
		if _, err := io.WriteString(r.Stdin(), command+"\n"); err == nil && r.waitFor(wait) {
			return nil
		}
	}
	_ = killProcess(-pid, syscall.SIGTERM)
	if r.waitFor(wait) {
		return nil
	}
	_ = killProcess(-pid, syscall.SIGKILL)
	if !r.waitFor(2 * time.Second) {
		return fmt.Errorf("process %d did not exit after SIGKILL", pid)
	}
	return nil
}

func (r *Process) waitFor(d time.Duration) bool {
	select {
	case <-r.waitDone:
		return true
	case <-time.After(d):
		return false
	}
}

func (r *Process) markExited(code int, err error) {
	r.mu.Lock()
	r.status.Running = false
	r.status.StoppedAt = time.Now()
	r.status.ExitCode = code
	r.status.ExitErr = err
	r.mu.Unlock()
}

// Snapshot returns a copy of the current status.
func (r *Process) Snapshot() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *Process) writePIDFile() {
	if r.spec.PIDFile == "" || r.pid == 0 {
		return
	}
	_ = os.MkdirAll(filepath.Dir(r.spec.PIDFile), 0o750)
	_ = detector.WritePIDFile(r.spec.PIDFile, r.pid, r.spec.Names...)
}

func (r *Process) removePIDFile() {
	if r.spec.PIDFile == "" {
		return
	}
	_ = os.Remove(r.spec.PIDFile)
}
