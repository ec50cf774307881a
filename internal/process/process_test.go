//go:build !windows

package process

import (
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/loykin/mcvisor/internal/detector"
	"github.com/loykin/mcvisor/internal/logger"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests require sh/sleep on Unix-like systems")
	}
}

type lines struct {
	mu sync.Mutex
	l  []string
}

func (c *lines) add(s string) {
	c.mu.Lock()
	c.l = append(c.l, s)
	c.mu.Unlock()
}

func (c *lines) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.l...)
}

func waitExit(t *testing.T, r *Process) {
	t.Helper()
	select {
	case <-r.Done():
	case <-time.After(5 * time.Second):
		_ = r.KillTree()
		t.Fatalf("process did not exit")
	}
}

func TestStart_PumpsBothStreams(t *testing.T) {
	requireUnix(t)
	var out, errs lines
	r := New(Spec{Name: "p", Command: "sh -c 'echo one; echo two 1>&2; echo three'"})
	if err := r.Start(nil, out.add, errs.add); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitExit(t, r)
	if got := strings.Join(out.all(), ","); got != "one,three" {
		t.Fatalf("stdout=%q", got)
	}
	if got := strings.Join(errs.all(), ","); got != "two" {
		t.Fatalf("stderr=%q", got)
	}
	st := r.Snapshot()
	if st.Running || st.ExitCode != 0 || st.PID <= 0 {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestStart_Twice(t *testing.T) {
	requireUnix(t)
	r := New(Spec{Name: "p", Program: "true"})
	if err := r.Start(nil, nil, nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := r.Start(nil, nil, nil); err != ErrAlreadyStarted {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
	waitExit(t, r)
}

func TestStdin_ReachesProcess(t *testing.T) {
	requireUnix(t)
	var out lines
	r := New(Spec{Name: "echoer", Command: "sh -c 'read a; echo got:$a'"})
	if err := r.Start(nil, out.add, nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := io.WriteString(r.Stdin(), "hello\n"); err != nil {
		t.Fatalf("write stdin: %v", err)
	}
	waitExit(t, r)
	if got := out.all(); len(got) != 1 || got[0] != "got:hello" {
		t.Fatalf("stdout=%v", got)
	}
}

func TestKillTree_KillsGroup(t *testing.T) {
	requireUnix(t)
	r := New(Spec{Name: "tree", Command: "sh -c 'sleep 30 & sleep 30; wait'"})
	if err := r.Start(nil, nil, nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if err := r.KillTree(); err != nil {
		t.Fatalf("kill: %v", err)
	}
	waitExit(t, r)
	if r.Running() {
		t.Fatalf("still running after kill")
	}
}

func TestStop_GracefulCommand(t *testing.T) {
	requireUnix(t)
	r := New(Spec{Name: "srv", Command: `sh -c 'while read l; do [ "$l" = stop ] && exit 0; done'`})
	if err := r.Start(nil, nil, nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := r.Stop("stop", 2*time.Second); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if st := r.Snapshot(); st.Running || st.ExitCode != 0 {
		t.Fatalf("expected clean exit, got %+v", st)
	}
}

func TestStop_EscalatesToSignal(t *testing.T) {
	requireUnix(t)
	r := New(Spec{Name: "deaf", Program: "sleep", Args: []string{"30"}})
	if err := r.Start(nil, nil, nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	start := time.Now()
	if err := r.Stop("stop", 200*time.Millisecond); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Fatalf("stop took too long")
	}
	if r.Running() {
		t.Fatalf("still running")
	}
}

func TestPIDFile_WrittenAndRemoved(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	pf := filepath.Join(dir, "run", "srv.pid")
	r := New(Spec{Name: "srv", Program: "sleep", Args: []string{"5"}, PIDFile: pf, Names: []string{"sleep"}})
	if err := r.Start(nil, nil, nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	ed, err := detector.PIDFileDetector{PIDFile: pf}.Read()
	if err != nil {
		t.Fatalf("read pidfile: %v", err)
	}
	if ed.PID != r.PID() {
		t.Fatalf("pidfile pid %d != %d", ed.PID, r.PID())
	}
	_ = r.KillTree()
	waitExit(t, r)
	if _, err := os.Stat(pf); !os.IsNotExist(err) {
		t.Fatalf("pidfile should be removed, err=%v", err)
	}
}

func TestStart_TeesToLogFiles(t *testing.T) {
	requireUnix(t)
	logs := t.TempDir()
	r := New(Spec{
		Name:    "logged",
		Command: "sh -c 'echo out; echo err 1>&2'",
		Log:     logger.Config{File: logger.FileConfig{Dir: logs}},
	})
	if err := r.Start(nil, nil, nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitExit(t, r)
	b, err := os.ReadFile(filepath.Join(logs, "logged.stdout.log"))
	if err != nil || strings.TrimSpace(string(b)) != "out" {
		t.Fatalf("stdout log: %q err=%v", b, err)
	}
	b, err = os.ReadFile(filepath.Join(logs, "logged.stderr.log"))
	if err != nil || strings.TrimSpace(string(b)) != "err" {
		t.Fatalf("stderr log: %q err=%v", b, err)
	}
}

func TestStart_WorkDirAndEnv(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	var out lines
	r := New(Spec{Name: "env", Command: `sh -c 'pwd; echo "$FOO"'`, WorkDir: dir})
	if err := r.Start([]string{"FOO=bar", "PATH=" + os.Getenv("PATH")}, out.add, nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitExit(t, r)
	got := out.all()
	if len(got) != 2 || got[1] != "bar" {
		t.Fatalf("out=%v", got)
	}
	want, _ := filepath.EvalSymlinks(dir)
	if have, _ := filepath.EvalSymlinks(got[0]); have != want {
		t.Fatalf("workdir %q want %q", got[0], dir)
	}
}
