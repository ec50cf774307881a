package output

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"
)

type lockedBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (l *lockedBuffer) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.Write(p)
}

func (l *lockedBuffer) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.String()
}

func shortDir(t *testing.T) string {
	t.Helper()
	// unix socket paths are limited to ~108 bytes
	dir, err := os.MkdirTemp("", "mcv")
	if err != nil {
		t.Fatalf("mkdtemp: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return dir
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

func TestForwardInput_ReachesStdin(t *testing.T) {
	dir := shortDir(t)
	var stdin lockedBuffer
	l, err := Listen(dir, "alpha", &stdin, nil)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer func() { _ = l.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := ForwardInput(ctx, dir, "alpha", "say hello"); err != nil {
		t.Fatalf("forward: %v", err)
	}
	if err := ForwardInput(ctx, dir, "alpha", "list\r\n"); err != nil {
		t.Fatalf("forward: %v", err)
	}
	waitFor(t, func() bool { return strings.Count(stdin.String(), "\n") == 2 })
	got := stdin.String()
	if !strings.Contains(got, "say hello\n") || !strings.Contains(got, "list\n") {
		t.Fatalf("stdin=%q", got)
	}
}

func TestForwardInput_NoListener(t *testing.T) {
	dir := shortDir(t)
	err := ForwardInput(context.Background(), dir, "nobody", "stop")
	if !errors.Is(err, ErrNoListener) {
		t.Fatalf("expected ErrNoListener, got %v", err)
	}
}

func TestListener_CloseRemovesSocket(t *testing.T) {
	dir := shortDir(t)
	l, err := Listen(dir, "beta", &lockedBuffer{}, nil)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	if _, err := os.Stat(l.Path()); err != nil {
		t.Fatalf("socket missing: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := os.Stat(l.Path()); !os.IsNotExist(err) {
		t.Fatalf("socket should be removed, stat err=%v", err)
	}
	if err := ForwardInput(context.Background(), dir, "beta", "x"); !errors.Is(err, ErrNoListener) {
		t.Fatalf("expected ErrNoListener after close, got %v", err)
	}
}
