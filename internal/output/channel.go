package output

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"
)

// ErrNoListener is returned when a server has no open input channel.
var ErrNoListener = errors.New("no input listener")

// ChannelPath is where the input socket of server lives inside dir.
func ChannelPath(dir, server string) string {
	return filepath.Join(dir, "piped"+server+".sock")
}

// Listener accepts input connections for one server and writes every
// received line into the server's stdin.
type Listener struct {
	path   string
	ln     net.Listener
	dst    io.Writer
	wmu    sync.Mutex
	log    *slog.Logger
	wg     sync.WaitGroup
	closed chan struct{}
	once   sync.Once
}

// Listen opens the input channel of server. Lines are written to dst.
func Listen(dir, server string, dst io.Writer, log *slog.Logger) (*Listener, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create ipc dir: %w", err)
	}
	path := ChannelPath(dir, server)
	// stale socket from a previous run
	_ = os.Remove(path)

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}
	l := &Listener{
		path:   path,
		ln:     ln,
		dst:    dst,
		log:    log.With("server", server),
		closed: make(chan struct{}),
	}
	l.wg.Add(1)
	go l.acceptLoop()
	return l, nil
}

// Path returns the socket path.
func (l *Listener) Path() string { return l.path }

func (l *Listener) acceptLoop() {
	defer l.wg.Done()
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			select {
			case <-l.closed:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			l.log.Warn("input accept failed", "error", err)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		l.wg.Add(1)
		go l.serve(conn)
	}
}

func (l *Listener) serve(conn net.Conn) {
	defer l.wg.Done()
	defer func() { _ = conn.Close() }()
	sc := bufio.NewScanner(conn)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		l.wmu.Lock()
		_, err := io.WriteString(l.dst, line+"\n")
		l.wmu.Unlock()
		if err != nil {
			l.log.Warn("write to server stdin failed", "error", err)
			return
		}
	}
	if err := sc.Err(); err != nil {
		l.log.Warn("read input failed", "error", err)
	}
}

// Close stops accepting input and removes the socket.
func (l *Listener) Close() error {
	var err error
	l.once.Do(func() {
		close(l.closed)
		err = l.ln.Close()
		l.wg.Wait()
		_ = os.Remove(l.path)
	})
	return err
}

// ForwardInput sends one line of text to the running server named server.
// It returns an error wrapping ErrNoListener when nothing is listening.
func ForwardInput(ctx context.Context, dir, server, text string) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", ChannelPath(dir, server))
	if err != nil {
		if errors.Is(err, syscall.ENOENT) || errors.Is(err, syscall.ECONNREFUSED) {
			return fmt.Errorf("server %q: %w", server, ErrNoListener)
		}
		return fmt.Errorf("dial input channel: %w", err)
	}
	defer func() { _ = conn.Close() }()
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(dl)
	}
	w := bufio.NewWriter(conn)
	if _, err := w.WriteString(strings.TrimRight(text, "\r\n") + "\n"); err != nil {
		return fmt.Errorf("write input: %w", err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush input: %w", err)
	}
	return nil
}
