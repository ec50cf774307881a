package settings

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ErrNoPort is returned when no free port could be found.
var ErrNoPort = errors.New("no available port")

// DefaultProbeLimit is how many consecutive ports ResolvePort tries.
const DefaultProbeLimit = 100

// Prober reports whether a TCP port is free.
type Prober func(port int) bool

// TCPProber binds the port on all interfaces to see whether it is free.
func TCPProber(port int) bool {
	ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}

// ResolvePort picks the server's listening port. A server bound to an
// explicit server-ip keeps its configured port and 0 is returned. Otherwise
// the first free port starting at the base port is written to both stores,
// which are flushed. Nothing is changed when no port is free.
func (e *Editor) ResolvePort(probe Prober, limit int) (int, error) {
	if probe == nil {
		probe = TCPProber
	}
	if limit <= 0 {
		limit = DefaultProbeLimit
	}
	if ip, _ := e.Property("server-ip"); strings.TrimSpace(ip) != "" {
		return 0, nil
	}
	base := e.Info().BasePort
	if base <= 0 {
		base = DefaultBasePort
	}
	port := 0
	for p := base; p < base+limit && p <= 65535; p++ {
		if probe(p) {
			port = p
			break
		}
	}
	if port == 0 {
		return 0, fmt.Errorf("ports %d-%d: %w", base, base+limit-1, ErrNoPort)
	}
	if err := e.SetProperty("server-port", strconv.Itoa(port)); err != nil {
		return 0, err
	}
	e.UpdateInfo(func(i *Info) { i.Port = port })
	if err := e.Flush(); err != nil {
		return 0, fmt.Errorf("persist port: %w", err)
	}
	return port, nil
}
