// Package output keeps recent server output and carries operator input
// into running servers.
package output

import "sync"

// DefaultCapacity is the number of lines kept per server.
const DefaultCapacity = 1000

// buffer is a ring. It grows to capacity, then head marks the oldest line
// and each append overwrites it.
type buffer struct {
	mu    sync.Mutex
	lines []string
	head  int
}

func (b *buffer) push(line string, capacity int) {
	if len(b.lines) < capacity {
		b.lines = append(b.lines, line)
		return
	}
	b.lines[b.head] = line
	b.head = (b.head + 1) % len(b.lines)
}

// at returns the i-th line counting from the oldest.
func (b *buffer) at(i int) string { return b.lines[(b.head+i)%len(b.lines)] }

// Registry maps server names to bounded line buffers. Buffers are created on
// first write and survive across runs of the same server.
type Registry struct {
	capacity int
	mu       sync.RWMutex
	buffers  map[string]*buffer
}

// NewRegistry creates a registry. capacity <= 0 selects DefaultCapacity.
func NewRegistry(capacity int) *Registry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Registry{capacity: capacity, buffers: make(map[string]*buffer)}
}

// Capacity returns the per-server line limit.
func (r *Registry) Capacity() int { return r.capacity }

func (r *Registry) get(server string, create bool) *buffer {
	r.mu.RLock()
	b := r.buffers[server]
	r.mu.RUnlock()
	if b != nil || !create {
		return b
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if b = r.buffers[server]; b == nil {
		b = &buffer{lines: make([]string, 0, 64)}
		r.buffers[server] = b
	}
	return b
}

// Append records a line, evicting the oldest when the buffer is full.
// It returns the buffer length after the append.
func (r *Registry) Append(server, line string) int {
	b := r.get(server, true)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.push(line, r.capacity)
	return len(b.lines)
}

// Snapshot returns a copy of the buffer, newest line first.
// Unknown servers yield an empty slice.
func (r *Registry) Snapshot(server string) []string {
	b := r.get(server, false)
	if b == nil {
		return []string{}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.lines)
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[n-1-i] = b.at(i)
	}
	return out
}

// Latest returns the most recent line.
func (r *Registry) Latest(server string) (string, bool) {
	b := r.get(server, false)
	if b == nil {
		return "", false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.lines) == 0 {
		return "", false
	}
	return b.at(len(b.lines) - 1), true
}

// Len returns how many lines are held for server.
func (r *Registry) Len(server string) int {
	b := r.get(server, false)
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lines)
}

// Clear empties the server's buffer. Unknown servers are ignored.
func (r *Registry) Clear(server string) {
	b := r.get(server, false)
	if b == nil {
		return
	}
	b.mu.Lock()
	b.lines = b.lines[:0]
	b.head = 0
	b.mu.Unlock()
}

// Servers lists the names that have a buffer.
func (r *Registry) Servers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.buffers))
	for k := range r.buffers {
		out = append(out, k)
	}
	return out
}
