package server

import "sync"

// Registry is the process-wide set of live connections. It backs duplicate
// login detection and broadcast shutdown.
type Registry struct {
	mu    sync.Mutex
	conns map[*Conn]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[*Conn]struct{})}
}

// Add registers a connection.
func (r *Registry) Add(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c] = struct{}{}
}

// Remove deregisters a connection.
func (r *Registry) Remove(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, c)
}

// IsLoggedIn reports whether any live connection is authenticated as username.
func (r *Registry) IsLoggedIn(username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for c := range r.conns {
		if c.Username() == username {
			return true
		}
	}
	return false
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// CloseAll closes every live connection, used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := make([]*Conn, 0, len(r.conns))
	for c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}
