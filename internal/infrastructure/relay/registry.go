package relay

import (
	"sync"

	"github.com/bzinkan/ClassPilot-sub005/internal/core/domain"
)

// Registry maps authenticated identities to their current live
// connection. An identity has at most one entry; a new connection for
// the same identity replaces the previous one.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*client
}

func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*client),
	}
}

// Bind upserts the entry for the client's identity and returns the
// replaced connection, if any. The caller is responsible for closing
// the replaced connection.
func (r *Registry) Bind(c *client) *client {
	identity, ok := c.getIdentity()
	if !ok {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	prior := r.entries[identity.Key()]
	if prior == c {
		return nil
	}
	r.entries[identity.Key()] = c
	return prior
}

// Unbind removes the entry only if it still points at c, so a reconnect
// that already replaced the entry is not clobbered by the old
// connection's cleanup.
func (r *Registry) Unbind(c *client) bool {
	identity, ok := c.getIdentity()
	if !ok {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.entries[identity.Key()]; ok && current == c {
		delete(r.entries, identity.Key())
		return true
	}
	return false
}

func (r *Registry) Get(identity domain.Identity) (*client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.entries[identity.Key()]
	return c, ok
}

func (r *Registry) IsConnected(identity domain.Identity) bool {
	_, ok := r.Get(identity)
	return ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Entries returns a snapshot of the current registry state.
func (r *Registry) Entries() []domain.RegistryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.RegistryEntry, 0, len(r.entries))
	for _, c := range r.entries {
		identity, _ := c.getIdentity()
		out = append(out, domain.RegistryEntry{
			Identity:    identity,
			ConnID:      c.connID,
			ConnectedAt: c.connectedAt,
		})
	}
	return out
}

// snapshot returns the live clients for fan-out.
func (r *Registry) snapshot() []*client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*client, 0, len(r.entries))
	for _, c := range r.entries {
		out = append(out, c)
	}
	return out
}
