// Package identity holds the gateway's mutable runtime identity: the home
// organization this process acts on behalf of, plus the two upstream service
// base addresses.
//
// The store is the only mutable shared state in the gateway. The /connect
// handshake is its single logical writer; the proxy, the admission gate, and
// the tokenization workflow are concurrent readers. Get returns a consistent
// snapshot and Merge applies a partial update atomically, so readers never
// observe a torn value. Readers only block for the duration of the swap.
package identity

import (
	"log/slog"
	"sync"
)

// Identity is the gateway's runtime identity configuration. HomeOrg is empty
// until an organization has been connected.
type Identity struct {
	HomeOrg      string
	RegistryHost string
	DriverHost   string
}

// Connected reports whether a home organization has been established.
func (id Identity) Connected() bool {
	return id.HomeOrg != ""
}

// Partial is a partial update for Merge. Nil fields are left unchanged.
type Partial struct {
	HomeOrg      *string
	RegistryHost *string
	DriverHost   *string
}

// Persister saves a merged identity to durable storage. Durability is a
// best-effort collaborator concern: a persist failure is logged and the
// in-memory value stands (there is no rollback).
type Persister func(Identity) error

// Store provides linearizable Get/Merge access to the identity.
type Store struct {
	mu      sync.RWMutex
	current Identity
	persist Persister
}

// NewStore creates a store seeded with the identity loaded from configuration.
// persist may be nil when durability is not wanted (tests).
func NewStore(initial Identity, persist Persister) *Store {
	return &Store{current: initial, persist: persist}
}

// Get returns a consistent snapshot of the current identity.
func (s *Store) Get() Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Merge atomically applies the non-nil fields of p and then hands the merged
// value to the persister. The persister runs outside the lock so concurrent
// readers are never blocked on I/O.
func (s *Store) Merge(p Partial) {
	s.mu.Lock()
	if p.HomeOrg != nil {
		s.current.HomeOrg = *p.HomeOrg
	}
	if p.RegistryHost != nil {
		s.current.RegistryHost = *p.RegistryHost
	}
	if p.DriverHost != nil {
		s.current.DriverHost = *p.DriverHost
	}
	merged := s.current
	s.mu.Unlock()

	if s.persist != nil {
		if err := s.persist(merged); err != nil {
			slog.Error("failed to persist identity configuration", "error", err)
		}
	}
}
