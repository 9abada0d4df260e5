package permission

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Fetcher retrieves the authoritative permission set for the current user from
// the backend.
type Fetcher func(ctx context.Context) (*Set, error)

// Resolver keeps the current permission set and answers capability checks.
// Safe for concurrent use.
type Resolver struct {
	mu    sync.RWMutex
	set   *Set
	prov  Provenance
	fetch Fetcher
	log   *zap.Logger
}

func NewResolver(fetch Fetcher, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{fetch: fetch, log: log}
}

// Seed installs a set delivered out of band, typically embedded in a login
// response, marked as fallback until an authoritative fetch confirms it.
func (r *Resolver) Seed(s *Set) {
	if s == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.set = &cp
	r.prov = ProvenanceFallback
}

// Resolve fetches the authoritative set. It never returns an error: on fetch
// failure the previously cached set (or the all-false empty set) keeps serving,
// and the returned provenance tells the caller which one they got.
func (r *Resolver) Resolve(ctx context.Context) Provenance {
	s, err := r.fetch(ctx)
	if err != nil || s == nil {
		r.mu.RLock()
		prov := r.prov
		r.mu.RUnlock()
		r.log.Warn("permission fetch failed, serving cached set",
			zap.Stringer("provenance", prov),
			zap.Error(err))
		return prov
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.set = &cp
	r.prov = ProvenanceAuthoritative
	return r.prov
}

// Check reports whether the current set grants k. Fails closed when no set is
// loaded or the key is unknown.
func (r *Resolver) Check(k Key) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.set.allows(k)
}

// CheckAny reports whether any of the given keys is granted.
func (r *Resolver) CheckAny(keys ...Key) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, k := range keys {
		if r.set.allows(k) {
			return true
		}
	}
	return false
}

// CheckAll reports whether every given key is granted. True for an empty list.
func (r *Resolver) CheckAll(keys ...Key) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, k := range keys {
		if !r.set.allows(k) {
			return false
		}
	}
	return true
}

// Snapshot returns a copy of the current set and its provenance. The set is nil
// when nothing has been loaded.
func (r *Resolver) Snapshot() (*Set, Provenance) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.set == nil {
		return nil, r.prov
	}
	cp := *r.set
	return &cp, r.prov
}

// Clear drops the cached set, restoring the deny-all empty state. Called on
// logout and on organization switch.
func (r *Resolver) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.set = nil
	r.prov = ProvenanceEmpty
}
