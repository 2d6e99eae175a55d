package entitlement

import (
	"context"
	"sync"
	"time"
)

// Store is the source of truth for access grants. Grant and Override are
// insert-if-absent on the unique (principal, bundle) key: when a grant already
// exists it is returned unchanged, never shortened or extended. That property
// is what makes payment confirmation idempotent end to end.
type Store interface {
	Grant(ctx context.Context, principalID, bundleID string, expiresAt *time.Time) (Grant, error)
	Override(ctx context.Context, principalID, bundleID string, expiresAt *time.Time) (Grant, error)
	Revoke(ctx context.Context, principalID, bundleID string) error
	Find(ctx context.Context, principalID, bundleID string) (Grant, error)
}

// InMemory implements Store with a single mutex; the insert-if-absent check
// and the write happen under one critical section, so concurrent writers for
// the same pair resolve to exactly one stored grant.
type InMemory struct {
	mu     sync.RWMutex
	grants map[grantKey]Grant
	now    func() time.Time
}

type grantKey struct {
	principalID string
	bundleID    string
}

// NewInMemory creates an empty grant store.
func NewInMemory() *InMemory {
	return &InMemory{
		grants: make(map[grantKey]Grant),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *InMemory) Grant(ctx context.Context, principalID, bundleID string, expiresAt *time.Time) (Grant, error) {
	return s.upsert(principalID, bundleID, expiresAt, false)
}

func (s *InMemory) Override(ctx context.Context, principalID, bundleID string, expiresAt *time.Time) (Grant, error) {
	return s.upsert(principalID, bundleID, expiresAt, true)
}

func (s *InMemory) upsert(principalID, bundleID string, expiresAt *time.Time, override bool) (Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := grantKey{principalID: principalID, bundleID: bundleID}
	if existing, ok := s.grants[key]; ok {
		return existing, nil
	}
	g := Grant{
		PrincipalID: principalID,
		BundleID:    bundleID,
		GrantedAt:   s.now(),
		ExpiresAt:   copyTime(expiresAt),
		Override:    override,
	}
	s.grants[key] = g
	return g, nil
}

// Revoke removes a grant. This is an administrative operation; soft expiry
// never goes through here.
func (s *InMemory) Revoke(ctx context.Context, principalID, bundleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := grantKey{principalID: principalID, bundleID: bundleID}
	if _, ok := s.grants[key]; !ok {
		return ErrNotFound
	}
	delete(s.grants, key)
	return nil
}

func (s *InMemory) Find(ctx context.Context, principalID, bundleID string) (Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.grants[grantKey{principalID: principalID, bundleID: bundleID}]
	if !ok {
		return Grant{}, ErrNotFound
	}
	return g, nil
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := t.UTC()
	return &c
}
