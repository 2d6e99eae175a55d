package payment

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"docvault.org/internal/catalog"
	"docvault.org/internal/entitlement"
	"docvault.org/internal/ids"
	"docvault.org/internal/money"
)

// Service defines the payment ledger operations. Confirmation is idempotent:
// confirming an already completed record returns it unchanged and produces no
// second grant.
type Service interface {
	Record(ctx context.Context, principalID, bundleID string, amount money.Money) (Payment, error)
	Confirm(ctx context.Context, id string) (Payment, error)
	Fail(ctx context.Context, id, reason string) (Payment, error)
	Get(ctx context.Context, id string) (Payment, error)
	ListByPrincipal(ctx context.Context, principalID string) ([]Payment, error)
}

// Granter creates the access grant when a payment completes. The entitlement
// store satisfies it.
type Granter interface {
	Grant(ctx context.Context, principalID, bundleID string, expiresAt *time.Time) (entitlement.Grant, error)
}

// BundleFinder checks bundle existence at record time.
type BundleFinder interface {
	FindBundle(ctx context.Context, id string) (catalog.Bundle, error)
}

// InMemory implements Service with in-process concurrency safety. The mutex
// serializes double confirmation: the second caller observes completed and
// replays the stored record.
type InMemory struct {
	mu      sync.RWMutex
	records map[string]*Payment
	bundles BundleFinder
	granter Granter
	now     func() time.Time
}

// NewInMemory creates a fresh ledger wired to the catalog and grant store.
func NewInMemory(bundles BundleFinder, granter Granter) *InMemory {
	return &InMemory{
		records: make(map[string]*Payment),
		bundles: bundles,
		granter: granter,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *InMemory) Record(ctx context.Context, principalID, bundleID string, amount money.Money) (Payment, error) {
	if !amount.IsPositive() {
		return Payment{}, ErrInvalidAmount
	}
	if amount.Currency == "" {
		return Payment{}, ErrInvalidCurrency
	}
	if _, err := s.bundles.FindBundle(ctx, bundleID); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return Payment{}, ErrUnknownBundle
		}
		return Payment{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	p := &Payment{
		ID:          ids.New(),
		PrincipalID: principalID,
		BundleID:    bundleID,
		Amount:      amount,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.records[p.ID] = p
	return *p, nil
}

func (s *InMemory) Confirm(ctx context.Context, id string) (Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.records[id]
	if !ok {
		return Payment{}, ErrNotFound
	}
	switch p.Status {
	case StatusCompleted:
		// Duplicate confirmation replays the stored record; no new grant.
		return *p, nil
	case StatusFailed:
		return Payment{}, ErrFailedState
	}

	// Grant before flipping the status so a storage failure leaves the record
	// pending and the confirmation retryable. The grant itself is
	// insert-if-absent, so a retry cannot double-grant.
	if _, err := s.granter.Grant(ctx, p.PrincipalID, p.BundleID, nil); err != nil {
		return Payment{}, err
	}

	p.Status = StatusCompleted
	p.UpdatedAt = s.now()
	return *p, nil
}

func (s *InMemory) Fail(ctx context.Context, id, reason string) (Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.records[id]
	if !ok {
		return Payment{}, ErrNotFound
	}
	if p.Status != StatusPending {
		return Payment{}, ErrNotPending
	}

	p.Status = StatusFailed
	p.Reason = reason
	p.UpdatedAt = s.now()
	return *p, nil
}

func (s *InMemory) Get(ctx context.Context, id string) (Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.records[id]
	if !ok {
		return Payment{}, ErrNotFound
	}
	return *p, nil
}

func (s *InMemory) ListByPrincipal(ctx context.Context, principalID string) ([]Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var res []Payment
	for _, p := range s.records {
		if p.PrincipalID == principalID {
			res = append(res, *p)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}
