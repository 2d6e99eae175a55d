package entitlement

import (
	"context"
	"errors"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"docvault.org/internal/obs"
)

// DecisionCacheTTL bounds how stale a cached decision may be. Revocation and
// expiry propagate to new reads within this window, well inside the tolerance
// of a few tens of seconds.
const DecisionCacheTTL = 15 * time.Second

// Access is the answer to "may this principal read this bundle right now".
type Access struct {
	Granted   bool       `json:"has_access"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Finder is the read surface Decision needs from the grant store.
type Finder interface {
	Find(ctx context.Context, principalID, bundleID string) (Grant, error)
}

// Decision answers access questions against the grant store. It never mutates
// grant state: an expired grant stays in storage and simply stops authorizing.
type Decision struct {
	store Finder
	cache *gocache.Cache
}

// DecisionOption configures a Decision.
type DecisionOption func(*Decision)

// WithCacheTTL overrides the decision cache window (tests use short windows).
func WithCacheTTL(ttl time.Duration) DecisionOption {
	return func(d *Decision) {
		d.cache = gocache.New(ttl, time.Minute)
	}
}

// NewDecision builds the read-side access decider with a short-lived grant
// cache in front of the store.
func NewDecision(store Finder, opts ...DecisionOption) *Decision {
	d := &Decision{
		store: store,
		cache: gocache.New(DecisionCacheTTL, time.Minute),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// HasAccess reports whether the (principal, bundle) pair holds a currently
// valid grant at the given instant. Absent grant or lapsed window both answer
// false; only storage failures surface as errors.
func (d *Decision) HasAccess(ctx context.Context, principalID, bundleID string, now time.Time) (Access, error) {
	grant, found, err := d.lookup(ctx, principalID, bundleID)
	if err != nil {
		return Access{}, err
	}
	if !found || grant.Expired(now) {
		obs.CountAccessDecision(false)
		return Access{Granted: false}, nil
	}
	obs.CountAccessDecision(true)
	return Access{Granted: true, ExpiresAt: grant.ExpiresAt}, nil
}

// Invalidate drops the cached grant for a pair. Revocation handlers call it so
// the staleness window does not apply to the node that performed the revoke.
func (d *Decision) Invalidate(principalID, bundleID string) {
	d.cache.Delete(cacheKey(principalID, bundleID))
}

// lookup serves reads through the cache. Only found grants are cached: a
// missing grant must stay a fresh read so that a purchase becomes visible the
// instant it lands, while a cached positive can only ever err toward the
// revocation staleness window.
func (d *Decision) lookup(ctx context.Context, principalID, bundleID string) (Grant, bool, error) {
	key := cacheKey(principalID, bundleID)
	if v, ok := d.cache.Get(key); ok {
		return v.(Grant), true, nil
	}

	grant, err := d.store.Find(ctx, principalID, bundleID)
	switch {
	case err == nil:
		d.cache.SetDefault(key, grant)
		return grant, true, nil
	case errors.Is(err, ErrNotFound):
		return Grant{}, false, nil
	default:
		return Grant{}, false, err
	}
}

func cacheKey(principalID, bundleID string) string {
	return principalID + "\x00" + bundleID
}
