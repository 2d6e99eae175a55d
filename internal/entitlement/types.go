package entitlement

import (
	"errors"
	"time"
)

// Grant records that a principal may read a bundle's documents. A nil
// ExpiresAt means perpetual access. Grants are never deleted when they lapse;
// expiry is evaluated at decision time so the audit trail can distinguish
// "never granted" from "granted then lapsed".
type Grant struct {
	PrincipalID string     `json:"principal_id"`
	BundleID    string     `json:"bundle_id"`
	GrantedAt   time.Time  `json:"granted_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Override    bool       `json:"override,omitempty"`
}

// Expired reports whether the grant window has lapsed at the given instant.
// A grant expiring exactly at now still authorizes.
func (g Grant) Expired(now time.Time) bool {
	return g.ExpiresAt != nil && now.After(*g.ExpiresAt)
}

var ErrNotFound = errors.New("entitlement: not found")
