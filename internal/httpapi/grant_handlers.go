package httpapi

import (
	"net/http"
	"strings"
	"time"

	"docvault.org/internal/audit"
	"docvault.org/internal/auth"
)

type overrideGrantRequest struct {
	PrincipalID string     `json:"principal_id"`
	BundleID    string     `json:"bundle_id"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

func (a *API) handleGrantsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.overrideGrant(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost)
	}
}

func (a *API) handleGrantResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/grants/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	a.revokeGrant(w, r, parts[0], parts[1])
}

// overrideGrant creates a grant outside the purchase flow. Every override is
// marked as such on the row and in the audit trail, so access without a
// completed payment stays traceable.
func (a *API) overrideGrant(w http.ResponseWriter, r *http.Request) {
	if err := a.requirePermission(r.Context(), auth.PermGrantOverride); err != nil {
		writeError(w, r, http.StatusForbidden, "entitlement.grant.override permission required")
		return
	}

	var req overrideGrantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	principalID := strings.TrimSpace(req.PrincipalID)
	bundleID := strings.TrimSpace(req.BundleID)
	if principalID == "" || bundleID == "" {
		writeError(w, r, http.StatusBadRequest, "principal_id and bundle_id are required")
		return
	}
	if _, err := a.catalog.FindBundle(r.Context(), bundleID); err != nil {
		handleDomainError(w, r, err)
		return
	}

	g, err := a.grants.Override(r.Context(), principalID, bundleID, req.ExpiresAt)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	fields := map[string]any{
		"grant_principal_id": principalID,
		"bundle_id":          bundleID,
		"override":           true,
	}
	if req.ExpiresAt != nil {
		fields["expires_at"] = req.ExpiresAt.UTC().Format(time.RFC3339)
	}
	_ = audit.LogEvent(r.Context(), "entitlement.grant.override", fields)

	writeJSON(w, http.StatusCreated, g)
}

// revokeGrant removes the grant row and drops it from the decision cache, so
// revocation is visible on this node immediately and everywhere else within
// the cache TTL.
func (a *API) revokeGrant(w http.ResponseWriter, r *http.Request, principalID, bundleID string) {
	if err := a.requirePermission(r.Context(), auth.PermGrantRevoke); err != nil {
		writeError(w, r, http.StatusForbidden, "entitlement.grant.revoke permission required")
		return
	}

	if err := a.grants.Revoke(r.Context(), principalID, bundleID); err != nil {
		handleDomainError(w, r, err)
		return
	}
	if a.decision != nil {
		a.decision.Invalidate(principalID, bundleID)
	}

	_ = audit.LogEvent(r.Context(), "entitlement.grant.revoked", map[string]any{
		"grant_principal_id": principalID,
		"bundle_id":          bundleID,
	})

	w.WriteHeader(http.StatusNoContent)
}
