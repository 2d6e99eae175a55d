package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"docvault.org/internal/audit"
	"docvault.org/internal/docs"
	"docvault.org/internal/paycode"
)

func (a *API) handleBundlesCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listBundles(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet)
	}
}

func (a *API) handleBundleResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/bundles/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if id, ok := strings.CutSuffix(path, "/access"); ok {
		a.getAccess(w, r, strings.TrimSuffix(id, "/"))
		return
	}
	if id, ok := strings.CutSuffix(path, "/documents"); ok {
		a.listBundleDocuments(w, r, strings.TrimSuffix(id, "/"))
		return
	}
	if id, ok := strings.CutSuffix(path, "/paycode"); ok {
		a.getPaycode(w, r, strings.TrimSuffix(id, "/"))
		return
	}
	if strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.getBundle(w, r, path)
	default:
		methodNotAllowed(w, r, http.MethodGet)
	}
}

func (a *API) listBundles(w http.ResponseWriter, r *http.Request) {
	items, err := a.catalog.ListBundles(r.Context())
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"as_of": time.Now().UTC(),
	})
}

func (a *API) getBundle(w http.ResponseWriter, r *http.Request, id string) {
	b, err := a.catalog.FindBundle(r.Context(), id)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// getAccess answers "may this principal read this bundle right now". It is a
// pure read; no grant state changes here.
func (a *API) getAccess(w http.ResponseWriter, r *http.Request, bundleID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, err := a.requirePrincipal(r.Context())
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	access, err := a.decision.HasAccess(r.Context(), principal.ID, bundleID, time.Now().UTC())
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, access)
}

// listBundleDocuments returns the bundle's documents when authorized and an
// empty list otherwise. Unknown bundles also produce an empty list; the two
// cases are indistinguishable on purpose.
func (a *API) listBundleDocuments(w http.ResponseWriter, r *http.Request, bundleID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, err := a.requirePrincipal(r.Context())
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	items, err := a.gateway.ListDocuments(r.Context(), principal.ID, bundleID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
	})
}

type paycodeResponse struct {
	BundleID string   `json:"bundle_id"`
	Size     int      `json:"size"`
	Rows     [][]bool `json:"rows"`
	Text     string   `json:"text"`
}

// getPaycode renders the deterministic payment code bitmap for a pending
// payment reference. Same value, same bitmap, always.
func (a *API) getPaycode(w http.ResponseWriter, r *http.Request, bundleID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, err := a.requirePrincipal(r.Context())
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	b, err := a.catalog.FindBundle(r.Context(), bundleID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	value := "docvault:" + b.ID + ":" + principal.ID
	bitmap := paycode.Generate(value)
	writeJSON(w, http.StatusOK, paycodeResponse{
		BundleID: b.ID,
		Size:     bitmap.Size,
		Rows:     bitmap.Rows(),
		Text:     bitmap.String(),
	})
}

func (a *API) handleDocumentResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/documents/")
	if path == "" || strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, err := a.requirePrincipal(r.Context())
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	doc, err := a.gateway.GetDocument(r.Context(), principal.ID, path)
	if err != nil {
		if errors.Is(err, docs.ErrPermissionDenied) {
			_ = audit.LogEvent(r.Context(), "document.read.denied", map[string]any{
				"document_id": path,
			})
		}
		handleDomainError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "document.read", map[string]any{
		"document_id": doc.ID,
		"bundle_id":   doc.BundleID,
	})
	writeJSON(w, http.StatusOK, doc)
}
