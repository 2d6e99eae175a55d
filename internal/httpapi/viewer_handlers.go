package httpapi

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"docvault.org/internal/viewer"
)

// sessionRegistry tracks the open viewer sessions per principal so event
// routes can reach them and Close tears them down.
type sessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*ownedSession
}

type ownedSession struct {
	principalID string
	session     *viewer.Session
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{sessions: make(map[string]*ownedSession)}
}

func (r *sessionRegistry) add(id, principalID string, s *viewer.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[id] = &ownedSession{principalID: principalID, session: s}
}

func (r *sessionRegistry) get(id, principalID string) (*viewer.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.sessions[id]
	if !ok || o.principalID != principalID {
		return nil, false
	}
	return o.session, true
}

func (r *sessionRegistry) remove(id, principalID string) (*viewer.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.sessions[id]
	if !ok || o.principalID != principalID {
		return nil, false
	}
	delete(r.sessions, id)
	return o.session, true
}

type openSessionRequest struct {
	DocumentID string `json:"document_id"`
}

type sessionEventRequest struct {
	Type   string `json:"type"`
	Key    string `json:"key,omitempty"`
	Ctrl   bool   `json:"ctrl,omitempty"`
	Shift  bool   `json:"shift,omitempty"`
	Hidden bool   `json:"hidden,omitempty"`
}

type sessionView struct {
	SessionID  string           `json:"session_id"`
	DocumentID string           `json:"document_id"`
	State      string           `json:"state"`
	Obscured   bool             `json:"obscured"`
	Watermark  viewer.Watermark `json:"watermark"`
	Suppressed *bool            `json:"suppressed,omitempty"`
}

func (a *API) handleSessionsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.openSession(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost)
	}
}

func (a *API) handleSessionResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/viewer/sessions/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if id, ok := strings.CutSuffix(path, "/events"); ok {
		a.sessionEvent(w, r, strings.TrimSuffix(id, "/"))
		return
	}
	if strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.getSession(w, r, path)
	case http.MethodDelete:
		a.closeSession(w, r, path)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}

// openSession starts a protected viewer session over a document the principal
// is entitled to read. The access check runs through the gateway, so an
// unauthorized open fails exactly like an unauthorized document read.
func (a *API) openSession(w http.ResponseWriter, r *http.Request) {
	principal, err := a.requirePrincipal(r.Context())
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	var req openSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	documentID := strings.TrimSpace(req.DocumentID)
	if documentID == "" {
		writeError(w, r, http.StatusBadRequest, "document_id is required")
		return
	}

	doc, err := a.gateway.GetDocument(r.Context(), principal.ID, documentID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	// The session outlives this request; keep its values (request id,
	// principal) for audit but not the cancellation.
	s := viewer.Open(viewer.Config{
		PrincipalID: principal.ID,
		Email:       principal.Email,
		DocumentID:  doc.ID,
		Notices:     a.notices,
		Context:     context.WithoutCancel(r.Context()),
	})
	view := a.viewOf(s, doc.ID, nil)
	a.sessions.add(view.SessionID, principal.ID, s)

	w.Header().Set("Location", "/v1/viewer/sessions/"+view.SessionID)
	writeJSON(w, http.StatusCreated, view)
}

func (a *API) sessionEvent(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, err := a.requirePrincipal(r.Context())
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	s, ok := a.sessions.get(id, principal.ID)
	if !ok {
		writeError(w, r, http.StatusNotFound, "viewer session not found")
		return
	}

	var req sessionEventRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	var suppressed *bool
	switch req.Type {
	case "context_menu":
		v := s.ContextMenu()
		suppressed = &v
	case "key":
		v := s.KeyPress(viewer.Key{Code: req.Key, Ctrl: req.Ctrl, Shift: req.Shift})
		suppressed = &v
	case "visibility":
		s.VisibilityChanged(req.Hidden)
	case "toggle":
		s.Toggle()
	default:
		writeError(w, r, http.StatusBadRequest, "unknown event type")
		return
	}

	writeJSON(w, http.StatusOK, a.viewOf(s, s.DocumentID(), suppressed))
}

func (a *API) getSession(w http.ResponseWriter, r *http.Request, id string) {
	principal, err := a.requirePrincipal(r.Context())
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	s, ok := a.sessions.get(id, principal.ID)
	if !ok {
		writeError(w, r, http.StatusNotFound, "viewer session not found")
		return
	}
	writeJSON(w, http.StatusOK, a.viewOf(s, s.DocumentID(), nil))
}

func (a *API) closeSession(w http.ResponseWriter, r *http.Request, id string) {
	principal, err := a.requirePrincipal(r.Context())
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	s, ok := a.sessions.remove(id, principal.ID)
	if !ok {
		writeError(w, r, http.StatusNotFound, "viewer session not found")
		return
	}
	s.Close()
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) viewOf(s *viewer.Session, documentID string, suppressed *bool) sessionView {
	return sessionView{
		SessionID:  s.ID(),
		DocumentID: documentID,
		State:      s.State().String(),
		Obscured:   s.Obscured(),
		Watermark:  s.Watermark(),
		Suppressed: suppressed,
	}
}
