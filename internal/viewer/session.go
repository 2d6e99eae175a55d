// Package viewer implements the protective state machine that runs while an
// authorized document is on screen. Everything in it is best-effort
// deterrence: it obstructs the casual capture paths (right-click, print and
// save shortcuts, foreground-only screenshot tooling) and makes attempts
// observable, but none of it prevents a determined capture such as a second
// device photographing the screen. Its value is attribution and friction, not
// confidentiality.
package viewer

import (
	"context"
	"strings"
	"sync"
	"time"

	"docvault.org/internal/audit"
	"docvault.org/internal/ids"
	"docvault.org/internal/obs"
	"docvault.org/internal/stream"
)

// State of the protective layer. Sessions open Protected; only the explicit
// user toggle moves between the two states.
type State int

const (
	StateProtected State = iota
	StateUnprotected
)

func (s State) String() string {
	if s == StateProtected {
		return "protected"
	}
	return "unprotected"
}

// Actions the session suppresses while protected.
const (
	ActionContextMenu = "contextmenu"
	ActionPrint       = "print"
	ActionSave        = "save"
	ActionDevTools    = "devtools"
	ActionPrintScreen = "printscreen"
)

// DefaultRefreshInterval is the watermark regeneration period.
const DefaultRefreshInterval = 30 * time.Second

// Key is a keyboard event as reported by the UI loop.
type Key struct {
	Code  string
	Ctrl  bool
	Shift bool
}

// blockedAction maps a key combination to the action it would trigger, if that
// action is one the session intercepts.
func blockedAction(k Key) (string, bool) {
	switch {
	case k.Ctrl && k.Shift && strings.EqualFold(k.Code, "i"):
		return ActionDevTools, true
	case k.Ctrl && strings.EqualFold(k.Code, "p"):
		return ActionPrint, true
	case k.Ctrl && strings.EqualFold(k.Code, "s"):
		return ActionSave, true
	case k.Code == "PrintScreen":
		return ActionPrintScreen, true
	}
	return "", false
}

// Config wires a session to its document, principal and notice sink.
type Config struct {
	SessionID   string
	PrincipalID string
	Email       string
	DocumentID  string

	// RefreshInterval overrides DefaultRefreshInterval when positive.
	RefreshInterval time.Duration

	// Notices receives a user-visible notice for every suppressed action.
	// Optional; audit logging happens regardless.
	Notices *stream.Stream

	// Context carries request id and principal for audit entries.
	Context context.Context
}

// Session owns its handler registrations. Handlers exist only while the state
// is Protected and are released on every exit path: toggle, and Close. The
// session's event methods must be called from a single UI goroutine; the
// internal mutex exists only so the watermark refresh timer can write safely.
type Session struct {
	cfg Config
	ctx context.Context

	mu        sync.Mutex
	state     State
	closed    bool
	obscured  bool
	watermark Watermark
	refresh   *refreshHandle

	now func() time.Time
}

// refreshHandle is the scoped acquisition of the protection-time resources:
// created on entering Protected, stopped on leaving it.
type refreshHandle struct {
	ticker *time.Ticker
	done   chan struct{}
}

// Open starts a session over an already-authorized document. The initial
// state is Protected with handlers registered.
func Open(cfg Config) *Session {
	if cfg.SessionID == "" {
		cfg.SessionID = ids.New()
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = DefaultRefreshInterval
	}
	ctx := cfg.Context
	if ctx == nil {
		ctx = context.Background()
	}
	s := &Session{
		cfg:   cfg,
		ctx:   ctx,
		state: StateProtected,
		now:   func() time.Time { return time.Now().UTC() },
	}
	s.mu.Lock()
	s.acquire()
	s.mu.Unlock()
	return s
}

// acquire registers protection handlers; the caller holds s.mu.
func (s *Session) acquire() {
	s.watermark = renderWatermark(s.cfg.Email, s.now())
	h := &refreshHandle{
		ticker: time.NewTicker(s.cfg.RefreshInterval),
		done:   make(chan struct{}),
	}
	s.refresh = h
	go s.refreshLoop(h)
}

// release tears protection handlers down; the caller holds s.mu.
func (s *Session) release() {
	if s.refresh == nil {
		return
	}
	s.refresh.ticker.Stop()
	close(s.refresh.done)
	s.refresh = nil
	s.obscured = false
}

func (s *Session) refreshLoop(h *refreshHandle) {
	for {
		select {
		case <-h.done:
			return
		case <-h.ticker.C:
			s.mu.Lock()
			if !s.closed && s.state == StateProtected {
				s.watermark = renderWatermark(s.cfg.Email, s.now())
			}
			s.mu.Unlock()
		}
	}
}

// Toggle flips Protected <-> Unprotected and returns the new state. No other
// transition exists.
func (s *Session) Toggle() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s.state
	}
	if s.state == StateProtected {
		s.release()
		s.state = StateUnprotected
	} else {
		s.acquire()
		s.state = StateProtected
	}
	_ = audit.LogEvent(s.ctx, "viewer.protection.toggled", map[string]any{
		"session_id":  s.cfg.SessionID,
		"document_id": s.cfg.DocumentID,
		"state":       s.state.String(),
	})
	return s.state
}

// ContextMenu handles a right-click. It reports whether the default action
// must be suppressed.
func (s *Session) ContextMenu() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.state != StateProtected {
		return false
	}
	s.blockLocked(ActionContextMenu, "Action blocked", "Screenshots and downloads are not allowed")
	return true
}

// KeyPress handles a keyboard event. It reports whether the default action
// must be suppressed.
func (s *Session) KeyPress(k Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.state != StateProtected {
		return false
	}
	action, ok := blockedAction(k)
	if !ok {
		return false
	}
	s.blockLocked(action, "Action blocked", "This action is not permitted for document security")
	return true
}

// VisibilityChanged reacts to the document view losing or regaining the
// foreground. While protected, hidden content is visually obscured; this
// defeats capture tooling that only grabs the foreground, nothing more.
func (s *Session) VisibilityChanged(hidden bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.state != StateProtected {
		return
	}
	if hidden == s.obscured {
		return
	}
	s.obscured = hidden
	if hidden {
		_ = audit.LogEvent(s.ctx, "viewer.visibility.hidden", map[string]any{
			"session_id":  s.cfg.SessionID,
			"document_id": s.cfg.DocumentID,
		})
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.cfg.SessionID }

// DocumentID returns the document this session displays.
func (s *Session) DocumentID() string { return s.cfg.DocumentID }

// State returns the current protection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Obscured reports whether the content is currently blurred out.
func (s *Session) Obscured() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.obscured
}

// Watermark returns the overlay to render over the content.
func (s *Session) Watermark() Watermark {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watermark
}

// Close tears the session down and releases all handlers. It is safe to call
// more than once and must run on every exit path from the document view.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.release()
	s.closed = true
	_ = audit.LogEvent(s.ctx, "viewer.session.closed", map[string]any{
		"session_id":  s.cfg.SessionID,
		"document_id": s.cfg.DocumentID,
	})
}

// blockLocked records one suppressed action; the caller holds s.mu.
func (s *Session) blockLocked(action, title, detail string) {
	obs.CountViewerBlock(action)
	_ = audit.LogEvent(s.ctx, "viewer.action.blocked", map[string]any{
		"session_id":  s.cfg.SessionID,
		"document_id": s.cfg.DocumentID,
		"action":      action,
	})
	if s.cfg.Notices != nil {
		s.cfg.Notices.Publish(stream.Notice{
			SessionID:  s.cfg.SessionID,
			DocumentID: s.cfg.DocumentID,
			Action:     action,
			Title:      title,
			Detail:     detail,
			Timestamp:  s.now(),
		})
	}
}
