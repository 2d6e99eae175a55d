package viewer

import (
	"context"
	"testing"
	"time"

	"docvault.org/internal/stream"
)

func newTestSession(t *testing.T, notices *stream.Stream) *Session {
	t.Helper()
	s := Open(Config{
		PrincipalID:     "u1",
		Email:           "u1@example.com",
		DocumentID:      "doc-1",
		RefreshInterval: 5 * time.Millisecond,
		Notices:         notices,
	})
	t.Cleanup(s.Close)
	return s
}

func TestSessionOpensProtected(t *testing.T) {
	s := newTestSession(t, nil)
	if s.State() != StateProtected {
		t.Fatalf("expected initial state protected, got %s", s.State())
	}
	if s.Watermark().Text == "" {
		t.Fatal("expected an initial watermark")
	}
}

func TestContextMenuSuppressedWithNotice(t *testing.T) {
	notices := stream.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := notices.Subscribe(ctx)

	s := newTestSession(t, notices)
	if !s.ContextMenu() {
		t.Fatal("context menu should be suppressed while protected")
	}

	select {
	case n := <-ch:
		if n.Action != ActionContextMenu {
			t.Fatalf("unexpected action: %s", n.Action)
		}
		if n.Title == "" || n.Detail == "" {
			t.Fatalf("suppression must not be silent: %#v", n)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a notice for the blocked action")
	}
}

func TestKeyInterception(t *testing.T) {
	s := newTestSession(t, nil)

	cases := []struct {
		name    string
		key     Key
		blocked bool
	}{
		{"print", Key{Code: "p", Ctrl: true}, true},
		{"save", Key{Code: "s", Ctrl: true}, true},
		{"devtools", Key{Code: "i", Ctrl: true, Shift: true}, true},
		{"printscreen", Key{Code: "PrintScreen"}, true},
		{"plain typing", Key{Code: "a"}, false},
		{"copy", Key{Code: "c", Ctrl: true}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := s.KeyPress(tc.key); got != tc.blocked {
				t.Fatalf("KeyPress(%+v)=%v, want %v", tc.key, got, tc.blocked)
			}
		})
	}
}

func TestToggleReleasesHandlers(t *testing.T) {
	notices := stream.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := notices.Subscribe(ctx)

	s := newTestSession(t, notices)
	if st := s.Toggle(); st != StateUnprotected {
		t.Fatalf("expected unprotected after toggle, got %s", st)
	}

	if s.ContextMenu() {
		t.Fatal("context menu must pass through while unprotected")
	}
	if s.KeyPress(Key{Code: "p", Ctrl: true}) {
		t.Fatal("print must pass through while unprotected")
	}
	select {
	case n := <-ch:
		t.Fatalf("no notice expected while unprotected, got %#v", n)
	case <-time.After(20 * time.Millisecond):
	}

	if st := s.Toggle(); st != StateProtected {
		t.Fatalf("expected protected after second toggle, got %s", st)
	}
	if !s.ContextMenu() {
		t.Fatal("suppression should resume after re-protecting")
	}
}

func TestVisibilityObscuresWhileProtected(t *testing.T) {
	s := newTestSession(t, nil)

	s.VisibilityChanged(true)
	if !s.Obscured() {
		t.Fatal("content should be obscured when hidden")
	}
	s.VisibilityChanged(false)
	if s.Obscured() {
		t.Fatal("obscuring should lift when visible again")
	}

	s.Toggle()
	s.VisibilityChanged(true)
	if s.Obscured() {
		t.Fatal("unprotected sessions do not obscure")
	}
}

func TestToggleClearsObscuring(t *testing.T) {
	s := newTestSession(t, nil)
	s.VisibilityChanged(true)
	if !s.Obscured() {
		t.Fatal("expected obscured")
	}
	s.Toggle()
	if s.Obscured() {
		t.Fatal("leaving protected must lift the obscuring")
	}
}

func TestWatermarkRotatesAcrossRefreshInterval(t *testing.T) {
	s := newTestSession(t, nil)
	first := s.Watermark()

	deadline := time.Now().Add(time.Second)
	for {
		if s.Watermark().Text != first.Text {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("watermark did not refresh within a second")
		}
		time.Sleep(2 * time.Millisecond)
	}

	second := s.Watermark()
	if second.Text == first.Text {
		t.Fatal("successive watermarks must carry different timestamps")
	}
	if second.AngleDeg != watermarkAngleDeg || second.Opacity != watermarkOpacity {
		t.Fatalf("unexpected overlay parameters: %#v", second)
	}
}

func TestCloseReleasesEverything(t *testing.T) {
	s := newTestSession(t, nil)
	s.Close()
	s.Close() // idempotent

	if s.ContextMenu() {
		t.Fatal("closed session must not intercept events")
	}
	if s.KeyPress(Key{Code: "p", Ctrl: true}) {
		t.Fatal("closed session must not intercept keys")
	}
	if st := s.Toggle(); st != StateProtected {
		t.Fatalf("toggle after close should not transition, got %s", st)
	}
}
