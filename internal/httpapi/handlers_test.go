package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"docvault.org/internal/auth"
	"docvault.org/internal/catalog"
	"docvault.org/internal/docs"
	"docvault.org/internal/entitlement"
	"docvault.org/internal/payment"
	"docvault.org/internal/stream"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	t.Setenv("DOCVAULT_AUTH_SECRET", "test-secret")
	auth.ResetSecretForTests()

	cat := catalog.Fixture()
	grants := entitlement.NewInMemory()
	decision := entitlement.NewDecision(grants, entitlement.WithCacheTTL(10*time.Millisecond))
	payments := payment.NewInMemory(cat, grants)
	signer := docs.NewRefSigner([]byte("test-secret"), docs.DefaultRefTTL)
	gateway := docs.NewGateway(cat, decision, signer)

	api := New(ReadyProbe{}, "test", Deps{
		Payments: payments,
		Catalog:  cat,
		Grants:   grants,
		Decision: decision,
		Gateway:  gateway,
		Notices:  stream.New(),
	})
	api.rateBurst = 1000
	api.ratePerSec = 1000

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
	}
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	return c.do(http.MethodPost, path, body, headers)
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		c.t.Fatalf("parse url: %v", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("get request: %v", err)
	}
	return resp
}

func (c *apiClient) obtainToken(principalID, email string, perms []string) string {
	c.t.Helper()
	resp := c.post("/v1/auth/token", map[string]any{
		"principal_id": principalID,
		"email":        email,
		"permissions":  perms,
	}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("unexpected token status: %d", resp.StatusCode)
	}
	var payload tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.t.Fatalf("decode token response: %v", err)
	}
	if payload.Token == "" {
		c.t.Fatalf("empty token issued")
	}
	return payload.Token
}

func bearerHeader(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

type accessResponse struct {
	HasAccess bool       `json:"has_access"`
	ExpiresAt *time.Time `json:"expires_at"`
}

type documentsResponse struct {
	Items []docs.Descriptor `json:"items"`
}

func (c *apiClient) hasAccess(token, bundleID string) bool {
	c.t.Helper()
	resp := c.get("/v1/bundles/"+bundleID+"/access", nil, bearerHeader(token))
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("access status = %d", resp.StatusCode)
	}
	return decode[accessResponse](c.t, resp).HasAccess
}

func TestPurchaseFlowGrantsDocumentAccess(t *testing.T) {
	c := newTestAPI(t)
	buyer := c.obtainToken("alice", "alice@example.com", nil)
	processor := c.obtainToken("psp", "psp@example.com", []string{auth.PermPaymentConfirm})

	if c.hasAccess(buyer, "acme") {
		t.Fatal("access granted before any purchase")
	}

	// Document read before purchase: valid id, no grant -> 403 with hint.
	resp := c.get("/v1/documents/acme-interview-guide", nil, bearerHeader(buyer))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("pre-purchase document status = %d, want 403", resp.StatusCode)
	}
	denied := decode[map[string]any](t, resp)
	if denied["hint"] == "" || denied["hint"] == nil {
		t.Fatal("403 response missing the purchase hint")
	}

	resp = c.post("/v1/payments", map[string]any{
		"bundle_id": "acme",
		"currency":  "usd",
		"amount":    2999,
	}, bearerHeader(buyer))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("record payment status = %d, want 201", resp.StatusCode)
	}
	p := decode[payment.Payment](t, resp)
	if p.Status != payment.StatusPending {
		t.Fatalf("payment status = %q, want pending", p.Status)
	}
	if p.Amount.Currency != "USD" {
		t.Fatalf("currency not normalized: %q", p.Amount.Currency)
	}

	resp = c.post("/v1/payments/"+p.ID+"/confirm", nil, bearerHeader(processor))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("confirm status = %d, want 200", resp.StatusCode)
	}
	confirmed := decode[payment.Payment](t, resp)
	if confirmed.Status != payment.StatusCompleted {
		t.Fatalf("payment status = %q, want completed", confirmed.Status)
	}

	// The denied check above must not mask the purchase: the grant is
	// visible on the very next decision.
	if !c.hasAccess(buyer, "acme") {
		t.Fatal("access not granted immediately after confirmed payment")
	}

	resp = c.get("/v1/bundles/acme/documents", nil, bearerHeader(buyer))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list documents status = %d", resp.StatusCode)
	}
	listing := decode[documentsResponse](t, resp)
	if len(listing.Items) != 2 {
		t.Fatalf("got %d documents, want 2", len(listing.Items))
	}
	for _, d := range listing.Items {
		if d.ContentRef != "" {
			t.Fatal("listing must not carry content references")
		}
	}

	resp = c.get("/v1/documents/acme-interview-guide", nil, bearerHeader(buyer))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("document status = %d, want 200", resp.StatusCode)
	}
	doc := decode[docs.Descriptor](t, resp)
	if doc.ContentRef == "" {
		t.Fatal("document resolution must carry a content reference")
	}
}

func TestConfirmReplayOverHTTP(t *testing.T) {
	c := newTestAPI(t)
	buyer := c.obtainToken("alice", "alice@example.com", nil)
	processor := c.obtainToken("psp", "psp@example.com", []string{auth.PermPaymentConfirm})

	resp := c.post("/v1/payments", map[string]any{
		"bundle_id": "globex",
		"currency":  "USD",
		"amount":    1999,
	}, bearerHeader(buyer))
	p := decode[payment.Payment](t, resp)

	first := c.post("/v1/payments/"+p.ID+"/confirm", nil, bearerHeader(processor))
	if first.StatusCode != http.StatusOK {
		t.Fatalf("first confirm status = %d", first.StatusCode)
	}
	one := decode[payment.Payment](t, first)

	second := c.post("/v1/payments/"+p.ID+"/confirm", nil, bearerHeader(processor))
	if second.StatusCode != http.StatusOK {
		t.Fatalf("replayed confirm status = %d, want 200", second.StatusCode)
	}
	two := decode[payment.Payment](t, second)

	if !one.UpdatedAt.Equal(two.UpdatedAt) {
		t.Fatal("replay mutated the stored payment record")
	}
}

func TestFailedPaymentCannotBeConfirmed(t *testing.T) {
	c := newTestAPI(t)
	buyer := c.obtainToken("alice", "alice@example.com", nil)
	processor := c.obtainToken("psp", "psp@example.com",
		[]string{auth.PermPaymentConfirm, auth.PermPaymentFail})

	resp := c.post("/v1/payments", map[string]any{
		"bundle_id": "acme",
		"currency":  "USD",
		"amount":    2999,
	}, bearerHeader(buyer))
	p := decode[payment.Payment](t, resp)

	resp = c.post("/v1/payments/"+p.ID+"/fail", map[string]any{
		"reason": "card declined",
	}, bearerHeader(processor))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("fail status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.post("/v1/payments/"+p.ID+"/confirm", nil, bearerHeader(processor))
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("confirm of failed payment = %d, want 409", resp.StatusCode)
	}
	resp.Body.Close()

	if c.hasAccess(buyer, "acme") {
		t.Fatal("failed payment produced a grant")
	}
}

func TestUnknownAndUnauthorizedListingsIndistinguishable(t *testing.T) {
	c := newTestAPI(t)
	buyer := c.obtainToken("alice", "alice@example.com", nil)

	readListing := func(bundleID string) (int, documentsResponse) {
		resp := c.get("/v1/bundles/"+bundleID+"/documents", nil, bearerHeader(buyer))
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("listing %s status = %d", bundleID, resp.StatusCode)
		}
		return resp.StatusCode, decode[documentsResponse](t, resp)
	}

	unauthorizedStatus, unauthorized := readListing("acme")
	unknownStatus, unknown := readListing("no-such-bundle")

	if unauthorizedStatus != unknownStatus {
		t.Fatal("unauthorized and unknown bundle listings differ by status")
	}
	if len(unauthorized.Items) != 0 || len(unknown.Items) != 0 {
		t.Fatal("both listings must be empty")
	}
}

func TestUnknownDocumentIs404(t *testing.T) {
	c := newTestAPI(t)
	buyer := c.obtainToken("alice", "alice@example.com", nil)

	resp := c.get("/v1/documents/no-such-doc", nil, bearerHeader(buyer))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown document status = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestGrantOverrideAndRevoke(t *testing.T) {
	c := newTestAPI(t)
	buyer := c.obtainToken("bob", "bob@example.com", nil)
	admin := c.obtainToken("admin", "admin@example.com",
		[]string{auth.PermGrantOverride, auth.PermGrantRevoke})

	resp := c.post("/v1/grants", map[string]any{
		"principal_id": "bob",
		"bundle_id":    "acme",
	}, bearerHeader(admin))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("override grant status = %d, want 201", resp.StatusCode)
	}
	g := decode[entitlement.Grant](t, resp)
	if !g.Override {
		t.Fatal("override grant not marked as override")
	}

	if !c.hasAccess(buyer, "acme") {
		t.Fatal("override grant did not authorize access immediately")
	}

	del := c.do(http.MethodDelete, "/v1/grants/bob/acme", nil, bearerHeader(admin))
	if del.StatusCode != http.StatusNoContent {
		t.Fatalf("revoke status = %d, want 204", del.StatusCode)
	}
	del.Body.Close()

	// Revocation invalidates the decision cache on this node immediately.
	if c.hasAccess(buyer, "acme") {
		t.Fatal("access survived revocation")
	}

	// Non-admin cannot grant.
	resp = c.post("/v1/grants", map[string]any{
		"principal_id": "bob",
		"bundle_id":    "acme",
	}, bearerHeader(buyer))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("non-admin override status = %d, want 403", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestPaycodeDeterministic(t *testing.T) {
	c := newTestAPI(t)
	buyer := c.obtainToken("alice", "alice@example.com", nil)

	first := c.post("/v1/bundles/acme/paycode", nil, bearerHeader(buyer))
	if first.StatusCode != http.StatusOK {
		t.Fatalf("paycode status = %d", first.StatusCode)
	}
	one := decode[paycodeResponse](t, first)
	two := decode[paycodeResponse](t, c.post("/v1/bundles/acme/paycode", nil, bearerHeader(buyer)))

	if one.Text != two.Text {
		t.Fatal("paycode is not deterministic for the same principal and bundle")
	}
	if one.Size != 7 || len(one.Rows) != 7 {
		t.Fatalf("paycode grid = %dx%d, want 7x7", one.Size, len(one.Rows))
	}

	resp := c.post("/v1/bundles/no-such-bundle/paycode", nil, bearerHeader(buyer))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("paycode for unknown bundle = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestViewerSessionOverHTTP(t *testing.T) {
	c := newTestAPI(t)
	buyer := c.obtainToken("alice", "alice@example.com", nil)
	admin := c.obtainToken("admin", "admin@example.com", []string{auth.PermGrantOverride})

	resp := c.post("/v1/grants", map[string]any{
		"principal_id": "alice",
		"bundle_id":    "acme",
	}, bearerHeader(admin))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("grant status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.post("/v1/viewer/sessions", map[string]any{
		"document_id": "acme-interview-guide",
	}, bearerHeader(buyer))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("open session status = %d, want 201", resp.StatusCode)
	}
	session := decode[sessionView](t, resp)
	if session.State != "protected" {
		t.Fatalf("new session state = %q, want protected", session.State)
	}
	if session.Watermark.Text == "" {
		t.Fatal("new session carries no watermark")
	}

	eventsPath := "/v1/viewer/sessions/" + session.SessionID + "/events"

	blocked := decode[sessionView](t, c.post(eventsPath, map[string]any{
		"type": "context_menu",
	}, bearerHeader(buyer)))
	if blocked.Suppressed == nil || !*blocked.Suppressed {
		t.Fatal("context menu not suppressed while protected")
	}

	toggled := decode[sessionView](t, c.post(eventsPath, map[string]any{
		"type": "toggle",
	}, bearerHeader(buyer)))
	if toggled.State != "unprotected" {
		t.Fatalf("state after toggle = %q, want unprotected", toggled.State)
	}

	open := decode[sessionView](t, c.post(eventsPath, map[string]any{
		"type": "key", "key": "p", "ctrl": true,
	}, bearerHeader(buyer)))
	if open.Suppressed == nil || *open.Suppressed {
		t.Fatal("key intercepted while unprotected")
	}

	// Another principal cannot reach the session.
	other := c.obtainToken("mallory", "mallory@example.com", nil)
	resp = c.post(eventsPath, map[string]any{"type": "toggle"}, bearerHeader(other))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("foreign session access = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()

	del := c.do(http.MethodDelete, "/v1/viewer/sessions/"+session.SessionID, nil, bearerHeader(buyer))
	if del.StatusCode != http.StatusNoContent {
		t.Fatalf("close session status = %d, want 204", del.StatusCode)
	}
	del.Body.Close()

	resp = c.post(eventsPath, map[string]any{"type": "toggle"}, bearerHeader(buyer))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("event after close = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAuthenticationRequired(t *testing.T) {
	c := newTestAPI(t)

	resp := c.get("/v1/bundles/acme/access", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.get("/v1/bundles/acme/access", nil, bearerHeader("not-a-token"))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token status = %d, want 401", resp.StatusCode)
	}
	resp.Body.Close()

	// Health endpoints stay public.
	resp = c.get("/healthz", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestTokenRequestValidation(t *testing.T) {
	c := newTestAPI(t)

	resp := c.post("/v1/auth/token", map[string]any{
		"principal_id": "alice",
		"email":        "no-at-sign",
	}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid email status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.post("/v1/auth/token", map[string]any{
		"email": "alice@example.com",
	}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing principal status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestRecordPaymentValidation(t *testing.T) {
	c := newTestAPI(t)
	buyer := c.obtainToken("alice", "alice@example.com", nil)

	cases := []map[string]any{
		{"bundle_id": "acme", "currency": "USD", "amount": 0},
		{"bundle_id": "acme", "currency": "", "amount": 100},
		{"bundle_id": "", "currency": "USD", "amount": 100},
		{"bundle_id": "no-such-bundle", "currency": "USD", "amount": 100},
	}
	for i, body := range cases {
		resp := c.post("/v1/payments", body, bearerHeader(buyer))
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("case %d: status = %d, want 400", i, resp.StatusCode)
		}
		resp.Body.Close()
	}
}
