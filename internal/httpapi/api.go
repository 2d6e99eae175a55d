// Package httpapi is the HTTP layer: routing, authentication, error mapping
// and the middleware chain. Handlers stay thin and delegate to the domain
// services.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"docvault.org/internal/catalog"
	"docvault.org/internal/docs"
	"docvault.org/internal/entitlement"
	"docvault.org/internal/obs"
	"docvault.org/internal/payment"
	"docvault.org/internal/store/pg"
	"docvault.org/internal/stream"
)

// ReadyProbe reports readiness; with a database configured it pings it.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Deps are the domain collaborators the API serves.
type Deps struct {
	Payments payment.Service
	Catalog  catalog.Store
	Grants   entitlement.Store
	Decision *entitlement.Decision
	Gateway  *docs.Gateway
	Notices  *stream.Stream
}

// API is the HTTP layer over the document access services.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	payments payment.Service
	catalog  catalog.Store
	grants   entitlement.Store
	decision *entitlement.Decision
	gateway  *docs.Gateway
	notices  *stream.Stream

	sessions *sessionRegistry

	rateBurst    int
	ratePerSec   int
	maxBodyBytes int64
}

func New(rp ReadyProbe, version string, deps Deps) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,

		payments: deps.Payments,
		catalog:  deps.Catalog,
		grants:   deps.Grants,
		decision: deps.Decision,
		gateway:  deps.Gateway,
		notices:  deps.Notices,

		sessions: newSessionRegistry(),

		rateBurst:    20,
		ratePerSec:   10,
		maxBodyBytes: 1 << 20,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)

	a.mux.HandleFunc("/v1/payments", a.handlePaymentsCollection)
	a.mux.HandleFunc("/v1/payments/", a.handlePaymentResource)
	a.mux.HandleFunc("/v1/bundles", a.handleBundlesCollection)
	a.mux.HandleFunc("/v1/bundles/", a.handleBundleResource)
	a.mux.HandleFunc("/v1/documents/", a.handleDocumentResource)
	a.mux.HandleFunc("/v1/grants", a.handleGrantsCollection)
	a.mux.HandleFunc("/v1/grants/", a.handleGrantResource)
	a.mux.HandleFunc("/v1/viewer/sessions", a.handleSessionsCollection)
	a.mux.HandleFunc("/v1/viewer/sessions/", a.handleSessionResource)
	a.mux.HandleFunc("/v1/viewer/stream", a.Stream)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	h := a.withAuth(a.mux)
	h = MaxBodyBytes(h, a.maxBodyBytes)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = RequestID(h)
	h = Logging(h)
	return obs.Instrument(h)
}

// --- health handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "docvault-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "docvault-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeErrorHint(w, r, code, msg, "")
}

func writeErrorHint(w http.ResponseWriter, r *http.Request, code int, msg, hint string) {
	payload := map[string]any{
		"error": msg,
	}
	if hint != "" {
		payload["hint"] = hint
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// purchaseHint is shown with every permission-denied document response; the
// client renders it as the "Access Required" purchase prompt.
const purchaseHint = "Access Required: purchase this bundle to read its documents"

// handleDomainError maps domain sentinel errors onto HTTP statuses. Denied
// access is a steady-state outcome and carries the purchase hint.
func handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, payment.ErrInvalidAmount),
		errors.Is(err, payment.ErrInvalidCurrency),
		errors.Is(err, payment.ErrUnknownBundle):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, payment.ErrNotFound),
		errors.Is(err, catalog.ErrNotFound),
		errors.Is(err, entitlement.ErrNotFound),
		errors.Is(err, docs.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, payment.ErrFailedState),
		errors.Is(err, payment.ErrNotPending):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, docs.ErrPermissionDenied):
		writeErrorHint(w, r, http.StatusForbidden, err.Error(), purchaseHint)
	case errors.Is(err, pg.ErrUnavailable):
		writeError(w, r, http.StatusServiceUnavailable, "storage unavailable, retry later")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
