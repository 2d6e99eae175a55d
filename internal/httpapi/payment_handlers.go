package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"docvault.org/internal/audit"
	"docvault.org/internal/auth"
	"docvault.org/internal/money"
	"docvault.org/internal/obs"
)

type recordPaymentRequest struct {
	BundleID string `json:"bundle_id"`
	Currency string `json:"currency"`
	Amount   int64  `json:"amount"`
}

type failPaymentRequest struct {
	Reason string `json:"reason"`
}

func (a *API) handlePaymentsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.recordPayment(w, r)
	case http.MethodGet:
		a.listPayments(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodGet)
	}
}

func (a *API) handlePaymentResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/payments/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if id, ok := strings.CutSuffix(path, "/confirm"); ok {
		a.confirmPayment(w, r, strings.TrimSuffix(id, "/"))
		return
	}
	if id, ok := strings.CutSuffix(path, "/fail"); ok {
		a.failPayment(w, r, strings.TrimSuffix(id, "/"))
		return
	}
	if strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.getPayment(w, r, path)
	default:
		methodNotAllowed(w, r, http.MethodGet)
	}
}

func (a *API) recordPayment(w http.ResponseWriter, r *http.Request) {
	principal, err := a.requirePrincipal(r.Context())
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	var req recordPaymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	bundleID := strings.TrimSpace(req.BundleID)
	if bundleID == "" {
		writeError(w, r, http.StatusBadRequest, "bundle_id is required")
		return
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		writeError(w, r, http.StatusBadRequest, "currency is required")
		return
	}
	if len(currency) > 8 {
		writeError(w, r, http.StatusBadRequest, "currency code too long")
		return
	}
	if req.Amount <= 0 {
		writeError(w, r, http.StatusBadRequest, "amount must be > 0")
		return
	}

	p, err := a.payments.Record(r.Context(), principal.ID, bundleID, money.Money{
		Currency: currency,
		Amount:   req.Amount,
	})
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "payment.recorded", map[string]any{
		"payment_id": p.ID,
		"bundle_id":  bundleID,
		"currency":   currency,
		"amount":     strconv.FormatInt(req.Amount, 10),
	})

	w.Header().Set("Location", "/v1/payments/"+p.ID)
	writeJSON(w, http.StatusCreated, p)
}

// confirmPayment is the processor callback. Replaying a confirmation returns
// the stored record and never creates a second grant.
func (a *API) confirmPayment(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if err := a.requirePermission(r.Context(), auth.PermPaymentConfirm); err != nil {
		writeError(w, r, http.StatusForbidden, "payment.confirm permission required")
		return
	}

	start := time.Now().UTC()
	p, err := a.payments.Confirm(r.Context(), id)
	if err != nil {
		obs.CountPaymentConfirmation("rejected")
		handleDomainError(w, r, err)
		return
	}

	event := "payment.confirmed"
	result := "completed"
	if !p.UpdatedAt.After(start) {
		event = "payment.confirm.idempotent_replay"
		result = "replayed"
	}
	obs.CountPaymentConfirmation(result)
	_ = audit.LogEvent(r.Context(), event, map[string]any{
		"payment_id":   p.ID,
		"principal_id": p.PrincipalID,
		"bundle_id":    p.BundleID,
	})

	writeJSON(w, http.StatusOK, p)
}

func (a *API) failPayment(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if err := a.requirePermission(r.Context(), auth.PermPaymentFail); err != nil {
		writeError(w, r, http.StatusForbidden, "payment.fail permission required")
		return
	}

	var req failPaymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		writeError(w, r, http.StatusBadRequest, "reason is required")
		return
	}

	p, err := a.payments.Fail(r.Context(), id, reason)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "payment.failed", map[string]any{
		"payment_id": p.ID,
		"bundle_id":  p.BundleID,
		"reason":     reason,
	})

	writeJSON(w, http.StatusOK, p)
}

func (a *API) getPayment(w http.ResponseWriter, r *http.Request, id string) {
	principal, err := a.requirePrincipal(r.Context())
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	p, err := a.payments.Get(r.Context(), id)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	// Processors see everything; buyers only their own records.
	if p.PrincipalID != principal.ID && !principal.HasPermission(auth.PermPaymentConfirm) {
		writeError(w, r, http.StatusNotFound, "payment: not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) listPayments(w http.ResponseWriter, r *http.Request) {
	principal, err := a.requirePrincipal(r.Context())
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	items, err := a.payments.ListByPrincipal(r.Context(), principal.ID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"as_of": time.Now().UTC(),
	})
}
