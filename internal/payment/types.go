package payment

import (
	"errors"
	"time"

	"docvault.org/internal/money"
)

// Status is the payment lifecycle state. Records move pending -> completed or
// pending -> failed exactly once.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Payment is an append-only record of a purchase attempt for a bundle.
type Payment struct {
	ID          string      `json:"id"`
	PrincipalID string      `json:"principal_id"`
	BundleID    string      `json:"bundle_id"`
	Amount      money.Money `json:"amount"`
	Status      Status      `json:"status"`
	Reason      string      `json:"reason,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

var (
	ErrNotFound        = errors.New("payment: not found")
	ErrInvalidAmount   = errors.New("payment: invalid amount (must be > 0)")
	ErrInvalidCurrency = errors.New("payment: invalid currency")
	ErrUnknownBundle   = errors.New("payment: unknown bundle")
	ErrFailedState     = errors.New("payment: record already failed")
	ErrNotPending      = errors.New("payment: record is not pending")
)
