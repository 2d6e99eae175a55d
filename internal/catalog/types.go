package catalog

import (
	"errors"
	"time"

	"docvault.org/internal/money"
)

// Bundle is a purchasable grouping of documents (a company in the product UI).
// DocumentCount is derived from the documents that reference the bundle.
type Bundle struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Description   string      `json:"description,omitempty"`
	Price         money.Money `json:"price"`
	DocumentCount int         `json:"document_count"`
	CreatedAt     time.Time   `json:"created_at"`
}

// Document belongs to exactly one bundle. ContentKey is the storage handle the
// rendering collaborator resolves; it never leaves the service unsigned.
type Document struct {
	ID          string    `json:"id"`
	BundleID    string    `json:"bundle_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	ContentKey  string    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

var ErrNotFound = errors.New("catalog: not found")
