package docs

import (
	"context"
	"errors"
	"time"

	"docvault.org/internal/catalog"
	"docvault.org/internal/entitlement"
)

var (
	ErrNotFound         = errors.New("docs: not found")
	ErrPermissionDenied = errors.New("docs: permission denied")
)

// Descriptor is what callers see of a document. ContentRef is populated only
// on single-document resolution and is a short-lived signed reference, never a
// raw URL.
type Descriptor struct {
	ID          string `json:"id"`
	BundleID    string `json:"bundle_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	ContentRef  string `json:"content_ref,omitempty"`
}

// AccessDecider is the authorization read path the gateway consults before
// resolving anything.
type AccessDecider interface {
	HasAccess(ctx context.Context, principalID, bundleID string, now time.Time) (entitlement.Access, error)
}

// Gateway resolves document metadata, gating every resolution on the access
// decision.
type Gateway struct {
	catalog catalog.Store
	access  AccessDecider
	signer  *RefSigner
	now     func() time.Time
}

// NewGateway wires the gateway to its collaborators.
func NewGateway(cat catalog.Store, access AccessDecider, signer *RefSigner) *Gateway {
	return &Gateway{
		catalog: cat,
		access:  access,
		signer:  signer,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// ListDocuments returns the descriptors of a bundle the principal may read.
// Unauthorized principals and unknown bundles both get an empty sequence; the
// two cases are deliberately indistinguishable so the listing cannot be used
// to enumerate bundles.
func (g *Gateway) ListDocuments(ctx context.Context, principalID, bundleID string) ([]Descriptor, error) {
	access, err := g.access.HasAccess(ctx, principalID, bundleID, g.now())
	if err != nil {
		return nil, err
	}
	if !access.Granted {
		return []Descriptor{}, nil
	}

	docs, err := g.catalog.ListDocuments(ctx, bundleID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return []Descriptor{}, nil
		}
		return nil, err
	}

	res := make([]Descriptor, 0, len(docs))
	for _, d := range docs {
		res = append(res, Descriptor{
			ID:          d.ID,
			BundleID:    d.BundleID,
			Title:       d.Title,
			Description: d.Description,
		})
	}
	return res, nil
}

// GetDocument resolves a single document for the principal. A valid document
// id without a grant on its owning bundle always fails ErrPermissionDenied,
// never ErrNotFound.
func (g *Gateway) GetDocument(ctx context.Context, principalID, documentID string) (Descriptor, error) {
	doc, err := g.catalog.FindDocument(ctx, documentID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return Descriptor{}, ErrNotFound
		}
		return Descriptor{}, err
	}

	access, err := g.access.HasAccess(ctx, principalID, doc.BundleID, g.now())
	if err != nil {
		return Descriptor{}, err
	}
	if !access.Granted {
		return Descriptor{}, ErrPermissionDenied
	}

	ref, err := g.signer.Sign(doc.ID, principalID, doc.ContentKey)
	if err != nil {
		return Descriptor{}, err
	}
	return Descriptor{
		ID:          doc.ID,
		BundleID:    doc.BundleID,
		Title:       doc.Title,
		Description: doc.Description,
		ContentRef:  ref,
	}, nil
}
