package catalog

import (
	"context"
	"sort"
	"sync"
	"time"

	"docvault.org/internal/ids"
	"docvault.org/internal/money"
)

// Store supplies bundle and document existence data. The payment ledger checks
// bundles against it before recording and the document gateway resolves
// documents through it.
type Store interface {
	FindBundle(ctx context.Context, id string) (Bundle, error)
	ListBundles(ctx context.Context) ([]Bundle, error)
	FindDocument(ctx context.Context, id string) (Document, error)
	ListDocuments(ctx context.Context, bundleID string) ([]Document, error)
}

// InMemory implements Store with in-process concurrency safety.
type InMemory struct {
	mu      sync.RWMutex
	bundles map[string]Bundle
	docs    map[string]Document
}

// NewInMemory creates an empty catalog.
func NewInMemory() *InMemory {
	return &InMemory{
		bundles: make(map[string]Bundle),
		docs:    make(map[string]Document),
	}
}

// AddBundle registers a bundle. An empty id gets a generated one.
func (s *InMemory) AddBundle(b Bundle) Bundle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.ID == "" {
		b.ID = ids.New()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	s.bundles[b.ID] = b
	return b
}

// AddDocument registers a document under an existing bundle.
func (s *InMemory) AddDocument(d Document) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bundles[d.BundleID]; !ok {
		return Document{}, ErrNotFound
	}
	if d.ID == "" {
		d.ID = ids.New()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	s.docs[d.ID] = d
	return d, nil
}

func (s *InMemory) FindBundle(ctx context.Context, id string) (Bundle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bundles[id]
	if !ok {
		return Bundle{}, ErrNotFound
	}
	b.DocumentCount = s.countDocs(id)
	return b, nil
}

func (s *InMemory) ListBundles(ctx context.Context) ([]Bundle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]Bundle, 0, len(s.bundles))
	for id, b := range s.bundles {
		b.DocumentCount = s.countDocs(id)
		res = append(res, b)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (s *InMemory) FindDocument(ctx context.Context, id string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return d, nil
}

func (s *InMemory) ListDocuments(ctx context.Context, bundleID string) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.bundles[bundleID]; !ok {
		return nil, ErrNotFound
	}
	var res []Document
	for _, d := range s.docs {
		if d.BundleID == bundleID {
			res = append(res, d)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

// countDocs assumes the read lock is held.
func (s *InMemory) countDocs(bundleID string) int {
	n := 0
	for _, d := range s.docs {
		if d.BundleID == bundleID {
			n++
		}
	}
	return n
}

// Fixture seeds a small demo catalog used by local development and the smoke
// tool.
func Fixture() *InMemory {
	s := NewInMemory()
	acme := s.AddBundle(Bundle{
		ID:          "acme",
		Name:        "Acme Industries",
		Description: "Assessment questions for Acme Industries.",
		Price:       money.Money{Currency: "USD", Amount: 2999},
	})
	globex := s.AddBundle(Bundle{
		ID:          "globex",
		Name:        "Globex Corporation",
		Description: "Assessment questions for Globex Corporation.",
		Price:       money.Money{Currency: "USD", Amount: 4999},
	})
	_, _ = s.AddDocument(Document{
		ID:          "acme-interview-guide",
		BundleID:    acme.ID,
		Title:       "Interview Guide",
		Description: "Structured interview rounds and expectations.",
		ContentKey:  "drive/acme/interview-guide",
	})
	_, _ = s.AddDocument(Document{
		ID:          "acme-system-design",
		BundleID:    acme.ID,
		Title:       "System Design Questions",
		Description: "Past system design prompts with grading notes.",
		ContentKey:  "drive/acme/system-design",
	})
	_, _ = s.AddDocument(Document{
		ID:          "globex-screening",
		BundleID:    globex.ID,
		Title:       "Screening Questions",
		Description: "Phone screen question bank.",
		ContentKey:  "drive/globex/screening",
	})
	return s
}
