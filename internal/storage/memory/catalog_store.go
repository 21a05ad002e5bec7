package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/catalog-gateway/internal/catalog"
)

// CatalogStore serves a fixed catalog from memory. It backs local runs
// without a database.
type CatalogStore struct {
	mu         sync.RWMutex
	categories []catalog.Category
	products   map[string]catalog.Product
	order      []string
}

// NewCatalogStore seeds a store. Products keep their given order in listings.
func NewCatalogStore(categories []catalog.Category, products []catalog.Product) *CatalogStore {
	s := &CatalogStore{
		categories: append([]catalog.Category(nil), categories...),
		products:   make(map[string]catalog.Product, len(products)),
	}
	sort.SliceStable(s.categories, func(i, j int) bool {
		return s.categories[i].Position < s.categories[j].Position
	})
	for _, p := range products {
		if _, dup := s.products[p.ID]; !dup {
			s.order = append(s.order, p.ID)
		}
		s.products[p.ID] = p
	}
	return s
}

// Upsert adds or replaces a product.
func (s *CatalogStore) Upsert(p catalog.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[p.ID]; !ok {
		s.order = append(s.order, p.ID)
	}
	s.products[p.ID] = p
}

// ListCategories returns categories ordered by position.
func (s *CatalogStore) ListCategories(_ context.Context) ([]catalog.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append(make([]catalog.Category, 0, len(s.categories)), s.categories...), nil
}

// ListProducts pages through products, optionally within one category.
func (s *CatalogStore) ListProducts(_ context.Context, q catalog.ProductQuery) (catalog.ProductPage, error) {
	q = q.Normalize()
	s.mu.RLock()
	defer s.mu.RUnlock()

	categoryID := ""
	if q.CategorySlug != "" {
		for _, c := range s.categories {
			if c.Slug == q.CategorySlug {
				categoryID = c.ID
				break
			}
		}
		if categoryID == "" {
			return catalog.ProductPage{}, fmt.Errorf("category %q: %w", q.CategorySlug, catalog.ErrNotFound)
		}
	}

	matched := make([]catalog.Product, 0, len(s.order))
	for _, id := range s.order {
		p := s.products[id]
		if categoryID != "" && p.CategoryID != categoryID {
			continue
		}
		matched = append(matched, p)
	}

	page := catalog.ProductPage{Items: []catalog.Product{}, Page: q.Page, PageSize: q.PageSize, Total: len(matched)}
	start := q.Offset()
	if start >= len(matched) {
		return page, nil
	}
	end := start + q.PageSize
	if end > len(matched) {
		end = len(matched)
	}
	page.Items = append(page.Items, matched[start:end]...)
	return page, nil
}

// GetProduct returns one product.
func (s *CatalogStore) GetProduct(_ context.Context, id string) (catalog.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return catalog.Product{}, fmt.Errorf("product %q: %w", id, catalog.ErrNotFound)
	}
	return p, nil
}
