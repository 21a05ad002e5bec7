// Package catalog defines the product catalog read model served by the public API.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a product or category does not exist.
var ErrNotFound = errors.New("not found")

// Page size bounds for product listings.
const (
	DefaultPageSize = 24
	MaxPageSize     = 100
)

// Category is a navigation node. Root categories have an empty ParentID.
type Category struct {
	ID       string `json:"id"`
	Slug     string `json:"slug"`
	Name     string `json:"name"`
	ParentID string `json:"parent_id,omitempty"`
	Position int    `json:"position"`
}

// Product is the latest scraped state of one product page.
type Product struct {
	ID         string          `json:"id"`
	CategoryID string          `json:"category_id"`
	Title      string          `json:"title"`
	URL        string          `json:"url"`
	ImageURL   string          `json:"image_url,omitempty"`
	PriceCents int64           `json:"price_cents"`
	Currency   string          `json:"currency"`
	ScrapedAt  time.Time       `json:"scraped_at"`
	Attributes json.RawMessage `json:"attributes,omitempty"`
}

// ProductQuery filters and paginates a product listing.
type ProductQuery struct {
	CategorySlug string
	Page         int
	PageSize     int
}

// Normalize clamps the page to at least 1 and the page size to 1..MaxPageSize,
// with DefaultPageSize for an unset size.
func (q ProductQuery) Normalize() ProductQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	switch {
	case q.PageSize <= 0:
		q.PageSize = DefaultPageSize
	case q.PageSize > MaxPageSize:
		q.PageSize = MaxPageSize
	}
	return q
}

// Offset returns the row offset of the normalized query.
func (q ProductQuery) Offset() int {
	n := q.Normalize()
	return (n.Page - 1) * n.PageSize
}

// ProductPage is one page of a listing.
type ProductPage struct {
	Items    []Product `json:"items"`
	Page     int       `json:"page"`
	PageSize int       `json:"page_size"`
	Total    int       `json:"total"`
}

// Store reads the catalog.
type Store interface {
	ListCategories(ctx context.Context) ([]Category, error)
	ListProducts(ctx context.Context, q ProductQuery) (ProductPage, error)
	GetProduct(ctx context.Context, id string) (Product, error)
}
