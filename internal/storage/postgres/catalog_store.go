package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/catalog-gateway/internal/catalog"
)

const (
	categoryColumns = `id::text, slug, name, COALESCE(parent_id::text, ''), position`
	productColumns  = `p.id::text, p.category_id::text, p.title, p.url, COALESCE(p.image_url, ''),
	p.price_cents, p.currency, p.scraped_at, COALESCE(p.attributes, '{}'::jsonb)`
)

// CatalogStore reads categories and products from Postgres.
type CatalogStore struct {
	db DB
}

// NewCatalogStore wraps db.
func NewCatalogStore(db DB) *CatalogStore {
	return &CatalogStore{db: db}
}

// ListCategories returns all categories in navigation order.
func (s *CatalogStore) ListCategories(ctx context.Context) ([]catalog.Category, error) {
	rows, err := s.db.Query(ctx, `SELECT `+categoryColumns+` FROM categories ORDER BY position, name`)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer rows.Close()

	out := []catalog.Category{}
	for rows.Next() {
		var c catalog.Category
		if err := rows.Scan(&c.ID, &c.Slug, &c.Name, &c.ParentID, &c.Position); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate categories: %w", err)
	}
	return out, nil
}

// ListProducts returns one page of products, newest scrape first. A non-empty
// category slug that matches no category yields catalog.ErrNotFound.
func (s *CatalogStore) ListProducts(ctx context.Context, q catalog.ProductQuery) (catalog.ProductPage, error) {
	q = q.Normalize()
	page := catalog.ProductPage{Items: []catalog.Product{}, Page: q.Page, PageSize: q.PageSize}

	var categoryID *string
	if q.CategorySlug != "" {
		var id string
		err := s.db.QueryRow(ctx, `SELECT id::text FROM categories WHERE slug = $1`, q.CategorySlug).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			return catalog.ProductPage{}, fmt.Errorf("category %q: %w", q.CategorySlug, catalog.ErrNotFound)
		}
		if err != nil {
			return catalog.ProductPage{}, fmt.Errorf("lookup category: %w", err)
		}
		categoryID = &id
	}

	if err := s.db.QueryRow(ctx,
		`SELECT count(*) FROM products p WHERE ($1::uuid IS NULL OR p.category_id = $1::uuid)`,
		categoryID,
	).Scan(&page.Total); err != nil {
		return catalog.ProductPage{}, fmt.Errorf("count products: %w", err)
	}
	if page.Total == 0 || q.Offset() >= page.Total {
		return page, nil
	}

	rows, err := s.db.Query(ctx, `SELECT `+productColumns+` FROM products p
	WHERE ($1::uuid IS NULL OR p.category_id = $1::uuid)
	ORDER BY p.scraped_at DESC, p.id
	LIMIT $2 OFFSET $3`, categoryID, q.PageSize, q.Offset())
	if err != nil {
		return catalog.ProductPage{}, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return catalog.ProductPage{}, err
		}
		page.Items = append(page.Items, p)
	}
	if err := rows.Err(); err != nil {
		return catalog.ProductPage{}, fmt.Errorf("iterate products: %w", err)
	}
	return page, nil
}

// GetProduct fetches one product by ID.
func (s *CatalogStore) GetProduct(ctx context.Context, id string) (catalog.Product, error) {
	row := s.db.QueryRow(ctx, `SELECT `+productColumns+` FROM products p WHERE p.id::text = $1`, id)
	p, err := scanProduct(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.Product{}, fmt.Errorf("product %q: %w", id, catalog.ErrNotFound)
	}
	return p, err
}

func scanProduct(row pgx.Row) (catalog.Product, error) {
	var (
		p     catalog.Product
		attrs []byte
	)
	err := row.Scan(&p.ID, &p.CategoryID, &p.Title, &p.URL, &p.ImageURL,
		&p.PriceCents, &p.Currency, &p.ScrapedAt, &attrs)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.Product{}, err
	}
	if err != nil {
		return catalog.Product{}, fmt.Errorf("scan product: %w", err)
	}
	if len(attrs) > 0 {
		p.Attributes = json.RawMessage(attrs)
	}
	return p, nil
}
