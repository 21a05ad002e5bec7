package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/JakeFAU/catalog-gateway/internal/scrape"
)

// DefaultPageTable receives one row per stored page.
const DefaultPageTable = "scraped_pages"

// PageStore writes scraped page rows into Postgres for downstream parsing.
type PageStore struct {
	db    DB
	table string
}

// NewPageStore wraps db. An empty table uses DefaultPageTable.
func NewPageStore(db DB, table string) (*PageStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = DefaultPageTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &PageStore{db: db, table: table}, nil
}

// StorePage inserts a page row.
func (s *PageStore) StorePage(ctx context.Context, page scrape.PageRecord) error {
	if page.JobID == "" {
		return fmt.Errorf("page job id is required")
	}
	headersJSON, err := json.Marshal(normalizeHeaders(page.Headers))
	if err != nil {
		return fmt.Errorf("marshal headers: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	job_id,
	url,
	category_slug,
	status_code,
	fetched_at,
	duration_ms,
	content_hash,
	content_type,
	headers,
	blob_uri
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)`, s.table)

	args := []any{
		page.JobID,
		page.URL,
		page.CategorySlug,
		page.StatusCode,
		page.FetchedAt,
		page.DurationMs,
		page.ContentHash,
		page.ContentType,
		headersJSON,
		page.BlobURI,
	}
	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert page: %w", err)
	}
	return nil
}

func normalizeHeaders(h http.Header) map[string][]string {
	if len(h) == 0 {
		return map[string][]string{}
	}
	out := make(map[string][]string, len(h))
	for k, values := range h {
		out[k] = append([]string(nil), values...)
	}
	return out
}
