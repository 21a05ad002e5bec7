// Package main hosts the public catalog API.
//
// The API serves category and product listings from Postgres (or an empty
// in-memory catalog when no DSN is configured) and forwards scrape requests to
// the internal scraper. Every /api route except /api/health sits behind the
// Turnstile gate outside development. Calls to the scraper are HMAC-signed
// with signing.secret against scraper.base_url.
//
// Configure with CATALOG_* environment variables, an optional .env file, or
// -config config.yaml:
//   - CATALOG_SIGNING_SECRET must match the scraper.
//   - CATALOG_TURNSTILE_SECRET_KEY enables bot verification.
//   - CATALOG_DB_DSN points at the catalog database.
//
// Run locally: go run ./cmd/catalogapi -config config.yaml
package main
