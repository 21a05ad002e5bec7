// Package api hosts the public catalog HTTP server. Notable routes:
//   - GET /health and /api/health for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /api/categories, /api/products and /api/products/{product_id} for the catalog.
//   - POST /api/scrape and GET /api/scrape/{job_id}, forwarded to the scraper
//     service as signed requests.
//
// Everything below /api sits behind the Turnstile gate.
package api
