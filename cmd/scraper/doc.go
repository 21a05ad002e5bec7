// Package main hosts the internal scraper service.
//
// Architecture overview:
//   - HTTP: /internal/v1 routes accept only requests signed with the shared
//     secret. Timestamps outside the window and reused nonces are rejected;
//     nonces live in Redis when redis.address is set, otherwise in memory.
//   - Dispatcher and queue: jobs flow through a bounded in-memory queue sized by
//     crawler.queue_depth to a fixed worker pool sized by crawler.concurrency.
//   - Fetch pipeline: workers fetch each URL with Colly behind a per-host rate
//     limiter, retrying transport errors with linear backoff.
//   - Persistence and fanout: bodies go to the configured BlobStore
//     (memory/local/GCS), page rows to Postgres when db.dsn is set, and a
//     completion event to Pub/Sub when a topic is configured.
//
// Run locally: go run ./cmd/scraper -config config.yaml
package main
