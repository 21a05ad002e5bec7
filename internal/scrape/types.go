// Package scrape defines the scrape job model and the ports the scraper
// service is assembled from.
package scrape

import (
	"errors"
	"net/http"
	"time"
)

// ErrJobNotFound is returned by JobStore lookups for unknown IDs.
var ErrJobNotFound = errors.New("job not found")

// ErrQueueClosed is returned by queues that no longer accept or yield items.
var ErrQueueClosed = errors.New("queue closed")

// JobStatus represents the lifecycle state of a scrape job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// Terminal reports whether no further transitions happen from s.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCanceled:
		return true
	default:
		return false
	}
}

// JobParameters is the body of a scrape request.
type JobParameters struct {
	URLs         []string          `json:"urls" validate:"required,min=1,max=50,dive,required,http_url"`
	CategorySlug string            `json:"category,omitempty" validate:"omitempty,max=64"`
	Tags         map[string]string `json:"tags,omitempty" validate:"omitempty,max=16"`
}

// Job is the metadata persisted for each accepted scrape request.
type Job struct {
	ID         string        `json:"id"`
	Status     JobStatus     `json:"status"`
	Submitted  time.Time     `json:"submitted_at"`
	Started    *time.Time    `json:"started_at,omitempty"`
	Finished   *time.Time    `json:"finished_at,omitempty"`
	ErrorText  string        `json:"error_text,omitempty"`
	Parameters JobParameters `json:"parameters"`
	Counters   JobCounters   `json:"counters"`
}

// JobCounters tracks per-job page outcomes.
type JobCounters struct {
	PagesSucceeded int `json:"pages_succeeded"`
	PagesFailed    int `json:"pages_failed"`
	PagesSkipped   int `json:"pages_skipped"`
}

// PageRecord is persisted for each fetched product page.
type PageRecord struct {
	JobID        string      `json:"job_id"`
	URL          string      `json:"url"`
	CategorySlug string      `json:"category,omitempty"`
	StatusCode   int         `json:"status_code"`
	FetchedAt    time.Time   `json:"fetched_at"`
	DurationMs   int64       `json:"duration_ms"`
	ContentHash  string      `json:"content_hash"`
	ContentType  string      `json:"content_type,omitempty"`
	Headers      http.Header `json:"headers,omitempty"`
	BlobURI      string      `json:"blob_uri"`
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	JobID   string
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// JobResult is returned by the job status endpoint.
type JobResult struct {
	Job   Job          `json:"job"`
	Pages []PageRecord `json:"pages"`
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string
	Params    JobParameters
	Attempt   int
	Submitted int64
}

// CompletionEvent is published once per stored page.
type CompletionEvent struct {
	JobID       string `json:"job_id"`
	URL         string `json:"url"`
	Category    string `json:"category,omitempty"`
	BlobURI     string `json:"blob_uri"`
	ContentHash string `json:"hash"`
	StatusCode  int    `json:"status"`
	Timestamp   string `json:"timestamp"`
}

// Attributes exposes routing attributes for message brokers.
func (e CompletionEvent) Attributes() map[string]string {
	attrs := map[string]string{"job_id": e.JobID}
	if e.Category != "" {
		attrs["category"] = e.Category
	}
	return attrs
}
