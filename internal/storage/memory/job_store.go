// Package memory provides in-process stores for development and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/catalog-gateway/internal/scrape"
)

// ErrJobExists is returned when CreateJob sees a duplicate ID.
var ErrJobExists = errors.New("job already exists")

// JobStore keeps scrape jobs and their page records in maps.
type JobStore struct {
	mu    sync.RWMutex
	clock scrape.Clock
	jobs  map[string]scrape.Job
	pages map[string][]scrape.PageRecord
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }

// NewJobStore constructs a JobStore. A nil clock uses UTC wall time.
func NewJobStore(clock scrape.Clock) *JobStore {
	if clock == nil {
		clock = utcClock{}
	}
	return &JobStore{
		clock: clock,
		jobs:  make(map[string]scrape.Job),
		pages: make(map[string][]scrape.PageRecord),
	}
}

// CreateJob stores a new job.
func (s *JobStore) CreateJob(_ context.Context, job scrape.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("create job %s: %w", job.ID, ErrJobExists)
	}
	s.jobs[job.ID] = job
	return nil
}

// UpdateJobStatus updates the status and counters for a job, stamping the
// start and finish times on the relevant transitions.
func (s *JobStore) UpdateJobStatus(
	_ context.Context,
	jobID string,
	status scrape.JobStatus,
	errText string,
	counters scrape.JobCounters,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("update job %s: %w", jobID, scrape.ErrJobNotFound)
	}
	job.Status = status
	job.ErrorText = errText
	job.Counters = counters
	now := s.clock.Now()
	if status == scrape.JobStatusRunning && job.Started == nil {
		job.Started = &now
	}
	if status.Terminal() {
		job.Finished = &now
	}
	s.jobs[jobID] = job
	return nil
}

// RecordPage appends a page row for a job.
func (s *JobStore) RecordPage(_ context.Context, page scrape.PageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[page.JobID]; !ok {
		return fmt.Errorf("record page for %s: %w", page.JobID, scrape.ErrJobNotFound)
	}
	s.pages[page.JobID] = append(s.pages[page.JobID], page)
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (scrape.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return scrape.Job{}, scrape.ErrJobNotFound
	}
	return job, nil
}

// ListPages returns a copy of the recorded pages for a job.
func (s *JobStore) ListPages(_ context.Context, jobID string) ([]scrape.PageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pages := s.pages[jobID]
	out := make([]scrape.PageRecord, len(pages))
	copy(out, pages)
	return out, nil
}
