package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-gateway/internal/scrape"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

var _ scrape.JobStore = (*JobStore)(nil)

func TestJobStoreLifecycle(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0).UTC()
	store := NewJobStore(fixedClock{now: now})
	ctx := context.Background()
	job := scrape.Job{ID: "job-1", Status: scrape.JobStatusQueued}

	require.NoError(t, store.CreateJob(ctx, job))
	require.ErrorIs(t, store.CreateJob(ctx, job), ErrJobExists)

	require.NoError(t, store.UpdateJobStatus(ctx, job.ID, scrape.JobStatusRunning, "", scrape.JobCounters{}))
	running, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, now, *running.Started)
	require.Nil(t, running.Finished)

	require.NoError(t, store.RecordPage(ctx, scrape.PageRecord{JobID: job.ID, URL: "https://shop.example.com/p/1"}))
	pages, err := store.ListPages(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, pages, 1)
	pages[0].URL = "modified"
	require.Equal(t, "https://shop.example.com/p/1", store.pages[job.ID][0].URL, "ListPages returns a copy")

	require.NoError(t, store.UpdateJobStatus(ctx, job.ID, scrape.JobStatusSucceeded, "done", scrape.JobCounters{PagesSucceeded: 1}))
	final, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, scrape.JobStatusSucceeded, final.Status)
	require.NotNil(t, final.Started)
	require.NotNil(t, final.Finished)
	require.Equal(t, "done", final.ErrorText)
	require.Equal(t, 1, final.Counters.PagesSucceeded)
}

func TestJobStoreUnknownJob(t *testing.T) {
	t.Parallel()

	store := NewJobStore(nil)
	ctx := context.Background()

	_, err := store.GetJob(ctx, "missing")
	require.ErrorIs(t, err, scrape.ErrJobNotFound)
	require.ErrorIs(t, store.UpdateJobStatus(ctx, "missing", scrape.JobStatusFailed, "", scrape.JobCounters{}), scrape.ErrJobNotFound)
	require.ErrorIs(t, store.RecordPage(ctx, scrape.PageRecord{JobID: "missing"}), scrape.ErrJobNotFound)

	pages, err := store.ListPages(ctx, "missing")
	require.NoError(t, err)
	require.Empty(t, pages)
}
