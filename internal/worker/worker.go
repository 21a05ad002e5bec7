// Package worker implements the scrape pipeline execution loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-gateway/internal/metrics"
	"github.com/JakeFAU/catalog-gateway/internal/scrape"
)

// Config controls Worker behavior.
type Config struct {
	ContentType string
	BlobPrefix  string
	// Topic is handed to the Publisher as is; it may be empty for local publishers.
	Topic string
	// MaxRetries is the number of extra fetch attempts after a transport error.
	MaxRetries   int
	RetryBackoff time.Duration
	// PageTimeout bounds one fetch attempt; zero leaves it to the fetcher.
	PageTimeout time.Duration
}

// Deps are the ports a Worker drives. Limiter, Publisher and PageSink are optional.
type Deps struct {
	Queue     scrape.Queue
	JobStore  scrape.JobStore
	BlobStore scrape.BlobStore
	Publisher scrape.Publisher
	Fetcher   scrape.Fetcher
	Hasher    scrape.Hasher
	Clock     scrape.Clock
	Limiter   scrape.Limiter
	PageSink  scrape.PageSink
}

// Worker consumes queue items and executes the fetch pipeline.
type Worker struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New constructs a Worker.
func New(deps Deps, cfg Config, logger *zap.Logger) *Worker {
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 250 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{deps: deps, cfg: cfg, logger: logger}
}

// Run blocks, consuming queue items until the context finishes or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.deps.Queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, scrape.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID))
		w.processJob(ctx, item)
	}
}

func (w *Worker) processJob(ctx context.Context, item scrape.QueueItem) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	if w.deps.Fetcher == nil {
		w.logger.Error("no fetcher configured", zap.String("job_id", item.JobID))
		w.finish(ctx, item.JobID, scrape.JobStatusFailed, "no fetcher configured", scrape.JobCounters{})
		return
	}

	counters := scrape.JobCounters{}
	if err := w.deps.JobStore.UpdateJobStatus(ctx, item.JobID, scrape.JobStatusRunning, "", counters); err != nil {
		w.logger.Error("update job status failed", zap.String("job_id", item.JobID), zap.Error(err))
		return
	}

	errText := ""
	for _, url := range item.Params.URLs {
		if ctx.Err() != nil {
			counters.PagesSkipped++
			continue
		}
		if err := w.handleURL(ctx, item, url, &counters); err != nil {
			errText = err.Error()
		}
	}

	status, errText := deriveFinalStatus(ctx, counters, errText)
	w.finish(ctx, item.JobID, status, errText, counters)
}

// finish writes the terminal status. It uses a detached context so a
// shutdown still records why the job stopped.
func (w *Worker) finish(ctx context.Context, jobID string, status scrape.JobStatus, errText string, counters scrape.JobCounters) {
	metrics.ObserveJob(string(status))
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := w.deps.JobStore.UpdateJobStatus(storeCtx, jobID, status, errText, counters); err != nil {
		w.logger.Error("final job status update failed", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	w.logger.Info("job finished",
		zap.String("job_id", jobID),
		zap.String("status", string(status)),
		zap.Int("pages_succeeded", counters.PagesSucceeded),
		zap.Int("pages_failed", counters.PagesFailed),
	)
}

func (w *Worker) buildBlobPath(jobID, hash string) string {
	prefix := strings.Trim(w.cfg.BlobPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.html", jobID, hash)
	}
	return fmt.Sprintf("%s/%s/%s.html", prefix, jobID, hash)
}

func (w *Worker) handleURL(
	ctx context.Context,
	item scrape.QueueItem,
	url string,
	counters *scrape.JobCounters,
) error {
	resp, err := w.fetchWithRetry(ctx, item.JobID, url)
	if err != nil {
		counters.PagesFailed++
		w.logger.Error("fetch failed", zap.String("job_id", item.JobID), zap.String("url", url), zap.Error(err))
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		counters.PagesFailed++
		w.logger.Warn("unexpected page status",
			zap.String("job_id", item.JobID),
			zap.String("url", url),
			zap.Int("status", resp.StatusCode),
		)
		return fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}

	if err := w.persistAndPublish(ctx, item, url, resp); err != nil {
		counters.PagesFailed++
		w.logger.Error("persist page failed", zap.String("job_id", item.JobID), zap.String("url", url), zap.Error(err))
		return err
	}

	counters.PagesSucceeded++
	return nil
}

func (w *Worker) fetchWithRetry(ctx context.Context, jobID, url string) (scrape.FetchResponse, error) {
	var lastErr error
	for attempt := 0; attempt <= w.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return scrape.FetchResponse{}, fmt.Errorf("fetch canceled: %w", ctx.Err())
			case <-time.After(w.cfg.RetryBackoff * time.Duration(attempt)):
			}
		}
		if w.deps.Limiter != nil {
			if err := w.deps.Limiter.Wait(ctx, url); err != nil {
				return scrape.FetchResponse{}, err
			}
		}
		resp, err := w.fetchOnce(ctx, jobID, url)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		w.logger.Debug("fetch attempt failed",
			zap.String("job_id", jobID),
			zap.String("url", url),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	return scrape.FetchResponse{}, lastErr
}

func (w *Worker) fetchOnce(ctx context.Context, jobID, url string) (scrape.FetchResponse, error) {
	pageCtx := ctx
	if w.cfg.PageTimeout > 0 {
		var cancel context.CancelFunc
		pageCtx, cancel = context.WithTimeout(ctx, w.cfg.PageTimeout)
		defer cancel()
	}

	resp, err := w.deps.Fetcher.Fetch(pageCtx, scrape.FetchRequest{JobID: jobID, URL: url})
	if err != nil {
		return scrape.FetchResponse{}, fmt.Errorf("fetch: %w", err)
	}
	return resp, nil
}

func (w *Worker) persistAndPublish(ctx context.Context, item scrape.QueueItem, url string, resp scrape.FetchResponse) error {
	hash, err := w.deps.Hasher.Hash(resp.Body)
	if err != nil {
		return fmt.Errorf("hash body: %w", err)
	}

	contentType := resp.Headers.Get("Content-Type")
	if contentType == "" {
		contentType = w.cfg.ContentType
	}
	uri, err := w.deps.BlobStore.PutObject(ctx, w.buildBlobPath(item.JobID, hash), contentType, resp.Body)
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}

	page := scrape.PageRecord{
		JobID:        item.JobID,
		URL:          resp.URL,
		CategorySlug: item.Params.CategorySlug,
		StatusCode:   resp.StatusCode,
		FetchedAt:    w.deps.Clock.Now(),
		DurationMs:   resp.Duration.Milliseconds(),
		ContentHash:  hash,
		ContentType:  contentType,
		Headers:      resp.Headers,
		BlobURI:      uri,
	}
	if page.URL == "" {
		page.URL = url
	}
	if err := w.deps.JobStore.RecordPage(ctx, page); err != nil {
		return fmt.Errorf("record page: %w", err)
	}
	if w.deps.PageSink != nil {
		if err := w.deps.PageSink.StorePage(ctx, page); err != nil {
			return fmt.Errorf("store page: %w", err)
		}
	}
	return w.publishResult(ctx, page)
}

func (w *Worker) publishResult(ctx context.Context, page scrape.PageRecord) error {
	if w.deps.Publisher == nil {
		return nil
	}
	event := scrape.CompletionEvent{
		JobID:       page.JobID,
		URL:         page.URL,
		Category:    page.CategorySlug,
		BlobURI:     page.BlobURI,
		ContentHash: page.ContentHash,
		StatusCode:  page.StatusCode,
		Timestamp:   page.FetchedAt.Format(time.RFC3339),
	}
	id, err := w.deps.Publisher.Publish(ctx, w.cfg.Topic, event)
	if err != nil {
		return fmt.Errorf("publish payload: %w", err)
	}
	w.logger.Info("page published",
		zap.String("job_id", page.JobID),
		zap.String("url", page.URL),
		zap.String("blob_uri", page.BlobURI),
		zap.String("message_id", id),
	)
	return nil
}

func deriveFinalStatus(ctx context.Context, counters scrape.JobCounters, errText string) (scrape.JobStatus, string) {
	if counters.PagesSucceeded == 0 && errText == "" {
		errText = "no pages were fetched"
	}

	switch {
	case ctx.Err() != nil:
		return scrape.JobStatusCanceled, errText
	case counters.PagesSucceeded == 0:
		return scrape.JobStatusFailed, errText
	default:
		return scrape.JobStatusSucceeded, errText
	}
}
