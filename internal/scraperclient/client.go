// Package scraperclient calls the internal scraper service with signed requests.
package scraperclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-gateway/internal/scrape"
	"github.com/JakeFAU/catalog-gateway/internal/signing"
)

// Scraper routes, relative to the base URL.
const (
	ScrapePath = "/internal/v1/scrape"
	JobsPath   = "/internal/v1/jobs/"
)

const maxResponseBytes = 1 << 20

// JobAccepted is the scraper's reply to a queued job.
type JobAccepted struct {
	JobID string `json:"job_id"`
}

// StatusError is returned for non-2xx scraper responses.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("scraper returned %d: %s", e.Code, e.Message)
}

// Client signs and sends requests to the scraper.
type Client struct {
	baseURL string
	signer  *signing.Signer
	http    *http.Client
	logger  *zap.Logger
}

// New builds a Client. A nil httpClient gets a 10s timeout.
func New(baseURL string, signer *signing.Signer, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		signer:  signer,
		http:    httpClient,
		logger:  logger.Named("scraperclient"),
	}
}

// SubmitScrape queues a scrape job.
func (c *Client) SubmitScrape(ctx context.Context, params scrape.JobParameters) (JobAccepted, error) {
	var out JobAccepted
	if err := c.do(ctx, http.MethodPost, ScrapePath, params, &out); err != nil {
		return JobAccepted{}, err
	}
	return out, nil
}

// JobStatus fetches a job and its page records.
func (c *Client) JobStatus(ctx context.Context, jobID string) (scrape.JobResult, error) {
	var out scrape.JobResult
	if err := c.do(ctx, http.MethodGet, JobsPath+url.PathEscape(jobID), nil, &out); err != nil {
		return scrape.JobResult{}, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	signed, err := c.signer.CreateSignedRequest(signing.RequestOptions{
		Method: method,
		URL:    c.baseURL + path,
		Body:   body,
	})
	if err != nil {
		return fmt.Errorf("sign request: %w", err)
	}
	req, err := signed.HTTPRequest(ctx)
	if err != nil {
		return err
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call scraper: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read scraper response: %w", err)
	}
	c.logger.Debug("scraper call",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode, Message: errorMessage(resp.StatusCode, payload)}
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode scraper response: %w", err)
	}
	return nil
}

func errorMessage(code int, payload []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err == nil && body.Error != "" {
		return body.Error
	}
	if text := strings.TrimSpace(string(payload)); text != "" {
		return text
	}
	return http.StatusText(code)
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}
