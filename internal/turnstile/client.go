package turnstile

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-gateway/internal/metrics"
)

const unknownError = "Unknown verification error"

// Client calls the siteverify endpoint.
type Client struct {
	http      *http.Client
	verifyURL string
	timeout   time.Duration
	logger    *zap.Logger
}

// NewClient builds a Client. A nil httpClient uses http.DefaultClient.
func NewClient(cfg Config, httpClient *http.Client, logger *zap.Logger) *Client {
	cfg = cfg.withDefaults()
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		http:      httpClient,
		verifyURL: cfg.VerifyURL,
		timeout:   cfg.Timeout,
		logger:    logger.Named("turnstile"),
	}
}

// Verify submits the token and never fails: transport, status and decoding
// problems come back as a Result with Success false and Error set.
func (c *Client) Verify(ctx context.Context, token, secretKey, remoteIP string) Result {
	start := time.Now()
	defer func() { metrics.ObserveTurnstileVerify(time.Since(start)) }()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := c.verify(ctx, token, secretKey, remoteIP)
	if err != nil {
		msg := err.Error()
		if msg == "" {
			msg = unknownError
		}
		c.logger.Warn("siteverify call failed", zap.String("remote_ip", remoteIP), zap.Error(err))
		return Result{Success: false, Error: msg}
	}
	return res
}

func (c *Client) verify(ctx context.Context, token, secretKey, remoteIP string) (Result, error) {
	form := url.Values{}
	form.Set("secret", secretKey)
	form.Set("response", token)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, fmt.Errorf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	var out Result
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, err
	}
	return out, nil
}
