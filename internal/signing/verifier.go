package signing

import (
	"bytes"
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-gateway/internal/httpx"
	"github.com/JakeFAU/catalog-gateway/internal/metrics"
)

// Rejection reasons returned by Verifier.Verify.
var (
	ErrMissingHeaders     = errors.New("missing signature headers")
	ErrMalformedTimestamp = errors.New("malformed timestamp")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrRequestExpired     = errors.New("request expired")
	ErrInvalidSignature   = errors.New("invalid signature")
	ErrReplayedNonce      = errors.New("nonce already used")
	ErrBodyTooLarge       = errors.New("request body too large")
)

const defaultMaxBodyBytes = 1 << 20

// ReplayGuard remembers nonces for a bounded time.
type ReplayGuard interface {
	// Claim returns true the first time nonce is seen within ttl.
	Claim(ctx context.Context, nonce string, ttl time.Duration) (bool, error)
}

// VerifierConfig controls inbound verification.
type VerifierConfig struct {
	Secret string
	// Window defaults to DefaultWindow.
	Window time.Duration
	// BaseURL is the externally visible scheme://host the signer used. When
	// empty the URL is rebuilt from the request.
	BaseURL string
	// MaxBodyBytes caps how much of the body is buffered for verification.
	MaxBodyBytes int64
	// RequireBearer also checks the Authorization bearer credential.
	RequireBearer bool
}

// Verifier checks signed requests arriving at the scraper service.
type Verifier struct {
	cfg    VerifierConfig
	replay ReplayGuard
	clock  Clock
	logger *zap.Logger
}

// NewVerifier builds a Verifier. replay may be nil to skip nonce tracking.
func NewVerifier(cfg VerifierConfig, replay ReplayGuard, logger *zap.Logger, opts ...Option) *Verifier {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	o := buildOptions(opts)
	return &Verifier{
		cfg:    cfg,
		replay: replay,
		clock:  o.clock,
		logger: logger,
	}
}

// Verify checks headers, freshness, signature and nonce reuse, in that order.
func (v *Verifier) Verify(ctx context.Context, r *http.Request, body []byte) error {
	signature := r.Header.Get(HeaderSignature)
	rawTS := r.Header.Get(HeaderTimestamp)
	nonce := r.Header.Get(HeaderNonce)
	if signature == "" || rawTS == "" || nonce == "" {
		return ErrMissingHeaders
	}
	ts, err := strconv.ParseInt(rawTS, 10, 64)
	if err != nil {
		return ErrMalformedTimestamp
	}
	if v.cfg.RequireBearer {
		got := r.Header.Get(HeaderAuthorization)
		want := "Bearer " + v.cfg.Secret
		if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			return ErrUnauthorized
		}
	}
	if !IsTimestampValid(v.clock.Now(), ts, v.cfg.Window) {
		return ErrRequestExpired
	}
	if !VerifySignature(v.cfg.Secret, r.Method, v.requestURL(r), ts, nonce, signature, string(body)) {
		return ErrInvalidSignature
	}
	if v.replay != nil {
		fresh, err := v.replay.Claim(ctx, nonce, 2*v.cfg.Window)
		if err != nil {
			return fmt.Errorf("claim nonce: %w", err)
		}
		if !fresh {
			return ErrReplayedNonce
		}
	}
	return nil
}

func (v *Verifier) requestURL(r *http.Request) string {
	if v.cfg.BaseURL != "" {
		return strings.TrimRight(v.cfg.BaseURL, "/") + r.URL.RequestURI()
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

// Middleware rejects requests that fail Verify and hands the buffered body on
// to next.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := readBody(r, v.cfg.MaxBodyBytes)
		if err == nil {
			err = v.Verify(r.Context(), r, body)
		}
		if err != nil {
			status, reason := rejection(err)
			metrics.ObserveSignatureRejection(reason)
			v.logger.Warn("signed request rejected",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("reason", reason),
				zap.Error(err),
			)
			writeRejection(w, status, err)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

func readBody(r *http.Request, limit int64) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	defer r.Body.Close() //nolint:errcheck // body is fully drained
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, ErrBodyTooLarge
	}
	return data, nil
}

func rejection(err error) (int, string) {
	switch {
	case errors.Is(err, ErrMissingHeaders):
		return http.StatusUnauthorized, "missing_headers"
	case errors.Is(err, ErrMalformedTimestamp):
		return http.StatusUnauthorized, "malformed_timestamp"
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, ErrRequestExpired):
		return http.StatusUnauthorized, "expired"
	case errors.Is(err, ErrInvalidSignature):
		return http.StatusUnauthorized, "invalid_signature"
	case errors.Is(err, ErrReplayedNonce):
		return http.StatusConflict, "replayed_nonce"
	case errors.Is(err, ErrBodyTooLarge):
		return http.StatusRequestEntityTooLarge, "body_too_large"
	default:
		return http.StatusServiceUnavailable, "internal"
	}
}

func writeRejection(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status == http.StatusServiceUnavailable {
		msg = "verification unavailable"
	}
	httpx.WriteError(w, status, msg)
}
