package signing

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const scraperBase = "https://scraper.internal"

type fakeReplay struct {
	mu   sync.Mutex
	seen map[string]time.Duration
	err  error
}

func (f *fakeReplay) Claim(_ context.Context, nonce string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	if f.seen == nil {
		f.seen = map[string]time.Duration{}
	}
	if _, ok := f.seen[nonce]; ok {
		return false, nil
	}
	f.seen[nonce] = ttl
	return true, nil
}

func signedHTTPRequest(t *testing.T, s *Signer, method, path string, body any) *http.Request {
	t.Helper()
	signed, err := s.CreateSignedRequest(RequestOptions{Method: method, URL: scraperBase + path, Body: body})
	require.NoError(t, err)
	req := httptest.NewRequest(signed.Method, path, bytes.NewReader(signed.Body))
	req.Header = signed.Header.Clone()
	return req
}

func newTestVerifier(replay ReplayGuard, clock Clock) *Verifier {
	return NewVerifier(VerifierConfig{Secret: testSecret, BaseURL: scraperBase}, replay, nil, WithClock(clock))
}

func TestVerifierAcceptsSignedRequest(t *testing.T) {
	t.Parallel()

	clock := fixedClock{now: time.UnixMilli(1700000000000)}
	replay := &fakeReplay{}
	v := newTestVerifier(replay, clock)
	s := NewSigner(testSecret, WithClock(clock))

	req := signedHTTPRequest(t, s, http.MethodPost, "/internal/v1/scrape?priority=high", map[string]any{"urls": []string{"https://a"}})
	body, err := io.ReadAll(req.Body)
	require.NoError(t, err)

	require.NoError(t, v.Verify(context.Background(), req, body))
	require.Equal(t, 2*DefaultWindow, replay.seen[req.Header.Get(HeaderNonce)])

	err = v.Verify(context.Background(), req, body)
	require.ErrorIs(t, err, ErrReplayedNonce)
}

func TestVerifierRejections(t *testing.T) {
	t.Parallel()

	now := time.UnixMilli(1700000000000)
	clock := fixedClock{now: now}
	s := NewSigner(testSecret, WithClock(clock))

	tests := []struct {
		name   string
		mutate func(r *http.Request) []byte
		cfg    func(c *VerifierConfig)
		want   error
	}{
		{
			name: "missing signature",
			mutate: func(r *http.Request) []byte {
				r.Header.Del(HeaderSignature)
				return nil
			},
			want: ErrMissingHeaders,
		},
		{
			name: "missing nonce",
			mutate: func(r *http.Request) []byte {
				r.Header.Del(HeaderNonce)
				return nil
			},
			want: ErrMissingHeaders,
		},
		{
			name: "malformed timestamp",
			mutate: func(r *http.Request) []byte {
				r.Header.Set(HeaderTimestamp, "yesterday")
				return nil
			},
			want: ErrMalformedTimestamp,
		},
		{
			name: "expired",
			mutate: func(r *http.Request) []byte {
				r.Header.Set(HeaderTimestamp, strconv.FormatInt(now.UnixMilli()-301000, 10))
				return nil
			},
			want: ErrRequestExpired,
		},
		{
			name: "tampered body",
			mutate: func(*http.Request) []byte {
				return []byte(`{"urls":["https://b"]}`)
			},
			want: ErrInvalidSignature,
		},
		{
			name: "tampered path",
			mutate: func(r *http.Request) []byte {
				r.URL.Path = "/internal/v1/other"
				r.RequestURI = ""
				return nil
			},
			want: ErrInvalidSignature,
		},
		{
			name: "wrong bearer",
			mutate: func(r *http.Request) []byte {
				r.Header.Set(HeaderAuthorization, "Bearer nope")
				return nil
			},
			cfg:  func(c *VerifierConfig) { c.RequireBearer = true },
			want: ErrUnauthorized,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := signedHTTPRequest(t, s, http.MethodPost, "/internal/v1/scrape", map[string]any{"urls": []string{"https://a"}})
			body, err := io.ReadAll(req.Body)
			require.NoError(t, err)
			if override := tt.mutate(req); override != nil {
				body = override
			}
			cfg := VerifierConfig{Secret: testSecret, BaseURL: scraperBase}
			if tt.cfg != nil {
				tt.cfg(&cfg)
			}
			replay := &fakeReplay{}
			v := NewVerifier(cfg, replay, nil, WithClock(clock))
			require.ErrorIs(t, v.Verify(context.Background(), req, body), tt.want)
			require.Empty(t, replay.seen, "rejected requests must not consume the nonce")
		})
	}
}

func TestVerifierRejectsValidlySignedWrappedTimestamp(t *testing.T) {
	t.Parallel()

	now := time.UnixMilli(1_760_000_000_000)
	clock := fixedClock{now: now}
	s := NewSigner(testSecret, WithClock(clock))
	v := newTestVerifier(&fakeReplay{}, clock)

	for _, ts := range []int64{now.UnixMilli() + math.MinInt64, math.MinInt64, math.MaxInt64} {
		signed, err := s.CreateSignedRequest(RequestOptions{
			Method:    http.MethodGet,
			URL:       scraperBase + "/internal/v1/jobs/abc",
			Timestamp: ts,
		})
		require.NoError(t, err)
		req := httptest.NewRequest(signed.Method, "/internal/v1/jobs/abc", nil)
		req.Header = signed.Header.Clone()
		require.ErrorIs(t, v.Verify(context.Background(), req, nil), ErrRequestExpired, "timestamp %d", ts)
	}
}

func TestVerifierRequireBearerAcceptsSignerHeader(t *testing.T) {
	t.Parallel()

	clock := fixedClock{now: time.UnixMilli(1700000000000)}
	s := NewSigner(testSecret, WithClock(clock))
	v := NewVerifier(VerifierConfig{Secret: testSecret, BaseURL: scraperBase, RequireBearer: true}, nil, nil, WithClock(clock))

	req := signedHTTPRequest(t, s, http.MethodGet, "/internal/v1/jobs/abc", nil)
	require.NoError(t, v.Verify(context.Background(), req, nil))
}

func TestVerifierRebuildsURLFromRequest(t *testing.T) {
	t.Parallel()

	clock := fixedClock{now: time.UnixMilli(1700000000000)}
	s := NewSigner(testSecret, WithClock(clock))
	v := NewVerifier(VerifierConfig{Secret: testSecret}, nil, nil, WithClock(clock))

	signed, err := s.CreateSignedRequest(RequestOptions{Method: http.MethodGet, URL: "https://scraper.internal:8443/internal/v1/jobs/1?verbose=1"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/internal/v1/jobs/1?verbose=1", nil)
	req.Host = "scraper.internal:8443"
	req.Header = signed.Header.Clone()
	req.Header.Set("X-Forwarded-Proto", "https")
	require.NoError(t, v.Verify(context.Background(), req, nil))

	req.Header.Del("X-Forwarded-Proto")
	require.ErrorIs(t, v.Verify(context.Background(), req, nil), ErrInvalidSignature)
}

func TestVerifierWithoutReplayGuardAllowsReuse(t *testing.T) {
	t.Parallel()

	clock := fixedClock{now: time.UnixMilli(1700000000000)}
	s := NewSigner(testSecret, WithClock(clock))
	v := newTestVerifier(nil, clock)

	req := signedHTTPRequest(t, s, http.MethodGet, "/internal/v1/jobs/1", nil)
	require.NoError(t, v.Verify(context.Background(), req, nil))
	require.NoError(t, v.Verify(context.Background(), req, nil))
}

func TestVerifierMiddlewareStatuses(t *testing.T) {
	t.Parallel()

	clock := fixedClock{now: time.UnixMilli(1700000000000)}
	s := NewSigner(testSecret, WithClock(clock))

	var gotBody []byte
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var err error
		gotBody, err = io.ReadAll(r.Body)
		require.NoError(t, err)
		w.WriteHeader(http.StatusAccepted)
	})

	t.Run("accepted then replayed", func(t *testing.T) {
		v := newTestVerifier(&fakeReplay{}, clock)
		handler := v.Middleware(next)

		req := signedHTTPRequest(t, s, http.MethodPost, "/internal/v1/scrape", map[string]int{"a": 1})
		replayed := req.Clone(context.Background())

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusAccepted, rec.Code)
		require.JSONEq(t, `{"a":1}`, string(gotBody))

		replayed.Body = io.NopCloser(bytes.NewReader([]byte(`{"a":1}`)))
		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, replayed)
		require.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("unsigned", func(t *testing.T) {
		v := newTestVerifier(&fakeReplay{}, clock)
		rec := httptest.NewRecorder()
		v.Middleware(next).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/internal/v1/scrape", nil))
		require.Equal(t, http.StatusUnauthorized, rec.Code)

		require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		require.JSONEq(t, `{"error":"missing signature headers"}`, rec.Body.String())
	})

	t.Run("body too large", func(t *testing.T) {
		v := NewVerifier(VerifierConfig{Secret: testSecret, BaseURL: scraperBase, MaxBodyBytes: 4}, nil, nil, WithClock(clock))
		req := signedHTTPRequest(t, s, http.MethodPost, "/internal/v1/scrape", map[string]string{"k": "long value"})
		rec := httptest.NewRecorder()
		v.Middleware(next).ServeHTTP(rec, req)
		require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})

	t.Run("replay store down", func(t *testing.T) {
		v := newTestVerifier(&fakeReplay{err: errors.New("redis: connection refused")}, clock)
		req := signedHTTPRequest(t, s, http.MethodGet, "/internal/v1/jobs/1", nil)
		rec := httptest.NewRecorder()
		v.Middleware(next).ServeHTTP(rec, req)
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		require.Contains(t, rec.Body.String(), "verification unavailable")
		require.NotContains(t, rec.Body.String(), "redis")
	})
}
