// Package signing implements the HMAC-SHA256 request signing scheme shared by the
// public catalog API and the internal scraper service.
//
// A request is signed over the canonical string
//
//	METHOD\nURL\nTIMESTAMP\nNONCE\nBODY
//
// where METHOD is upper-cased, TIMESTAMP is decimal epoch milliseconds and BODY is
// the exact JSON text sent on the wire (empty when there is no body). Both sides
// build the string with CanonicalString, so any change here breaks interop.
package signing

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Header names carried by every signed request.
const (
	HeaderSignature     = "X-Signature"
	HeaderTimestamp     = "X-Timestamp"
	HeaderNonce         = "X-Nonce"
	HeaderAuthorization = "Authorization"
	HeaderContentType   = "Content-Type"
)

// DefaultWindow is the accepted clock skew between signer and verifier.
const DefaultWindow = 5 * time.Minute

const nonceBytes = 16

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// RequestOptions describes an outbound request to sign.
type RequestOptions struct {
	Method string
	URL    string
	// Body is serialized to JSON when non-nil.
	Body any
	// Timestamp in epoch milliseconds; zero means now, so the epoch itself
	// cannot be signed explicitly.
	Timestamp int64
	// Nonce defaults to a fresh GenerateNonce value.
	Nonce string
}

// SignedRequest is the immutable result of CreateSignedRequest.
type SignedRequest struct {
	Method string
	URL    string
	Header http.Header
	// Body is the exact JSON text that was signed, nil when absent.
	Body []byte
}

// HTTPRequest materializes the signed request for an http.Client.
func (s SignedRequest) HTTPRequest(ctx context.Context) (*http.Request, error) {
	var body io.Reader
	if s.Body != nil {
		body = bytes.NewReader(s.Body)
	}
	req, err := http.NewRequestWithContext(ctx, s.Method, s.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build signed request: %w", err)
	}
	req.Header = s.Header.Clone()
	return req, nil
}

// Signer signs outbound requests with a pre-shared secret.
type Signer struct {
	secret string
	clock  Clock
	random io.Reader
}

// Option customizes a Signer or Verifier.
type Option func(*options)

type options struct {
	clock  Clock
	random io.Reader
}

// WithClock injects the time source.
func WithClock(c Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithRandom injects the nonce randomness source.
func WithRandom(r io.Reader) Option {
	return func(o *options) {
		if r != nil {
			o.random = r
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{clock: systemClock{}, random: rand.Reader}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewSigner creates a Signer for the shared secret.
func NewSigner(secret string, opts ...Option) *Signer {
	o := buildOptions(opts)
	return &Signer{
		secret: secret,
		clock:  o.clock,
		random: o.random,
	}
}

// NewNonce draws a nonce from the signer's randomness source.
func (s *Signer) NewNonce() (string, error) {
	return GenerateNonce(s.random)
}

// TimestampValid reports whether ts lies within DefaultWindow of the signer's clock.
func (s *Signer) TimestampValid(ts int64) bool {
	return IsTimestampValid(s.clock.Now(), ts, DefaultWindow)
}

// CreateSignedRequest fills in the timestamp and nonce, serializes the body and
// attaches the signature headers.
//
// The secret is also sent as a bearer token; the scraper service still accepts
// that credential, so it stays until both sides drop it together.
func (s *Signer) CreateSignedRequest(opts RequestOptions) (SignedRequest, error) {
	ts := opts.Timestamp
	if ts == 0 {
		ts = s.clock.Now().UnixMilli()
	}
	nonce := opts.Nonce
	if nonce == "" {
		n, err := s.NewNonce()
		if err != nil {
			return SignedRequest{}, err
		}
		nonce = n
	}

	var body []byte
	if opts.Body != nil {
		encoded, err := MarshalBody(opts.Body)
		if err != nil {
			return SignedRequest{}, err
		}
		body = encoded
	}

	sig := GenerateSignature(s.secret, opts.Method, opts.URL, ts, nonce, string(body))

	header := make(http.Header, 5)
	header.Set(HeaderContentType, "application/json")
	header.Set(HeaderSignature, sig)
	header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	header.Set(HeaderNonce, nonce)
	header.Set(HeaderAuthorization, "Bearer "+s.secret)

	return SignedRequest{
		Method: strings.ToUpper(opts.Method),
		URL:    opts.URL,
		Header: header,
		Body:   body,
	}, nil
}

// MarshalBody encodes v the way JSON.stringify does: no HTML escaping and no
// trailing newline. json.RawMessage and []byte are passed through untouched.
func MarshalBody(v any) ([]byte, error) {
	switch b := v.(type) {
	case json.RawMessage:
		return append([]byte(nil), b...), nil
	case []byte:
		return append([]byte(nil), b...), nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("marshal body: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// CanonicalString builds the string fed to the HMAC.
func CanonicalString(method, url string, timestamp int64, nonce, body string) string {
	var b strings.Builder
	b.Grow(len(method) + len(url) + len(nonce) + len(body) + 24)
	b.WriteString(strings.ToUpper(method))
	b.WriteByte('\n')
	b.WriteString(url)
	b.WriteByte('\n')
	b.WriteString(strconv.FormatInt(timestamp, 10))
	b.WriteByte('\n')
	b.WriteString(nonce)
	b.WriteByte('\n')
	b.WriteString(body)
	return b.String()
}

// GenerateSignature returns the lowercase hex HMAC-SHA256 of the canonical string.
func GenerateSignature(secret, method, url string, timestamp int64, nonce, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(CanonicalString(method, url, timestamp, nonce, body)))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature recomputes the signature and compares it in constant time.
func VerifySignature(secret, method, url string, timestamp int64, nonce, signature, body string) bool {
	expected := GenerateSignature(secret, method, url, timestamp, nonce, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// GenerateNonce reads 16 bytes from r and returns them as 32 lowercase hex chars.
// A nil reader falls back to crypto/rand.
func GenerateNonce(r io.Reader) (string, error) {
	if r == nil {
		r = rand.Reader
	}
	buf := make([]byte, nonceBytes)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// IsTimestampValid reports whether |now - timestamp| <= window, with timestamp
// in epoch milliseconds.
func IsTimestampValid(now time.Time, timestamp int64, window time.Duration) bool {
	limit := window.Milliseconds()
	if limit < 0 {
		return false
	}
	nowMs := now.UnixMilli()
	// unsigned subtraction keeps the distance exact across the whole int64 range
	var diff uint64
	if timestamp <= nowMs {
		diff = uint64(nowMs) - uint64(timestamp)
	} else {
		diff = uint64(timestamp) - uint64(nowMs)
	}
	return diff <= uint64(limit)
}
