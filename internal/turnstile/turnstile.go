// Package turnstile gates public API requests behind Cloudflare Turnstile
// bot verification.
package turnstile

import (
	"net/http"
	"strings"
	"time"
)

// DefaultVerifyURL is the Cloudflare siteverify endpoint.
const DefaultVerifyURL = "https://challenges.cloudflare.com/turnstile/v0/siteverify"

// DefaultTimeout bounds one siteverify call.
const DefaultTimeout = 5 * time.Second

// Header names consulted when looking for a token or a client address.
const (
	HeaderAuthorization  = "Authorization"
	HeaderToken          = "X-Turnstile-Token"
	HeaderCFConnectingIP = "CF-Connecting-IP"
	HeaderForwardedFor   = "X-Forwarded-For"
	HeaderRealIP         = "X-Real-IP"

	authScheme = "Turnstile "
)

var (
	bypassPaths      = []string{"/health", "/api/health", "/favicon.ico"}
	monitoringAgents = []string{"health-check", "monitoring", "uptime"}
)

// Config carries the gate settings. It is passed explicitly to every
// component that needs it.
type Config struct {
	// Environment disables the gate when set to "development".
	Environment string
	// SecretKey is the Turnstile secret. An empty key disables the gate.
	SecretKey string
	// VerifyURL defaults to DefaultVerifyURL.
	VerifyURL string
	// Timeout defaults to DefaultTimeout.
	Timeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.VerifyURL == "" {
		c.VerifyURL = DefaultVerifyURL
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// Result mirrors the siteverify response. Error is set only when the call
// itself failed.
type Result struct {
	Success     bool     `json:"success"`
	Error       string   `json:"error,omitempty"`
	ErrorCodes  []string `json:"error-codes,omitempty"`
	ChallengeTS string   `json:"challenge_ts,omitempty"`
	Hostname    string   `json:"hostname,omitempty"`
}

// ExtractToken returns the token from "Authorization: Turnstile <token>" or,
// failing that, from X-Turnstile-Token.
func ExtractToken(r *http.Request) (string, bool) {
	if auth := r.Header.Get(HeaderAuthorization); strings.HasPrefix(auth, authScheme) {
		if token := auth[len(authScheme):]; token != "" {
			return token, true
		}
	}
	if token := r.Header.Get(HeaderToken); token != "" {
		return token, true
	}
	return "", false
}

// ClientIP resolves the caller address from edge and proxy headers. It returns
// "" when none is present.
func ClientIP(r *http.Request) string {
	if ip := r.Header.Get(HeaderCFConnectingIP); ip != "" {
		return ip
	}
	if fwd := r.Header.Get(HeaderForwardedFor); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	return r.Header.Get(HeaderRealIP)
}

// ShouldBypass reports whether the request skips verification entirely.
func ShouldBypass(cfg Config, r *http.Request) bool {
	if cfg.Environment == "development" || cfg.SecretKey == "" {
		return true
	}
	for _, p := range bypassPaths {
		if strings.HasPrefix(r.URL.Path, p) {
			return true
		}
	}
	ua := strings.ToLower(r.UserAgent())
	for _, agent := range monitoringAgents {
		if strings.Contains(ua, agent) {
			return true
		}
	}
	return false
}
