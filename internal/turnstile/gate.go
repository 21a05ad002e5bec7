package turnstile

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-gateway/internal/httpx"
	"github.com/JakeFAU/catalog-gateway/internal/metrics"
)

// Outcome classifies a gate decision.
type Outcome int

// Gate outcomes.
const (
	OutcomeBypassed Outcome = iota
	OutcomeVerified
	OutcomeMissingToken
	OutcomeRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeBypassed:
		return "bypassed"
	case OutcomeVerified:
		return "verified"
	case OutcomeMissingToken:
		return "missing_token"
	case OutcomeRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Decision is the result of Gate.Check. Result is populated only when the
// verification service was called.
type Decision struct {
	Outcome Outcome
	Result  Result
}

// Allowed reports whether the request may proceed.
func (d Decision) Allowed() bool {
	return d.Outcome == OutcomeBypassed || d.Outcome == OutcomeVerified
}

// Verifier checks a token against the verification service.
type Verifier interface {
	Verify(ctx context.Context, token, secretKey, remoteIP string) Result
}

// Gate applies the bypass rules, extracts the token and verifies it.
type Gate struct {
	cfg      Config
	verifier Verifier
	logger   *zap.Logger
}

// NewGate builds a Gate. When verifier is nil a Client on http.DefaultClient is used.
func NewGate(cfg Config, verifier Verifier, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	if verifier == nil {
		verifier = NewClient(cfg, nil, logger)
	}
	return &Gate{cfg: cfg, verifier: verifier, logger: logger.Named("turnstile_gate")}
}

// Check evaluates one request.
func (g *Gate) Check(r *http.Request) Decision {
	if ShouldBypass(g.cfg, r) {
		return Decision{Outcome: OutcomeBypassed}
	}
	token, ok := ExtractToken(r)
	if !ok {
		return Decision{Outcome: OutcomeMissingToken}
	}
	res := g.verifier.Verify(r.Context(), token, g.cfg.SecretKey, ClientIP(r))
	if !res.Success {
		return Decision{Outcome: OutcomeRejected, Result: res}
	}
	return Decision{Outcome: OutcomeVerified, Result: res}
}

// Middleware rejects requests the gate does not allow.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := g.Check(r)
		metrics.ObserveTurnstileDecision(d.Outcome.String())

		switch d.Outcome {
		case OutcomeMissingToken:
			g.logger.Info("request without turnstile token", zap.String("path", r.URL.Path))
			writeGateError(w, http.StatusUnauthorized, "missing turnstile token", nil)
			return
		case OutcomeRejected:
			g.logger.Info("turnstile verification failed",
				zap.String("path", r.URL.Path),
				zap.String("client_ip", ClientIP(r)),
				zap.Strings("error_codes", d.Result.ErrorCodes),
				zap.String("error", d.Result.Error),
			)
			writeGateError(w, http.StatusForbidden, "turnstile verification failed", d.Result.ErrorCodes)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type gateError struct {
	Error      string   `json:"error"`
	ErrorCodes []string `json:"error_codes,omitempty"`
}

func writeGateError(w http.ResponseWriter, status int, msg string, codes []string) {
	if len(codes) == 0 {
		httpx.WriteError(w, status, msg)
		return
	}
	httpx.WriteJSON(w, status, gateError{Error: msg, ErrorCodes: codes})
}
