package turnstile

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractToken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		headers map[string]string
		want    string
		ok      bool
	}{
		{name: "authorization", headers: map[string]string{"Authorization": "Turnstile abc"}, want: "abc", ok: true},
		{name: "dedicated header", headers: map[string]string{"X-Turnstile-Token": "xyz"}, want: "xyz", ok: true},
		{name: "authorization wins", headers: map[string]string{"Authorization": "Turnstile abc", "X-Turnstile-Token": "xyz"}, want: "abc", ok: true},
		{name: "bearer ignored", headers: map[string]string{"Authorization": "Bearer abc", "X-Turnstile-Token": "xyz"}, want: "xyz", ok: true},
		{name: "empty scheme falls through", headers: map[string]string{"Authorization": "Turnstile ", "X-Turnstile-Token": "xyz"}, want: "xyz", ok: true},
		{name: "none"},
		{name: "empty dedicated header", headers: map[string]string{"X-Turnstile-Token": ""}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodGet, "/api/products", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			got, ok := ExtractToken(req)
			require.Equal(t, tt.ok, ok)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestClientIP(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{name: "cloudflare first", headers: map[string]string{"CF-Connecting-IP": "1.1.1.1", "X-Forwarded-For": "2.2.2.2", "X-Real-IP": "3.3.3.3"}, want: "1.1.1.1"},
		{name: "forwarded first entry", headers: map[string]string{"X-Forwarded-For": " 2.2.2.2 , 10.0.0.1", "X-Real-IP": "3.3.3.3"}, want: "2.2.2.2"},
		{name: "real ip", headers: map[string]string{"X-Real-IP": "3.3.3.3"}, want: "3.3.3.3"},
		{name: "none", want: ""},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			require.Equal(t, tt.want, ClientIP(req))
		})
	}
}

func TestShouldBypass(t *testing.T) {
	t.Parallel()

	prod := Config{Environment: "production", SecretKey: "secret"}
	tests := []struct {
		name string
		cfg  Config
		path string
		ua   string
		want bool
	}{
		{name: "development", cfg: Config{Environment: "development", SecretKey: "secret"}, path: "/api/products", ua: "Mozilla/5.0", want: true},
		{name: "no secret", cfg: Config{Environment: "production"}, path: "/api/products", ua: "Mozilla/5.0", want: true},
		{name: "health", cfg: prod, path: "/health", ua: "Mozilla/5.0", want: true},
		{name: "api health", cfg: prod, path: "/api/health", want: true},
		{name: "favicon", cfg: prod, path: "/favicon.ico", want: true},
		{name: "prefix match", cfg: prod, path: "/healthz", want: true},
		{name: "uptime agent", cfg: prod, path: "/api/products", ua: "UptimeRobot/2.0", want: true},
		{name: "monitoring agent", cfg: prod, path: "/api/products", ua: "Datadog Monitoring Agent", want: true},
		{name: "health-check agent", cfg: prod, path: "/api/products", ua: "ELB-Health-Check/2.0", want: true},
		{name: "protected", cfg: prod, path: "/api/products", ua: "Mozilla/5.0", want: false},
		{name: "staging protected", cfg: Config{Environment: "staging", SecretKey: "secret"}, path: "/api/categories", want: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.ua != "" {
				req.Header.Set("User-Agent", tt.ua)
			}
			require.Equal(t, tt.want, ShouldBypass(tt.cfg, req))
		})
	}
}
