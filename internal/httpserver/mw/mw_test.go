package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrSnakeDoc/linktags/internal/logger"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })

func TestRateLimit(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	h := RateLimit(RateLimitConfig{
		Burst:             2,
		RefillPerIPPerMin: 60,
		Now:               func() time.Time { return now },
		Scope:             func(r *http.Request) string { return r.URL.Query().Get("svc") },
	})(ok)

	do := func(target string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, target, nil)
		req.RemoteAddr = "10.0.0.1:1234"
		h.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 2; i++ {
		if rec := do("/?svc=a"); rec.Code != http.StatusNoContent {
			t.Fatalf("request %d status = %d", i, rec.Code)
		}
	}
	rec := do("/?svc=a")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third request status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "1" {
		t.Errorf("Retry-After = %q, want 1", rec.Header().Get("Retry-After"))
	}

	// Another scope has its own bucket.
	if rec := do("/?svc=b"); rec.Code != http.StatusNoContent {
		t.Errorf("other scope status = %d", rec.Code)
	}

	now = now.Add(time.Second)
	if rec := do("/?svc=a"); rec.Code != http.StatusNoContent {
		t.Errorf("after refill status = %d", rec.Code)
	}
}

func TestEnforceHost(t *testing.T) {
	h := EnforceHost([]string{"tags.example.com", "*.lan"}, logger.NewNop())(ok)

	tests := []struct {
		host string
		want int
	}{
		{"tags.example.com", http.StatusNoContent},
		{"TAGS.example.com", http.StatusNoContent},
		{"box.lan", http.StatusNoContent},
		{"evil.com", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Host = tt.host
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestAllowOnlyCIDRS(t *testing.T) {
	h := AllowOnlyCIDRS([]string{"10.0.0.0/8"}, true, logger.NewNop())(ok)

	tests := []struct {
		name   string
		remote string
		xff    string
		want   int
	}{
		{"inside", "10.1.2.3:80", "", http.StatusNoContent},
		{"outside", "192.168.1.1:80", "", http.StatusForbidden},
		{"forwarded inside", "127.0.0.1:80", "10.9.9.9, 1.1.1.1", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}

	if passthrough := AllowOnlyCIDRS(nil, false, logger.NewNop())(ok); passthrough == nil {
		t.Error("empty list should pass through")
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		remote  string
		headers map[string]string
		trust   bool
		want    string
	}{
		{"remote only", "10.0.0.1:4000", nil, false, "10.0.0.1"},
		{"headers ignored without trust", "10.0.0.1:4000", map[string]string{"X-Forwarded-For": "1.2.3.4"}, false, "10.0.0.1"},
		{"cloudflare first", "127.0.0.1:1", map[string]string{"CF-Connecting-IP": "5.6.7.8", "X-Forwarded-For": "1.2.3.4"}, true, "5.6.7.8"},
		{"left-most forwarded hop", "127.0.0.1:1", map[string]string{"X-Forwarded-For": " 1.2.3.4 , 9.9.9.9"}, true, "1.2.3.4"},
		{"garbage header skipped", "127.0.0.1:1", map[string]string{"X-Forwarded-For": "unknown", "X-Real-IP": "4.4.4.4"}, true, "4.4.4.4"},
		{"ipv6 with port", "[2001:db8::1]:443", nil, false, "2001:db8::1"},
		{"mapped ipv4", "[::ffff:10.0.0.7]:80", nil, false, "10.0.0.7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := clientIP(req, tt.trust); got != tt.want {
				t.Errorf("clientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParsePrefixes(t *testing.T) {
	prefixes := parsePrefixes([]string{"192.168.1.0/24", " 10.0.0.5 ", "not-an-ip", "", "fd00::/8"}, logger.NewNop())
	if len(prefixes) != 3 {
		t.Fatalf("parsePrefixes() kept %d rules, want 3", len(prefixes))
	}

	tests := []struct {
		ip   string
		want bool
	}{
		{"192.168.1.42", true},
		{"10.0.0.5", true},
		{"10.0.0.6", false},
		{"fd12::1", true},
		{"bogus", false},
	}
	for _, tt := range tests {
		if got := prefixesContain(prefixes, tt.ip); got != tt.want {
			t.Errorf("prefixesContain(%q) = %v, want %v", tt.ip, got, tt.want)
		}
	}
}

func TestLogKeepsHijacker(t *testing.T) {
	var hijackable bool
	h := Log(logger.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, hijackable = w.(http.Hijacker)
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/bridge", nil))
	if !hijackable {
		t.Error("wrapped writer should expose http.Hijacker")
	}
	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d", rec.Code)
	}
}
