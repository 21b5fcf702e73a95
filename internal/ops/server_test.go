package ops

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"hushd/internal/metrics"
	"hushd/pkg/logx"
)

func TestMuxServesMetricsAndHealth(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true}, metrics.New(), logx.Nop())
	mux := s.buildMux("")

	for _, path := range []string{"/healthz", "/metrics"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("GET %s = %d", path, rec.Code)
		}
	}
}

func TestMuxTokenAuth(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Token: "s3cret"}, metrics.New(), logx.Nop())
	mux := s.buildMux("s3cret")

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated = %d, want 401", rec.Code)
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("bearer auth = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz?token=s3cret", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("query token = %d, want 200", rec.Code)
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	tests := []struct {
		addr string
		want bool
	}{
		{"127.0.0.1:6060", true},
		{"localhost:6060", true},
		{"[::1]:6060", true},
		{"0.0.0.0:6060", false},
		{":6060", false},
		{"10.1.2.3:6060", false},
		{"garbage", false},
	}
	for _, tt := range tests {
		if got := isLoopbackAddr(tt.addr); got != tt.want {
			t.Fatalf("isLoopbackAddr(%q) = %v, want %v", tt.addr, got, tt.want)
		}
	}
}
