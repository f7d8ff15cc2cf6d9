package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestProxyHeaderMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		xff        string
		proto      string
		wantRemote string
		wantScheme string
	}{
		{"no headers", "", "", "192.0.2.1:1234", ""},
		{"single hop", "203.0.113.7", "https", "203.0.113.7:0", "https"},
		{"first of many hops", "203.0.113.7, 10.0.0.1", "", "203.0.113.7:0", ""},
		{"garbage ignored", "not-an-ip", "gopher", "192.0.2.1:1234", ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var gotRemote, gotScheme string
			h := ProxyHeaderMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotRemote = r.RemoteAddr
				gotScheme = r.URL.Scheme
			}))

			req := httptest.NewRequest(http.MethodGet, "/checks", nil)
			req.RemoteAddr = "192.0.2.1:1234"
			if tc.xff != "" {
				req.Header.Set("X-Forwarded-For", tc.xff)
			}
			if tc.proto != "" {
				req.Header.Set("X-Forwarded-Proto", tc.proto)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)

			if gotRemote != tc.wantRemote {
				t.Errorf("RemoteAddr = %q, want %q", gotRemote, tc.wantRemote)
			}
			if gotScheme != tc.wantScheme {
				t.Errorf("Scheme = %q, want %q", gotScheme, tc.wantScheme)
			}
		})
	}
}
