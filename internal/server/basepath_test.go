package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNormalizeBasePath(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", "/"},
		{" ", "/"},
		{"/", "/"},
		{"data-dash", "/data-dash/"},
		{"/data-dash", "/data-dash/"},
		{"/data-dash/", "/data-dash/"},
		{"data-dash/", "/data-dash/"},
	}

	for _, tc := range tests {
		got := NormalizeBasePath(tc.input)
		if got != tc.expected {
			t.Errorf("NormalizeBasePath(%q) = %q, want %q", tc.input, got, tc.expected)
		}
	}
}

func TestBasePathHandler(t *testing.T) {
	echoPath := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.URL.Path))
	})

	tests := []struct {
		name     string
		basePath string
		path     string
		want     string
	}{
		{"direct access passes through", "/data-dash/", "/checks", "/checks"},
		{"mounted api is stripped", "/data-dash/", "/data-dash/checks/example_check/execute", "/checks/example_check/execute"},
		{"mounted root", "/data-dash/", "/data-dash/", "/"},
		{"mounted root without slash", "/data-dash/", "/data-dash", "/"},
		{"mounted static file", "/data-dash/", "/data-dash/index.html", "/index.html"},
		{"mounted client route", "/data-dash/", "/data-dash/settings", "/settings"},
		{"root base path is a no-op", "/", "/history", "/history"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			handler := NewBasePathHandler(tc.basePath, echoPath)
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Body.String() != tc.want {
				t.Errorf("path %q: got %q, want %q", tc.path, rec.Body.String(), tc.want)
			}
		})
	}
}

func TestBasePathHandlerDoesNotMutateRequest(t *testing.T) {
	handler := NewBasePathHandler("/data-dash", http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/data-dash/history", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if req.URL.Path != "/data-dash/history" {
		t.Errorf("caller's request was mutated: %q", req.URL.Path)
	}
}
