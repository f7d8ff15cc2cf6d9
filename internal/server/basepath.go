package server

import (
	"net/http"
	"strings"
)

// NormalizeBasePath ensures the base path starts and ends with '/'.
func NormalizeBasePath(basePath string) string {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return "/"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	if !strings.HasSuffix(basePath, "/") {
		basePath += "/"
	}
	return basePath
}

// BasePathHandler strips a mount prefix so the UI and API can be reached
// both directly and behind a path-routing proxy. Requests outside the
// prefix are forwarded unchanged.
type BasePathHandler struct {
	basePath string
	inner    http.Handler
}

// NewBasePathHandler wraps inner. A base path of "/" returns inner as is.
func NewBasePathHandler(basePath string, inner http.Handler) http.Handler {
	bp := NormalizeBasePath(basePath)
	if bp == "/" {
		return inner
	}
	return &BasePathHandler{basePath: bp, inner: inner}
}

func (h *BasePathHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var stripped string
	switch {
	case strings.HasPrefix(r.URL.Path, h.basePath):
		stripped = "/" + strings.TrimPrefix(r.URL.Path, h.basePath)
	case r.URL.Path+"/" == h.basePath:
		stripped = "/"
	default:
		h.inner.ServeHTTP(w, r)
		return
	}
	r2 := r.Clone(r.Context())
	r2.URL.Path = stripped
	r2.URL.RawPath = ""
	h.inner.ServeHTTP(w, r2)
}
