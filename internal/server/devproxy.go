package server

import (
	"fmt"
	"net/http"
	"net/http/httputil"

	"github.com/acme/data-dash/internal/config"
)

// NewDevProxyHandler creates a reverse proxy to a frontend dev server so
// that unmatched dev server paths (assets, HMR, client routes) reach it.
func NewDevProxyHandler(target string) (http.Handler, error) {
	u, err := config.ParseOrigin(target)
	if err != nil {
		return nil, fmt.Errorf("frontend url: %w", err)
	}
	return httputil.NewSingleHostReverseProxy(u), nil
}
