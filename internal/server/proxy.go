package server

import (
	"net"
	"net/http"
	"strings"
)

// ProxyHeaderMiddleware lets the API see the original client when it sits
// behind the dev server or another reverse proxy. The first X-Forwarded-For
// hop becomes RemoteAddr and X-Forwarded-Proto sets the URL scheme.
func ProxyHeaderMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			client := strings.TrimSpace(strings.Split(xff, ",")[0])
			if net.ParseIP(client) != nil {
				r.RemoteAddr = net.JoinHostPort(client, "0")
			}
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto == "http" || proto == "https" {
			r.URL.Scheme = proto
		}
		next.ServeHTTP(w, r)
	})
}
