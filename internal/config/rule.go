package config

import (
	"net/url"
	"strings"
)

// Matches reports whether path falls under the rule. Matching is a plain
// string prefix test, the same test the frontend toolchain applies, so
// /checks also matches /checks-archive.
func (r ProxyRule) Matches(path string) bool {
	return r.Prefix != "" && strings.HasPrefix(path, r.Prefix)
}

// Forward returns the upstream URL for an incoming request URL: the rule's
// origin with the request path, raw path and query carried over unchanged.
func (r ProxyRule) Forward(in *url.URL) (*url.URL, error) {
	origin, err := ParseOrigin(r.Target)
	if err != nil {
		return nil, &ConfigurationError{Field: proxyField(0, r.Prefix) + ".target", Value: r.Target, Reason: err.Error()}
	}
	out := *in
	out.Scheme = origin.Scheme
	out.Host = origin.Host
	out.User = nil
	out.Opaque = ""
	return &out, nil
}
