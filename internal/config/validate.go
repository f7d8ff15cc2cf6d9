package config

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Validate checks every plugin and proxy rule and returns all violations
// joined together. Each violation is a *ConfigurationError.
func Validate(cfg Config) error {
	var errs []error

	for i, p := range cfg.Plugins {
		if strings.TrimSpace(p.Name) == "" {
			errs = append(errs, &ConfigurationError{
				Field:  fmt.Sprintf("plugins[%d].name", i),
				Reason: "required field missing",
			})
		}
	}

	seen := make(map[string]struct{}, len(cfg.Server.Proxy))
	for i, rule := range cfg.Server.Proxy {
		field := proxyField(i, rule.Prefix)
		switch {
		case rule.Prefix == "":
			errs = append(errs, &ConfigurationError{Field: field + ".prefix", Reason: "required field missing"})
		case !strings.HasPrefix(rule.Prefix, "/"):
			errs = append(errs, &ConfigurationError{Field: field + ".prefix", Value: rule.Prefix, Reason: "path prefix must begin with /"})
		default:
			if _, dup := seen[rule.Prefix]; dup {
				errs = append(errs, &ConfigurationError{Field: field + ".prefix", Value: rule.Prefix, Reason: "duplicate path prefix"})
			}
			seen[rule.Prefix] = struct{}{}
		}
		if _, err := ParseOrigin(rule.Target); err != nil {
			errs = append(errs, &ConfigurationError{Field: field + ".target", Value: rule.Target, Reason: err.Error()})
		}
	}

	return errors.Join(errs...)
}

func proxyField(i int, prefix string) string {
	if prefix == "" {
		return fmt.Sprintf("server.proxy[%d]", i)
	}
	return fmt.Sprintf("server.proxy[%q]", prefix)
}

// ParseOrigin parses s as an origin: http or https scheme, a host, and an
// explicit port. Paths other than "/", queries, fragments and user info are
// rejected.
func ParseOrigin(s string) (*url.URL, error) {
	if strings.TrimSpace(s) == "" {
		return nil, errors.New("required field missing")
	}
	if !strings.Contains(s, "://") {
		return nil, errors.New("missing scheme")
	}
	u, err := url.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("malformed origin: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return nil, fmt.Errorf("unsupported scheme %q: must be http or https", u.Scheme)
	}
	if u.User != nil {
		return nil, errors.New("origin must not contain user info")
	}
	if u.Hostname() == "" {
		return nil, errors.New("missing host")
	}
	port := u.Port()
	if port == "" {
		return nil, errors.New("missing port")
	}
	if n, err := strconv.Atoi(port); err != nil || n < 1 || n > 65535 {
		return nil, fmt.Errorf("invalid port %q", port)
	}
	if u.Path != "" && u.Path != "/" {
		return nil, errors.New("origin must not contain a path")
	}
	if u.RawQuery != "" || u.Fragment != "" || u.ForceQuery {
		return nil, errors.New("origin must not contain a query or fragment")
	}
	u.Path = ""
	return u, nil
}
