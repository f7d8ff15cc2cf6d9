package server

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"strconv"
	"sync/atomic"

	"github.com/acme/data-dash/internal/config"
	"github.com/acme/data-dash/internal/metrics"
)

// route pairs a proxy rule with the reverse proxy serving it.
type route struct {
	rule  config.ProxyRule
	proxy *httputil.ReverseProxy
}

// ProxyTable is the dev server front door. Requests whose path starts with
// a rule prefix are forwarded to the rule's target origin; everything else
// goes to the fallback handler.
type ProxyTable struct {
	routes   atomic.Pointer[[]route]
	fallback http.Handler
	logger   *slog.Logger
}

// NewProxyTable builds a table from rules. A nil fallback answers unmatched
// paths with 404. If logger is nil, a no-op logger is used.
func NewProxyTable(rules []config.ProxyRule, fallback http.Handler, logger *slog.Logger) (*ProxyTable, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if fallback == nil {
		fallback = http.NotFoundHandler()
	}
	t := &ProxyTable{fallback: fallback, logger: logger}
	if err := t.Update(rules); err != nil {
		return nil, err
	}
	return t, nil
}

// Update validates rules and swaps them in. In-flight requests finish on
// the routes they matched. On error the current routes stay active.
func (t *ProxyTable) Update(rules []config.ProxyRule) error {
	if err := config.Validate(config.Config{Server: config.ServerConfig{Proxy: rules}}); err != nil {
		return err
	}
	routes := make([]route, 0, len(rules))
	for _, rule := range rules {
		proxy, err := t.newRuleProxy(rule)
		if err != nil {
			return err
		}
		routes = append(routes, route{rule: rule, proxy: proxy})
	}
	t.routes.Store(&routes)
	return nil
}

// Rules returns a copy of the active rules in match order.
func (t *ProxyTable) Rules() []config.ProxyRule {
	routes := *t.routes.Load()
	out := make([]config.ProxyRule, len(routes))
	for i, r := range routes {
		out[i] = r.rule
	}
	return out
}

// Match returns the first rule, in declaration order, whose prefix matches path.
func (t *ProxyTable) Match(path string) (config.ProxyRule, bool) {
	if r, ok := t.match(path); ok {
		return r.rule, true
	}
	return config.ProxyRule{}, false
}

func (t *ProxyTable) match(path string) (route, bool) {
	for _, r := range *t.routes.Load() {
		if r.rule.Matches(path) {
			return r, true
		}
	}
	return route{}, false
}

func (t *ProxyTable) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if rt, ok := t.match(r.URL.Path); ok {
		rt.proxy.ServeHTTP(w, r)
		return
	}
	t.fallback.ServeHTTP(w, r)
}

func (t *ProxyTable) newRuleProxy(rule config.ProxyRule) (*httputil.ReverseProxy, error) {
	target, err := config.ParseOrigin(rule.Target)
	if err != nil {
		return nil, fmt.Errorf("proxy rule %q: %w", rule.Prefix, err)
	}
	logger := t.logger.With("prefix", rule.Prefix, "target", rule.Target)

	return &httputil.ReverseProxy{
		// Path, query, method, headers and body pass through as received.
		Director: func(req *http.Request) {
			req.URL.Scheme = target.Scheme
			req.URL.Host = target.Host
			if rule.ChangeOrigin {
				req.Host = target.Host
			}
			if _, ok := req.Header["User-Agent"]; !ok {
				// keep net/http from inventing one
				req.Header.Set("User-Agent", "")
			}
		},
		ModifyResponse: func(resp *http.Response) error {
			metrics.ProxyRequests.WithLabelValues(rule.Prefix, strconv.Itoa(resp.StatusCode)).Inc()
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			metrics.ProxyErrors.WithLabelValues(rule.Prefix).Inc()
			logger.Warn("dev proxy upstream error", "method", r.Method, "path", r.URL.Path, "error", err)
			w.WriteHeader(http.StatusBadGateway)
		},
	}, nil
}
