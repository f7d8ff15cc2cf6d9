// Package health probes the upstreams behind the dev server's proxy rules
// so a dead backend shows up before the first proxied request fails.
package health

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/acme/data-dash/internal/config"
	"github.com/acme/data-dash/internal/metrics"
)

// Status is the reachability of a proxy target.
type Status string

const (
	StatusUnknown     Status = "unknown"
	StatusReachable   Status = "reachable"
	StatusAuthBlocked Status = "authBlocked"
	StatusUnreachable Status = "unreachable"
)

// HTTPProber abstracts *http.Client for testability.
type HTTPProber interface {
	Do(req *http.Request) (*http.Response, error)
}

// RuleSource yields the current proxy rules. *server.ProxyTable satisfies it.
type RuleSource interface {
	Rules() []config.ProxyRule
}

// TargetStatus is the last probe outcome for one proxy rule.
type TargetStatus struct {
	Prefix          string     `json:"prefix"`
	Target          string     `json:"target"`
	Status          Status     `json:"status"`
	HTTPCode        *int       `json:"httpCode,omitempty"`
	ResponseTimeMs  int64      `json:"responseTimeMs"`
	ErrorSnippet    string     `json:"errorSnippet,omitempty"`
	LastChecked     *time.Time `json:"lastChecked,omitempty"`
	LastStateChange *time.Time `json:"lastStateChange,omitempty"`
}

// Checker periodically probes every proxy target.
type Checker struct {
	rules    RuleSource
	client   HTTPProber
	interval time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	statuses map[string]TargetStatus // keyed by prefix
}

// NewChecker creates a new target checker. If logger is nil, a no-op logger is used.
func NewChecker(rules RuleSource, client HTTPProber, interval time.Duration, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &Checker{
		rules:    rules,
		client:   client,
		interval: interval,
		logger:   logger,
		statuses: make(map[string]TargetStatus),
	}
}

// Run performs an immediate probe cycle, then probes at the configured
// interval. It returns when ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	c.CheckAll(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.CheckAll(ctx)
		}
	}
}

// CheckAll probes every current rule concurrently and forgets rules that
// have been removed by a reload.
func (c *Checker) CheckAll(ctx context.Context) {
	rules := c.rules.Rules()
	start := time.Now()

	results := make([]probeResult, len(rules))
	var wg sync.WaitGroup
	wg.Add(len(rules))
	for i, rule := range rules {
		go func() {
			defer wg.Done()
			results[i] = c.probe(ctx, rule)
		}()
	}
	wg.Wait()

	c.mu.Lock()
	live := make(map[string]TargetStatus, len(rules))
	for i, rule := range rules {
		prev, ok := c.statuses[rule.Prefix]
		if !ok || prev.Target != rule.Target {
			prev = TargetStatus{Prefix: rule.Prefix, Target: rule.Target, Status: StatusUnknown}
		}
		live[rule.Prefix] = c.apply(prev, results[i])
	}
	for prefix := range c.statuses {
		if _, ok := live[prefix]; !ok {
			metrics.ProxyTargetUp.DeleteLabelValues(prefix)
		}
	}
	c.statuses = live
	c.mu.Unlock()

	c.logger.Debug("target probe cycle complete",
		"targets", len(rules),
		"durationMs", time.Since(start).Milliseconds(),
	)
}

// Statuses returns the last probe outcome for each rule, in rule order.
// Rules not probed yet are reported as unknown.
func (c *Checker) Statuses() []TargetStatus {
	rules := c.rules.Rules()
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]TargetStatus, 0, len(rules))
	for _, rule := range rules {
		st, ok := c.statuses[rule.Prefix]
		if !ok || st.Target != rule.Target {
			st = TargetStatus{Prefix: rule.Prefix, Target: rule.Target, Status: StatusUnknown}
		}
		out = append(out, st)
	}
	return out
}

const maxSnippetLen = 256

type probeResult struct {
	status         Status
	httpCode       *int
	responseTimeMs int64
	errorSnippet   string
}

// probe GETs the rule's prefix on its target, the same URL a proxied
// request for the bare prefix would reach.
func (c *Checker) probe(ctx context.Context, rule config.ProxyRule) probeResult {
	target, err := rule.Forward(&url.URL{Path: rule.Prefix})
	if err != nil {
		return probeResult{status: StatusUnreachable, errorSnippet: err.Error()}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return probeResult{status: StatusUnreachable, errorSnippet: err.Error()}
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	responseTimeMs := time.Since(start).Milliseconds()
	if err != nil {
		return probeResult{
			status:         StatusUnreachable,
			responseTimeMs: responseTimeMs,
			errorSnippet:   err.Error(),
		}
	}
	defer resp.Body.Close()

	code := resp.StatusCode
	res := probeResult{
		status:         classifyStatus(code),
		httpCode:       &code,
		responseTimeMs: responseTimeMs,
	}
	if res.status == StatusUnreachable {
		res.errorSnippet = readSnippet(resp.Body)
	}
	return res
}

func (c *Checker) apply(st TargetStatus, res probeResult) TargetStatus {
	previous := st.Status
	now := time.Now()

	st.Status = res.status
	st.HTTPCode = res.httpCode
	st.ResponseTimeMs = res.responseTimeMs
	st.ErrorSnippet = res.errorSnippet
	st.LastChecked = &now

	if res.status != previous {
		st.LastStateChange = &now
		level := slog.LevelInfo
		if res.status == StatusUnreachable {
			level = slog.LevelWarn
		}
		c.logger.Log(context.Background(), level, "proxy target status changed",
			"prefix", st.Prefix,
			"target", st.Target,
			"from", string(previous),
			"to", string(res.status),
		)
	}

	up := 0.0
	if res.status != StatusUnreachable {
		up = 1
	}
	metrics.ProxyTargetUp.WithLabelValues(st.Prefix).Set(up)
	return st
}

// classifyStatus maps an HTTP status code to a Status. Any answer short of a
// server error means the backend is up, since the prefix alone need not be
// a valid route.
func classifyStatus(code int) Status {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return StatusAuthBlocked
	case code >= 500:
		return StatusUnreachable
	default:
		return StatusReachable
	}
}

// readSnippet reads the first line of the response body, truncated to maxSnippetLen.
func readSnippet(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, maxSnippetLen))
	if err != nil {
		return ""
	}
	s := string(data)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}
