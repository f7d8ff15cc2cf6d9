package health

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/acme/data-dash/internal/config"
	"github.com/acme/data-dash/internal/metrics"
)

// mockHTTPProber is a configurable mock for HTTPProber.
type mockHTTPProber struct {
	mu        sync.Mutex
	responses map[string]mockResponse // keyed by URL
	requested []string
}

type mockResponse struct {
	statusCode int
	body       string
	err        error
}

func (m *mockHTTPProber) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requested = append(m.requested, req.URL.String())
	resp, ok := m.responses[req.URL.String()]
	if !ok {
		return nil, errors.New("connection refused")
	}
	if resp.err != nil {
		return nil, resp.err
	}
	return &http.Response{
		StatusCode: resp.statusCode,
		Body:       io.NopCloser(strings.NewReader(resp.body)),
	}, nil
}

func (m *mockHTTPProber) set(url string, r mockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[url] = r
}

type staticRules struct {
	mu    sync.Mutex
	rules []config.ProxyRule
}

func (s *staticRules) Rules() []config.ProxyRule {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]config.ProxyRule(nil), s.rules...)
}

func (s *staticRules) set(rules []config.ProxyRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = rules
}

func defaultRules() *staticRules {
	return &staticRules{rules: []config.ProxyRule{
		{Prefix: "/checks", Target: "http://localhost:3000"},
		{Prefix: "/history", Target: "http://localhost:3000"},
	}}
}

func TestCheckAll_ProbesPrefixOnTarget(t *testing.T) {
	client := &mockHTTPProber{responses: map[string]mockResponse{
		"http://localhost:3000/checks":  {statusCode: 200, body: "[]"},
		"http://localhost:3000/history": {statusCode: 404, body: "not found"},
	}}
	c := NewChecker(defaultRules(), client, time.Hour, nil)

	c.CheckAll(context.Background())

	got := c.Statuses()
	if len(got) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(got))
	}
	if got[0].Prefix != "/checks" || got[0].Status != StatusReachable {
		t.Errorf("expected /checks reachable, got %+v", got[0])
	}
	if got[0].HTTPCode == nil || *got[0].HTTPCode != 200 {
		t.Errorf("expected http code 200, got %v", got[0].HTTPCode)
	}
	// A 404 still proves the backend answers.
	if got[1].Prefix != "/history" || got[1].Status != StatusReachable {
		t.Errorf("expected /history reachable, got %+v", got[1])
	}
	if got[0].LastChecked == nil || got[0].LastStateChange == nil {
		t.Error("expected lastChecked and lastStateChange to be set")
	}
}

func TestCheckAll_ConnectionErrorIsUnreachable(t *testing.T) {
	client := &mockHTTPProber{responses: map[string]mockResponse{}}
	c := NewChecker(defaultRules(), client, time.Hour, nil)

	c.CheckAll(context.Background())

	for _, st := range c.Statuses() {
		if st.Status != StatusUnreachable {
			t.Errorf("%s: expected unreachable, got %s", st.Prefix, st.Status)
		}
		if st.ErrorSnippet != "connection refused" {
			t.Errorf("%s: expected error snippet, got %q", st.Prefix, st.ErrorSnippet)
		}
		if st.HTTPCode != nil {
			t.Errorf("%s: expected no http code, got %d", st.Prefix, *st.HTTPCode)
		}
	}
	if v := testutil.ToFloat64(metrics.ProxyTargetUp.WithLabelValues("/checks")); v != 0 {
		t.Errorf("expected target up gauge 0, got %v", v)
	}
}

func TestCheckAll_ServerErrorCapturesFirstLine(t *testing.T) {
	client := &mockHTTPProber{responses: map[string]mockResponse{
		"http://localhost:3000/checks": {statusCode: 502, body: "  bad gateway  \nstack trace"},
	}}
	rules := &staticRules{rules: []config.ProxyRule{{Prefix: "/checks", Target: "http://localhost:3000"}}}
	c := NewChecker(rules, client, time.Hour, nil)

	c.CheckAll(context.Background())

	st := c.Statuses()[0]
	if st.Status != StatusUnreachable {
		t.Fatalf("expected unreachable, got %s", st.Status)
	}
	if st.ErrorSnippet != "bad gateway" {
		t.Errorf("expected snippet 'bad gateway', got %q", st.ErrorSnippet)
	}
}

func TestCheckAll_AuthBlocked(t *testing.T) {
	client := &mockHTTPProber{responses: map[string]mockResponse{
		"http://localhost:3000/checks": {statusCode: 401},
	}}
	rules := &staticRules{rules: []config.ProxyRule{{Prefix: "/checks", Target: "http://localhost:3000"}}}
	c := NewChecker(rules, client, time.Hour, nil)

	c.CheckAll(context.Background())

	if st := c.Statuses()[0]; st.Status != StatusAuthBlocked {
		t.Errorf("expected authBlocked, got %s", st.Status)
	}
	if v := testutil.ToFloat64(metrics.ProxyTargetUp.WithLabelValues("/checks")); v != 1 {
		t.Errorf("expected target up gauge 1, got %v", v)
	}
}

func TestCheckAll_StateChangeOnlyOnTransition(t *testing.T) {
	client := &mockHTTPProber{responses: map[string]mockResponse{
		"http://localhost:3000/checks": {statusCode: 200},
	}}
	rules := &staticRules{rules: []config.ProxyRule{{Prefix: "/checks", Target: "http://localhost:3000"}}}
	c := NewChecker(rules, client, time.Hour, nil)

	c.CheckAll(context.Background())
	first := *c.Statuses()[0].LastStateChange

	time.Sleep(5 * time.Millisecond)
	c.CheckAll(context.Background())
	if got := *c.Statuses()[0].LastStateChange; !got.Equal(first) {
		t.Errorf("expected lastStateChange unchanged, got %v want %v", got, first)
	}

	client.set("http://localhost:3000/checks", mockResponse{statusCode: 503})
	c.CheckAll(context.Background())
	if got := *c.Statuses()[0].LastStateChange; !got.After(first) {
		t.Errorf("expected lastStateChange to advance after transition")
	}
}

func TestStatuses_FollowsReloadedRules(t *testing.T) {
	client := &mockHTTPProber{responses: map[string]mockResponse{
		"http://localhost:3000/checks": {statusCode: 200},
		"http://localhost:4000/checks": {statusCode: 200},
	}}
	rules := &staticRules{rules: []config.ProxyRule{{Prefix: "/checks", Target: "http://localhost:3000"}}}
	c := NewChecker(rules, client, time.Hour, nil)
	c.CheckAll(context.Background())

	rules.set([]config.ProxyRule{
		{Prefix: "/checks", Target: "http://localhost:4000"},
		{Prefix: "/api", Target: "http://localhost:4000"},
	})

	got := c.Statuses()
	if len(got) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(got))
	}
	for _, st := range got {
		if st.Status != StatusUnknown {
			t.Errorf("%s: expected unknown before next probe, got %s", st.Prefix, st.Status)
		}
	}

	c.CheckAll(context.Background())
	got = c.Statuses()
	if got[0].Target != "http://localhost:4000" || got[0].Status != StatusReachable {
		t.Errorf("expected retargeted /checks reachable, got %+v", got[0])
	}
	if got[1].Status != StatusUnreachable {
		t.Errorf("expected /api unreachable, got %s", got[1].Status)
	}
}

func TestRun_ProbesImmediatelyAndStopsOnCancel(t *testing.T) {
	client := &mockHTTPProber{responses: map[string]mockResponse{}}
	c := NewChecker(defaultRules(), client, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for c.Statuses()[0].Status == StatusUnknown {
		if time.Now().After(deadline) {
			t.Fatal("expected an immediate probe on start")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestClassifyStatus(t *testing.T) {
	cases := map[int]Status{
		200: StatusReachable,
		204: StatusReachable,
		301: StatusReachable,
		404: StatusReachable,
		401: StatusAuthBlocked,
		403: StatusAuthBlocked,
		500: StatusUnreachable,
		503: StatusUnreachable,
	}
	for code, want := range cases {
		if got := classifyStatus(code); got != want {
			t.Errorf("classifyStatus(%d) = %s, want %s", code, got, want)
		}
	}
}
