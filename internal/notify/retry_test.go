package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/data-dash/internal/metrics"
)

func deliveries(adapter, outcome string) float64 {
	return testutil.ToFloat64(metrics.NotificationDeliveries.WithLabelValues(adapter, outcome))
}

// countingAdapter fails with failWith until it has been called okAfter
// times. okAfter 0 never succeeds.
func countingAdapter(name string, okAfter int32, failWith func() error) (*fakeAdapter, *atomic.Int32) {
	var calls atomic.Int32
	a := newFakeAdapter(name)
	a.errFn = func() error {
		n := calls.Add(1)
		if okAfter > 0 && n >= okAfter {
			return nil
		}
		return failWith()
	}
	return a, &calls
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"network error", fmt.Errorf("webhook x: send: %w", errors.New("connection refused")), true},
		{"server error", &StatusError{Code: http.StatusInternalServerError}, true},
		{"unavailable", &StatusError{Code: http.StatusServiceUnavailable}, true},
		{"request timeout", &StatusError{Code: http.StatusRequestTimeout}, true},
		{"too many requests", &StatusError{Code: http.StatusTooManyRequests}, true},
		{"bad request", &StatusError{Code: http.StatusBadRequest}, false},
		{"unauthorized", &StatusError{Code: http.StatusUnauthorized}, false},
		{"not found", &StatusError{Code: http.StatusNotFound}, false},
		{"wrapped bad request", fmt.Errorf("deliver: %w", &StatusError{Code: http.StatusUnprocessableEntity}), false},
		{"cancelled", fmt.Errorf("webhook x: send: %w", context.Canceled), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Retryable(tt.err))
		})
	}
}

func TestDispatcher_DeliversOnFirstAttempt(t *testing.T) {
	a := newFakeAdapter("first-try")
	before := deliveries("first-try", outcomeDelivered)

	NewDispatcher(DispatcherConfig{Backoff: time.Millisecond}).Dispatch(t.Context(), a, Notification{CheckID: "orders"})

	sent := waitForSent(t, a, 1)
	assert.Equal(t, "orders", sent[0].CheckID)
	require.Eventually(t, func() bool { return deliveries("first-try", outcomeDelivered) == before+1 }, time.Second, 5*time.Millisecond)
}

func TestDispatcher_RetriesNetworkErrors(t *testing.T) {
	a, calls := countingAdapter("flaky-net", 3, func() error { return errors.New("connection reset") })

	NewDispatcher(DispatcherConfig{Backoff: time.Millisecond}).Dispatch(t.Context(), a, Notification{CheckID: "orders"})

	waitForSent(t, a, 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDispatcher_GivesUpAfterAttempts(t *testing.T) {
	a, calls := countingAdapter("down", 0, func() error { return &StatusError{Code: http.StatusBadGateway} })
	before := deliveries("down", outcomeExhausted)

	NewDispatcher(DispatcherConfig{Attempts: 3, Backoff: time.Millisecond}).Dispatch(t.Context(), a, Notification{CheckID: "orders"})

	require.Eventually(t, func() bool { return deliveries("down", outcomeExhausted) == before+1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(3), calls.Load())
	assert.Empty(t, a.sentNotifications())
}

func TestDispatcher_CancelStopsBackoff(t *testing.T) {
	a, calls := countingAdapter("cancelled", 0, func() error { return errors.New("fail") })
	before := deliveries("cancelled", outcomeCancelled)

	ctx, cancel := context.WithCancel(t.Context())
	NewDispatcher(DispatcherConfig{Attempts: 5, Backoff: time.Hour}).Dispatch(ctx, a, Notification{CheckID: "orders"})

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	require.Eventually(t, func() bool { return deliveries("cancelled", outcomeCancelled) == before+1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDispatcher_DropsWhenSlotsBusy(t *testing.T) {
	release := make(chan struct{})
	a := newFakeAdapter("slow")
	a.errFn = func() error {
		<-release
		return nil
	}
	before := deliveries("slow", outcomeDropped)

	d := NewDispatcher(DispatcherConfig{Concurrency: 2, Attempts: 1})
	d.Dispatch(t.Context(), a, Notification{CheckID: "a"})
	d.Dispatch(t.Context(), a, Notification{CheckID: "b"})
	require.Eventually(t, func() bool { return len(d.slots) == 2 }, time.Second, 5*time.Millisecond)

	d.Dispatch(t.Context(), a, Notification{CheckID: "c"})
	assert.Equal(t, before+1, deliveries("slow", outcomeDropped))

	close(release)
	sent := waitForSent(t, a, 2)
	ids := []string{sent[0].CheckID, sent[1].CheckID}
	assert.ElementsMatch(t, []string{"a", "b"}, ids)
}

// webhookReceiver answers each request with the next code in codes and
// repeats the last one once they run out.
func webhookReceiver(t *testing.T, codes ...int) (*WebhookAdapter, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := int(hits.Add(1))
		w.WriteHeader(codes[min(n, len(codes))-1])
	}))
	t.Cleanup(srv.Close)
	return NewWebhookAdapter(t.Name(), srv.URL, WithHTTPClient(srv.Client())), &hits
}

func TestDispatcher_BadRequestIsNotRetried(t *testing.T) {
	hook, hits := webhookReceiver(t, http.StatusBadRequest, http.StatusOK)
	before := deliveries(hook.Name(), outcomeRejected)

	NewDispatcher(DispatcherConfig{Attempts: 3, Backoff: time.Millisecond}).Dispatch(t.Context(), hook, Notification{CheckID: "orders"})

	require.Eventually(t, func() bool { return deliveries(hook.Name(), outcomeRejected) == before+1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), hits.Load())
}

func TestDispatcher_UnavailableIsRetried(t *testing.T) {
	hook, hits := webhookReceiver(t, http.StatusServiceUnavailable)
	before := deliveries(hook.Name(), outcomeExhausted)

	NewDispatcher(DispatcherConfig{Attempts: 3, Backoff: time.Millisecond}).Dispatch(t.Context(), hook, Notification{CheckID: "orders"})

	require.Eventually(t, func() bool { return deliveries(hook.Name(), outcomeExhausted) == before+1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(3), hits.Load())
}

func TestDispatcher_TooManyRequestsIsRetried(t *testing.T) {
	hook, hits := webhookReceiver(t, http.StatusTooManyRequests, http.StatusOK)
	before := deliveries(hook.Name(), outcomeDelivered)

	NewDispatcher(DispatcherConfig{Attempts: 3, Backoff: time.Millisecond}).Dispatch(t.Context(), hook, Notification{CheckID: "orders"})

	require.Eventually(t, func() bool { return deliveries(hook.Name(), outcomeDelivered) == before+1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(2), hits.Load())
}

func TestDispatcher_RetryAfterIsCappedByMaxBackoff(t *testing.T) {
	a, calls := countingAdapter("throttled", 2, func() error {
		return &StatusError{Code: http.StatusTooManyRequests, RetryAfter: time.Hour}
	})

	NewDispatcher(DispatcherConfig{Backoff: time.Millisecond, MaxBackoff: 10 * time.Millisecond}).Dispatch(t.Context(), a, Notification{CheckID: "orders"})

	waitForSent(t, a, 1)
	assert.Equal(t, int32(2), calls.Load())
}
