package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/data-dash/internal/checks"
	"github.com/acme/data-dash/internal/history"
)

type fakeAdapter struct {
	mu    sync.Mutex
	name  string
	sent  []Notification
	errFn func() error
}

func newFakeAdapter(name string) *fakeAdapter {
	return &fakeAdapter{name: name}
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Send(_ context.Context, n Notification) error {
	if f.errFn != nil {
		if err := f.errFn(); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, n)
	return nil
}

func (f *fakeAdapter) sentNotifications() []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Notification, len(f.sent))
	copy(out, f.sent)
	return out
}

func entry(id string, s checks.Status) history.Entry {
	return history.Entry{CheckID: id, Status: s, Message: string(s), ExecutedAt: time.Now().UTC()}
}

func waitForSent(t *testing.T, a *fakeAdapter, n int) []Notification {
	t.Helper()
	require.Eventually(t, func() bool { return len(a.sentNotifications()) >= n }, time.Second, 5*time.Millisecond)
	return a.sentNotifications()
}

func TestNotifier_FirstSuccessIsSilent(t *testing.T) {
	a := newFakeAdapter("hook")
	n := NewNotifier(context.Background(), []Adapter{a}, NewDispatcher(DispatcherConfig{Backoff: time.Millisecond}), nil)

	require.NoError(t, n.Record(entry("orders", checks.StatusSuccess)))

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, a.sentNotifications())
}

func TestNotifier_FirstFailureNotifies(t *testing.T) {
	a := newFakeAdapter("hook")
	n := NewNotifier(context.Background(), []Adapter{a}, NewDispatcher(DispatcherConfig{Backoff: time.Millisecond}), nil)

	require.NoError(t, n.Record(entry("orders", checks.StatusFailure)))

	sent := waitForSent(t, a, 1)
	assert.Equal(t, "orders", sent[0].CheckID)
	assert.Equal(t, checks.Status(""), sent[0].PrevStatus)
	assert.Equal(t, checks.StatusFailure, sent[0].NewStatus)
}

func TestNotifier_OnlyTransitionsNotify(t *testing.T) {
	a := newFakeAdapter("hook")
	n := NewNotifier(context.Background(), []Adapter{a}, NewDispatcher(DispatcherConfig{Backoff: time.Millisecond}), nil)

	for _, s := range []checks.Status{
		checks.StatusSuccess,
		checks.StatusSuccess,
		checks.StatusWarning,
		checks.StatusWarning,
		checks.StatusSuccess,
	} {
		require.NoError(t, n.Record(entry("orders", s)))
	}

	waitForSent(t, a, 2)
	time.Sleep(50 * time.Millisecond)
	sent := a.sentNotifications()
	require.Len(t, sent, 2)

	got := map[checks.Status]checks.Status{}
	for _, s := range sent {
		got[s.NewStatus] = s.PrevStatus
	}
	assert.Equal(t, checks.StatusSuccess, got[checks.StatusWarning])
	assert.Equal(t, checks.StatusWarning, got[checks.StatusSuccess])
}

func TestNotifier_SeedSuppressesUnchanged(t *testing.T) {
	a := newFakeAdapter("hook")
	n := NewNotifier(context.Background(), []Adapter{a}, NewDispatcher(DispatcherConfig{Backoff: time.Millisecond}), nil)
	n.Seed(map[string]checks.Status{"orders": checks.StatusFailure})

	require.NoError(t, n.Record(entry("orders", checks.StatusFailure)))
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, a.sentNotifications())

	require.NoError(t, n.Record(entry("orders", checks.StatusSuccess)))
	sent := waitForSent(t, a, 1)
	assert.Equal(t, checks.StatusFailure, sent[0].PrevStatus)
}

func TestNotifier_ChecksAreIndependent(t *testing.T) {
	a := newFakeAdapter("hook")
	b := newFakeAdapter("other")
	n := NewNotifier(context.Background(), []Adapter{a, b}, NewDispatcher(DispatcherConfig{Backoff: time.Millisecond}), nil)

	require.NoError(t, n.Record(entry("orders", checks.StatusWarning)))
	require.NoError(t, n.Record(entry("users", checks.StatusSuccess)))

	waitForSent(t, a, 1)
	waitForSent(t, b, 1)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, a.sentNotifications(), 1)
	assert.Len(t, b.sentNotifications(), 1)
	assert.NoError(t, n.Close())
}
