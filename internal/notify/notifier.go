package notify

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/acme/data-dash/internal/checks"
	"github.com/acme/data-dash/internal/history"
)

// Notifier is a history.Writer that notifies adapters when a check's
// status differs from its previous result. A check's first result only
// notifies when it is not a success.
type Notifier struct {
	ctx        context.Context
	adapters   []Adapter
	dispatcher *Dispatcher
	logger     *slog.Logger

	mu   sync.Mutex
	last map[string]checks.Status
}

var _ history.Writer = (*Notifier)(nil)

// NewNotifier returns a Notifier. Deliveries are abandoned once ctx is
// cancelled.
func NewNotifier(ctx context.Context, adapters []Adapter, dispatcher *Dispatcher, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if dispatcher == nil {
		dispatcher = NewDispatcher(DispatcherConfig{Logger: logger})
	}
	return &Notifier{
		ctx:        ctx,
		adapters:   adapters,
		dispatcher: dispatcher,
		logger:     logger,
		last:       make(map[string]checks.Status),
	}
}

// Seed sets the known status per check, typically from the latest stored
// results, so a restart does not re-announce unchanged statuses.
func (n *Notifier) Seed(statuses map[string]checks.Status) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for id, s := range statuses {
		n.last[id] = s
	}
}

func (n *Notifier) Record(e history.Entry) error {
	n.mu.Lock()
	prev, known := n.last[e.CheckID]
	n.last[e.CheckID] = e.Status
	n.mu.Unlock()

	if known && prev == e.Status {
		return nil
	}
	if !known && e.Status == checks.StatusSuccess {
		return nil
	}

	note := Notification{
		CheckID:    e.CheckID,
		PrevStatus: prev,
		NewStatus:  e.Status,
		Message:    e.Message,
		Timestamp:  e.ExecutedAt,
	}
	for _, a := range n.adapters {
		n.dispatcher.Dispatch(n.ctx, a, note)
	}
	n.logger.Info("check status changed", "check", e.CheckID, "prev", prev, "new", e.Status, "adapters", len(n.adapters))
	return nil
}

func (n *Notifier) Close() error { return nil }
