// Package sse streams check results to browsers as server-sent events.
package sse

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/acme/data-dash/internal/history"
	"github.com/acme/data-dash/internal/storage"
)

// StatusSource provides the latest result per check for the initial
// snapshot. Defined here at the consumer, not in the storage package.
type StatusSource interface {
	LatestStatuses(ctx context.Context) (map[string]storage.CheckResult, error)
}

const (
	defaultKeepaliveInterval = 15 * time.Second
	publishBuffer            = 256
	clientBuffer             = 64
)

// sseEvent is an internal representation of a formatted SSE message ready to write.
type sseEvent struct {
	data []byte
}

// Broker manages SSE client connections and broadcasts check results.
type Broker struct {
	source            StatusSource
	logger            *slog.Logger
	events            chan history.Entry
	clients           map[chan sseEvent]struct{}
	keepaliveInterval time.Duration
	mu                sync.Mutex
}

// NewBroker creates a new SSE broker. Run must be started for published
// entries to reach clients.
func NewBroker(source StatusSource, logger *slog.Logger) *Broker {
	return newBrokerWithKeepalive(source, logger, defaultKeepaliveInterval)
}

func newBrokerWithKeepalive(source StatusSource, logger *slog.Logger, keepaliveInterval time.Duration) *Broker {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if keepaliveInterval <= 0 {
		keepaliveInterval = defaultKeepaliveInterval
	}

	return &Broker{
		source:            source,
		logger:            logger,
		events:            make(chan history.Entry, publishBuffer),
		clients:           make(map[chan sseEvent]struct{}),
		keepaliveInterval: keepaliveInterval,
	}
}

// Publish queues e for broadcast. It never blocks; when the queue is full
// the entry is dropped.
func (b *Broker) Publish(e history.Entry) {
	select {
	case b.events <- e:
	default:
		b.logger.Warn("SSE publish queue full, dropping result", "check", e.CheckID)
	}
}

// Run broadcasts published entries to all connected clients.
// It blocks until the context is cancelled.
func (b *Broker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			b.closeAllClients()
			b.logger.Info("SSE broker stopped")
			return
		case e := <-b.events:
			data, err := formatSSEEvent("result", e)
			if err != nil {
				b.logger.Debug("failed to format SSE event", "error", err)
				continue
			}
			b.broadcast(sseEvent{data: data})
			b.logger.Debug("SSE event broadcast", "check", e.CheckID)
		}
	}
}

func (b *Broker) closeAllClients() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.clients {
		close(ch)
		delete(b.clients, ch)
	}
}

// broadcast sends an event to all connected clients using non-blocking sends.
func (b *Broker) broadcast(evt sseEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.clients {
		select {
		case ch <- evt:
		default:
			// Client too slow, skip this event
		}
	}
}

func (b *Broker) addClient(ch chan sseEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[ch] = struct{}{}
	b.logger.Info("SSE client connected", "clients", len(b.clients))
}

func (b *Broker) removeClient(ch chan sseEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.clients, ch)
	b.logger.Info("SSE client disconnected", "clients", len(b.clients))
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// ServeHTTP handles SSE connections: sets headers, sends initial state, and streams events.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Register client before sending the initial snapshot so no updates are missed.
	clientCh := make(chan sseEvent, clientBuffer)
	b.addClient(clientCh)
	defer b.removeClient(clientCh)

	initialData, err := b.buildStateEvent(r.Context())
	if err != nil {
		b.logger.Warn("failed to build initial state event", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if err := writeAndFlush(w, flusher, initialData); err != nil {
		b.logger.Debug("failed to write initial state event", "error", err)
		return
	}

	keepalive := time.NewTicker(b.keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-clientCh:
			if !ok {
				// Channel closed by broker shutdown.
				return
			}
			if err := writeAndFlush(w, flusher, evt.data); err != nil {
				b.logger.Debug("failed to write SSE event", "error", err)
				return
			}
			keepalive.Reset(b.keepaliveInterval)
		case <-keepalive.C:
			if err := writeAndFlush(w, flusher, formatKeepalive()); err != nil {
				b.logger.Debug("failed to write keepalive", "error", err)
				return
			}
		}
	}
}

func writeAndFlush(w http.ResponseWriter, flusher http.Flusher, payload []byte) error {
	if _, err := w.Write(payload); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

func (b *Broker) buildStateEvent(ctx context.Context) ([]byte, error) {
	latest, err := b.source.LatestStatuses(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]history.Entry, 0, len(latest))
	for _, r := range latest {
		entries = append(entries, history.FromResult(r))
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].CheckID < entries[j].CheckID })
	return formatSSEEvent("state", StateEventPayload{Checks: entries})
}
