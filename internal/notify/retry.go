package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/acme/data-dash/internal/metrics"
)

// Delivery outcomes as recorded in datadash_notification_deliveries_total.
const (
	outcomeDelivered = "delivered"
	outcomeRejected  = "rejected"
	outcomeExhausted = "exhausted"
	outcomeCancelled = "cancelled"
	outcomeDropped   = "dropped"
)

// DispatcherConfig tunes a Dispatcher. Zero fields take the defaults
// noted on each.
type DispatcherConfig struct {
	// Attempts is the total number of sends per notification. Default 3.
	Attempts int
	// Backoff is the wait before the second attempt; it doubles after
	// each retry. Default 1s.
	Backoff time.Duration
	// MaxBackoff caps any single wait, including a receiver's
	// Retry-After. Default 30s.
	MaxBackoff time.Duration
	// Concurrency bounds in-flight deliveries. Notifications beyond it
	// are dropped. Default 32.
	Concurrency int
	Logger      *slog.Logger
}

// Dispatcher delivers notifications in the background and retries the
// failures that may succeed later.
type Dispatcher struct {
	attempts   int
	backoff    time.Duration
	maxBackoff time.Duration
	slots      chan struct{}
	logger     *slog.Logger
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	d := &Dispatcher{
		attempts:   cfg.Attempts,
		backoff:    cfg.Backoff,
		maxBackoff: cfg.MaxBackoff,
		logger:     cfg.Logger,
	}
	if d.attempts <= 0 {
		d.attempts = 3
	}
	if d.backoff <= 0 {
		d.backoff = time.Second
	}
	if d.maxBackoff <= 0 {
		d.maxBackoff = 30 * time.Second
	}
	if d.logger == nil {
		d.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 32
	}
	d.slots = make(chan struct{}, concurrency)
	return d
}

// Retryable reports whether a failed Send is worth repeating. Network
// errors and temporary status codes are; a request the receiver rejected
// as invalid, or a cancelled context, is not.
func Retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Temporary()
	}
	return true
}

// Dispatch hands n to a background delivery and returns at once. When
// every slot is busy the notification is dropped and logged.
func (d *Dispatcher) Dispatch(ctx context.Context, a Adapter, n Notification) {
	select {
	case d.slots <- struct{}{}:
	default:
		metrics.NotificationDeliveries.WithLabelValues(a.Name(), outcomeDropped).Inc()
		d.logger.Warn("notification dropped, all delivery slots busy", "adapter", a.Name(), "check", n.CheckID)
		return
	}
	go func() {
		defer func() { <-d.slots }()
		outcome := d.deliver(ctx, a, n)
		metrics.NotificationDeliveries.WithLabelValues(a.Name(), outcome).Inc()
	}()
}

func (d *Dispatcher) deliver(ctx context.Context, a Adapter, n Notification) string {
	log := d.logger.With("adapter", a.Name(), "check", n.CheckID)
	backoff := d.backoff
	for attempt := 1; ; attempt++ {
		err := a.Send(ctx, n)
		switch {
		case err == nil:
			if attempt > 1 {
				log.Info("notification delivered after retry", "attempt", attempt)
			}
			return outcomeDelivered
		case !Retryable(err):
			log.Error("notification rejected", "attempt", attempt, "error", err)
			return outcomeRejected
		case attempt >= d.attempts:
			log.Error("notification undeliverable", "attempts", attempt, "error", err)
			return outcomeExhausted
		}

		wait := backoff
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.RetryAfter > wait {
			wait = statusErr.RetryAfter
		}
		wait = min(wait, d.maxBackoff)
		log.Warn("notification delivery failed", "attempt", attempt, "retry_in", wait, "error", err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return outcomeCancelled
		case <-timer.C:
		}
		backoff = min(backoff*2, d.maxBackoff)
	}
}
