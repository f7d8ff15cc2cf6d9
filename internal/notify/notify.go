// Package notify delivers check status changes to external systems.
package notify

import (
	"context"
	"time"

	"github.com/acme/data-dash/internal/checks"
)

// Adapter delivers a notification to an external system.
type Adapter interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// Notification is the payload sent to adapters.
type Notification struct {
	CheckID    string        `json:"checkId"`
	PrevStatus checks.Status `json:"prevStatus,omitempty"`
	NewStatus  checks.Status `json:"newStatus"`
	Message    string        `json:"message"`
	Timestamp  time.Time     `json:"timestamp"`
}
