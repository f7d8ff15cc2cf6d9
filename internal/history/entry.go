// Package history records check executions. Results go to the database,
// an optional append-only JSONL mirror, and live subscribers.
package history

import (
	"encoding/json"
	"time"

	"github.com/acme/data-dash/internal/checks"
	"github.com/acme/data-dash/internal/storage"
)

// Entry is one check execution as seen by history consumers.
type Entry struct {
	ID         uint64          `json:"id,omitempty"`
	CheckID    string          `json:"check_id"`
	Status     checks.Status   `json:"status"`
	Message    string          `json:"message"`
	Details    json.RawMessage `json:"details,omitempty"`
	ExecutedAt time.Time       `json:"executed_at"`
}

// NewEntry builds an Entry for a finished check run.
func NewEntry(checkID string, res checks.Result, at time.Time) Entry {
	return Entry{
		CheckID:    checkID,
		Status:     res.Status,
		Message:    res.Message,
		Details:    res.Details,
		ExecutedAt: at.UTC(),
	}
}

// FromResult converts a stored row.
func FromResult(r storage.CheckResult) Entry {
	e := Entry{
		ID:         r.ID,
		CheckID:    r.CheckID,
		Status:     checks.Status(r.Status),
		Message:    r.Message,
		ExecutedAt: r.ExecutedAt.UTC(),
	}
	if r.Details != nil {
		e.Details = json.RawMessage(*r.Details)
	}
	return e
}

// Result converts e into a row for storage.
func (e Entry) Result() storage.CheckResult {
	r := storage.CheckResult{
		ID:         e.ID,
		CheckID:    e.CheckID,
		Status:     string(e.Status),
		Message:    e.Message,
		ExecutedAt: e.ExecutedAt,
	}
	if len(e.Details) > 0 {
		d := string(e.Details)
		r.Details = &d
	}
	return r
}
