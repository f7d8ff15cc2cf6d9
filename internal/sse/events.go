package sse

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/acme/data-dash/internal/history"
)

// StateEventPayload carries the latest result per check for the initial
// "state" event. Checks are sorted by id.
type StateEventPayload struct {
	Checks []history.Entry `json:"checks"`
}

// formatSSEEvent formats an SSE event with the given type and JSON-encoded data.
func formatSSEEvent(eventType string, data any) ([]byte, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal SSE event data: %w", err)
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "event: %s\ndata: %s\n\n", eventType, jsonData)
	return buf.Bytes(), nil
}

// formatKeepalive returns a SSE keepalive comment.
func formatKeepalive() []byte {
	return []byte(":keepalive\n\n")
}
