package submission

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Limits bounds the accepted shape of a submission.
type Limits struct {
	MaxAccountIDBytes int
	MaxPayloadBytes   int
	MinPriority       int
	MaxPriority       int
}

// Validate checks req without touching any store. The first violation wins,
// in field order account_id, payload, priority.
func (l Limits) Validate(req *Request) error {
	if strings.TrimSpace(req.AccountID) == "" {
		return validationError("account_id", "account_id is required")
	}
	if len(req.AccountID) > l.MaxAccountIDBytes {
		return validationError("account_id", fmt.Sprintf("account_id must be at most %d bytes", l.MaxAccountIDBytes))
	}

	if len(req.Payload) > l.MaxPayloadBytes {
		return validationError("payload", fmt.Sprintf("payload must be at most %d bytes", l.MaxPayloadBytes))
	}
	if isEmptyPayload(req.Payload) {
		return validationError("payload", "payload is required")
	}
	if !json.Valid(req.Payload) {
		return validationError("payload", "payload must be valid JSON")
	}

	if req.Priority != nil && (*req.Priority < l.MinPriority || *req.Priority > l.MaxPriority) {
		return validationError("priority", fmt.Sprintf("priority must be between %d and %d", l.MinPriority, l.MaxPriority))
	}

	return nil
}

func isEmptyPayload(raw json.RawMessage) bool {
	switch string(bytes.TrimSpace(raw)) {
	case "", "null", "{}", "[]", `""`:
		return true
	}
	return false
}
