package sync

import (
	"encoding/json"
	"strings"
	"time"

	domain "github.com/reybrally/customer-sync-service/internal/domain/customer"
)

// Envelope is the decoded, canonical form of a queue message. Upstream
// producers emit the same logical fields in two casings (camelCase from the
// newer services, snake_case from the legacy publisher); decoding resolves
// both into this one shape so nothing downstream has to care. Compatibility
// shim, not a contract — drop the snake_case aliases once the legacy
// publisher is gone.
type Envelope struct {
	EventType     string
	EntityID      string
	CorrelationID string
	Customer      domain.Customer
	HasSnapshot   bool
}

// DecodeEnvelope parses and normalizes one wire message. The broker subject
// backs the event type when the body omits it. Delete events need only an
// entity id; created/updated must carry a snapshot.
func DecodeEnvelope(subject string, data []byte) (Envelope, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Envelope{}, err
	}

	var env Envelope
	env.EventType = pickString(raw, "eventType", "event_type", "subject")
	env.EntityID = pickString(raw, "entityId", "entity_id")
	env.CorrelationID = pickString(raw, "correlationId", "correlation_id")

	if env.EventType == "" {
		env.EventType = subject
	}
	if env.EventType == "" {
		return Envelope{}, ErrMissingEventType
	}

	if snap, ok := pickRaw(raw, "entityData", "entity_data", "payload"); ok {
		c, err := decodeSnapshot(snap)
		if err != nil {
			return Envelope{}, err
		}
		env.Customer = c
		env.HasSnapshot = true
	}

	// Legacy producer puts the id only inside the snapshot.
	if env.EntityID == "" {
		env.EntityID = env.Customer.CustomerID
	}
	if env.EntityID == "" {
		return Envelope{}, ErrMissingEntityID
	}
	env.Customer.CustomerID = env.EntityID

	if isWrite(env.EventType) && !env.HasSnapshot {
		return Envelope{}, ErrMissingSnapshot
	}
	return env, nil
}

func isWrite(eventType string) bool {
	return strings.HasSuffix(eventType, ".created") || strings.HasSuffix(eventType, ".updated")
}

func decodeSnapshot(data json.RawMessage) (domain.Customer, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return domain.Customer{}, err
	}
	c := domain.Customer{
		CustomerID: pickString(raw, "customerId", "customer_id"),
		Email:      pickString(raw, "email"),
		FirstName:  pickString(raw, "firstName", "first_name"),
		LastName:   pickString(raw, "lastName", "last_name"),
		Phone:      pickString(raw, "phone"),
		Status:     pickString(raw, "status"),
	}
	if ts := pickString(raw, "updatedAt", "updated_at"); ts != "" {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			c.UpdatedAt = t.UTC()
		}
	}
	return c, nil
}

func pickRaw(m map[string]json.RawMessage, keys ...string) (json.RawMessage, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok && string(v) != "null" {
			return v, true
		}
	}
	return nil, false
}

func pickString(m map[string]json.RawMessage, keys ...string) string {
	v, ok := pickRaw(m, keys...)
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}
