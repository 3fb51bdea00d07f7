package sync

import (
	"context"
	"time"

	domain "github.com/reybrally/customer-sync-service/internal/domain/customer"
)

// Action values reported by the sync service per applied message.
const (
	ActionCreated  = "created"
	ActionUpdated  = "updated"
	ActionDeleted  = "deleted"
	ActionNotFound = "not_found"
)

// Result describes what a single upsert or delete did to the staging store.
type Result struct {
	Action   string          `json:"action"`
	Customer domain.Customer `json:"customer"`
}

type CustomerUpserter interface {
	UpsertCustomer(ctx context.Context, c domain.Customer) (domain.Customer, bool, error)
}

type CustomerDeleter interface {
	DeleteCustomer(ctx context.Context, id string) error
}

type SchemaChecker interface {
	CheckSchema(ctx context.Context) error
}

type HealthQuerier interface {
	Health(ctx context.Context) (DatabaseHealth, error)
}

// StagingRepo is everything the sync service needs from the destination
// store. The repo owns the single connection; all access goes through the
// one sequential processing loop.
type StagingRepo interface {
	CustomerUpserter
	CustomerDeleter
	SchemaChecker
	HealthQuerier
	Close()
}

type DatabaseHealth struct {
	Status      string `json:"status"`
	RecordCount int64  `json:"recordCount"`
	Schema      string `json:"schema"`
}

// Message is one delivered queue message. Ack and Nak report the outcome to
// the broker; Deliveries is the broker-side redelivery counter.
type Message interface {
	Subject() string
	Data() []byte
	Deliveries() uint64
	Ack() error
	Nak() error
}

// Queue is the durable queue client as seen by the processor. Fetch returns
// an empty slice on timeout; that is the normal "no work" condition, not an
// error. Publish is used for the dead-letter route.
type Queue interface {
	Fetch(ctx context.Context, max int, timeout time.Duration) ([]Message, error)
	Publish(ctx context.Context, subject string, data []byte) error
	Connected() bool
}

// Auditor reports message outcomes to the central audit endpoint.
// Implementations are best-effort: they swallow every failure and never
// block beyond their own timeout.
type Auditor interface {
	Consumed(eventType, entityID, correlationID string, payload any, processingMs int64)
	Failed(eventType, entityID, correlationID string, payload any, errMsg string, processingMs int64)
}

// Notification is the fire-and-forget event broadcast to real-time
// listeners after a message is applied.
type Notification struct {
	EventType      string    `json:"eventType"`
	EntityID       string    `json:"entityId"`
	Action         string    `json:"action"`
	Timestamp      time.Time `json:"timestamp"`
	ProcessingTime int64     `json:"processingTime"`
	Source         string    `json:"source"`
}

// Notifier delivery is not guaranteed; implementations log failures and
// return nothing.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// Syncer is the processor's view of the sync service.
type Syncer interface {
	Upsert(ctx context.Context, c domain.Customer) (Result, error)
	Delete(ctx context.Context, id string) (Result, error)
	HealthCheck(ctx context.Context) DatabaseHealth
}
