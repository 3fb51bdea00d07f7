package handlers

import (
	"context"
	"net/http"
	"time"

	syncapp "github.com/reybrally/customer-sync-service/internal/app/sync"
)

var startedAt = time.Now()

type healthSource interface {
	Health(ctx context.Context) syncapp.Health
}

type HealthHandlers struct {
	processor healthSource
	service   string
	version   string
	stream    string
	consumer  string
}

func NewHealthHandlers(p healthSource, service, version, stream, consumer string) *HealthHandlers {
	return &HealthHandlers{
		processor: p,
		service:   service,
		version:   version,
		stream:    stream,
		consumer:  consumer,
	}
}

// HealthHandler reports 200 only when the processing loop runs and the
// staging store answers; anything else is 503.
func (h *HealthHandlers) HealthHandler(w http.ResponseWriter, r *http.Request) {
	health := h.processor.Health(r.Context())
	code := http.StatusOK
	if health.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, health)
}

// InfoHandler — static service metadata, no business logic.
func (h *HealthHandlers) InfoHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service":    h.service,
		"version":    h.version,
		"stream":     h.stream,
		"consumer":   h.consumer,
		"started_at": startedAt.Format(time.RFC3339),
		"uptime_sec": int(time.Since(startedAt).Seconds()),
	})
}
