package sync

import (
	"context"
	"encoding/json"
	"strings"
	stdsync "sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/reybrally/customer-sync-service/internal/logging"
	"github.com/reybrally/customer-sync-service/internal/metrics"
)

type ProcessorConfig struct {
	ConsumerName string
	Source       string
	FetchTimeout time.Duration
	FetchBackoff time.Duration
	// DLQSubject receives poison messages before they are acked away.
	// Empty string disables routing and poison messages are dropped.
	DLQSubject string
}

// Processor binds the queue client, sync service, auditor and notifier into
// the consume-process-ack loop. One processor runs one loop; messages are
// handled strictly in sequence, which is what preserves per-entity order.
type Processor struct {
	queue    Queue
	syncer   Syncer
	audit    Auditor
	notifier Notifier
	metrics  *metrics.PipelineMetrics
	cfg      ProcessorConfig

	started  atomic.Bool
	running  atomic.Bool
	stopOnce stdsync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewProcessor(q Queue, s Syncer, a Auditor, n Notifier, m *metrics.PipelineMetrics, cfg ProcessorConfig) *Processor {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 5 * time.Second
	}
	if cfg.FetchBackoff <= 0 {
		cfg.FetchBackoff = time.Second
	}
	return &Processor{
		queue:    q,
		syncer:   s,
		audit:    a,
		notifier: n,
		metrics:  m,
		cfg:      cfg,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the fetch/process loop. It does not block.
func (p *Processor) Start(ctx context.Context) {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	go p.run(ctx)
}

// Stop asks the loop to exit after the in-flight message completes and
// waits for it. Safe to call more than once.
func (p *Processor) Stop(ctx context.Context) error {
	p.stopOnce.Do(func() { close(p.stop) })
	if !p.started.Load() {
		return nil
	}
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Processor) run(ctx context.Context) {
	defer close(p.done)
	p.running.Store(true)
	defer p.running.Store(false)

	logging.LogInfo("processing loop started", logrus.Fields{
		"consumer":      p.cfg.ConsumerName,
		"fetch_timeout": p.cfg.FetchTimeout.String(),
	})

	for {
		select {
		case <-p.stop:
			logging.LogInfo("processing loop stopped", logrus.Fields{"consumer": p.cfg.ConsumerName})
			return
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := p.queue.Fetch(ctx, 1, p.cfg.FetchTimeout)
		if err != nil {
			// Transient broker trouble: back off and keep looping. The
			// loop only exits on an explicit stop.
			logging.LogError("fetch failed", err, logrus.Fields{"consumer": p.cfg.ConsumerName})
			select {
			case <-p.stop:
				return
			case <-ctx.Done():
				return
			case <-time.After(p.cfg.FetchBackoff):
			}
			continue
		}

		for _, m := range msgs {
			p.process(ctx, m)
		}
	}
}

func (p *Processor) process(ctx context.Context, m Message) {
	start := time.Now()

	env, err := DecodeEnvelope(m.Subject(), m.Data())
	if err != nil {
		p.poison(ctx, m, "malformed envelope", err)
		return
	}

	var (
		res  Result
		derr error
	)
	switch {
	case isWrite(env.EventType):
		res, derr = p.syncer.Upsert(ctx, env.Customer)
	case strings.HasSuffix(env.EventType, ".deleted"):
		res, derr = p.syncer.Delete(ctx, env.EntityID)
	default:
		p.poison(ctx, m, "unrecognized event type", nil)
		return
	}

	elapsed := time.Since(start)
	ms := elapsed.Milliseconds()

	if derr != nil {
		logging.LogError("dispatch failed, message will be redelivered", derr, logrus.Fields{
			"event_type": env.EventType,
			"entity_id":  env.EntityID,
			"deliveries": m.Deliveries(),
		})
		p.metrics.Failed(env.EventType, elapsed)
		go p.audit.Failed(env.EventType, env.EntityID, env.CorrelationID, env.Customer, derr.Error(), ms)
		p.nak(m)
		return
	}

	logging.LogInfo("message applied", logrus.Fields{
		"event_type": env.EventType,
		"entity_id":  env.EntityID,
		"action":     res.Action,
		"elapsed_ms": ms,
	})
	p.metrics.Consumed(env.EventType, elapsed)
	go p.audit.Consumed(env.EventType, env.EntityID, env.CorrelationID, env.Customer, ms)
	go p.notifier.Notify(ctx, Notification{
		EventType:      env.EventType,
		EntityID:       env.EntityID,
		Action:         res.Action,
		Timestamp:      time.Now().UTC(),
		ProcessingTime: ms,
		Source:         p.cfg.Source,
	})
	p.ack(m)
}

// deadLetter is the record published to the DLQ subject for poison
// messages. Data carries the original bytes (base64 in JSON).
type deadLetter struct {
	Subject    string    `json:"subject"`
	Reason     string    `json:"reason"`
	Error      string    `json:"error,omitempty"`
	Data       []byte    `json:"data"`
	Deliveries uint64    `json:"deliveries"`
	Timestamp  time.Time `json:"timestamp"`
}

// poison removes an unprocessable message from the queue. Retrying cannot
// make a malformed message parseable, so it is routed to the dead-letter
// subject (when configured) and acked either way.
func (p *Processor) poison(ctx context.Context, m Message, reason string, cause error) {
	fields := logrus.Fields{
		"subject":    m.Subject(),
		"reason":     reason,
		"deliveries": m.Deliveries(),
	}
	if cause != nil {
		fields["error"] = cause.Error()
	}
	logging.LogWarn("poison message removed from queue", fields)
	p.metrics.Poison(reason)

	if p.cfg.DLQSubject != "" {
		rec := deadLetter{
			Subject:    m.Subject(),
			Reason:     reason,
			Data:       m.Data(),
			Deliveries: m.Deliveries(),
			Timestamp:  time.Now().UTC(),
		}
		if cause != nil {
			rec.Error = cause.Error()
		}
		if b, err := json.Marshal(rec); err == nil {
			if err := p.queue.Publish(ctx, p.cfg.DLQSubject, b); err != nil {
				logging.LogWarn("dead-letter publish failed, dropping message", logrus.Fields{
					"subject": m.Subject(),
					"error":   err.Error(),
				})
			}
		}
	}
	p.ack(m)
}

func (p *Processor) ack(m Message) {
	if err := m.Ack(); err != nil {
		logging.LogError("ack failed", err, logrus.Fields{"subject": m.Subject()})
		return
	}
	p.metrics.Acked()
}

func (p *Processor) nak(m Message) {
	if err := m.Nak(); err != nil {
		logging.LogError("nak failed", err, logrus.Fields{"subject": m.Subject()})
		return
	}
	p.metrics.Naked()
}

// Health is the process health contract served on /health.
type Health struct {
	Status         string         `json:"status"`
	NatsConnected  bool           `json:"natsConnected"`
	ConsumerName   string         `json:"consumerName"`
	DatabaseHealth DatabaseHealth `json:"databaseHealth"`
	Running        bool           `json:"running"`
}

func (p *Processor) Health(ctx context.Context) Health {
	db := p.syncer.HealthCheck(ctx)
	running := p.running.Load()
	status := "unhealthy"
	if running && db.Status == "healthy" {
		status = "healthy"
	}
	return Health{
		Status:         status,
		NatsConnected:  p.queue.Connected(),
		ConsumerName:   p.cfg.ConsumerName,
		DatabaseHealth: db,
		Running:        running,
	}
}
