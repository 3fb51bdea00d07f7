package sync

import (
	"context"
	"errors"
	stdsync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reybrally/customer-sync-service/internal/adapters/audit"
	domain "github.com/reybrally/customer-sync-service/internal/domain/customer"
)

/* ---------- fakes ---------- */

type fakeMsg struct {
	mu         stdsync.Mutex
	subject    string
	data       []byte
	deliveries uint64
	acks       int
	naks       int
}

func (m *fakeMsg) Subject() string { return m.subject }
func (m *fakeMsg) Data() []byte    { return m.data }
func (m *fakeMsg) Deliveries() uint64 {
	if m.deliveries == 0 {
		return 1
	}
	return m.deliveries
}
func (m *fakeMsg) Ack() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acks++
	return nil
}
func (m *fakeMsg) Nak() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.naks++
	return nil
}
func (m *fakeMsg) acked() bool { m.mu.Lock(); defer m.mu.Unlock(); return m.acks > 0 }
func (m *fakeMsg) naked() bool { m.mu.Lock(); defer m.mu.Unlock(); return m.naks > 0 }

type published struct {
	subject string
	data    []byte
}

type fakeQueue struct {
	mu        stdsync.Mutex
	batches   [][]Message
	fetchErrs []error
	publishes []published
}

func (q *fakeQueue) Fetch(_ context.Context, _ int, _ time.Duration) ([]Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.fetchErrs) > 0 {
		err := q.fetchErrs[0]
		q.fetchErrs = q.fetchErrs[1:]
		return nil, err
	}
	if len(q.batches) > 0 {
		b := q.batches[0]
		q.batches = q.batches[1:]
		return b, nil
	}
	// Simulated fetch timeout: no work available.
	time.Sleep(time.Millisecond)
	return nil, nil
}

func (q *fakeQueue) Publish(_ context.Context, subject string, data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.publishes = append(q.publishes, published{subject: subject, data: data})
	return nil
}

func (q *fakeQueue) Connected() bool { return true }

func (q *fakeQueue) dlq() []published {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]published, len(q.publishes))
	copy(out, q.publishes)
	return out
}

type fakeSyncer struct {
	mu        stdsync.Mutex
	upserts   []domain.Customer
	deletes   []string
	upsertErr error
	deleteRes Result
	health    DatabaseHealth
}

func (s *fakeSyncer) Upsert(_ context.Context, c domain.Customer) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return Result{}, s.upsertErr
	}
	s.upserts = append(s.upserts, c)
	return Result{Action: ActionCreated, Customer: c}, nil
}

func (s *fakeSyncer) Delete(_ context.Context, id string) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes = append(s.deletes, id)
	if s.deleteRes.Action == "" {
		return Result{Action: ActionDeleted}, nil
	}
	return s.deleteRes, nil
}

func (s *fakeSyncer) HealthCheck(_ context.Context) DatabaseHealth {
	if s.health.Status == "" {
		return DatabaseHealth{Status: "healthy"}
	}
	return s.health
}

func (s *fakeSyncer) upserted() []domain.Customer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Customer, len(s.upserts))
	copy(out, s.upserts)
	return out
}

type auditCall struct {
	eventType string
	entityID  string
	errMsg    string
	ms        int64
}

type fakeAuditor struct {
	mu       stdsync.Mutex
	consumed []auditCall
	failed   []auditCall
}

func (a *fakeAuditor) Consumed(eventType, entityID, _ string, _ any, ms int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.consumed = append(a.consumed, auditCall{eventType: eventType, entityID: entityID, ms: ms})
}

func (a *fakeAuditor) Failed(eventType, entityID, _ string, _ any, errMsg string, ms int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failed = append(a.failed, auditCall{eventType: eventType, entityID: entityID, errMsg: errMsg, ms: ms})
}

func (a *fakeAuditor) consumedCalls() []auditCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]auditCall, len(a.consumed))
	copy(out, a.consumed)
	return out
}

func (a *fakeAuditor) failedCalls() []auditCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]auditCall, len(a.failed))
	copy(out, a.failed)
	return out
}

type fakeNotifier struct {
	mu     stdsync.Mutex
	events []Notification
}

func (n *fakeNotifier) Notify(_ context.Context, ev Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *fakeNotifier) all() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Notification, len(n.events))
	copy(out, n.events)
	return out
}

/* ---------- harness ---------- */

func newTestProcessor(q *fakeQueue, s *fakeSyncer, a Auditor, n Notifier) *Processor {
	return NewProcessor(q, s, a, n, nil, ProcessorConfig{
		ConsumerName: "test-worker",
		Source:       "customer-sync-service",
		FetchTimeout: 10 * time.Millisecond,
		FetchBackoff: time.Millisecond,
		DLQSubject:   "customer.dead-letter",
	})
}

func runProcessor(t *testing.T, p *Processor) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	t.Cleanup(func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
		defer stopCancel()
		_ = p.Stop(stopCtx)
		cancel()
	})
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, what)
}

/* ---------- tests ---------- */

func TestProcessorAppliesCreatedEvent(t *testing.T) {
	msg := &fakeMsg{
		subject: "customer.created",
		data:    []byte(`{"eventType":"customer.created","entityId":"E1","entityData":{"email":"a@b.com","status":"active"}}`),
	}
	q := &fakeQueue{batches: [][]Message{{msg}}}
	s := &fakeSyncer{}
	a := &fakeAuditor{}
	n := &fakeNotifier{}

	runProcessor(t, newTestProcessor(q, s, a, n))

	waitFor(t, msg.acked, "message should be acked")
	waitFor(t, func() bool { return len(a.consumedCalls()) == 1 }, "logConsumed should fire")
	waitFor(t, func() bool { return len(n.all()) == 1 }, "notification should fire")

	ups := s.upserted()
	require.Len(t, ups, 1)
	assert.Equal(t, "E1", ups[0].CustomerID)
	assert.Equal(t, "a@b.com", ups[0].Email)
	assert.Equal(t, "active", ups[0].Status)

	assert.Equal(t, "customer.created", a.consumedCalls()[0].eventType)
	assert.Equal(t, ActionCreated, n.all()[0].Action)
	assert.Empty(t, a.failedCalls())
	assert.False(t, msg.naked())
}

func TestProcessorPoisonMessageContained(t *testing.T) {
	bad := &fakeMsg{subject: "customer.created", data: []byte(`{not json`)}
	good := &fakeMsg{
		subject: "customer.created",
		data:    []byte(`{"eventType":"customer.created","entityId":"E2","entityData":{"email":"ok@b.com"}}`),
	}
	q := &fakeQueue{batches: [][]Message{{bad}, {good}}}
	s := &fakeSyncer{}
	a := &fakeAuditor{}
	n := &fakeNotifier{}

	runProcessor(t, newTestProcessor(q, s, a, n))

	// Poison is acked away and routed to the DLQ; the loop keeps going and
	// the next valid message still lands.
	waitFor(t, bad.acked, "poison message should be acked")
	waitFor(t, good.acked, "valid message should still be processed")

	ups := s.upserted()
	require.Len(t, ups, 1)
	assert.Equal(t, "E2", ups[0].CustomerID)

	dlq := q.dlq()
	require.Len(t, dlq, 1)
	assert.Equal(t, "customer.dead-letter", dlq[0].subject)
	assert.False(t, bad.naked())
}

func TestProcessorUnknownEventTypeAcked(t *testing.T) {
	msg := &fakeMsg{
		subject: "customer.archived",
		data:    []byte(`{"eventType":"customer.archived","entityId":"E3","entityData":{"email":"e@e.com"}}`),
	}
	q := &fakeQueue{batches: [][]Message{{msg}}}
	s := &fakeSyncer{}

	runProcessor(t, newTestProcessor(q, s, &fakeAuditor{}, &fakeNotifier{}))

	waitFor(t, msg.acked, "unknown event should be acked")
	assert.Empty(t, s.upserted())
	require.Len(t, q.dlq(), 1)
}

func TestProcessorNaksOnDispatchFailure(t *testing.T) {
	msg := &fakeMsg{
		subject: "customer.updated",
		data:    []byte(`{"eventType":"customer.updated","entityId":"E4","entityData":{"email":"e@e.com"}}`),
	}
	q := &fakeQueue{batches: [][]Message{{msg}}}
	s := &fakeSyncer{upsertErr: errors.New("connection refused")}
	a := &fakeAuditor{}
	n := &fakeNotifier{}

	runProcessor(t, newTestProcessor(q, s, a, n))

	waitFor(t, msg.naked, "failed dispatch should nak")
	waitFor(t, func() bool { return len(a.failedCalls()) == 1 }, "logFailed should fire")

	assert.Equal(t, "connection refused", a.failedCalls()[0].errMsg)
	assert.False(t, msg.acked())
	assert.Empty(t, n.all())
	assert.Empty(t, q.dlq())
}

func TestProcessorDeleteNotFoundStillAcked(t *testing.T) {
	msg := &fakeMsg{
		subject: "customer.deleted",
		data:    []byte(`{"eventType":"customer.deleted","entityId":"E1"}`),
	}
	q := &fakeQueue{batches: [][]Message{{msg}}}
	s := &fakeSyncer{deleteRes: Result{Action: ActionNotFound}}
	a := &fakeAuditor{}

	runProcessor(t, newTestProcessor(q, s, a, &fakeNotifier{}))

	waitFor(t, msg.acked, "not_found delete is not an error")
	waitFor(t, func() bool { return len(a.consumedCalls()) == 1 }, "logConsumed should fire")
	assert.Empty(t, a.failedCalls())
	assert.False(t, msg.naked())
}

func TestProcessorSurvivesFetchErrors(t *testing.T) {
	msg := &fakeMsg{
		subject: "customer.created",
		data:    []byte(`{"eventType":"customer.created","entityId":"E5","entityData":{"email":"e@e.com"}}`),
	}
	q := &fakeQueue{
		fetchErrs: []error{errors.New("broker gone"), errors.New("still gone")},
		batches:   [][]Message{{msg}},
	}

	runProcessor(t, newTestProcessor(q, &fakeSyncer{}, &fakeAuditor{}, &fakeNotifier{}))

	waitFor(t, msg.acked, "loop should outlive transient fetch errors")
}

func TestProcessorAuditUnreachableDoesNotAffectOutcome(t *testing.T) {
	msg := &fakeMsg{
		subject: "customer.created",
		data:    []byte(`{"eventType":"customer.created","entityId":"E6","entityData":{"email":"e@e.com"}}`),
	}
	q := &fakeQueue{batches: [][]Message{{msg}}}
	s := &fakeSyncer{}
	// Real reporter pointed at a dead endpoint: errors are swallowed inside.
	reporter := audit.NewReporter("http://127.0.0.1:1", "customer-sync-service", 100*time.Millisecond)

	runProcessor(t, newTestProcessor(q, s, reporter, &fakeNotifier{}))

	waitFor(t, msg.acked, "ack must not depend on the audit endpoint")
	require.Len(t, s.upserted(), 1)
}

func TestProcessorHealth(t *testing.T) {
	q := &fakeQueue{}
	s := &fakeSyncer{}
	p := newTestProcessor(q, s, &fakeAuditor{}, &fakeNotifier{})

	h := p.Health(context.Background())
	assert.Equal(t, "unhealthy", h.Status)
	assert.False(t, h.Running)

	runProcessor(t, p)
	waitFor(t, func() bool { return p.Health(context.Background()).Running }, "loop should report running")

	h = p.Health(context.Background())
	assert.Equal(t, "healthy", h.Status)
	assert.True(t, h.NatsConnected)
	assert.Equal(t, "test-worker", h.ConsumerName)
}

func TestProcessorHealthUnhealthyDatabase(t *testing.T) {
	q := &fakeQueue{}
	s := &fakeSyncer{health: DatabaseHealth{Status: "unhealthy"}}
	p := newTestProcessor(q, s, &fakeAuditor{}, &fakeNotifier{})

	runProcessor(t, p)
	waitFor(t, func() bool { return p.Health(context.Background()).Running }, "loop should report running")

	assert.Equal(t, "unhealthy", p.Health(context.Background()).Status)
}

func TestProcessorStopIsIdempotent(t *testing.T) {
	p := newTestProcessor(&fakeQueue{}, &fakeSyncer{}, &fakeAuditor{}, &fakeNotifier{})
	p.Start(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.Stop(ctx))
	require.NoError(t, p.Stop(ctx))
}
