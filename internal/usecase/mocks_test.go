package usecase

import (
	"context"
	"errors"
	"sync"

	"github.com/eliteGoblin/focusd/lab_mon/internal/domain"
)

// mockProcessLister implements domain.ProcessLister for testing
type mockProcessLister struct {
	mu    sync.Mutex
	names []string
	err   error
	calls int
}

func (m *mockProcessLister) ListNames(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return append([]string(nil), m.names...), nil
}

func (m *mockProcessLister) set(names ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.names = names
}

// mockConnectionLister implements domain.ConnectionLister for testing
type mockConnectionLister struct {
	conns []domain.Connection
	err   error
}

func (m *mockConnectionLister) Established(_ context.Context) ([]domain.Connection, error) {
	return m.conns, m.err
}

// mockResolver implements domain.HostResolver for testing
type mockResolver struct {
	hosts map[string]string
}

func (m *mockResolver) ReverseLookup(_ context.Context, ip string) (string, error) {
	if h, ok := m.hosts[ip]; ok {
		return h, nil
	}
	return "", errors.New("unresolved")
}

// countingClassifier implements domain.Classifier and records calls
type countingClassifier struct {
	mu        sync.Mutex
	forbidden map[string]bool
	calls     map[string]int
}

func newCountingClassifier(forbidden ...string) *countingClassifier {
	c := &countingClassifier{forbidden: map[string]bool{}, calls: map[string]int{}}
	for _, f := range forbidden {
		c.forbidden[f] = true
	}
	return c
}

func (c *countingClassifier) Classify(_ context.Context, name string) domain.Verdict {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[name]++
	if c.forbidden[name] {
		return domain.Forbidden
	}
	return domain.Allowed
}

func (c *countingClassifier) callsFor(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[name]
}

// suffixHostClassifier forbids hosts not ending in an allowed suffix
type suffixHostClassifier struct {
	allowed string
}

func (s suffixHostClassifier) ClassifyHost(host string) domain.Verdict {
	if len(host) >= len(s.allowed) && host[len(host)-len(s.allowed):] == s.allowed {
		return domain.Allowed
	}
	return domain.Forbidden
}

// recordingReporter implements domain.Reporter for testing
type recordingReporter struct {
	mu     sync.Mutex
	events []domain.ViolationEvent
}

func (r *recordingReporter) Report(_ context.Context, ev domain.ViolationEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingReporter) subjects() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Subject
	}
	return out
}

// memBuffer implements domain.EventBuffer in memory
type memBuffer struct {
	mu        sync.Mutex
	records   [][]byte
	appendErr error
	acked     int
	batchSize int // 0 = everything in one batch
}

func (b *memBuffer) Append(ev domain.ViolationEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.appendErr != nil {
		return b.appendErr
	}
	b.records = append(b.records, []byte(ev.ID))
	return nil
}

func (b *memBuffer) DrainAll() ([][]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.records
	b.records = nil
	return out, nil
}

func (b *memBuffer) Pending() (domain.BufferBatch, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	recs := b.records
	if b.batchSize > 0 && len(recs) > b.batchSize {
		recs = recs[:b.batchSize]
	}
	recs = append([][]byte(nil), recs...)
	return domain.NewBufferBatch(recs, int64(len(recs)), ""), nil
}

func (b *memBuffer) Ack(batch domain.BufferBatch) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := int(batch.Size())
	if n > len(b.records) {
		return domain.ErrAckMismatch
	}
	b.records = b.records[n:]
	b.acked += n
	return nil
}

func (b *memBuffer) Len() (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records), nil
}

// mockAdminClient implements domain.AdminClient with scripted results
type mockAdminClient struct {
	mu sync.Mutex

	probeResults []bool // consumed in order; last value repeats
	probeCalls   int

	registerResults []domain.DeliveryResult
	registerCalls   int
	session         domain.Session

	heartbeats int

	alertStatus domain.DeliveryStatus
	alerts      []domain.ViolationEvent

	logsStatus domain.DeliveryStatus
	logs       [][][]byte
	logsCalls  int
}

func (m *mockAdminClient) Probe(_ context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probeCalls++
	if len(m.probeResults) == 0 {
		return true
	}
	r := m.probeResults[0]
	if len(m.probeResults) > 1 {
		m.probeResults = m.probeResults[1:]
	}
	return r
}

func (m *mockAdminClient) Register(_ context.Context, _, _ string) (*domain.Session, domain.DeliveryResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registerCalls++
	res := domain.DeliveryResult{Status: domain.Delivered, StatusCode: 201}
	if len(m.registerResults) > 0 {
		res = m.registerResults[0]
		if len(m.registerResults) > 1 {
			m.registerResults = m.registerResults[1:]
		}
	}
	if !res.OK() {
		return nil, res
	}
	s := m.session
	return &s, res
}

func (m *mockAdminClient) Heartbeat(_ context.Context, _ string) domain.DeliveryResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heartbeats++
	return domain.DeliveryResult{Status: domain.Delivered, StatusCode: 200}
}

func (m *mockAdminClient) SendAlert(_ context.Context, _, _ string, ev domain.ViolationEvent) domain.DeliveryResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, ev)
	return result(m.alertStatus)
}

func (m *mockAdminClient) SendLogs(_ context.Context, _ string, records [][]byte) domain.DeliveryResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logsCalls++
	res := result(m.logsStatus)
	if res.OK() {
		m.logs = append(m.logs, records)
	}
	return res
}

func (m *mockAdminClient) setLogsStatus(s domain.DeliveryStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logsStatus = s
}

func result(s domain.DeliveryStatus) domain.DeliveryResult {
	switch s {
	case domain.ServerRejected:
		return domain.DeliveryResult{Status: s, StatusCode: 500, Err: errors.New("500 Internal Server Error")}
	case domain.TransportError:
		return domain.DeliveryResult{Status: s, Err: errors.New("connection refused")}
	default:
		return domain.DeliveryResult{Status: domain.Delivered, StatusCode: 200}
	}
}

// scriptedOperator implements domain.Operator with canned answers
type scriptedOperator struct {
	answers []bool
	stages  []string
}

func (o *scriptedOperator) ConfirmRetry(stage string, _ error) bool {
	o.stages = append(o.stages, stage)
	if len(o.answers) == 0 {
		return false
	}
	a := o.answers[0]
	o.answers = o.answers[1:]
	return a
}
