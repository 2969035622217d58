package core

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const (
	testOutgoingSecret = "outgoing-secret"
	testIncomingSecret = "incoming-secret"
	testTargetURL      = "https://hooks.example.com/inbox"
)

type stubLogger struct{}

func (stubLogger) Trace(string, ...any) {}
func (stubLogger) Debug(string, ...any) {}
func (stubLogger) Info(string, ...any)  {}
func (stubLogger) Warn(string, ...any)  {}
func (stubLogger) Error(string, ...any) {}
func (stubLogger) Fatal(string, ...any) {}
func (s stubLogger) WithContext(context.Context) Logger {
	return s
}

type stubLoggerProvider struct {
	logger Logger
}

func (s stubLoggerProvider) GetLogger(string) Logger {
	return s.logger
}

type mapRawLoader struct {
	values map[string]any
}

func (l mapRawLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.values))
	for key, value := range l.values {
		out[key] = value
	}
	return out, nil
}

// testClock is a manually advanced clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// scriptedDeliverer answers with the queued status codes in order and repeats
// the last one when the script runs out.
type scriptedDeliverer struct {
	mu         sync.Mutex
	statuses   []int
	err        error
	block      chan struct{}
	deliveries []Delivery
}

func (d *scriptedDeliverer) Deliver(ctx context.Context, delivery Delivery) (DeliveryResult, error) {
	d.mu.Lock()
	d.deliveries = append(d.deliveries, delivery)
	index := len(d.deliveries) - 1
	block := d.block
	err := d.err
	status := 200
	if len(d.statuses) > 0 {
		if index < len(d.statuses) {
			status = d.statuses[index]
		} else {
			status = d.statuses[len(d.statuses)-1]
		}
	}
	d.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return DeliveryResult{}, ctx.Err()
		}
	}
	if err != nil {
		return DeliveryResult{}, err
	}
	return DeliveryResult{StatusCode: status, Duration: time.Millisecond}, nil
}

func (d *scriptedDeliverer) calls() []Delivery {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Delivery, len(d.deliveries))
	copy(out, d.deliveries)
	return out
}

type captureAttemptHook struct {
	mu     sync.Mutex
	events []AttemptEvent
}

func (h *captureAttemptHook) OnAttempt(_ context.Context, event AttemptEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
}

func (h *captureAttemptHook) snapshot() []AttemptEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]AttemptEvent, len(h.events))
	copy(out, h.events)
	return out
}

type countingCreateStore struct {
	*MemoryDispatchStore
	creates int
}

func (s *countingCreateStore) Create(ctx context.Context, record DispatchRecord) (DispatchRecord, error) {
	s.creates++
	return s.MemoryDispatchStore.Create(ctx, record)
}

type flakyAttemptStore struct {
	*MemoryDispatchStore
	failures int
}

func (s *flakyAttemptStore) RecordAttempt(ctx context.Context, update AttemptUpdate) (DispatchRecord, error) {
	if s.failures > 0 {
		s.failures--
		return DispatchRecord{}, fmt.Errorf("database is locked")
	}
	return s.MemoryDispatchStore.RecordAttempt(ctx, update)
}

type recordingJobEnqueuer struct {
	mu       sync.Mutex
	messages []*JobExecutionMessage
	err      error
}

func (e *recordingJobEnqueuer) Enqueue(_ context.Context, msg *JobExecutionMessage) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.messages = append(e.messages, msg)
	return e.err
}

func newTestDispatcher(store DispatchStore, clock *testClock, defaultTarget string) *Dispatcher {
	signer := NewSigner(testOutgoingSecret, testIncomingSecret)
	next := 0
	dispatcher, err := NewDispatcher(store, signer, defaultTarget,
		WithDispatcherClock(clock.Now),
		WithDispatcherIDGenerator(func() string {
			next++
			return fmt.Sprintf("dsp_%03d", next)
		}),
	)
	if err != nil {
		panic(err)
	}
	return dispatcher
}

func newTestWorker(store DispatchStore, deliverer Deliverer, clock *testClock, cfg WorkerConfig, opts ...WorkerOption) *RetryWorker {
	signer := NewSigner(testOutgoingSecret, testIncomingSecret)
	base := []WorkerOption{
		WithWorkerClock(clock.Now),
		WithRetryWorkerOwner("worker-test"),
		WithWorkerBackoff(ExponentialBackoff{Base: time.Second}),
	}
	worker, err := NewRetryWorker(store, deliverer, signer, cfg, append(base, opts...)...)
	if err != nil {
		panic(err)
	}
	return worker
}

func testServiceConfig() Config {
	cfg := DefaultConfig()
	cfg.OutgoingSecret = testOutgoingSecret
	cfg.IncomingSecret = testIncomingSecret
	cfg.DefaultTargetURL = testTargetURL
	return cfg
}

type capturedCounter struct {
	name  string
	value int64
	tags  map[string]string
}

type capturedHistogram struct {
	name  string
	value float64
	tags  map[string]string
}

type captureMetricsRecorder struct {
	mu         sync.Mutex
	counters   []capturedCounter
	histograms []capturedHistogram
}

func (m *captureMetricsRecorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = append(m.counters, capturedCounter{name: name, value: value, tags: cloneTags(tags)})
}

func (m *captureMetricsRecorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histograms = append(m.histograms, capturedHistogram{name: name, value: value, tags: cloneTags(tags)})
}

func (m *captureMetricsRecorder) counterTotal(name string, tags map[string]string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int64
	for _, counter := range m.counters {
		if counter.name != name {
			continue
		}
		matched := true
		for key, value := range tags {
			if counter.tags[key] != value {
				matched = false
				break
			}
		}
		if matched {
			total += counter.value
		}
	}
	return total
}

type capturedLog struct {
	level  string
	msg    string
	fields map[string]any
}

type captureLogger struct {
	mu       *sync.Mutex
	records  *[]capturedLog
	defaults map[string]any
}

func newCaptureLogger() *captureLogger {
	records := []capturedLog{}
	return &captureLogger{mu: &sync.Mutex{}, records: &records, defaults: map[string]any{}}
}

func (l *captureLogger) WithFields(fields map[string]any) Logger {
	merged := cloneFieldMap(l.defaults)
	for key, value := range fields {
		merged[key] = value
	}
	return &captureLogger{mu: l.mu, records: l.records, defaults: merged}
}

func (l *captureLogger) Trace(msg string, args ...any) { l.record("trace", msg, args...) }
func (l *captureLogger) Debug(msg string, args ...any) { l.record("debug", msg, args...) }
func (l *captureLogger) Info(msg string, args ...any)  { l.record("info", msg, args...) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.record("warn", msg, args...) }
func (l *captureLogger) Error(msg string, args ...any) { l.record("error", msg, args...) }
func (l *captureLogger) Fatal(msg string, args ...any) { l.record("fatal", msg, args...) }

func (l *captureLogger) WithContext(context.Context) Logger {
	return &captureLogger{mu: l.mu, records: l.records, defaults: cloneFieldMap(l.defaults)}
}

func (l *captureLogger) record(level string, msg string, args ...any) {
	fields := cloneFieldMap(l.defaults)
	for index := 0; index+1 < len(args); index += 2 {
		key, ok := args[index].(string)
		if !ok {
			continue
		}
		fields[key] = args[index+1]
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.records = append(*l.records, capturedLog{level: level, msg: msg, fields: fields})
}

func (l *captureLogger) snapshot() []capturedLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	items := *l.records
	out := make([]capturedLog, len(items))
	copy(out, items)
	return out
}

func (l *captureLogger) find(level string, msg string) (capturedLog, bool) {
	for _, entry := range l.snapshot() {
		if entry.level == level && entry.msg == msg {
			return entry, true
		}
	}
	return capturedLog{}, false
}

func cloneFieldMap(input map[string]any) map[string]any {
	if len(input) == 0 {
		return map[string]any{}
	}
	output := make(map[string]any, len(input))
	for key, value := range input {
		output[key] = value
	}
	return output
}
