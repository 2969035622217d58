package core

import (
	"context"
	"errors"
	"testing"
)

func TestDispatcherEnqueue_UsesDefaultTarget(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryDispatchStore()
	clock := newTestClock()
	dispatcher := newTestDispatcher(store, clock, "https://x.test/hook")

	record, err := dispatcher.Enqueue(ctx, EnqueueRequest{
		EventType: "order.paid",
		Payload:   map[string]any{"orderId": "O1"},
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if record.Status != DispatchStatusQueued {
		t.Fatalf("expected queued, got %q", record.Status)
	}
	if record.Attempts != 0 {
		t.Fatalf("expected zero attempts, got %d", record.Attempts)
	}
	if record.TargetURL != "https://x.test/hook" {
		t.Fatalf("expected default target, got %q", record.TargetURL)
	}
	if record.NextRetryAt != nil {
		t.Fatalf("expected no next retry, got %v", record.NextRetryAt)
	}
	if !record.CreatedAt.Equal(clock.Now()) {
		t.Fatalf("expected created at %v, got %v", clock.Now(), record.CreatedAt)
	}
	if !NewSigner("", testOutgoingSecret).VerifyIncoming(record.Payload, record.Signature) {
		t.Fatalf("expected stored signature to cover stored payload")
	}
	payload, err := record.PayloadMap()
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["orderId"] != "O1" {
		t.Fatalf("expected payload orderId O1, got %#v", payload)
	}

	stored, err := store.Get(ctx, record.ID)
	if err != nil {
		t.Fatalf("get stored: %v", err)
	}
	if string(stored.Payload) != string(record.Payload) {
		t.Fatalf("expected stored payload %s, got %s", record.Payload, stored.Payload)
	}
}

func TestDispatcherEnqueue_ExplicitTargetWins(t *testing.T) {
	store := NewMemoryDispatchStore()
	dispatcher := newTestDispatcher(store, newTestClock(), "https://x.test/hook")

	record, err := dispatcher.Enqueue(context.Background(), EnqueueRequest{
		EventType: "order.paid",
		Payload:   map[string]any{"orderId": "O2"},
		TargetURL: "https://partner.test/webhooks",
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if record.TargetURL != "https://partner.test/webhooks" {
		t.Fatalf("expected explicit target, got %q", record.TargetURL)
	}
}

func TestDispatcherEnqueue_InvalidTargetFallsBackToDefault(t *testing.T) {
	store := NewMemoryDispatchStore()
	dispatcher := newTestDispatcher(store, newTestClock(), "https://x.test/hook")

	record, err := dispatcher.Enqueue(context.Background(), EnqueueRequest{
		EventType: "order.paid",
		TargetURL: "ftp://partner.test/drop",
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if record.TargetURL != "https://x.test/hook" {
		t.Fatalf("expected fallback to default, got %q", record.TargetURL)
	}
}

func TestDispatcherEnqueue_TargetRulesWithoutDefault(t *testing.T) {
	cases := []struct {
		name   string
		target string
		check  func(error) bool
	}{
		{name: "missing target", target: "", check: IsConfigurationError},
		{name: "relative target", target: "/hooks", check: IsValidationError},
		{name: "no host", target: "https://", check: IsValidationError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := NewMemoryDispatchStore()
			dispatcher := newTestDispatcher(store, newTestClock(), "")
			_, err := dispatcher.Enqueue(context.Background(), EnqueueRequest{
				EventType: "order.paid",
				TargetURL: tc.target,
			})
			if err == nil {
				t.Fatalf("expected enqueue to fail")
			}
			if !tc.check(err) {
				t.Fatalf("unexpected error kind: %v", err)
			}
			if len(store.Snapshot()) != 0 {
				t.Fatalf("expected nothing to be persisted")
			}
		})
	}
}

func TestDispatcherEnqueue_UnserializablePayloadPersistsNothing(t *testing.T) {
	store := &countingCreateStore{MemoryDispatchStore: NewMemoryDispatchStore()}
	dispatcher := newTestDispatcher(store, newTestClock(), "https://x.test/hook")

	_, err := dispatcher.Enqueue(context.Background(), EnqueueRequest{
		EventType: "order.paid",
		Payload:   map[string]any{"bad": make(chan int)},
	})
	if err == nil {
		t.Fatalf("expected serialization failure")
	}
	if !IsValidationError(err) {
		t.Fatalf("expected validation category, got %v", err)
	}
	if store.creates != 0 {
		t.Fatalf("expected no store writes, got %d", store.creates)
	}
}

func TestDispatcherEnqueue_RequiresEventType(t *testing.T) {
	store := NewMemoryDispatchStore()
	dispatcher := newTestDispatcher(store, newTestClock(), "https://x.test/hook")

	_, err := dispatcher.Enqueue(context.Background(), EnqueueRequest{EventType: "  "})
	if !IsValidationError(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(store.Snapshot()) != 0 {
		t.Fatalf("expected nothing to be persisted")
	}
}

func TestDispatcherEnqueue_NilPayloadBecomesEmptyObject(t *testing.T) {
	dispatcher := newTestDispatcher(NewMemoryDispatchStore(), newTestClock(), "https://x.test/hook")

	record, err := dispatcher.Enqueue(context.Background(), EnqueueRequest{EventType: "ping"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if string(record.Payload) != "{}" {
		t.Fatalf("expected {} payload, got %s", record.Payload)
	}
}

func TestDispatcherEnqueueRaw_RejectsInvalidJSON(t *testing.T) {
	store := NewMemoryDispatchStore()
	dispatcher := newTestDispatcher(store, newTestClock(), "https://x.test/hook")

	if _, err := dispatcher.EnqueueRaw(context.Background(), "order.paid", []byte(`{"a":`), ""); !IsValidationError(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	record, err := dispatcher.EnqueueRaw(context.Background(), "order.paid", []byte(`{"a": 1}`), "")
	if err != nil {
		t.Fatalf("enqueue raw: %v", err)
	}
	if string(record.Payload) != `{"a": 1}` {
		t.Fatalf("expected bytes kept verbatim, got %s", record.Payload)
	}
}

func TestDispatcherEnqueue_KicksSendJob(t *testing.T) {
	jobs := &recordingJobEnqueuer{}
	dispatcher, err := NewDispatcher(NewMemoryDispatchStore(), NewSigner(testOutgoingSecret, ""), testTargetURL,
		WithDispatcherJobEnqueuer(jobs),
	)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	record, err := dispatcher.Enqueue(context.Background(), EnqueueRequest{EventType: "order.paid"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if len(jobs.messages) != 1 {
		t.Fatalf("expected one job, got %d", len(jobs.messages))
	}
	msg := jobs.messages[0]
	if msg.JobID != JobIDDispatchSend {
		t.Fatalf("expected send job, got %q", msg.JobID)
	}
	if msg.Parameters[jobParamDispatchID] != record.ID {
		t.Fatalf("expected dispatch id parameter %q, got %#v", record.ID, msg.Parameters)
	}
	if msg.IdempotencyKey != JobIDDispatchSend+":"+record.ID {
		t.Fatalf("unexpected idempotency key %q", msg.IdempotencyKey)
	}
}

func TestDispatcherEnqueue_FailedKickStillPersists(t *testing.T) {
	store := NewMemoryDispatchStore()
	logger := newCaptureLogger()
	jobs := &recordingJobEnqueuer{err: errors.New("queue unavailable")}
	dispatcher, err := NewDispatcher(store, NewSigner(testOutgoingSecret, ""), testTargetURL,
		WithDispatcherJobEnqueuer(jobs),
		WithDispatcherLogger(logger),
	)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	if _, err := dispatcher.Enqueue(context.Background(), EnqueueRequest{EventType: "order.paid"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if len(store.Snapshot()) != 1 {
		t.Fatalf("expected record to be persisted")
	}
	if _, ok := logger.find("warn", "dispatch job kick failed"); !ok {
		t.Fatalf("expected kick failure warning")
	}
}

func TestNewDispatcher_RequiresOutgoingSecret(t *testing.T) {
	_, err := NewDispatcher(NewMemoryDispatchStore(), NewSigner("", "in"), testTargetURL)
	if !IsConfigurationError(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	_, err = NewDispatcher(nil, NewSigner("out", "in"), testTargetURL)
	if !IsConfigurationError(err) {
		t.Fatalf("expected configuration error for nil store, got %v", err)
	}
}

func TestDispatcherReplay_OnlyDeadRecords(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryDispatchStore()
	clock := newTestClock()
	dispatcher := newTestDispatcher(store, clock, "https://x.test/hook")

	queued, err := dispatcher.Enqueue(ctx, EnqueueRequest{EventType: "order.paid", Payload: map[string]any{"orderId": "O1"}})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := dispatcher.Replay(ctx, queued.ID); !IsValidationError(err) {
		t.Fatalf("expected replay of queued record to fail validation, got %v", err)
	}
	if _, err := dispatcher.Replay(ctx, "missing"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	worker := newTestWorker(store, &scriptedDeliverer{statuses: []int{500}}, clock, WorkerConfig{MaxRetries: 1, BatchSize: 10})
	if _, err := worker.Tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	dead, err := store.Get(ctx, queued.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if dead.Status != DispatchStatusDead {
		t.Fatalf("expected dead, got %q", dead.Status)
	}

	clock.Advance(1)
	replayed, err := dispatcher.Replay(ctx, dead.ID)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if replayed.ID == dead.ID {
		t.Fatalf("expected a new record id")
	}
	if replayed.ReplayOf != dead.ID {
		t.Fatalf("expected replay_of %q, got %q", dead.ID, replayed.ReplayOf)
	}
	if replayed.Status != DispatchStatusQueued || replayed.Attempts != 0 {
		t.Fatalf("expected fresh queued record, got %+v", replayed)
	}
	if string(replayed.Payload) != string(dead.Payload) || replayed.Signature != dead.Signature {
		t.Fatalf("expected payload and signature to be carried over")
	}
	original, err := store.Get(ctx, dead.ID)
	if err != nil {
		t.Fatalf("get original: %v", err)
	}
	if original.Status != DispatchStatusDead {
		t.Fatalf("expected original to stay dead, got %q", original.Status)
	}
}
