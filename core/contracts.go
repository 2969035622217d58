package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

// DispatchStore persists dispatch records. ClaimDue and ClaimByID lease
// records to a single owner; RecordAttempt only applies while that lease is
// still held and returns ErrLeaseLost otherwise.
type DispatchStore interface {
	Create(ctx context.Context, record DispatchRecord) (DispatchRecord, error)
	Get(ctx context.Context, id string) (DispatchRecord, error)
	List(ctx context.Context, filter DispatchFilter) (DispatchPage, error)
	ClaimDue(ctx context.Context, req ClaimRequest) ([]DispatchRecord, error)
	ClaimByID(ctx context.Context, id string, req ClaimRequest) (record DispatchRecord, claimed bool, err error)
	RecordAttempt(ctx context.Context, update AttemptUpdate) (DispatchRecord, error)
}

type DispatchReader interface {
	Get(ctx context.Context, id string) (DispatchRecord, error)
}

// Deliverer performs one HTTP POST. A non-2xx response is returned as a
// result, not an error; errors are reserved for transport failures.
type Deliverer interface {
	Deliver(ctx context.Context, delivery Delivery) (DeliveryResult, error)
}

// TickGuard serializes ticks across processes. The in-process guard on the
// worker always applies first.
type TickGuard interface {
	TryAcquire(ctx context.Context) (release func(context.Context), acquired bool, err error)
}

type AttemptHook interface {
	OnAttempt(ctx context.Context, event AttemptEvent)
}

type AttemptHookFunc func(ctx context.Context, event AttemptEvent)

func (f AttemptHookFunc) OnAttempt(ctx context.Context, event AttemptEvent) {
	if f != nil {
		f(ctx, event)
	}
}

type StoreProvider interface {
	DispatchStore() DispatchStore
}

type RepositoryStoreFactory interface {
	BuildStores(persistenceClient any) (StoreProvider, error)
}

// InboundLedger deduplicates inbound webhooks. Reserve reports claimed=false
// when the delivery was already processed or is being processed; a failed
// delivery may be reserved again.
type InboundLedger interface {
	Reserve(ctx context.Context, source string, deliveryID string, payload []byte) (delivery InboundDelivery, claimed bool, err error)
	MarkProcessed(ctx context.Context, source string, deliveryID string) error
	MarkFailed(ctx context.Context, source string, deliveryID string, cause error) error
}

type JobExecutionMessage struct {
	JobID          string
	ScriptPath     string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

// WebhookService is the surface consumed by commands, queries and the HTTP
// layer.
type WebhookService interface {
	Enqueue(ctx context.Context, req EnqueueRequest) (DispatchRecord, error)
	Get(ctx context.Context, id string) (DispatchRecord, error)
	List(ctx context.Context, filter DispatchFilter) (DispatchPage, error)
	Replay(ctx context.Context, id string) (DispatchRecord, error)
	Tick(ctx context.Context) (TickStats, error)
	DeliverByID(ctx context.Context, id string) (DispatchRecord, error)
}
