package core

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/felixgeelhaar/fortify/retry"
	"github.com/felixgeelhaar/fortify/timeout"
	"github.com/google/uuid"
)

const (
	HeaderContentType     = "Content-Type"
	HeaderSignature       = "X-Signature"
	HeaderEventType       = "X-Event-Type"
	HeaderDeliveryID      = "X-Delivery-Id"
	HeaderDeliveryAttempt = "X-Delivery-Attempt"

	MetricDispatchAttempts   = "webhooks.dispatch.attempt.total"
	MetricDispatchDuration   = "webhooks.dispatch.send.duration_ms"
	MetricDispatchDeadLetter = "webhooks.dispatch.dead_letter.total"

	defaultPersistAttempts = 3
	defaultPersistDelay    = 50 * time.Millisecond
)

type WorkerConfig struct {
	BatchSize    int
	MaxRetries   int
	TickInterval time.Duration
	SendTimeout  time.Duration
	ClaimLease   time.Duration
}

func (c WorkerConfig) normalized() WorkerConfig {
	defaults := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.BatchSize > maxBatchSize {
		c.BatchSize = maxBatchSize
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaults.MaxRetries
	}
	if c.TickInterval <= 0 {
		c.TickInterval = defaults.TickInterval()
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = defaults.SendTimeout()
	}
	if c.ClaimLease <= 0 {
		c.ClaimLease = c.SendTimeout*time.Duration(c.BatchSize) + 30*time.Second
	}
	return c
}

// RetryWorker drains due dispatch records. Only one Tick runs at a time per
// worker; records are leased in the store so separate workers never send
// the same record concurrently.
type RetryWorker struct {
	store     DispatchStore
	deliverer Deliverer
	signer    *Signer
	backoff   BackoffPolicy
	lifecycle *DispatchLifecycle
	config    WorkerConfig
	guard     TickGuard
	hook      AttemptHook
	logger    Logger
	metrics   MetricsRecorder
	owner     string
	now       func() time.Time
	running   atomic.Bool
}

type WorkerOption func(*RetryWorker)

func WithWorkerTickGuard(guard TickGuard) WorkerOption {
	return func(w *RetryWorker) {
		w.guard = guard
	}
}

func WithWorkerAttemptHook(hook AttemptHook) WorkerOption {
	return func(w *RetryWorker) {
		w.hook = hook
	}
}

func WithWorkerLogger(logger Logger) WorkerOption {
	return func(w *RetryWorker) {
		w.logger = logger
	}
}

func WithWorkerMetrics(recorder MetricsRecorder) WorkerOption {
	return func(w *RetryWorker) {
		w.metrics = recorder
	}
}

func WithWorkerBackoff(policy BackoffPolicy) WorkerOption {
	return func(w *RetryWorker) {
		w.backoff = policy
	}
}

func WithWorkerClock(now func() time.Time) WorkerOption {
	return func(w *RetryWorker) {
		if now != nil {
			w.now = now
		}
	}
}

func WithRetryWorkerOwner(owner string) WorkerOption {
	return func(w *RetryWorker) {
		if owner = strings.TrimSpace(owner); owner != "" {
			w.owner = owner
		}
	}
}

func NewRetryWorker(
	store DispatchStore,
	deliverer Deliverer,
	signer *Signer,
	config WorkerConfig,
	opts ...WorkerOption,
) (*RetryWorker, error) {
	if store == nil {
		return nil, ConfigurationError("core: dispatch store is required", map[string]any{"component": "retry_worker"})
	}
	if deliverer == nil {
		return nil, ConfigurationError("core: deliverer is required", map[string]any{"component": "retry_worker"})
	}
	if !signer.HasOutgoingSecret() {
		return nil, ConfigurationError("core: outgoing secret is required", map[string]any{"field": "outgoing_secret"})
	}
	lifecycle, err := DefaultDispatchLifecycle()
	if err != nil {
		return nil, err
	}
	w := &RetryWorker{
		store:     store,
		deliverer: deliverer,
		signer:    signer,
		backoff:   ExponentialBackoff{Base: DefaultConfig().BackoffBase()},
		lifecycle: lifecycle,
		config:    config.normalized(),
		metrics:   NopMetricsRecorder{},
		owner:     "worker-" + uuid.NewString(),
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	if w.metrics == nil {
		w.metrics = NopMetricsRecorder{}
	}
	if w.backoff == nil {
		w.backoff = ExponentialBackoff{Base: DefaultConfig().BackoffBase()}
	}
	return w, nil
}

func (w *RetryWorker) Owner() string {
	if w == nil {
		return ""
	}
	return w.owner
}

// Tick claims one batch of due records and attempts each of them in
// createdAt order. A tick that overlaps a running one returns Skipped.
func (w *RetryWorker) Tick(ctx context.Context) (TickStats, error) {
	if w == nil {
		return TickStats{}, ConfigurationError("core: retry worker is not configured", nil)
	}
	if !w.running.CompareAndSwap(false, true) {
		return TickStats{Skipped: true}, nil
	}
	defer w.running.Store(false)

	if w.guard != nil {
		release, acquired, err := w.guard.TryAcquire(ctx)
		if err != nil {
			return TickStats{}, err
		}
		if !acquired {
			return TickStats{Skipped: true}, nil
		}
		if release != nil {
			defer release(context.WithoutCancel(ctx))
		}
	}

	now := w.now()
	records, err := w.store.ClaimDue(ctx, ClaimRequest{
		Now:        now,
		Limit:      w.config.BatchSize,
		MaxRetries: w.config.MaxRetries,
		Owner:      w.owner,
		LeaseUntil: now.Add(w.config.ClaimLease),
	})
	if err != nil {
		return TickStats{}, err
	}
	sortByCreatedAt(records)

	stats := TickStats{Claimed: len(records)}
	var tickErr error
	for _, record := range records {
		if ctx.Err() != nil {
			tickErr = joinErrors(tickErr, ctx.Err())
			break
		}
		outcome, _, err := w.attempt(ctx, record)
		stats = stats.Add(outcome)
		tickErr = joinErrors(tickErr, err)
	}
	return stats, tickErr
}

// DeliverByID attempts a single record now when it is due. A record that is
// not due, terminal or leased elsewhere is returned unchanged.
func (w *RetryWorker) DeliverByID(ctx context.Context, id string) (DispatchRecord, error) {
	if w == nil {
		return DispatchRecord{}, ConfigurationError("core: retry worker is not configured", nil)
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return DispatchRecord{}, ValidationError("id", "dispatch id is required")
	}
	now := w.now()
	record, claimed, err := w.store.ClaimByID(ctx, id, ClaimRequest{
		Now:        now,
		Limit:      1,
		MaxRetries: w.config.MaxRetries,
		Owner:      w.owner,
		LeaseUntil: now.Add(w.config.SendTimeout + 30*time.Second),
	})
	if err != nil {
		return DispatchRecord{}, err
	}
	if !claimed {
		return record, nil
	}
	_, saved, err := w.attempt(ctx, record)
	if err != nil {
		return DispatchRecord{}, err
	}
	return saved, nil
}

// Run ticks every TickInterval until ctx is cancelled.
func (w *RetryWorker) Run(ctx context.Context) error {
	if w == nil {
		return ConfigurationError("core: retry worker is not configured", nil)
	}
	ticker := time.NewTicker(w.config.TickInterval)
	defer ticker.Stop()
	for {
		w.runTick(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (w *RetryWorker) runTick(ctx context.Context) {
	stats, err := w.Tick(ctx)
	if err != nil {
		w.log(ctx, "error", "dispatch tick failed", map[string]any{"error": err.Error()})
		return
	}
	if stats.Claimed > 0 {
		w.log(ctx, "debug", "dispatch tick completed", map[string]any{
			"claimed":    stats.Claimed,
			"sent":       stats.Sent,
			"retried":    stats.Retried,
			"dead":       stats.Dead,
			"lease_lost": stats.LeaseLost,
		})
	}
}

func (w *RetryWorker) attempt(ctx context.Context, record DispatchRecord) (TickStats, DispatchRecord, error) {
	previous := record.Status
	attempts := record.Attempts + 1

	signature, err := w.signer.SignOutgoing(record.Payload)
	if err != nil {
		return TickStats{}, DispatchRecord{}, err
	}
	if signature != record.Signature {
		w.log(ctx, "warn", "dispatch signature changed since enqueue", map[string]any{
			"dispatch_id": record.ID,
			"event_type":  record.EventType,
		})
	}

	delivery := Delivery{
		DispatchID: record.ID,
		EventType:  record.EventType,
		URL:        record.TargetURL,
		Body:       record.Payload,
		Signature:  signature,
		Attempt:    attempts,
		Headers: map[string]string{
			HeaderContentType:     "application/json",
			HeaderSignature:       signature,
			HeaderEventType:       record.EventType,
			HeaderDeliveryID:      record.ID,
			HeaderDeliveryAttempt: strconv.Itoa(attempts),
		},
	}

	startedAt := w.now()
	result, sendErr := w.send(ctx, delivery)
	finishedAt := w.now()
	if result.Duration <= 0 {
		result.Duration = finishedAt.Sub(startedAt)
	}

	update := AttemptUpdate{
		ID:         record.ID,
		Owner:      w.owner,
		Attempts:   attempts,
		StatusCode: result.StatusCode,
		UpdatedAt:  finishedAt,
	}
	var deliveryErr error
	if sendErr == nil && IsSuccessStatus(result.StatusCode) {
		update.Status = DispatchStatusSent
	} else {
		deliveryErr = DeliveryError(sendErr, result.StatusCode, map[string]any{
			"dispatch_id": record.ID,
			"attempt":     attempts,
		})
		update.LastError = describeDeliveryFailure(result, sendErr)
		if attempts >= w.config.MaxRetries {
			update.Status = DispatchStatusDead
		} else {
			update.Status = DispatchStatusFailed
			next := finishedAt.Add(w.backoff.Delay(attempts))
			update.NextRetryAt = &next
		}
	}

	if err := w.lifecycle.Transition(previous, update.Status); err != nil {
		return TickStats{}, DispatchRecord{}, err
	}

	saved, err := w.persistAttempt(ctx, update)
	if err != nil {
		if IsLeaseLost(err) {
			w.log(ctx, "warn", "dispatch lease lost before attempt was saved", map[string]any{
				"dispatch_id": record.ID,
				"owner":       w.owner,
			})
			return TickStats{LeaseLost: 1}, DispatchRecord{}, nil
		}
		return TickStats{}, DispatchRecord{}, err
	}

	w.recordAttemptMetrics(ctx, saved, result.Duration)

	stats := TickStats{}
	hookErr := deliveryErr
	fields := map[string]any{
		"dispatch_id": saved.ID,
		"event_type":  saved.EventType,
		"attempts":    saved.Attempts,
		"status":      string(saved.Status),
		"status_code": result.StatusCode,
	}
	switch saved.Status {
	case DispatchStatusSent:
		stats.Sent = 1
		w.log(ctx, "info", "dispatch delivered", fields)
	case DispatchStatusFailed:
		stats.Retried = 1
		if saved.NextRetryAt != nil {
			fields["next_retry_at"] = saved.NextRetryAt.Format(time.RFC3339Nano)
		}
		fields["error"] = saved.LastError
		w.log(ctx, "warn", "dispatch delivery failed, retry scheduled", fields)
	case DispatchStatusDead:
		stats.Dead = 1
		hookErr = DeadLetterError(saved, deliveryErr)
		fields["error"] = saved.LastError
		w.log(ctx, "error", "dispatch dead-lettered", fields)
		w.metrics.IncCounter(ctx, MetricDispatchDeadLetter, 1, map[string]string{
			"event_type": saved.EventType,
		})
	}

	if w.hook != nil {
		w.hook.OnAttempt(ctx, AttemptEvent{
			Record:     saved,
			Previous:   previous,
			StatusCode: result.StatusCode,
			Err:        hookErr,
			Duration:   result.Duration,
		})
	}
	return stats, saved, nil
}

func (w *RetryWorker) send(ctx context.Context, delivery Delivery) (DeliveryResult, error) {
	limiter := timeout.New[DeliveryResult](timeout.Config{
		DefaultTimeout: w.config.SendTimeout,
	})
	return limiter.Execute(ctx, w.config.SendTimeout, func(ctx context.Context) (DeliveryResult, error) {
		ctx, cancel := context.WithTimeout(ctx, w.config.SendTimeout)
		defer cancel()
		// Deliverers that ignore ctx are abandoned at the deadline; the buffer
		// lets their goroutine exit whenever they return.
		done := make(chan sendOutcome, 1)
		go func() {
			result, err := w.deliverer.Deliver(ctx, delivery)
			done <- sendOutcome{result: result, err: err}
		}()
		select {
		case outcome := <-done:
			return outcome.result, outcome.err
		case <-ctx.Done():
			return DeliveryResult{}, ctx.Err()
		}
	})
}

type sendOutcome struct {
	result DeliveryResult
	err    error
}

// persistAttempt retries transient store failures. A lost lease is final.
func (w *RetryWorker) persistAttempt(ctx context.Context, update AttemptUpdate) (DispatchRecord, error) {
	ctx = context.WithoutCancel(ctx)
	var leaseErr error
	retrier := retry.New[DispatchRecord](retry.Config{
		MaxAttempts:   defaultPersistAttempts,
		InitialDelay:  defaultPersistDelay,
		BackoffPolicy: retry.BackoffExponential,
	})
	saved, err := retrier.Do(ctx, func(ctx context.Context) (DispatchRecord, error) {
		record, err := w.store.RecordAttempt(ctx, update)
		if err != nil && IsLeaseLost(err) {
			leaseErr = err
			return DispatchRecord{}, nil
		}
		return record, err
	})
	if leaseErr != nil {
		return DispatchRecord{}, leaseErr
	}
	if err != nil {
		return DispatchRecord{}, err
	}
	return saved, nil
}

func (w *RetryWorker) recordAttemptMetrics(ctx context.Context, record DispatchRecord, duration time.Duration) {
	tags := map[string]string{
		"event_type": record.EventType,
		"status":     string(record.Status),
	}
	w.metrics.IncCounter(ctx, MetricDispatchAttempts, 1, tags)
	w.metrics.ObserveHistogram(ctx, MetricDispatchDuration, float64(duration.Milliseconds()), tags)
}

func (w *RetryWorker) log(ctx context.Context, level string, message string, fields map[string]any) {
	if w == nil || w.logger == nil {
		return
	}
	logWithFields(ctx, w.logger, level, message, fields)
}

func describeDeliveryFailure(result DeliveryResult, err error) string {
	if err != nil {
		return err.Error()
	}
	if result.StatusCode > 0 {
		return fmt.Sprintf("unexpected status %d", result.StatusCode)
	}
	return "delivery failed"
}

func sortByCreatedAt(records []DispatchRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
}

func joinErrors(existing error, next error) error {
	if existing == nil {
		return next
	}
	if next == nil {
		return existing
	}
	return fmt.Errorf("%w; %v", existing, next)
}
