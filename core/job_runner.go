package core

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const defaultJobRetryDelay = 5 * time.Second

type DispatchJobRunner struct {
	worker     *RetryWorker
	dequeuer   JobDequeuer
	hook       JobWorkerHook
	logger     Logger
	retryDelay time.Duration
	now        func() time.Time
}

func NewDispatchJobRunner(worker *RetryWorker, dequeuer JobDequeuer, hook JobWorkerHook, logger Logger) (*DispatchJobRunner, error) {
	if worker == nil {
		return nil, ConfigurationError("core: retry worker is required", map[string]any{"component": "job_runner"})
	}
	if dequeuer == nil {
		return nil, ConfigurationError("core: job dequeuer is required", map[string]any{"component": "job_runner"})
	}
	return &DispatchJobRunner{
		worker:     worker,
		dequeuer:   dequeuer,
		hook:       hook,
		logger:     logger,
		retryDelay: defaultJobRetryDelay,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

// ProcessNext handles one queued job. It reports false when the queue had
// nothing to deliver.
func (r *DispatchJobRunner) ProcessNext(ctx context.Context) (bool, error) {
	if r == nil || r.dequeuer == nil {
		return false, ConfigurationError("core: job runner is not configured", nil)
	}
	delivery, err := r.dequeuer.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if delivery == nil {
		return false, nil
	}
	msg := delivery.Message()
	if msg == nil {
		return true, delivery.Nack(ctx, JobNackOptions{DeadLetter: true, Reason: "empty job message"})
	}

	startedAt := r.now()
	event := JobWorkerEvent{Message: msg, Attempt: 1, StartedAt: startedAt}
	r.emit(ctx, "start", event)

	runErr := r.execute(ctx, msg)
	event.Duration = r.now().Sub(startedAt)
	if runErr == nil {
		event.Err = nil
		r.emit(ctx, "success", event)
		return true, delivery.Ack(ctx)
	}

	event.Err = runErr
	logWithFields(ctx, r.logger, "warn", "dispatch job failed", map[string]any{
		"job_id": msg.JobID,
		"error":  runErr.Error(),
	})
	nack := JobNackOptions{Requeue: true, Delay: r.retryDelay, Reason: runErr.Error()}
	if IsValidationError(runErr) || IsNotFound(runErr) {
		nack = JobNackOptions{DeadLetter: true, Reason: runErr.Error()}
		r.emit(ctx, "failure", event)
	} else {
		event.Delay = r.retryDelay
		r.emit(ctx, "retry", event)
	}
	if nackErr := delivery.Nack(ctx, nack); nackErr != nil {
		return true, joinErrors(runErr, nackErr)
	}
	return true, runErr
}

func (r *DispatchJobRunner) execute(ctx context.Context, msg *JobExecutionMessage) error {
	switch strings.TrimSpace(msg.JobID) {
	case JobIDDispatchTick:
		_, err := r.worker.Tick(ctx)
		return err
	case JobIDDispatchSend:
		id := strings.TrimSpace(fmt.Sprint(msg.Parameters[jobParamDispatchID]))
		if id == "" || id == "<nil>" {
			return ValidationError(jobParamDispatchID, "dispatch id parameter is required")
		}
		_, err := r.worker.DeliverByID(ctx, id)
		return err
	default:
		return ValidationError("job_id", fmt.Sprintf("unsupported job %q", msg.JobID))
	}
}

func (r *DispatchJobRunner) emit(ctx context.Context, stage string, event JobWorkerEvent) {
	if r.hook == nil {
		return
	}
	switch stage {
	case "start":
		r.hook.OnStart(ctx, event)
	case "success":
		r.hook.OnSuccess(ctx, event)
	case "retry":
		r.hook.OnRetry(ctx, event)
	default:
		r.hook.OnFailure(ctx, event)
	}
}
