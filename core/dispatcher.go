package core

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	JobIDDispatchTick = "webhooks.dispatch.tick"
	JobIDDispatchSend = "webhooks.dispatch.send"

	jobParamDispatchID = "dispatch_id"
)

// Dispatcher is the write path for outbound events. It never performs
// network I/O; delivery is left to the RetryWorker.
type Dispatcher struct {
	store         DispatchStore
	signer        *Signer
	defaultTarget string
	jobs          JobEnqueuer
	logger        Logger
	now           func() time.Time
	newID         func() string
}

type DispatcherOption func(*Dispatcher)

func WithDispatcherJobEnqueuer(jobs JobEnqueuer) DispatcherOption {
	return func(d *Dispatcher) {
		d.jobs = jobs
	}
}

func WithDispatcherLogger(logger Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

func WithDispatcherClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

func WithDispatcherIDGenerator(next func() string) DispatcherOption {
	return func(d *Dispatcher) {
		if next != nil {
			d.newID = next
		}
	}
}

func NewDispatcher(store DispatchStore, signer *Signer, defaultTarget string, opts ...DispatcherOption) (*Dispatcher, error) {
	if store == nil {
		return nil, ConfigurationError("core: dispatch store is required", map[string]any{"component": "dispatcher"})
	}
	if !signer.HasOutgoingSecret() {
		return nil, ConfigurationError("core: outgoing secret is required", map[string]any{"field": "outgoing_secret"})
	}
	d := &Dispatcher{
		store:         store,
		signer:        signer,
		defaultTarget: strings.TrimSpace(defaultTarget),
		now: func() time.Time {
			return time.Now().UTC()
		},
		newID: func() string {
			return uuid.NewString()
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d, nil
}

// Enqueue validates, serializes, signs and persists one queued record.
// Nothing is stored when any step fails.
func (d *Dispatcher) Enqueue(ctx context.Context, req EnqueueRequest) (DispatchRecord, error) {
	if d == nil {
		return DispatchRecord{}, ConfigurationError("core: dispatcher is not configured", nil)
	}
	eventType := strings.TrimSpace(req.EventType)
	if eventType == "" {
		return DispatchRecord{}, ValidationError("event_type", "event type is required")
	}
	payload := req.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return DispatchRecord{}, SerializationError(err)
	}
	return d.persist(ctx, eventType, body, req.TargetURL, "")
}

// EnqueueRaw persists already serialized payload bytes as they are.
func (d *Dispatcher) EnqueueRaw(ctx context.Context, eventType string, payload []byte, targetURL string) (DispatchRecord, error) {
	return d.enqueueRaw(ctx, eventType, payload, targetURL, "")
}

// Replay queues a fresh copy of a dead record. The dead record is left as is.
func (d *Dispatcher) Replay(ctx context.Context, id string) (DispatchRecord, error) {
	if d == nil {
		return DispatchRecord{}, ConfigurationError("core: dispatcher is not configured", nil)
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return DispatchRecord{}, ValidationError("id", "dispatch id is required")
	}
	original, err := d.store.Get(ctx, id)
	if err != nil {
		return DispatchRecord{}, err
	}
	if original.Status != DispatchStatusDead {
		return DispatchRecord{}, ValidationError("status", fmt.Sprintf("only dead dispatches can be replayed, got %q", original.Status))
	}
	return d.enqueueRaw(ctx, original.EventType, original.Payload, original.TargetURL, original.ID)
}

func (d *Dispatcher) enqueueRaw(ctx context.Context, eventType string, payload []byte, targetURL string, replayOf string) (DispatchRecord, error) {
	if d == nil {
		return DispatchRecord{}, ConfigurationError("core: dispatcher is not configured", nil)
	}
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return DispatchRecord{}, ValidationError("event_type", "event type is required")
	}
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	if !json.Valid(payload) {
		return DispatchRecord{}, SerializationError(fmt.Errorf("core: payload is not valid JSON"))
	}
	body := make([]byte, len(payload))
	copy(body, payload)
	return d.persist(ctx, eventType, body, targetURL, replayOf)
}

func (d *Dispatcher) persist(ctx context.Context, eventType string, body []byte, targetURL string, replayOf string) (DispatchRecord, error) {
	target, err := d.resolveTarget(targetURL)
	if err != nil {
		return DispatchRecord{}, err
	}
	signature, err := d.signer.SignOutgoing(body)
	if err != nil {
		return DispatchRecord{}, err
	}

	now := d.now()
	record, err := d.store.Create(ctx, DispatchRecord{
		ID:        d.newID(),
		EventType: eventType,
		Payload:   json.RawMessage(body),
		TargetURL: target,
		Signature: signature,
		Status:    DispatchStatusQueued,
		Attempts:  0,
		ReplayOf:  replayOf,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return DispatchRecord{}, err
	}
	d.kick(ctx, record)
	return record, nil
}

// kick asks the job queue for an early send. A failed kick is only logged;
// the polling worker still picks the record up.
func (d *Dispatcher) kick(ctx context.Context, record DispatchRecord) {
	if d.jobs == nil {
		return
	}
	err := d.jobs.Enqueue(ctx, &JobExecutionMessage{
		JobID:          JobIDDispatchSend,
		Parameters:     map[string]any{jobParamDispatchID: record.ID},
		IdempotencyKey: JobIDDispatchSend + ":" + record.ID,
	})
	if err != nil && d.logger != nil {
		d.logger.Warn("dispatch job kick failed", "dispatch_id", record.ID, "error", err.Error())
	}
}

func (d *Dispatcher) resolveTarget(requested string) (string, error) {
	requested = strings.TrimSpace(requested)
	if requested != "" {
		if normalized, ok := normalizeTargetURL(requested); ok {
			return normalized, nil
		}
		if d.defaultTarget != "" {
			return d.defaultTarget, nil
		}
		return "", ValidationError("target_url", fmt.Sprintf("target url %q is not an absolute http(s) url", requested))
	}
	if d.defaultTarget == "" {
		return "", ConfigurationError("core: no target url given and no default target configured", map[string]any{
			"field": "default_target_url",
		})
	}
	return d.defaultTarget, nil
}

func normalizeTargetURL(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", false
	}
	if strings.TrimSpace(parsed.Host) == "" {
		return "", false
	}
	return parsed.String(), true
}
