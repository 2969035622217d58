package inbound

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-webhooks/core"
)

const (
	DefaultSource = "n8n"

	EventPaymentPaid     = "payment.paid"
	EventPromptGenerated = "prompt.generated"
	EventVideoReady      = "video.ready"
	EventVideoFailed     = "video.failed"
	EventVideoProgress   = "video.progress"
	EventRefundCreated   = "refund.created"

	// EventFlatPayment names the n8n payment notification that arrives
	// without an {event, data} envelope.
	EventFlatPayment = "payment.notification"

	// EventPromptCallback names prompt callbacks posted to their own endpoint.
	EventPromptCallback = "prompt.callback"
)

// Event is a verified and decoded inbound webhook.
type Event struct {
	Name       string
	Source     string
	DeliveryID string
	Data       json.RawMessage
	Body       []byte
	ReceivedAt time.Time
}

type EventHandler interface {
	Handle(ctx context.Context, event Event) error
}

type EventHandlerFunc func(ctx context.Context, event Event) error

func (f EventHandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Receiver verifies inbound webhooks, deduplicates them by delivery id and
// routes them to event handlers. Nothing is mutated before verification
// succeeds and the payload decodes.
type Receiver struct {
	Verifier       Verifier
	PromptVerifier Verifier
	Ledger         core.InboundLedger
	Logger         core.Logger
	Now            func() time.Time

	mu       sync.RWMutex
	handlers map[string]EventHandler
}

func NewReceiver(verifier Verifier, ledger core.InboundLedger) *Receiver {
	return &Receiver{
		Verifier: verifier,
		Ledger:   ledger,
		Logger:   glog.Nop(),
		Now: func() time.Time {
			return time.Now().UTC()
		},
		handlers: map[string]EventHandler{},
	}
}

func (r *Receiver) Register(event string, handler EventHandler) error {
	if r == nil {
		return inboundInternal("inbound: receiver is nil", nil)
	}
	event = normalizeEvent(event)
	if event == "" {
		return inboundBadInput("inbound: event name is required", nil)
	}
	if handler == nil {
		return inboundBadInput("inbound: handler is nil", map[string]any{"event": event})
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handlers == nil {
		r.handlers = map[string]EventHandler{}
	}
	if _, exists := r.handlers[event]; exists {
		return inboundBadInput(
			fmt.Sprintf("inbound: handler already registered for event %q", event),
			map[string]any{"event": event},
		)
	}
	r.handlers[event] = handler
	return nil
}

// Events lists the registered event names.
func (r *Receiver) Events() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	events := make([]string, 0, len(r.handlers))
	for event := range r.handlers {
		events = append(events, event)
	}
	return events
}

// Receive handles the main inbound endpoint. Bodies carry either an
// {event, data} envelope or a flat n8n payment notification.
func (r *Receiver) Receive(ctx context.Context, req core.InboundRequest) (core.InboundResult, error) {
	if r == nil {
		return core.InboundResult{}, inboundInternal("inbound: receiver is nil", nil)
	}
	req.Source = normalizeSource(req.Source)
	if err := r.verify(ctx, r.Verifier, req); err != nil {
		return rejected(req), err
	}

	event, err := r.decode(req)
	if err != nil {
		r.logger().Warn("inbound payload rejected", "source", req.Source, "error", err.Error())
		return core.InboundResult{Accepted: false, StatusCode: http.StatusBadRequest}, err
	}
	return r.route(ctx, req, event)
}

// ReceivePromptCallback handles prompt results posted back by the generator.
// The callback is authenticated by its own body secret.
func (r *Receiver) ReceivePromptCallback(ctx context.Context, req core.InboundRequest) (core.InboundResult, error) {
	if r == nil {
		return core.InboundResult{}, inboundInternal("inbound: receiver is nil", nil)
	}
	req.Source = normalizeSource(req.Source)
	if err := r.verify(ctx, r.PromptVerifier, req); err != nil {
		return rejected(req), err
	}
	if !json.Valid(req.Body) {
		return core.InboundResult{Accepted: false, StatusCode: http.StatusBadRequest},
			core.ValidationError("body", "body must be a JSON object")
	}
	event := Event{
		Name:       EventPromptCallback,
		Source:     req.Source,
		DeliveryID: headerValue(req.Headers, core.HeaderDeliveryID),
		Data:       append(json.RawMessage(nil), req.Body...),
		Body:       req.Body,
		ReceivedAt: r.now(),
	}
	return r.route(ctx, req, event)
}

func (r *Receiver) verify(ctx context.Context, verifier Verifier, req core.InboundRequest) error {
	if verifier == nil {
		err := core.SignatureError("inbound: verifier is not configured", map[string]any{"source": req.Source})
		r.logger().Warn("inbound signature rejected", "source", req.Source, "error", err.Error())
		return err
	}
	if err := verifier.Verify(ctx, req); err != nil {
		if !core.IsSignatureError(err) {
			err = core.SignatureError(err.Error(), map[string]any{"source": req.Source})
		}
		r.logger().Warn("inbound signature rejected", "source", req.Source, "error", err.Error())
		return err
	}
	return nil
}

func (r *Receiver) decode(req core.InboundRequest) (Event, error) {
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(req.Body, &fields); err != nil {
		return Event{}, core.ValidationError("body", "body must be a JSON object")
	}
	event := Event{
		Source:     req.Source,
		DeliveryID: headerValue(req.Headers, core.HeaderDeliveryID),
		Body:       req.Body,
		ReceivedAt: r.now(),
	}

	if rawEvent, ok := fields["event"]; ok {
		var name string
		if err := json.Unmarshal(rawEvent, &name); err != nil || strings.TrimSpace(name) == "" {
			return Event{}, core.ValidationError("event", "event must be a non-empty string")
		}
		event.Name = normalizeEvent(name)
		event.Data = fields["data"]
		return event, nil
	}
	if _, ok := fields["transactionId"]; ok {
		event.Name = EventFlatPayment
		event.Data = append(json.RawMessage(nil), req.Body...)
		return event, nil
	}
	return Event{}, core.ValidationError("event", "event is required")
}

func (r *Receiver) route(ctx context.Context, req core.InboundRequest, event Event) (core.InboundResult, error) {
	metadata := map[string]any{"source": event.Source}
	if event.DeliveryID != "" {
		metadata["delivery_id"] = event.DeliveryID
	}

	reserved := false
	if r.Ledger != nil && event.DeliveryID != "" {
		delivery, claimed, err := r.Ledger.Reserve(ctx, event.Source, event.DeliveryID, req.Body)
		if err != nil {
			return core.InboundResult{}, inboundWrapOperation(err, "inbound: reserve delivery failed", metadata)
		}
		if !claimed {
			r.logger().Info("inbound delivery duplicate",
				"source", event.Source,
				"delivery_id", event.DeliveryID,
				"status", delivery.Status,
			)
			metadata["duplicate"] = true
			return core.InboundResult{
				Accepted:   true,
				StatusCode: http.StatusOK,
				Event:      event.Name,
				Metadata:   metadata,
			}, nil
		}
		reserved = true
	}

	handler := r.handlerFor(event.Name)
	if handler == nil {
		r.logger().Warn("inbound event unknown", "source", event.Source, "event", event.Name)
		if reserved {
			if err := r.Ledger.MarkProcessed(ctx, event.Source, event.DeliveryID); err != nil {
				return core.InboundResult{}, inboundWrapOperation(err, "inbound: mark delivery processed failed", metadata)
			}
		}
		metadata["unhandled"] = true
		return core.InboundResult{
			Accepted:   true,
			StatusCode: http.StatusOK,
			Event:      event.Name,
			Metadata:   metadata,
		}, nil
	}

	if err := handler.Handle(ctx, event); err != nil {
		r.logger().Error("inbound event failed", "source", event.Source, "event", event.Name, "error", err.Error())
		if reserved {
			if markErr := r.Ledger.MarkFailed(ctx, event.Source, event.DeliveryID, err); markErr != nil {
				return core.InboundResult{}, errors.Join(
					err,
					inboundWrapOperation(markErr, "inbound: mark delivery failed", metadata),
				)
			}
		}
		return core.InboundResult{Accepted: false, StatusCode: statusFor(err), Event: event.Name, Metadata: metadata}, err
	}
	if reserved {
		if err := r.Ledger.MarkProcessed(ctx, event.Source, event.DeliveryID); err != nil {
			return core.InboundResult{}, inboundWrapOperation(err, "inbound: mark delivery processed failed", metadata)
		}
	}
	r.logger().Info("inbound event processed", "source", event.Source, "event", event.Name)
	return core.InboundResult{
		Accepted:   true,
		StatusCode: http.StatusOK,
		Event:      event.Name,
		Metadata:   metadata,
	}, nil
}

func (r *Receiver) handlerFor(event string) EventHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[normalizeEvent(event)]
}

func (r *Receiver) logger() core.Logger {
	if r == nil || r.Logger == nil {
		return glog.Nop()
	}
	return r.Logger
}

func (r *Receiver) now() time.Time {
	if r != nil && r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

func rejected(req core.InboundRequest) core.InboundResult {
	return core.InboundResult{
		Accepted:   false,
		StatusCode: http.StatusBadRequest,
		Metadata: map[string]any{
			"source":   req.Source,
			"rejected": true,
		},
	}
}

func statusFor(err error) int {
	if mapped := core.MapError(err); mapped != nil && mapped.Code > 0 {
		return mapped.Code
	}
	return http.StatusInternalServerError
}

func normalizeSource(source string) string {
	source = strings.ToLower(strings.TrimSpace(source))
	if source == "" {
		return DefaultSource
	}
	return source
}

func normalizeEvent(event string) string {
	return strings.ToLower(strings.TrimSpace(event))
}
