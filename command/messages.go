package command

import (
	"strings"

	"github.com/goliatone/go-webhooks/core"
)

const (
	TypeEnqueueDispatch = "webhooks.command.dispatch.enqueue"
	TypeReplayDispatch  = "webhooks.command.dispatch.replay"
	TypeDeliverDispatch = "webhooks.command.dispatch.deliver"
	TypeRunTick         = "webhooks.command.tick.run"
)

type EnqueueDispatchMessage struct {
	Request core.EnqueueRequest
}

func (EnqueueDispatchMessage) Type() string { return TypeEnqueueDispatch }

func (m EnqueueDispatchMessage) Validate() error {
	if strings.TrimSpace(m.Request.EventType) == "" {
		return commandValidationError("event_type", "event type is required")
	}
	return nil
}

type ReplayDispatchMessage struct {
	DispatchID string
}

func (ReplayDispatchMessage) Type() string { return TypeReplayDispatch }

func (m ReplayDispatchMessage) Validate() error {
	return requireDispatchID(m.DispatchID)
}

// DeliverDispatchMessage forces a single delivery attempt outside the tick
// schedule.
type DeliverDispatchMessage struct {
	DispatchID string
}

func (DeliverDispatchMessage) Type() string { return TypeDeliverDispatch }

func (m DeliverDispatchMessage) Validate() error {
	return requireDispatchID(m.DispatchID)
}

type RunTickMessage struct{}

func (RunTickMessage) Type() string { return TypeRunTick }

func (RunTickMessage) Validate() error { return nil }

func requireDispatchID(id string) error {
	if strings.TrimSpace(id) == "" {
		return commandValidationError("dispatch_id", "dispatch id is required")
	}
	return nil
}
