package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-webhooks/core"
)

// DispatchService is the mutating half of core.WebhookService.
type DispatchService interface {
	Enqueue(ctx context.Context, req core.EnqueueRequest) (core.DispatchRecord, error)
	Replay(ctx context.Context, id string) (core.DispatchRecord, error)
	DeliverByID(ctx context.Context, id string) (core.DispatchRecord, error)
	Tick(ctx context.Context) (core.TickStats, error)
}

type EnqueueDispatchCommand struct {
	service DispatchService
}

func NewEnqueueDispatchCommand(service DispatchService) *EnqueueDispatchCommand {
	return &EnqueueDispatchCommand{service: service}
}

func (c *EnqueueDispatchCommand) Execute(ctx context.Context, msg EnqueueDispatchMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: dispatch service is required")
	}
	out, err := c.service.Enqueue(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type ReplayDispatchCommand struct {
	service DispatchService
}

func NewReplayDispatchCommand(service DispatchService) *ReplayDispatchCommand {
	return &ReplayDispatchCommand{service: service}
}

func (c *ReplayDispatchCommand) Execute(ctx context.Context, msg ReplayDispatchMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: replay service is required")
	}
	out, err := c.service.Replay(ctx, msg.DispatchID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type DeliverDispatchCommand struct {
	service DispatchService
}

func NewDeliverDispatchCommand(service DispatchService) *DeliverDispatchCommand {
	return &DeliverDispatchCommand{service: service}
}

func (c *DeliverDispatchCommand) Execute(ctx context.Context, msg DeliverDispatchMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: delivery service is required")
	}
	out, err := c.service.DeliverByID(ctx, msg.DispatchID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RunTickCommand struct {
	service DispatchService
}

func NewRunTickCommand(service DispatchService) *RunTickCommand {
	return &RunTickCommand{service: service}
}

func (c *RunTickCommand) Execute(ctx context.Context, _ RunTickMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: tick service is required")
	}
	stats, err := c.service.Tick(ctx)
	if err != nil {
		return err
	}
	storeResult(ctx, stats)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
