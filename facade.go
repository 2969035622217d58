package webhooks

import (
	"fmt"

	webhookcommand "github.com/goliatone/go-webhooks/command"
	"github.com/goliatone/go-webhooks/core"
	webhookquery "github.com/goliatone/go-webhooks/query"
)

type Commands struct {
	Enqueue *webhookcommand.EnqueueDispatchCommand
	Replay  *webhookcommand.ReplayDispatchCommand
	Deliver *webhookcommand.DeliverDispatchCommand
	RunTick *webhookcommand.RunTickCommand
}

type Queries struct {
	GetDispatch    *webhookquery.GetDispatchQuery
	ListDispatches *webhookquery.ListDispatchesQuery
}

// Facade hands out command and query handlers bound to one service.
type Facade struct {
	service  core.WebhookService
	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	reader webhookquery.DispatchReader
}

// WithDispatchReader serves queries from reader instead of the service, for
// example a cached read model.
func WithDispatchReader(reader webhookquery.DispatchReader) FacadeOption {
	return func(options *facadeOptions) {
		options.reader = reader
	}
}

func NewFacade(service core.WebhookService, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("webhooks: webhook service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}
	var reader webhookquery.DispatchReader = service
	if cfg.reader != nil {
		reader = cfg.reader
	}

	return &Facade{
		service: service,
		commands: Commands{
			Enqueue: webhookcommand.NewEnqueueDispatchCommand(service),
			Replay:  webhookcommand.NewReplayDispatchCommand(service),
			Deliver: webhookcommand.NewDeliverDispatchCommand(service),
			RunTick: webhookcommand.NewRunTickCommand(service),
		},
		queries: Queries{
			GetDispatch:    webhookquery.NewGetDispatchQuery(reader),
			ListDispatches: webhookquery.NewListDispatchesQuery(reader),
		},
	}, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() core.WebhookService {
	if f == nil {
		return nil
	}
	return f.service
}
