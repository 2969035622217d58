package webhooks

import "github.com/goliatone/go-webhooks/core"

type Config = core.Config

type InboundConfig = core.InboundConfig

type Option = core.Option

type Service = core.Service

type ServiceDependencies = core.ServiceDependencies

type Signer = core.Signer

type DispatchStore = core.DispatchStore

type Deliverer = core.Deliverer

type TickGuard = core.TickGuard

type InboundLedger = core.InboundLedger

type DispatchRecord = core.DispatchRecord

type DispatchStatus = core.DispatchStatus

type DispatchFilter = core.DispatchFilter

type DispatchPage = core.DispatchPage

type EnqueueRequest = core.EnqueueRequest

type TickStats = core.TickStats

type WebhookService = core.WebhookService

const (
	DispatchStatusQueued = core.DispatchStatusQueued
	DispatchStatusSent   = core.DispatchStatusSent
	DispatchStatusFailed = core.DispatchStatusFailed
	DispatchStatusDead   = core.DispatchStatusDead
)

var (
	WithLogger          = core.WithLogger
	WithLoggerProvider  = core.WithLoggerProvider
	WithMetricsRecorder = core.WithMetricsRecorder
	WithErrorMapper     = core.WithErrorMapper
	WithConfigProvider  = core.WithConfigProvider
	WithOptionsResolver = core.WithOptionsResolver
	WithDispatchStore   = core.WithDispatchStore
	WithDeliverer       = core.WithDeliverer
	WithTickGuard       = core.WithTickGuard
	WithAttemptHook     = core.WithAttemptHook
	WithJobEnqueuer     = core.WithJobEnqueuer
	WithBackoffPolicy   = core.WithBackoffPolicy
	WithClock           = core.WithClock
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return core.Setup(cfg, opts...)
}

func NewSigner(outgoingSecret string, incomingSecret string) *Signer {
	return core.NewSigner(outgoingSecret, incomingSecret)
}

func NewMemoryDispatchStore() *core.MemoryDispatchStore {
	return core.NewMemoryDispatchStore()
}
