package command

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-webhooks/core"
)

var (
	_ gocmd.Commander[EnqueueDispatchMessage] = (*EnqueueDispatchCommand)(nil)
	_ gocmd.Commander[ReplayDispatchMessage]  = (*ReplayDispatchCommand)(nil)
	_ gocmd.Commander[DeliverDispatchMessage] = (*DeliverDispatchCommand)(nil)
	_ gocmd.Commander[RunTickMessage]         = (*RunTickCommand)(nil)

	_ DispatchService = (core.WebhookService)(nil)
)
