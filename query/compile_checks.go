package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-webhooks/core"
)

var (
	_ gocmd.Querier[GetDispatchMessage, core.DispatchRecord]  = (*GetDispatchQuery)(nil)
	_ gocmd.Querier[ListDispatchesMessage, core.DispatchPage] = (*ListDispatchesQuery)(nil)
)
