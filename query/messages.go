package query

import (
	"strings"

	"github.com/goliatone/go-webhooks/core"
)

const (
	TypeGetDispatch    = "webhooks.query.dispatch.get"
	TypeListDispatches = "webhooks.query.dispatch.list"
)

type GetDispatchMessage struct {
	DispatchID string
}

func (GetDispatchMessage) Type() string { return TypeGetDispatch }

func (m GetDispatchMessage) Validate() error {
	if strings.TrimSpace(m.DispatchID) == "" {
		return queryValidationError("dispatch_id", "dispatch id is required")
	}
	return nil
}

type ListDispatchesMessage struct {
	Filter core.DispatchFilter
}

func (ListDispatchesMessage) Type() string { return TypeListDispatches }

func (m ListDispatchesMessage) Validate() error {
	if m.Filter.Status != "" {
		if _, ok := core.ParseDispatchStatus(string(m.Filter.Status)); !ok {
			return queryValidationError("status", "status must be queued, sent, failed or dead")
		}
	}
	if m.Filter.Limit < 0 {
		return queryValidationError("limit", "limit must be >= 0")
	}
	if m.Filter.Offset < 0 {
		return queryValidationError("offset", "offset must be >= 0")
	}
	return nil
}
