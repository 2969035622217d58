package query

import (
	"context"

	"github.com/goliatone/go-webhooks/core"
)

type DispatchReader interface {
	Get(ctx context.Context, id string) (core.DispatchRecord, error)
	List(ctx context.Context, filter core.DispatchFilter) (core.DispatchPage, error)
}

type GetDispatchQuery struct {
	reader DispatchReader
}

func NewGetDispatchQuery(reader DispatchReader) *GetDispatchQuery {
	return &GetDispatchQuery{reader: reader}
}

func (q *GetDispatchQuery) Query(ctx context.Context, msg GetDispatchMessage) (core.DispatchRecord, error) {
	if q == nil || q.reader == nil {
		return core.DispatchRecord{}, queryDependencyError("query: dispatch reader is required")
	}
	return q.reader.Get(ctx, msg.DispatchID)
}

type ListDispatchesQuery struct {
	reader DispatchReader
}

func NewListDispatchesQuery(reader DispatchReader) *ListDispatchesQuery {
	return &ListDispatchesQuery{reader: reader}
}

func (q *ListDispatchesQuery) Query(
	ctx context.Context,
	msg ListDispatchesMessage,
) (core.DispatchPage, error) {
	if q == nil || q.reader == nil {
		return core.DispatchPage{}, queryDependencyError("query: dispatch reader is required")
	}
	return q.reader.List(ctx, msg.Filter)
}
