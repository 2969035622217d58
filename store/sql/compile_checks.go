package sqlstore

import "github.com/goliatone/go-webhooks/core"

var (
	_ core.DispatchStore          = (*DispatchStore)(nil)
	_ core.DispatchReader         = (*CachedDispatchReader)(nil)
	_ core.InboundLedger          = (*InboundDeliveryStore)(nil)
	_ core.StoreProvider          = (*RepositoryFactory)(nil)
	_ core.RepositoryStoreFactory = (*RepositoryFactory)(nil)
)
