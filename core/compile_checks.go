package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ WebhookService = (*Service)(nil)
	_ BackoffPolicy  = ExponentialBackoff{}
	_ InboundLedger  = (*MemoryInboundLedger)(nil)
	_ DispatchStore  = (*MemoryDispatchStore)(nil)

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)
