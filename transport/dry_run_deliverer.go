package transport

import (
	"context"
	"net/http"
	"sync"

	"github.com/goliatone/go-webhooks/core"
)

const KindDryRun = "dry_run"

// DryRunDeliverer records deliveries instead of sending them and answers with
// a fixed status code.
type DryRunDeliverer struct {
	mu         sync.Mutex
	statusCode int
	deliveries []core.Delivery
}

func NewDryRunDeliverer(statusCode int) *DryRunDeliverer {
	if statusCode <= 0 {
		statusCode = http.StatusOK
	}
	return &DryRunDeliverer{statusCode: statusCode}
}

func (*DryRunDeliverer) Kind() string {
	return KindDryRun
}

func (d *DryRunDeliverer) Deliver(ctx context.Context, delivery core.Delivery) (core.DeliveryResult, error) {
	if err := ctx.Err(); err != nil {
		return core.DeliveryResult{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	copied := delivery
	copied.Body = append([]byte(nil), delivery.Body...)
	d.deliveries = append(d.deliveries, copied)
	return core.DeliveryResult{StatusCode: d.statusCode}, nil
}

func (d *DryRunDeliverer) Deliveries() []core.Delivery {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]core.Delivery, len(d.deliveries))
	copy(out, d.deliveries)
	return out
}

var _ core.Deliverer = (*DryRunDeliverer)(nil)
