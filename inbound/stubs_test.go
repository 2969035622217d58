package inbound

import (
	"context"
	"sync"
	"time"

	"github.com/goliatone/go-webhooks/core"
)

type stubVerifier struct {
	err error
}

func (v stubVerifier) Verify(context.Context, core.InboundRequest) error {
	return v.err
}

type recordingLedger struct {
	mu        sync.Mutex
	reserves  int
	processed []string
	failed    []string
	base      *core.MemoryInboundLedger
}

func newRecordingLedger() *recordingLedger {
	return &recordingLedger{base: core.NewMemoryInboundLedger(time.Hour)}
}

func (l *recordingLedger) Reserve(ctx context.Context, source string, deliveryID string, payload []byte) (core.InboundDelivery, bool, error) {
	l.mu.Lock()
	l.reserves++
	l.mu.Unlock()
	return l.base.Reserve(ctx, source, deliveryID, payload)
}

func (l *recordingLedger) MarkProcessed(ctx context.Context, source string, deliveryID string) error {
	l.mu.Lock()
	l.processed = append(l.processed, deliveryID)
	l.mu.Unlock()
	return l.base.MarkProcessed(ctx, source, deliveryID)
}

func (l *recordingLedger) MarkFailed(ctx context.Context, source string, deliveryID string, cause error) error {
	l.mu.Lock()
	l.failed = append(l.failed, deliveryID)
	l.mu.Unlock()
	return l.base.MarkFailed(ctx, source, deliveryID, cause)
}

func (l *recordingLedger) mutations() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reserves + len(l.processed) + len(l.failed)
}

type stubOrders struct {
	orders        map[string]Order
	paid          map[string]bool
	confirmCalls  int
	purchaseCalls int
	purchases     []Purchase
	err           error
}

func newStubOrders() *stubOrders {
	return &stubOrders{orders: map[string]Order{}, paid: map[string]bool{}}
}

func (o *stubOrders) ConfirmPayment(_ context.Context, orderID string, _ string, paidAt time.Time) (Order, bool, error) {
	o.confirmCalls++
	if o.err != nil {
		return Order{}, false, o.err
	}
	order, ok := o.orders[orderID]
	if !ok {
		return Order{}, false, core.NotFoundError(orderID)
	}
	if o.paid[orderID] {
		return order, false, nil
	}
	o.paid[orderID] = true
	order.PaidAt = paidAt
	o.orders[orderID] = order
	return order, true, nil
}

func (o *stubOrders) ConfirmPurchase(_ context.Context, purchase Purchase) (Order, bool, error) {
	o.purchaseCalls++
	o.purchases = append(o.purchases, purchase)
	if o.err != nil {
		return Order{}, false, o.err
	}
	key := "order-" + purchase.TransactionID
	if o.paid[key] {
		return o.orders[key], false, nil
	}
	order := Order{
		ID:       key,
		UserID:   "user-" + purchase.Email,
		Email:    purchase.Email,
		PlanCode: purchase.PlanCode,
		Credits:  purchase.Credits,
		PaidAt:   purchase.PaidAt,
	}
	o.orders[key] = order
	o.paid[key] = true
	return order, true, nil
}

type creditCall struct {
	userID  string
	amount  int
	reason  string
	orderID string
}

type stubCredits struct {
	added    []creditCall
	refunded []creditCall
	err      error
}

func (c *stubCredits) AddCredits(_ context.Context, userID string, amount int, reason string, orderID string) error {
	if c.err != nil {
		return c.err
	}
	c.added = append(c.added, creditCall{userID: userID, amount: amount, reason: reason, orderID: orderID})
	return nil
}

func (c *stubCredits) RefundCredits(_ context.Context, userID string, amount int, reason string, orderID string) error {
	if c.err != nil {
		return c.err
	}
	c.refunded = append(c.refunded, creditCall{userID: userID, amount: amount, reason: reason, orderID: orderID})
	return nil
}

type stubPrompts struct {
	results []PromptResult
	err     error
}

func (p *stubPrompts) CompletePrompt(_ context.Context, result PromptResult) error {
	if p.err != nil {
		return p.err
	}
	p.results = append(p.results, result)
	return nil
}

type stubVideos struct {
	videos  map[string]Video
	updates []VideoUpdate
}

func newStubVideos(videos ...Video) *stubVideos {
	out := &stubVideos{videos: map[string]Video{}}
	for _, video := range videos {
		out.videos[video.ID] = video
	}
	return out
}

func (v *stubVideos) UpdateVideo(_ context.Context, update VideoUpdate) (Video, error) {
	video, ok := v.videos[update.VideoID]
	if !ok {
		return Video{}, core.NotFoundError(update.VideoID)
	}
	v.updates = append(v.updates, update)
	if update.Status != "" {
		video.Status = update.Status
	}
	if len(update.Assets) > 0 {
		merged := map[string]any{}
		for key, value := range video.Assets {
			merged[key] = value
		}
		for key, value := range update.Assets {
			merged[key] = value
		}
		video.Assets = merged
	}
	v.videos[update.VideoID] = video
	return video, nil
}

type stubEnqueuer struct {
	requests []core.EnqueueRequest
	err      error
}

func (e *stubEnqueuer) Enqueue(_ context.Context, req core.EnqueueRequest) (core.DispatchRecord, error) {
	if e.err != nil {
		return core.DispatchRecord{}, e.err
	}
	e.requests = append(e.requests, req)
	return core.DispatchRecord{ID: "dispatch-1", EventType: req.EventType, Status: core.DispatchStatusQueued}, nil
}

type receiverFixture struct {
	receiver *Receiver
	ledger   *recordingLedger
	orders   *stubOrders
	credits  *stubCredits
	prompts  *stubPrompts
	videos   *stubVideos
	events   *stubEnqueuer
	now      time.Time
}

func newReceiverFixture(verifier Verifier) *receiverFixture {
	fx := &receiverFixture{
		ledger:  newRecordingLedger(),
		orders:  newStubOrders(),
		credits: &stubCredits{},
		prompts: &stubPrompts{},
		videos:  newStubVideos(Video{ID: "V1", UserID: "U1", Status: "processing", Assets: map[string]any{"thumb": "t.png"}}),
		events:  &stubEnqueuer{},
		now:     time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	}
	fx.orders.orders["O1"] = Order{ID: "O1", UserID: "U1", PlanCode: PlanPro, Credits: 30}

	fx.receiver = NewReceiver(verifier, fx.ledger)
	fx.receiver.PromptVerifier = verifier
	fx.receiver.Now = func() time.Time { return fx.now }
	handlers := &Handlers{
		Orders:  fx.orders,
		Credits: fx.credits,
		Prompts: fx.prompts,
		Videos:  fx.videos,
		Events:  fx.events,
		Now:     func() time.Time { return fx.now },
	}
	if err := handlers.Register(fx.receiver); err != nil {
		panic(err)
	}
	return fx
}
