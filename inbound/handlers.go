package inbound

import (
	"context"
	"fmt"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-webhooks/core"
	"github.com/shopspring/decimal"
)

const (
	EventOrderCompleted = "order.completed"
	EventOrderPaid      = "order.paid"
	EventVideoCompleted = "video.completed"

	VideoStatusReady  = "ready"
	VideoStatusFailed = "failed"

	PromptStatusCompleted = "completed"
	PromptStatusFailed    = "failed"
)

type Order struct {
	ID       string
	UserID   string
	Email    string
	PlanCode string
	Credits  int
	PaidAt   time.Time
}

// Purchase is a settled payment for which an order must exist.
type Purchase struct {
	TransactionID string
	Name          string
	Email         string
	CPF           string
	Phone         string
	Amount        decimal.Decimal
	PlanCode      string
	Credits       int
	PaidAt        time.Time
}

// Orders settles orders. The bool result reports whether this call moved the
// order to paid; false means it was already paid and nothing changed.
// Payment confirmation commits before credits are granted, so Credits should
// implement GrantLookup unless both share one transaction.
type Orders interface {
	ConfirmPayment(ctx context.Context, orderID string, providerRef string, paidAt time.Time) (Order, bool, error)
	ConfirmPurchase(ctx context.Context, purchase Purchase) (Order, bool, error)
}

type Credits interface {
	AddCredits(ctx context.Context, userID string, amount int, reason string, orderID string) error
	RefundCredits(ctx context.Context, userID string, amount int, reason string, orderID string) error
}

// GrantLookup reports whether credits were already granted for an order.
type GrantLookup interface {
	HasGrant(ctx context.Context, orderID string) (bool, error)
}

type PromptResult struct {
	PromptID   string
	ResultText string
	Tags       []string
	Status     string
}

type Prompts interface {
	CompletePrompt(ctx context.Context, result PromptResult) error
}

type Video struct {
	ID     string
	UserID string
	Status string
	Assets map[string]any
}

// VideoUpdate merges Assets into the stored assets. An empty Status keeps the
// current one.
type VideoUpdate struct {
	VideoID string
	Status  string
	Assets  map[string]any
	Error   string
}

type Videos interface {
	UpdateVideo(ctx context.Context, update VideoUpdate) (Video, error)
}

// EventEnqueuer is the single outbound call site for follow-up events.
type EventEnqueuer interface {
	Enqueue(ctx context.Context, req core.EnqueueRequest) (core.DispatchRecord, error)
}

// Handlers implements the built-in inbound events on top of the
// application collaborators. Events whose collaborator is nil are not
// registered.
type Handlers struct {
	Orders  Orders
	Credits Credits
	Prompts Prompts
	Videos  Videos
	Events  EventEnqueuer
	Logger  core.Logger
	Now     func() time.Time
}

func (h *Handlers) Register(receiver *Receiver) error {
	if h == nil {
		return inboundInternal("inbound: handlers are nil", nil)
	}
	if receiver == nil {
		return inboundInternal("inbound: receiver is nil", nil)
	}
	routes := map[string]EventHandlerFunc{}
	if h.Orders != nil && h.Credits != nil {
		routes[EventPaymentPaid] = h.handlePaymentPaid
		routes[EventFlatPayment] = h.handleFlatPayment
	}
	if h.Prompts != nil {
		routes[EventPromptGenerated] = h.handlePromptGenerated
		routes[EventPromptCallback] = h.handlePromptCallback
	}
	if h.Videos != nil {
		routes[EventVideoReady] = h.handleVideoReady
		routes[EventVideoFailed] = h.handleVideoFailed
		routes[EventVideoProgress] = h.handleVideoProgress
	}
	if h.Credits != nil {
		routes[EventRefundCreated] = h.handleRefundCreated
	}
	for event, handler := range routes {
		if err := receiver.Register(event, handler); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handlers) handlePaymentPaid(ctx context.Context, event Event) error {
	data, err := DecodeData[PaymentPaidData](event)
	if err != nil {
		return err
	}
	order, newlyPaid, err := h.Orders.ConfirmPayment(ctx, data.OrderID, data.ProviderRef, h.now())
	if err != nil {
		return err
	}
	granted, err := h.grantCredits(ctx, order, newlyPaid)
	if err != nil {
		return err
	}
	if !granted {
		h.logger().Info("inbound order already paid", "order_id", data.OrderID)
		return nil
	}
	h.logger().Info("inbound payment confirmed", "order_id", order.ID, "credits", order.Credits)
	return h.enqueue(ctx, EventOrderCompleted, map[string]any{
		"orderId":  order.ID,
		"userId":   order.UserID,
		"planCode": order.PlanCode,
		"credits":  order.Credits,
		"paidAt":   order.PaidAt.UTC().Format(time.RFC3339Nano),
	})
}

func (h *Handlers) handleFlatPayment(ctx context.Context, event Event) error {
	payment, err := decodeFlatPayment(event.Data)
	if err != nil {
		return err
	}
	if !payment.Approved() {
		h.logger().Info("inbound payment not settled", "transaction_id", payment.TransactionID, "status", payment.Status)
		return nil
	}
	plan := payment.ResolvePlan()
	order, newlyPaid, err := h.Orders.ConfirmPurchase(ctx, Purchase{
		TransactionID: payment.TransactionID,
		Name:          payment.Name,
		Email:         payment.Email,
		CPF:           payment.CPF,
		Phone:         payment.Phone,
		Amount:        *payment.Amount,
		PlanCode:      plan.Code,
		Credits:       plan.Credits,
		PaidAt:        h.now(),
	})
	if err != nil {
		return err
	}
	granted, err := h.grantCredits(ctx, order, newlyPaid)
	if err != nil {
		return err
	}
	if !granted {
		h.logger().Info("inbound order already paid", "order_id", order.ID, "transaction_id", payment.TransactionID)
		return nil
	}
	h.logger().Info("inbound purchase confirmed", "order_id", order.ID, "credits", order.Credits)
	return h.enqueue(ctx, EventOrderPaid, map[string]any{
		"orderId":  order.ID,
		"userId":   order.UserID,
		"email":    firstNonEmpty(order.Email, payment.Email),
		"planCode": order.PlanCode,
		"credits":  order.Credits,
		"paidAt":   order.PaidAt.UTC().Format(time.RFC3339Nano),
	})
}

// grantCredits adds the plan credits for a newly paid order. For an order
// that was already paid it only grants when Credits implements GrantLookup
// and reports no grant, which recovers a payment whose earlier grant failed.
func (h *Handlers) grantCredits(ctx context.Context, order Order, newlyPaid bool) (bool, error) {
	if !newlyPaid {
		lookup, ok := h.Credits.(GrantLookup)
		if !ok {
			return false, nil
		}
		granted, err := lookup.HasGrant(ctx, order.ID)
		if err != nil || granted {
			return false, err
		}
		h.logger().Warn("inbound paid order has no credit grant", "order_id", order.ID)
	}
	if err := h.Credits.AddCredits(ctx, order.UserID, order.Credits, planReason(order.PlanCode), order.ID); err != nil {
		return false, err
	}
	return true, nil
}

func (h *Handlers) handlePromptGenerated(ctx context.Context, event Event) error {
	data, err := DecodeData[PromptGeneratedData](event)
	if err != nil {
		return err
	}
	return h.Prompts.CompletePrompt(ctx, PromptResult{
		PromptID:   data.PromptID,
		ResultText: data.ResultText,
		Tags:       data.Tags,
		Status:     PromptStatusCompleted,
	})
}

func (h *Handlers) handlePromptCallback(ctx context.Context, event Event) error {
	data, err := DecodeData[PromptCallback](event)
	if err != nil {
		return err
	}
	status := PromptStatusCompleted
	if data.Status == PromptCallbackFailed {
		status = PromptStatusFailed
	}
	return h.Prompts.CompletePrompt(ctx, PromptResult{
		PromptID:   data.PromptID,
		ResultText: data.Result,
		Status:     status,
	})
}

func (h *Handlers) handleVideoReady(ctx context.Context, event Event) error {
	data, err := DecodeData[VideoReadyData](event)
	if err != nil {
		return err
	}
	video, err := h.Videos.UpdateVideo(ctx, VideoUpdate{
		VideoID: data.VideoID,
		Status:  VideoStatusReady,
		Assets:  data.Assets,
	})
	if err != nil {
		return err
	}
	return h.enqueue(ctx, EventVideoCompleted, map[string]any{
		"videoId": firstNonEmpty(video.ID, data.VideoID),
		"userId":  video.UserID,
		"status":  VideoStatusReady,
		"assets":  video.Assets,
	})
}

func (h *Handlers) handleVideoFailed(ctx context.Context, event Event) error {
	data, err := DecodeData[VideoFailedData](event)
	if err != nil {
		return err
	}
	if _, err := h.Videos.UpdateVideo(ctx, VideoUpdate{
		VideoID: data.VideoID,
		Status:  VideoStatusFailed,
		Error:   data.Error,
	}); err != nil {
		return err
	}
	h.logger().Error("inbound video failed", "video_id", data.VideoID, "error", data.Error)
	return nil
}

func (h *Handlers) handleVideoProgress(ctx context.Context, event Event) error {
	data, err := DecodeData[VideoProgressData](event)
	if err != nil {
		return err
	}
	_, err = h.Videos.UpdateVideo(ctx, VideoUpdate{
		VideoID: data.VideoID,
		Status:  data.Status,
		Assets:  data.Assets,
	})
	if core.IsNotFound(err) {
		h.logger().Debug("inbound video progress for unknown video", "video_id", data.VideoID)
		return nil
	}
	return err
}

func (h *Handlers) handleRefundCreated(ctx context.Context, event Event) error {
	data, err := DecodeData[RefundData](event)
	if err != nil {
		return err
	}
	reason := strings.TrimSpace(data.Reason)
	if reason == "" {
		reason = "refund"
	}
	if err := h.Credits.RefundCredits(ctx, data.UserID, data.Credits, reason, data.OrderID); err != nil {
		return err
	}
	h.logger().Info("inbound refund processed", "order_id", data.OrderID, "credits", data.Credits)
	return nil
}

func (h *Handlers) enqueue(ctx context.Context, eventType string, payload map[string]any) error {
	if h.Events == nil {
		return nil
	}
	_, err := h.Events.Enqueue(ctx, core.EnqueueRequest{
		EventType: eventType,
		Payload:   payload,
	})
	return err
}

func (h *Handlers) logger() core.Logger {
	if h == nil || h.Logger == nil {
		return glog.Nop()
	}
	return h.Logger
}

func (h *Handlers) now() time.Time {
	if h != nil && h.Now != nil {
		return h.Now().UTC()
	}
	return time.Now().UTC()
}

func planReason(planCode string) string {
	return fmt.Sprintf("plan purchase %s", planCode)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
