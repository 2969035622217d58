package inbound

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"testing"

	"github.com/goliatone/go-webhooks/core"
)

func TestReceiver_BadSignatureRejectsWithoutMutations(t *testing.T) {
	signer := core.NewSigner("outgoing", "incoming")
	fx := newReceiverFixture(NewHeaderHMACVerifier(signer, "", ""))

	result, err := fx.receiver.Receive(context.Background(), core.InboundRequest{
		Headers: map[string]string{
			core.HeaderSignature:  "deadbeef",
			core.HeaderDeliveryID: "del-1",
		},
		Body: []byte(`{"event":"payment.paid","data":{"orderId":"O1"}}`),
	})
	if !core.IsSignatureError(err) {
		t.Fatalf("expected signature error, got %v", err)
	}
	if result.StatusCode != http.StatusBadRequest || result.Accepted {
		t.Fatalf("expected rejected 400 result, got %+v", result)
	}
	if fx.ledger.mutations() != 0 {
		t.Fatalf("expected no ledger mutations, got %d", fx.ledger.mutations())
	}
	if fx.orders.confirmCalls != 0 || len(fx.credits.added) != 0 || len(fx.events.requests) != 0 {
		t.Fatalf("expected no collaborator calls on rejected request")
	}
}

func TestReceiver_SignedPaymentPaidConfirmsCreditsAndEnqueues(t *testing.T) {
	body := []byte(`{"event":"payment.paid","data":{"orderId":"O1","providerRef":"PR-9"}}`)
	signer := core.NewSigner("outgoing", "incoming")
	fx := newReceiverFixture(NewHeaderHMACVerifier(signer, "", ""))

	result, err := fx.receiver.Receive(context.Background(), core.InboundRequest{
		Headers: map[string]string{core.HeaderSignature: core.Sign([]byte("incoming"), body)},
		Body:    body,
	})
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if !result.Accepted || result.StatusCode != http.StatusOK || result.Event != EventPaymentPaid {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(fx.credits.added) != 1 || fx.credits.added[0].amount != 30 || fx.credits.added[0].userID != "U1" {
		t.Fatalf("expected 30 credits for U1, got %+v", fx.credits.added)
	}
	if len(fx.events.requests) != 1 || fx.events.requests[0].EventType != EventOrderCompleted {
		t.Fatalf("expected order.completed enqueued, got %+v", fx.events.requests)
	}
	if fx.events.requests[0].Payload["orderId"] != "O1" {
		t.Fatalf("expected order id in follow-up payload, got %+v", fx.events.requests[0].Payload)
	}
}

func TestReceiver_DuplicateDeliveryIsAcknowledgedOnce(t *testing.T) {
	fx := newReceiverFixture(stubVerifier{})
	req := core.InboundRequest{
		Headers: map[string]string{core.HeaderDeliveryID: "del-7"},
		Body:    []byte(`{"event":"payment.paid","data":{"orderId":"O1"}}`),
	}

	if _, err := fx.receiver.Receive(context.Background(), req); err != nil {
		t.Fatalf("first receive: %v", err)
	}
	second, err := fx.receiver.Receive(context.Background(), req)
	if err != nil {
		t.Fatalf("duplicate receive: %v", err)
	}
	if second.Metadata["duplicate"] != true || !second.Accepted {
		t.Fatalf("expected duplicate marker, got %+v", second)
	}
	if fx.orders.confirmCalls != 1 || len(fx.credits.added) != 1 || len(fx.events.requests) != 1 {
		t.Fatalf("expected handlers to run once, got confirm=%d credits=%d events=%d",
			fx.orders.confirmCalls, len(fx.credits.added), len(fx.events.requests))
	}
}

func TestReceiver_FailedDeliveryCanBeRetried(t *testing.T) {
	fx := newReceiverFixture(stubVerifier{})
	fx.orders.err = errors.New("orders unavailable")
	req := core.InboundRequest{
		Headers: map[string]string{core.HeaderDeliveryID: "del-9"},
		Body:    []byte(`{"event":"payment.paid","data":{"orderId":"O1"}}`),
	}

	if _, err := fx.receiver.Receive(context.Background(), req); err == nil {
		t.Fatalf("expected handler failure")
	}
	if len(fx.ledger.failed) != 1 {
		t.Fatalf("expected delivery marked failed, got %v", fx.ledger.failed)
	}

	fx.orders.err = nil
	result, err := fx.receiver.Receive(context.Background(), req)
	if err != nil {
		t.Fatalf("retry receive: %v", err)
	}
	if result.Metadata["duplicate"] == true {
		t.Fatalf("expected failed delivery to be processed again")
	}
	if len(fx.credits.added) != 1 {
		t.Fatalf("expected credits added on retry, got %d", len(fx.credits.added))
	}
}

func TestReceiver_UnknownEventIsAccepted(t *testing.T) {
	fx := newReceiverFixture(stubVerifier{})
	result, err := fx.receiver.Receive(context.Background(), core.InboundRequest{
		Body: []byte(`{"event":"invoice.voided","data":{}}`),
	})
	if err != nil {
		t.Fatalf("receive unknown event: %v", err)
	}
	if !result.Accepted || result.Event != "invoice.voided" || result.Metadata["unhandled"] != true {
		t.Fatalf("expected accepted unhandled result, got %+v", result)
	}
}

func TestReceiver_MalformedPayloads(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{name: "not json", body: `event=payment.paid`},
		{name: "array", body: `[1,2]`},
		{name: "no event", body: `{"data":{"orderId":"O1"}}`},
		{name: "event not string", body: `{"event":5}`},
		{name: "missing data", body: `{"event":"payment.paid"}`},
		{name: "missing order id", body: `{"event":"payment.paid","data":{}}`},
		{name: "wrong field type", body: `{"event":"refund.created","data":{"userId":"U1","credits":"ten"}}`},
		{name: "flat without amount", body: `{"transactionId":"T1","name":"Ana","email":"ana@example.com","status":"paid"}`},
		{name: "flat bad email", body: `{"transactionId":"T1","name":"Ana","email":"nope","amount":10,"status":"paid"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fx := newReceiverFixture(stubVerifier{})
			_, err := fx.receiver.Receive(context.Background(), core.InboundRequest{Body: []byte(tc.body)})
			if !core.IsValidationError(err) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if mapped := core.MapError(err); mapped.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", mapped.Code)
			}
		})
	}
}

func TestReceiver_PromptCallbackUsesItsOwnVerifier(t *testing.T) {
	fx := newReceiverFixture(stubVerifier{})
	fx.receiver.PromptVerifier = NewBodySecretVerifier("callback", "")

	_, err := fx.receiver.ReceivePromptCallback(context.Background(), core.InboundRequest{
		Body: []byte(`{"promptId":"P1","result":"done","WEBHOOK_SECRET":"wrong"}`),
	})
	if !core.IsSignatureError(err) {
		t.Fatalf("expected signature error, got %v", err)
	}
	if len(fx.prompts.results) != 0 {
		t.Fatalf("expected no prompt updates on rejected callback")
	}

	result, err := fx.receiver.ReceivePromptCallback(context.Background(), core.InboundRequest{
		Body: []byte(`{"promptId":"P1","result":"done","status":"success","WEBHOOK_SECRET":"callback"}`),
	})
	if err != nil {
		t.Fatalf("prompt callback: %v", err)
	}
	if result.Event != EventPromptCallback {
		t.Fatalf("expected prompt callback event, got %q", result.Event)
	}
	if len(fx.prompts.results) != 1 || fx.prompts.results[0].Status != PromptStatusCompleted {
		t.Fatalf("expected completed prompt, got %+v", fx.prompts.results)
	}
}

func TestReceiver_RegisterRejectsDuplicates(t *testing.T) {
	receiver := NewReceiver(stubVerifier{}, nil)
	handler := EventHandlerFunc(func(context.Context, Event) error { return nil })
	if err := receiver.Register("Custom.Event", handler); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := receiver.Register("custom.event", handler); !core.IsValidationError(err) {
		t.Fatalf("expected duplicate registration rejected, got %v", err)
	}
	if err := receiver.Register(" ", handler); err == nil {
		t.Fatalf("expected blank event rejected")
	}
	if err := receiver.Register("other", nil); err == nil {
		t.Fatalf("expected nil handler rejected")
	}
}

func TestHandlers_RegisterOnlyConfiguredEvents(t *testing.T) {
	receiver := NewReceiver(stubVerifier{}, nil)
	handlers := &Handlers{Prompts: &stubPrompts{}}
	if err := handlers.Register(receiver); err != nil {
		t.Fatalf("register handlers: %v", err)
	}
	events := receiver.Events()
	sort.Strings(events)
	if len(events) != 2 || events[0] != EventPromptCallback || events[1] != EventPromptGenerated {
		t.Fatalf("expected prompt events only, got %v", events)
	}
}

func TestReceiver_NilVerifierFailsClosed(t *testing.T) {
	receiver := NewReceiver(nil, nil)
	_, err := receiver.Receive(context.Background(), core.InboundRequest{Body: []byte(`{"event":"x"}`)})
	if !core.IsSignatureError(err) {
		t.Fatalf("expected signature error without verifier, got %v", err)
	}
}
