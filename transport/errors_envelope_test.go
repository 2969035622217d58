package transport

import (
	"context"
	"net/http"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-webhooks/core"
)

func TestHTTPDeliverer_ConnectionFailureReturnsRichError(t *testing.T) {
	deliverer := NewHTTPDeliverer(nil)
	_, err := deliverer.Deliver(context.Background(), core.Delivery{
		DispatchID: "dsp_1",
		URL:        "http://127.0.0.1:1/hook",
	})
	if err == nil {
		t.Fatalf("expected connection failure")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryExternal {
		t.Fatalf("expected external category, got %q", rich.Category)
	}
	if rich.TextCode != core.ErrorCodeDelivery {
		t.Fatalf("expected %q text code, got %q", core.ErrorCodeDelivery, rich.TextCode)
	}
	if rich.Code != http.StatusBadGateway {
		t.Fatalf("expected %d code, got %d", http.StatusBadGateway, rich.Code)
	}
}

func TestHTTPDeliverer_InvalidURLReturnsRichError(t *testing.T) {
	_, err := NewHTTPDeliverer(nil).Deliver(context.Background(), core.Delivery{URL: "/relative"})
	if err == nil {
		t.Fatalf("expected invalid url error")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryBadInput {
		t.Fatalf("expected bad input category, got %q", rich.Category)
	}
	if rich.TextCode != core.ErrorCodeValidation {
		t.Fatalf("expected %q text code, got %q", core.ErrorCodeValidation, rich.TextCode)
	}
}

func TestHTTPDeliverer_NilReturnsRichError(t *testing.T) {
	var deliverer *HTTPDeliverer
	_, err := deliverer.Deliver(context.Background(), core.Delivery{})
	if err == nil {
		t.Fatalf("expected nil deliverer error")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryInternal {
		t.Fatalf("expected internal category, got %q", rich.Category)
	}
	if rich.TextCode != core.ErrorCodeInternal {
		t.Fatalf("expected %q text code, got %q", core.ErrorCodeInternal, rich.TextCode)
	}
}
