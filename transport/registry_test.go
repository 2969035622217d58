package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-webhooks/core"
)

type staticDeliverer struct {
	kind string
}

func (d staticDeliverer) Kind() string { return d.kind }

func (staticDeliverer) Deliver(context.Context, core.Delivery) (core.DeliveryResult, error) {
	return core.DeliveryResult{StatusCode: 200}, nil
}

func TestRegistry_RegisterBuildAndKindsDeterministic(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(staticDeliverer{kind: "queue"}); err != nil {
		t.Fatalf("register queue deliverer: %v", err)
	}
	if err := registry.RegisterFactory("HTTP", httpFactory); err != nil {
		t.Fatalf("register http factory: %v", err)
	}

	deliverer, err := registry.Build(" queue ", nil)
	if err != nil {
		t.Fatalf("build queue: %v", err)
	}
	if deliverer.(staticDeliverer).kind != "queue" {
		t.Fatalf("expected registered instance to be returned")
	}

	kinds := registry.Kinds()
	if len(kinds) != 2 || kinds[0] != "http" || kinds[1] != "queue" {
		t.Fatalf("expected sorted kinds [http queue], got %v", kinds)
	}

	if err := registry.Register(staticDeliverer{kind: "queue"}); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
	if _, err := registry.Build("smtp", nil); err == nil {
		t.Fatalf("expected unknown kind error")
	}
}

func TestDefaultRegistry_BuildsConfiguredDeliverers(t *testing.T) {
	registry := NewDefaultRegistry()

	built, err := registry.Build(KindHTTP, map[string]any{"timeout": "5s"})
	if err != nil {
		t.Fatalf("build http: %v", err)
	}
	httpDeliverer, ok := built.(*HTTPDeliverer)
	if !ok {
		t.Fatalf("expected *HTTPDeliverer, got %T", built)
	}
	if client, ok := httpDeliverer.Client.(*http.Client); !ok || client.Timeout != 5*time.Second {
		t.Fatalf("expected 5s http client timeout")
	}
	if _, err := registry.Build(KindHTTP, map[string]any{"timeout": "soon"}); err == nil {
		t.Fatalf("expected invalid timeout error")
	}

	built, err = registry.Build(KindDryRun, map[string]any{"status_code": 503})
	if err != nil {
		t.Fatalf("build dry run: %v", err)
	}
	result, err := built.Deliver(context.Background(), core.Delivery{DispatchID: "dsp_1", Body: []byte(`{}`)})
	if err != nil {
		t.Fatalf("dry run deliver: %v", err)
	}
	if result.StatusCode != 503 {
		t.Fatalf("expected configured status 503, got %d", result.StatusCode)
	}
	if len(built.(*DryRunDeliverer).Deliveries()) != 1 {
		t.Fatalf("expected dry run to record the delivery")
	}
	if _, err := registry.Build(KindDryRun, map[string]any{"status_code": "ok"}); err == nil {
		t.Fatalf("expected invalid status code error")
	}
}

func TestHTTPDeliverer_PostsSignedPayload(t *testing.T) {
	type captured struct {
		method    string
		body      string
		headers   http.Header
		userAgent string
	}
	seen := make(chan captured, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		seen <- captured{method: r.Method, body: string(body), headers: r.Header.Clone(), userAgent: r.UserAgent()}
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	deliverer := NewHTTPDeliverer(server.Client())
	result, err := deliverer.Deliver(context.Background(), core.Delivery{
		DispatchID: "dsp_1",
		EventType:  "order.paid",
		URL:        server.URL + "/hook",
		Body:       []byte(`{"orderId":"O1"}`),
		Signature:  "abc123",
		Attempt:    2,
		Headers: map[string]string{
			core.HeaderDeliveryID:      "dsp_1",
			core.HeaderDeliveryAttempt: "2",
		},
	})
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if result.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", result.StatusCode)
	}
	if string(result.Body) != `{"ok":true}` {
		t.Fatalf("expected response body to be captured, got %s", result.Body)
	}

	got := <-seen
	if got.method != http.MethodPost {
		t.Fatalf("expected POST, got %s", got.method)
	}
	if got.body != `{"orderId":"O1"}` {
		t.Fatalf("expected exact payload bytes, got %s", got.body)
	}
	if got.headers.Get("Content-Type") != "application/json" {
		t.Fatalf("expected json content type, got %q", got.headers.Get("Content-Type"))
	}
	if got.headers.Get("X-Signature") != "abc123" {
		t.Fatalf("expected signature header, got %q", got.headers.Get("X-Signature"))
	}
	if got.headers.Get("X-Event-Type") != "order.paid" {
		t.Fatalf("expected event type header, got %q", got.headers.Get("X-Event-Type"))
	}
	if got.headers.Get("X-Delivery-Attempt") != "2" {
		t.Fatalf("expected attempt header, got %q", got.headers.Get("X-Delivery-Attempt"))
	}
	if got.userAgent != defaultUserAgent {
		t.Fatalf("expected user agent %q, got %q", defaultUserAgent, got.userAgent)
	}
}

func TestHTTPDeliverer_NonSuccessIsResultNotError(t *testing.T) {
	for _, status := range []int{http.StatusMovedPermanently, http.StatusBadRequest, http.StatusInternalServerError} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			if status == http.StatusMovedPermanently {
				w.Header().Set("Location", "https://elsewhere.test/")
			}
			w.WriteHeader(status)
		}))
		deliverer := NewHTTPDeliverer(nil)
		result, err := deliverer.Deliver(context.Background(), core.Delivery{URL: server.URL, Body: []byte(`{}`)})
		server.Close()
		if err != nil {
			t.Fatalf("status %d: expected no error, got %v", status, err)
		}
		if result.StatusCode != status {
			t.Fatalf("expected status %d to be reported as is, got %d", status, result.StatusCode)
		}
		if core.IsSuccessStatus(result.StatusCode) {
			t.Fatalf("status %d must not count as delivered", status)
		}
	}
}

func TestHTTPDeliverer_TruncatesLargeResponses(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("123456789"))
	}))
	defer server.Close()

	deliverer := NewHTTPDeliverer(server.Client())
	deliverer.MaxResponseBodyBytes = 4
	result, err := deliverer.Deliver(context.Background(), core.Delivery{URL: server.URL})
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if string(result.Body) != "1234" {
		t.Fatalf("expected truncated body, got %q", result.Body)
	}
}

func TestHTTPDeliverer_HonoursContextDeadline(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := NewHTTPDeliverer(server.Client()).Deliver(ctx, core.Delivery{URL: server.URL})
	if err == nil {
		t.Fatalf("expected deadline error")
	}
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.Category != goerrors.CategoryExternal {
		t.Fatalf("expected external delivery error, got %v", err)
	}
}
