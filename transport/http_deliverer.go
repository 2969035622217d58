package transport

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-webhooks/core"
)

const KindHTTP = "http"

const (
	defaultClientTimeout           = 30 * time.Second
	defaultResponseBodyLimit int64 = 64 << 10
	defaultUserAgent               = "go-webhooks/1"
)

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPDeliverer POSTs signed payloads. Any HTTP response is returned as a
// result; only failures to get a response are errors.
type HTTPDeliverer struct {
	Client               HTTPDoer
	DefaultHeaders       map[string]string
	UserAgent            string
	MaxResponseBodyBytes int64
}

func NewHTTPDeliverer(client HTTPDoer) *HTTPDeliverer {
	if client == nil {
		client = &http.Client{
			Timeout: defaultClientTimeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}
	return &HTTPDeliverer{
		Client:               client,
		DefaultHeaders:       map[string]string{},
		UserAgent:            defaultUserAgent,
		MaxResponseBodyBytes: defaultResponseBodyLimit,
	}
}

func (*HTTPDeliverer) Kind() string {
	return KindHTTP
}

func (d *HTTPDeliverer) Deliver(ctx context.Context, delivery core.Delivery) (core.DeliveryResult, error) {
	if d == nil || d.Client == nil {
		return core.DeliveryResult{}, transportError(
			"transport: http deliverer requires an http client",
			goerrors.CategoryInternal,
			http.StatusInternalServerError,
			map[string]any{"deliverer": KindHTTP},
		)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	target := strings.TrimSpace(delivery.URL)
	parsedURL, err := url.Parse(target)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return core.DeliveryResult{}, transportWrapError(
			err,
			goerrors.CategoryBadInput,
			"transport: invalid target url",
			http.StatusBadRequest,
			map[string]any{"deliverer": KindHTTP, "dispatch_id": delivery.DispatchID},
		)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, parsedURL.String(), bytes.NewReader(delivery.Body))
	if err != nil {
		return core.DeliveryResult{}, transportWrapError(
			err,
			goerrors.CategoryBadInput,
			"transport: create http request",
			http.StatusBadRequest,
			map[string]any{"deliverer": KindHTTP, "dispatch_id": delivery.DispatchID},
		)
	}
	for key, value := range d.DefaultHeaders {
		if strings.TrimSpace(key) == "" {
			continue
		}
		httpReq.Header.Set(strings.TrimSpace(key), strings.TrimSpace(value))
	}
	if d.UserAgent != "" {
		httpReq.Header.Set("User-Agent", d.UserAgent)
	}
	for key, value := range delivery.Headers {
		if strings.TrimSpace(key) == "" {
			continue
		}
		httpReq.Header.Set(strings.TrimSpace(key), strings.TrimSpace(value))
	}
	httpReq.Header.Set(core.HeaderContentType, "application/json")
	httpReq.Header.Set(core.HeaderSignature, delivery.Signature)
	httpReq.Header.Set(core.HeaderEventType, delivery.EventType)

	startedAt := time.Now()
	httpRes, err := d.Client.Do(httpReq)
	if err != nil {
		return core.DeliveryResult{Duration: time.Since(startedAt)}, transportWrapError(
			err,
			goerrors.CategoryExternal,
			"transport: execute http request",
			http.StatusBadGateway,
			map[string]any{"deliverer": KindHTTP, "dispatch_id": delivery.DispatchID, "host": parsedURL.Host},
		)
	}
	defer httpRes.Body.Close()

	// Body is diagnostic only; read errors are ignored.
	limit := d.MaxResponseBodyBytes
	if limit <= 0 {
		limit = defaultResponseBodyLimit
	}
	body, _ := io.ReadAll(io.LimitReader(httpRes.Body, limit))

	return core.DeliveryResult{
		StatusCode: httpRes.StatusCode,
		Body:       body,
		Duration:   time.Since(startedAt),
	}, nil
}

var _ core.Deliverer = (*HTTPDeliverer)(nil)
