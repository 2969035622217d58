package transport

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-webhooks/core"
)

// KindDeliverer is a Deliverer that names the delivery mode it serves.
type KindDeliverer interface {
	core.Deliverer
	Kind() string
}

type DelivererFactory func(config map[string]any) (core.Deliverer, error)

// Registry resolves a Deliverer by delivery mode.
type Registry struct {
	mu         sync.RWMutex
	deliverers map[string]core.Deliverer
	factories  map[string]DelivererFactory
}

func NewRegistry() *Registry {
	return &Registry{
		deliverers: map[string]core.Deliverer{},
		factories:  map[string]DelivererFactory{},
	}
}

// NewDefaultRegistry knows the http and dry_run modes. The http factory reads
// an optional "timeout" duration and the dry_run factory an optional
// "status_code".
func NewDefaultRegistry() *Registry {
	registry := NewRegistry()
	_ = registry.RegisterFactory(KindHTTP, httpFactory)
	_ = registry.RegisterFactory(KindDryRun, dryRunFactory)
	return registry
}

func (r *Registry) Register(deliverer KindDeliverer) error {
	if r == nil {
		return fmt.Errorf("transport: registry is nil")
	}
	if deliverer == nil {
		return fmt.Errorf("transport: deliverer is nil")
	}
	kind := normalizeKind(deliverer.Kind())
	if kind == "" {
		return fmt.Errorf("transport: deliverer kind is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.deliverers[kind]; exists {
		return fmt.Errorf("transport: deliverer kind %q already registered", kind)
	}
	r.deliverers[kind] = deliverer
	return nil
}

func (r *Registry) RegisterFactory(kind string, factory DelivererFactory) error {
	if r == nil {
		return fmt.Errorf("transport: registry is nil")
	}
	kind = normalizeKind(kind)
	if kind == "" {
		return fmt.Errorf("transport: deliverer kind is required")
	}
	if factory == nil {
		return fmt.Errorf("transport: deliverer factory is nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[kind]; exists {
		return fmt.Errorf("transport: deliverer factory kind %q already registered", kind)
	}
	r.factories[kind] = factory
	return nil
}

// Build returns the registered deliverer for kind, or builds one from its
// factory.
func (r *Registry) Build(kind string, config map[string]any) (core.Deliverer, error) {
	if r == nil {
		return nil, fmt.Errorf("transport: registry is nil")
	}
	kind = normalizeKind(kind)
	if kind == "" {
		return nil, fmt.Errorf("transport: deliverer kind is required")
	}

	r.mu.RLock()
	deliverer, ok := r.deliverers[kind]
	factory := r.factories[kind]
	r.mu.RUnlock()
	if ok {
		return deliverer, nil
	}
	if factory == nil {
		return nil, fmt.Errorf("transport: deliverer kind %q not registered", kind)
	}
	built, err := factory(cloneMap(config))
	if err != nil {
		return nil, err
	}
	if built == nil {
		return nil, fmt.Errorf("transport: factory for %q returned nil deliverer", kind)
	}
	return built, nil
}

func (r *Registry) Kinds() []string {
	if r == nil {
		return []string{}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := map[string]struct{}{}
	for kind := range r.deliverers {
		seen[kind] = struct{}{}
	}
	for kind := range r.factories {
		seen[kind] = struct{}{}
	}
	kinds := make([]string, 0, len(seen))
	for kind := range seen {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

func httpFactory(config map[string]any) (core.Deliverer, error) {
	timeout := defaultClientTimeout
	if raw, ok := config["timeout"]; ok {
		switch typed := raw.(type) {
		case time.Duration:
			timeout = typed
		case string:
			parsed, err := time.ParseDuration(strings.TrimSpace(typed))
			if err != nil {
				return nil, fmt.Errorf("transport: invalid http timeout %q: %w", typed, err)
			}
			timeout = parsed
		default:
			return nil, fmt.Errorf("transport: unsupported http timeout type %T", raw)
		}
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("transport: http timeout must be positive")
	}
	return NewHTTPDeliverer(&http.Client{
		Timeout: timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}), nil
}

func dryRunFactory(config map[string]any) (core.Deliverer, error) {
	statusCode := http.StatusOK
	if raw, ok := config["status_code"]; ok {
		code, ok := raw.(int)
		if !ok || code < 100 || code > 599 {
			return nil, fmt.Errorf("transport: invalid dry_run status code %v", raw)
		}
		statusCode = code
	}
	return NewDryRunDeliverer(statusCode), nil
}

func normalizeKind(kind string) string {
	return strings.TrimSpace(strings.ToLower(kind))
}

func cloneMap(input map[string]any) map[string]any {
	if len(input) == 0 {
		return map[string]any{}
	}
	output := make(map[string]any, len(input))
	for key, value := range input {
		output[key] = value
	}
	return output
}
