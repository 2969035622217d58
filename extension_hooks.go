package webhooks

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-webhooks/core"
	"github.com/goliatone/go-webhooks/inbound"
	"github.com/goliatone/go-webhooks/transport"
)

// TransportPack contributes deliverer factories keyed by delivery mode.
type TransportPack struct {
	Name      string
	Factories map[string]transport.DelivererFactory
}

// EventPack contributes inbound event handlers keyed by event name.
type EventPack struct {
	Name     string
	Handlers map[string]inbound.EventHandler
}

type CommandQueryBundleFactory func(service core.WebhookService) (any, error)

type ExtensionHooks struct {
	mu sync.RWMutex

	transportPacks map[string]TransportPack
	eventPacks     map[string]EventPack
	bundles        map[string]CommandQueryBundleFactory
}

func NewExtensionHooks() *ExtensionHooks {
	return &ExtensionHooks{
		transportPacks: map[string]TransportPack{},
		eventPacks:     map[string]EventPack{},
		bundles:        map[string]CommandQueryBundleFactory{},
	}
}

func (h *ExtensionHooks) RegisterTransportPack(pack TransportPack) error {
	if h == nil {
		return fmt.Errorf("webhooks: extension hooks are nil")
	}
	name := strings.TrimSpace(pack.Name)
	if name == "" {
		return fmt.Errorf("webhooks: transport pack name is required")
	}
	if len(pack.Factories) == 0 {
		return fmt.Errorf("webhooks: transport pack %q has no factories", name)
	}
	factories := make(map[string]transport.DelivererFactory, len(pack.Factories))
	for kind, factory := range pack.Factories {
		if factory == nil {
			return fmt.Errorf("webhooks: transport pack %q has nil factory for %q", name, kind)
		}
		factories[kind] = factory
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.transportPacks[name]; exists {
		return fmt.Errorf("webhooks: transport pack %q already registered", name)
	}
	h.transportPacks[name] = TransportPack{Name: name, Factories: factories}
	return nil
}

func (h *ExtensionHooks) RegisterEventPack(pack EventPack) error {
	if h == nil {
		return fmt.Errorf("webhooks: extension hooks are nil")
	}
	name := strings.TrimSpace(pack.Name)
	if name == "" {
		return fmt.Errorf("webhooks: event pack name is required")
	}
	if len(pack.Handlers) == 0 {
		return fmt.Errorf("webhooks: event pack %q has no handlers", name)
	}
	handlers := make(map[string]inbound.EventHandler, len(pack.Handlers))
	for event, handler := range pack.Handlers {
		if handler == nil {
			return fmt.Errorf("webhooks: event pack %q has nil handler for %q", name, event)
		}
		handlers[event] = handler
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.eventPacks[name]; exists {
		return fmt.Errorf("webhooks: event pack %q already registered", name)
	}
	h.eventPacks[name] = EventPack{Name: name, Handlers: handlers}
	return nil
}

func (h *ExtensionHooks) RegisterCommandQueryBundle(
	name string,
	factory CommandQueryBundleFactory,
) error {
	if h == nil {
		return fmt.Errorf("webhooks: extension hooks are nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("webhooks: command/query bundle name is required")
	}
	if factory == nil {
		return fmt.Errorf("webhooks: command/query bundle %q factory is required", name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.bundles[name]; exists {
		return fmt.Errorf("webhooks: command/query bundle %q already registered", name)
	}
	h.bundles[name] = factory
	return nil
}

// ApplyTransportPacks registers every pack factory in name order.
func (h *ExtensionHooks) ApplyTransportPacks(registry *transport.Registry) error {
	if h == nil {
		return nil
	}
	if registry == nil {
		return fmt.Errorf("webhooks: transport registry is required")
	}
	for _, pack := range h.TransportPacks() {
		for _, kind := range sortedKeys(pack.Factories) {
			if err := registry.RegisterFactory(kind, pack.Factories[kind]); err != nil {
				return fmt.Errorf("webhooks: transport pack %q: %w", pack.Name, err)
			}
		}
	}
	return nil
}

// ApplyEventPacks registers pack handlers on receiver. A handler for an event
// the receiver already serves is an error.
func (h *ExtensionHooks) ApplyEventPacks(receiver *inbound.Receiver) error {
	if h == nil {
		return nil
	}
	if receiver == nil {
		return fmt.Errorf("webhooks: inbound receiver is required")
	}
	for _, pack := range h.EventPacks() {
		for _, event := range sortedKeys(pack.Handlers) {
			if err := receiver.Register(event, pack.Handlers[event]); err != nil {
				return fmt.Errorf("webhooks: event pack %q: %w", pack.Name, err)
			}
		}
	}
	return nil
}

func (h *ExtensionHooks) BuildCommandQueryBundles(
	service core.WebhookService,
) (map[string]any, error) {
	if h == nil {
		return map[string]any{}, nil
	}
	if service == nil {
		return nil, fmt.Errorf("webhooks: webhook service is required")
	}

	h.mu.RLock()
	factories := make(map[string]CommandQueryBundleFactory, len(h.bundles))
	for name, factory := range h.bundles {
		factories[name] = factory
	}
	h.mu.RUnlock()

	result := make(map[string]any, len(factories))
	for _, name := range sortedKeys(factories) {
		bundle, err := factories[name](service)
		if err != nil {
			return nil, err
		}
		result[name] = bundle
	}
	return result, nil
}

func (h *ExtensionHooks) TransportPacks() []TransportPack {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]TransportPack, 0, len(h.transportPacks))
	for _, name := range sortedKeys(h.transportPacks) {
		out = append(out, h.transportPacks[name])
	}
	return out
}

func (h *ExtensionHooks) EventPacks() []EventPack {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]EventPack, 0, len(h.eventPacks))
	for _, name := range sortedKeys(h.eventPacks) {
		out = append(out, h.eventPacks[name])
	}
	return out
}

func (h *ExtensionHooks) BundleNames() []string {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return sortedKeys(h.bundles)
}

func sortedKeys[V any](values map[string]V) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
