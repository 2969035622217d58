package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	defaultInboundLedgerTTL        = 24 * time.Hour
	defaultInboundLedgerMaxEntries = 8192
)

// MemoryInboundLedger keeps delivery ids in process for a TTL. It suits a
// single receiver; use the SQL ledger when several instances share traffic.
type MemoryInboundLedger struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	entries    map[string]memoryInboundEntry
	Now        func() time.Time
}

type memoryInboundEntry struct {
	delivery  InboundDelivery
	expiresAt time.Time
}

func NewMemoryInboundLedger(ttl time.Duration) *MemoryInboundLedger {
	return NewMemoryInboundLedgerWithLimits(ttl, defaultInboundLedgerMaxEntries)
}

func NewMemoryInboundLedgerWithLimits(ttl time.Duration, maxEntries int) *MemoryInboundLedger {
	if ttl <= 0 {
		ttl = defaultInboundLedgerTTL
	}
	if maxEntries <= 0 {
		maxEntries = defaultInboundLedgerMaxEntries
	}
	return &MemoryInboundLedger{
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    map[string]memoryInboundEntry{},
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (l *MemoryInboundLedger) Reserve(_ context.Context, source string, deliveryID string, _ []byte) (InboundDelivery, bool, error) {
	if l == nil {
		return InboundDelivery{}, false, fmt.Errorf("core: inbound ledger is not configured")
	}
	key, err := inboundLedgerKey(source, deliveryID)
	if err != nil {
		return InboundDelivery{}, false, err
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.pruneExpiredLocked(now)
	if entry, ok := l.entries[key]; ok {
		if entry.delivery.Status != InboundDeliveryFailed {
			return entry.delivery, false, nil
		}
		entry.delivery.Status = InboundDeliveryPending
		entry.delivery.Attempts++
		entry.delivery.UpdatedAt = now
		entry.expiresAt = now.Add(l.ttl)
		l.entries[key] = entry
		return entry.delivery, true, nil
	}

	l.enforceCapacityLocked(1)
	delivery := InboundDelivery{
		ID:         uuid.NewString(),
		Source:     strings.TrimSpace(source),
		DeliveryID: strings.TrimSpace(deliveryID),
		Status:     InboundDeliveryPending,
		Attempts:   1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	l.entries[key] = memoryInboundEntry{delivery: delivery, expiresAt: now.Add(l.ttl)}
	return delivery, true, nil
}

func (l *MemoryInboundLedger) MarkProcessed(_ context.Context, source string, deliveryID string) error {
	return l.mark(source, deliveryID, InboundDeliveryProcessed, nil)
}

func (l *MemoryInboundLedger) MarkFailed(_ context.Context, source string, deliveryID string, cause error) error {
	return l.mark(source, deliveryID, InboundDeliveryFailed, cause)
}

func (l *MemoryInboundLedger) mark(source string, deliveryID string, status string, cause error) error {
	if l == nil {
		return fmt.Errorf("core: inbound ledger is not configured")
	}
	key, err := inboundLedgerKey(source, deliveryID)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.entries[key]
	if !ok {
		return fmt.Errorf("core: inbound delivery %q from %q not found", deliveryID, source)
	}
	entry.delivery.Status = status
	entry.delivery.UpdatedAt = l.now()
	entry.delivery.LastError = ""
	if cause != nil {
		entry.delivery.LastError = cause.Error()
	}
	l.entries[key] = entry
	return nil
}

func (l *MemoryInboundLedger) PurgeExpired(_ context.Context) (int, error) {
	if l == nil {
		return 0, fmt.Errorf("core: inbound ledger is not configured")
	}
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	before := len(l.entries)
	l.pruneExpiredLocked(now)
	return before - len(l.entries), nil
}

func (l *MemoryInboundLedger) now() time.Time {
	if l != nil && l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

func (l *MemoryInboundLedger) pruneExpiredLocked(now time.Time) {
	for key, entry := range l.entries {
		if !now.Before(entry.expiresAt) {
			delete(l.entries, key)
		}
	}
}

func (l *MemoryInboundLedger) enforceCapacityLocked(incoming int) {
	target := l.maxEntries - incoming
	if target < 0 {
		target = 0
	}
	for len(l.entries) > target {
		var oldestKey string
		var oldest time.Time
		for key, entry := range l.entries {
			if oldestKey == "" || entry.expiresAt.Before(oldest) {
				oldestKey = key
				oldest = entry.expiresAt
			}
		}
		delete(l.entries, oldestKey)
	}
}

func inboundLedgerKey(source string, deliveryID string) (string, error) {
	source = strings.TrimSpace(source)
	deliveryID = strings.TrimSpace(deliveryID)
	if source == "" || deliveryID == "" {
		return "", fmt.Errorf("core: inbound source and delivery id are required")
	}
	return source + ":" + deliveryID, nil
}

