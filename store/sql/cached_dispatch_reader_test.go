package sqlstore

import (
	"context"
	"sync"
	"testing"
	"time"

	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-webhooks/core"
)

type stubDispatchReader struct {
	mu       sync.Mutex
	record   core.DispatchRecord
	getCalls int
	getErr   error
}

func (s *stubDispatchReader) Get(_ context.Context, _ string) (core.DispatchRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getCalls++
	if s.getErr != nil {
		return core.DispatchRecord{}, s.getErr
	}
	return cloneDispatch(s.record), nil
}

func (s *stubDispatchReader) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getCalls
}

func TestCachedDispatchReader_TerminalRecordIsCached(t *testing.T) {
	base := &stubDispatchReader{record: core.DispatchRecord{
		ID:        "8d7e58f4-3f0b-4fb1-9a4e-0d6f3f9f7b10",
		EventType: "order.paid",
		Payload:   []byte(`{"orderId":"O1"}`),
		Status:    core.DispatchStatusDead,
		Attempts:  3,
	}}
	reader, err := NewCachedDispatchReader(base, newTestDispatchCacheService(t))
	if err != nil {
		t.Fatalf("new cached reader: %v", err)
	}

	for range 2 {
		record, err := reader.Get(context.Background(), base.record.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if record.Status != core.DispatchStatusDead {
			t.Fatalf("expected dead record, got %q", record.Status)
		}
	}
	if base.calls() != 1 {
		t.Fatalf("expected one base read, got %d", base.calls())
	}

	if err := reader.Invalidate(context.Background(), base.record.ID); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, err := reader.Get(context.Background(), base.record.ID); err != nil {
		t.Fatalf("get after invalidate: %v", err)
	}
	if base.calls() != 2 {
		t.Fatalf("expected invalidation to force a base read, got %d", base.calls())
	}
}

func TestCachedDispatchReader_LiveRecordBypassesCache(t *testing.T) {
	base := &stubDispatchReader{record: core.DispatchRecord{
		ID:        "5b0f2c1e-98a4-4d3e-8f61-2b0c7a1d9e44",
		EventType: "order.paid",
		Status:    core.DispatchStatusFailed,
		Attempts:  1,
	}}
	reader, err := NewCachedDispatchReader(base, newTestDispatchCacheService(t))
	if err != nil {
		t.Fatalf("new cached reader: %v", err)
	}

	first, err := reader.Get(context.Background(), base.record.ID)
	if err != nil {
		t.Fatalf("first get: %v", err)
	}
	if first.Status != core.DispatchStatusFailed {
		t.Fatalf("expected failed record, got %q", first.Status)
	}

	base.mu.Lock()
	base.record.Status = core.DispatchStatusSent
	base.record.Attempts = 2
	base.mu.Unlock()

	second, err := reader.Get(context.Background(), base.record.ID)
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	if second.Status != core.DispatchStatusSent || second.Attempts != 2 {
		t.Fatalf("expected fresh record, got %+v", second)
	}
	if base.calls() != 2 {
		t.Fatalf("expected two base reads, got %d", base.calls())
	}
}

func TestCachedDispatchReader_PropagatesNotFound(t *testing.T) {
	base := &stubDispatchReader{getErr: core.NotFoundError("missing")}
	reader, err := NewCachedDispatchReader(base, newTestDispatchCacheService(t))
	if err != nil {
		t.Fatalf("new cached reader: %v", err)
	}
	if _, err := reader.Get(context.Background(), "missing"); !core.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := reader.Get(context.Background(), "  "); err == nil {
		t.Fatalf("expected blank id to fail")
	}
}

func TestDispatchCacheKey_EscapesSegments(t *testing.T) {
	key, err := DispatchCacheKey("a/b c")
	if err != nil {
		t.Fatalf("cache key: %v", err)
	}
	if key != "go-webhooks::dispatch::v1::a%2Fb%20c" {
		t.Fatalf("unexpected cache key %q", key)
	}
}

func newTestDispatchCacheService(t *testing.T) repositorycache.CacheService {
	t.Helper()
	config := repositorycache.DefaultConfig()
	config.TTL = time.Minute
	service, err := repositorycache.NewCacheService(config)
	if err != nil {
		t.Fatalf("new cache service: %v", err)
	}
	return service
}
