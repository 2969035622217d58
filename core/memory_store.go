package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MemoryDispatchStore is a process-local DispatchStore with the same claim
// and lease rules as the SQL store. Intended for tests and local tooling.
type MemoryDispatchStore struct {
	mu      sync.Mutex
	records map[string]DispatchRecord
}

func NewMemoryDispatchStore() *MemoryDispatchStore {
	return &MemoryDispatchStore{records: map[string]DispatchRecord{}}
}

func (s *MemoryDispatchStore) Create(_ context.Context, record DispatchRecord) (DispatchRecord, error) {
	if s == nil {
		return DispatchRecord{}, fmt.Errorf("core: memory dispatch store is not configured")
	}
	record.ID = strings.TrimSpace(record.ID)
	if record.ID == "" {
		return DispatchRecord{}, fmt.Errorf("core: dispatch id is required")
	}
	if !record.Status.Valid() {
		return DispatchRecord{}, fmt.Errorf("core: dispatch status %q is invalid", record.Status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[record.ID]; exists {
		return DispatchRecord{}, fmt.Errorf("core: dispatch %q already exists", record.ID)
	}
	s.records[record.ID] = cloneDispatchRecord(record)
	return cloneDispatchRecord(record), nil
}

func (s *MemoryDispatchStore) Get(_ context.Context, id string) (DispatchRecord, error) {
	if s == nil {
		return DispatchRecord{}, fmt.Errorf("core: memory dispatch store is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[strings.TrimSpace(id)]
	if !ok {
		return DispatchRecord{}, NotFoundError(id)
	}
	return cloneDispatchRecord(record), nil
}

func (s *MemoryDispatchStore) List(_ context.Context, filter DispatchFilter) (DispatchPage, error) {
	if s == nil {
		return DispatchPage{}, fmt.Errorf("core: memory dispatch store is not configured")
	}
	s.mu.Lock()
	matched := make([]DispatchRecord, 0, len(s.records))
	for _, record := range s.records {
		if filter.Status != "" && record.Status != filter.Status {
			continue
		}
		if eventType := strings.TrimSpace(filter.EventType); eventType != "" && record.EventType != eventType {
			continue
		}
		matched = append(matched, cloneDispatchRecord(record))
	}
	s.mu.Unlock()

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	page := DispatchPage{Total: len(matched), Limit: filter.Limit, Offset: filter.Offset, Items: []DispatchRecord{}}
	if filter.Offset >= len(matched) {
		return page, nil
	}
	end := len(matched)
	if filter.Limit > 0 && filter.Offset+filter.Limit < end {
		end = filter.Offset + filter.Limit
	}
	page.Items = matched[filter.Offset:end]
	return page, nil
}

func (s *MemoryDispatchStore) ClaimDue(_ context.Context, req ClaimRequest) ([]DispatchRecord, error) {
	if s == nil {
		return nil, fmt.Errorf("core: memory dispatch store is not configured")
	}
	if strings.TrimSpace(req.Owner) == "" {
		return nil, fmt.Errorf("core: claim owner is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	due := make([]DispatchRecord, 0)
	for _, record := range s.records {
		if claimable(record, req) {
			due = append(due, record)
		}
	}
	sortByCreatedAt(due)
	if req.Limit > 0 && len(due) > req.Limit {
		due = due[:req.Limit]
	}
	claimed := make([]DispatchRecord, 0, len(due))
	for _, record := range due {
		leaseUntil := req.LeaseUntil
		record.LeaseOwner = req.Owner
		record.LeaseExpiresAt = &leaseUntil
		s.records[record.ID] = record
		claimed = append(claimed, cloneDispatchRecord(record))
	}
	return claimed, nil
}

func (s *MemoryDispatchStore) ClaimByID(_ context.Context, id string, req ClaimRequest) (DispatchRecord, bool, error) {
	if s == nil {
		return DispatchRecord{}, false, fmt.Errorf("core: memory dispatch store is not configured")
	}
	if strings.TrimSpace(req.Owner) == "" {
		return DispatchRecord{}, false, fmt.Errorf("core: claim owner is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[strings.TrimSpace(id)]
	if !ok {
		return DispatchRecord{}, false, NotFoundError(id)
	}
	if !claimable(record, req) {
		return cloneDispatchRecord(record), false, nil
	}
	leaseUntil := req.LeaseUntil
	record.LeaseOwner = req.Owner
	record.LeaseExpiresAt = &leaseUntil
	s.records[record.ID] = record
	return cloneDispatchRecord(record), true, nil
}

func (s *MemoryDispatchStore) RecordAttempt(_ context.Context, update AttemptUpdate) (DispatchRecord, error) {
	if s == nil {
		return DispatchRecord{}, fmt.Errorf("core: memory dispatch store is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[strings.TrimSpace(update.ID)]
	if !ok {
		return DispatchRecord{}, NotFoundError(update.ID)
	}
	if record.LeaseOwner != update.Owner || record.Status.IsTerminal() || update.Attempts <= record.Attempts {
		return DispatchRecord{}, LeaseLostError(update.ID, update.Owner)
	}
	record = applyAttemptUpdate(record, update)
	s.records[record.ID] = record
	return cloneDispatchRecord(record), nil
}

// Snapshot returns every stored record, oldest first.
func (s *MemoryDispatchStore) Snapshot() []DispatchRecord {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DispatchRecord, 0, len(s.records))
	for _, record := range s.records {
		out = append(out, cloneDispatchRecord(record))
	}
	sortByCreatedAt(out)
	return out
}

func claimable(record DispatchRecord, req ClaimRequest) bool {
	if !record.DueAt(req.Now, req.MaxRetries) {
		return false
	}
	if record.LeaseOwner != "" && record.LeaseExpiresAt != nil && record.LeaseExpiresAt.After(req.Now) {
		return false
	}
	return true
}

func applyAttemptUpdate(record DispatchRecord, update AttemptUpdate) DispatchRecord {
	record.Status = update.Status
	record.Attempts = update.Attempts
	record.LastStatusCode = update.StatusCode
	record.UpdatedAt = update.UpdatedAt
	record.LeaseOwner = ""
	record.LeaseExpiresAt = nil
	switch update.Status {
	case DispatchStatusSent:
		record.LastError = ""
		record.NextRetryAt = nil
	case DispatchStatusFailed:
		record.LastError = update.LastError
		if update.NextRetryAt != nil {
			next := *update.NextRetryAt
			record.NextRetryAt = &next
		}
	default:
		record.LastError = update.LastError
		record.NextRetryAt = nil
	}
	return record
}

func cloneDispatchRecord(record DispatchRecord) DispatchRecord {
	out := record
	if record.Payload != nil {
		out.Payload = append([]byte(nil), record.Payload...)
	}
	if record.NextRetryAt != nil {
		next := *record.NextRetryAt
		out.NextRetryAt = &next
	}
	if record.LeaseExpiresAt != nil {
		lease := *record.LeaseExpiresAt
		out.LeaseExpiresAt = &lease
	}
	return out
}
