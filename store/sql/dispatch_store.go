package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-webhooks/core"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const dispatchColumns = `
	id,
	event_type,
	payload,
	target_url,
	signature,
	status,
	attempts,
	last_error,
	last_status_code,
	next_retry_at,
	replay_of,
	lease_owner,
	lease_expires_at,
	created_at,
	updated_at
`

// DispatchStore persists dispatch records in webhook_dispatches. Claims lease
// rows to one owner with a conditional UPDATE so several workers can share a
// database without sending the same record twice.
type DispatchStore struct {
	db   *bun.DB
	repo repository.Repository[*dispatchRecord]
}

func NewDispatchStore(db *bun.DB) (*DispatchStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*dispatchRecord](db, dispatchHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid dispatch repository wiring: %w", err)
		}
	}
	return &DispatchStore{db: db, repo: repo}, nil
}

func (s *DispatchStore) Create(ctx context.Context, record core.DispatchRecord) (core.DispatchRecord, error) {
	if s == nil || s.repo == nil {
		return core.DispatchRecord{}, fmt.Errorf("sqlstore: dispatch store is not configured")
	}
	record.ID = strings.TrimSpace(record.ID)
	if parseUUID(record.ID) == uuid.Nil {
		return core.DispatchRecord{}, fmt.Errorf("sqlstore: dispatch id %q must be a uuid", record.ID)
	}
	if !record.Status.Valid() {
		return core.DispatchRecord{}, fmt.Errorf("sqlstore: dispatch status %q is invalid", record.Status)
	}
	if strings.TrimSpace(record.EventType) == "" {
		return core.DispatchRecord{}, fmt.Errorf("sqlstore: dispatch event type is required")
	}
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = record.CreatedAt
	}

	model := dispatchToRecord(record)
	created, err := s.repo.Create(ctx, model)
	if err != nil {
		if isUniqueViolation(err) {
			return core.DispatchRecord{}, fmt.Errorf("sqlstore: dispatch %q already exists: %w", record.ID, err)
		}
		return core.DispatchRecord{}, err
	}
	return dispatchToDomain(created), nil
}

func (s *DispatchStore) Get(ctx context.Context, id string) (core.DispatchRecord, error) {
	if s == nil || s.db == nil {
		return core.DispatchRecord{}, fmt.Errorf("sqlstore: dispatch store is not configured")
	}
	id = strings.TrimSpace(id)
	record := &dispatchRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.DispatchRecord{}, core.NotFoundError(id)
		}
		return core.DispatchRecord{}, err
	}
	return dispatchToDomain(record), nil
}

func (s *DispatchStore) List(ctx context.Context, filter core.DispatchFilter) (core.DispatchPage, error) {
	if s == nil || s.db == nil {
		return core.DispatchPage{}, fmt.Errorf("sqlstore: dispatch store is not configured")
	}
	var records []dispatchRecord
	query := s.db.NewSelect().Model(&records)
	if filter.Status != "" {
		query = query.Where("?TableAlias.status = ?", string(filter.Status))
	}
	if eventType := strings.TrimSpace(filter.EventType); eventType != "" {
		query = query.Where("?TableAlias.event_type = ?", eventType)
	}
	query = query.OrderExpr("?TableAlias.created_at DESC, ?TableAlias.id DESC")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}
	total, err := query.ScanAndCount(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return core.DispatchPage{}, err
	}
	page := core.DispatchPage{
		Items:  make([]core.DispatchRecord, 0, len(records)),
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}
	for index := range records {
		page.Items = append(page.Items, dispatchToDomain(&records[index]))
	}
	return page, nil
}

func (s *DispatchStore) ClaimDue(ctx context.Context, req core.ClaimRequest) ([]core.DispatchRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: dispatch store is not configured")
	}
	if strings.TrimSpace(req.Owner) == "" {
		return nil, fmt.Errorf("sqlstore: claim owner is required")
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 1
	}
	now := req.Now.UTC()
	leaseUntil := req.LeaseUntil.UTC()

	var records []dispatchRecord
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		query := `
WITH due AS (
	SELECT id
	FROM webhook_dispatches
	WHERE status IN (?, ?)
	  AND attempts < ?
	  AND (next_retry_at IS NULL OR next_retry_at <= ?)
	  AND (lease_expires_at IS NULL OR lease_expires_at <= ?)
	ORDER BY created_at ASC, id ASC
	LIMIT ?
)
UPDATE webhook_dispatches
SET lease_owner = ?, lease_expires_at = ?
WHERE id IN (SELECT id FROM due)
  AND (lease_expires_at IS NULL OR lease_expires_at <= ?)
RETURNING` + dispatchColumns
		return tx.NewRaw(
			query,
			string(core.DispatchStatusQueued),
			string(core.DispatchStatusFailed),
			attemptCeiling(req.MaxRetries),
			now,
			now,
			limit,
			strings.TrimSpace(req.Owner),
			leaseUntil,
			now,
		).Scan(ctx, &records)
	})
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	claimed := make([]core.DispatchRecord, 0, len(records))
	for index := range records {
		claimed = append(claimed, dispatchToDomain(&records[index]))
	}
	sort.SliceStable(claimed, func(i, j int) bool {
		if claimed[i].CreatedAt.Equal(claimed[j].CreatedAt) {
			return claimed[i].ID < claimed[j].ID
		}
		return claimed[i].CreatedAt.Before(claimed[j].CreatedAt)
	})
	return claimed, nil
}

func (s *DispatchStore) ClaimByID(ctx context.Context, id string, req core.ClaimRequest) (core.DispatchRecord, bool, error) {
	if s == nil || s.db == nil {
		return core.DispatchRecord{}, false, fmt.Errorf("sqlstore: dispatch store is not configured")
	}
	if strings.TrimSpace(req.Owner) == "" {
		return core.DispatchRecord{}, false, fmt.Errorf("sqlstore: claim owner is required")
	}
	id = strings.TrimSpace(id)
	now := req.Now.UTC()

	var records []dispatchRecord
	query := `
UPDATE webhook_dispatches
SET lease_owner = ?, lease_expires_at = ?
WHERE id = ?
  AND status IN (?, ?)
  AND attempts < ?
  AND (next_retry_at IS NULL OR next_retry_at <= ?)
  AND (lease_expires_at IS NULL OR lease_expires_at <= ?)
RETURNING` + dispatchColumns
	err := s.db.NewRaw(
		query,
		strings.TrimSpace(req.Owner),
		req.LeaseUntil.UTC(),
		id,
		string(core.DispatchStatusQueued),
		string(core.DispatchStatusFailed),
		attemptCeiling(req.MaxRetries),
		now,
		now,
	).Scan(ctx, &records)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return core.DispatchRecord{}, false, err
	}
	if len(records) == 1 {
		return dispatchToDomain(&records[0]), true, nil
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return core.DispatchRecord{}, false, err
	}
	return current, false, nil
}

// RecordAttempt applies the attempt outcome only while the caller still owns
// the lease, the record is not terminal and the attempt count moves forward.
func (s *DispatchStore) RecordAttempt(ctx context.Context, update core.AttemptUpdate) (core.DispatchRecord, error) {
	if s == nil || s.db == nil {
		return core.DispatchRecord{}, fmt.Errorf("sqlstore: dispatch store is not configured")
	}
	if !update.Status.Valid() {
		return core.DispatchRecord{}, fmt.Errorf("sqlstore: dispatch status %q is invalid", update.Status)
	}
	id := strings.TrimSpace(update.ID)
	updatedAt := update.UpdatedAt.UTC()
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	lastError := strings.TrimSpace(update.LastError)
	var nextRetryAt *time.Time
	switch update.Status {
	case core.DispatchStatusSent:
		lastError = ""
	case core.DispatchStatusFailed:
		if update.NextRetryAt != nil {
			next := update.NextRetryAt.UTC()
			nextRetryAt = &next
		}
	}

	result, err := s.db.NewUpdate().
		Model((*dispatchRecord)(nil)).
		Set("status = ?", string(update.Status)).
		Set("attempts = ?", update.Attempts).
		Set("last_error = ?", lastError).
		Set("last_status_code = ?", update.StatusCode).
		Set("next_retry_at = ?", nextRetryAt).
		Set("lease_owner = ?", "").
		Set("lease_expires_at = NULL").
		Set("updated_at = ?", updatedAt).
		Where("id = ?", id).
		Where("lease_owner = ?", strings.TrimSpace(update.Owner)).
		Where("status IN (?, ?)", string(core.DispatchStatusQueued), string(core.DispatchStatusFailed)).
		Where("attempts < ?", update.Attempts).
		Exec(ctx)
	if err != nil {
		return core.DispatchRecord{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return core.DispatchRecord{}, err
	}
	if affected == 0 {
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return core.DispatchRecord{}, getErr
		}
		return core.DispatchRecord{}, core.LeaseLostError(id, update.Owner)
	}
	return s.Get(ctx, id)
}

func attemptCeiling(maxRetries int) int {
	if maxRetries <= 0 {
		return math.MaxInt32
	}
	return maxRetries
}

func dispatchToRecord(record core.DispatchRecord) *dispatchRecord {
	model := &dispatchRecord{
		ID:             record.ID,
		EventType:      strings.TrimSpace(record.EventType),
		Payload:        append([]byte(nil), record.Payload...),
		TargetURL:      record.TargetURL,
		Signature:      record.Signature,
		Status:         string(record.Status),
		Attempts:       record.Attempts,
		LastError:      record.LastError,
		LastStatusCode: record.LastStatusCode,
		NextRetryAt:    cloneTimePointer(record.NextRetryAt),
		ReplayOf:       strings.TrimSpace(record.ReplayOf),
		LeaseOwner:     record.LeaseOwner,
		LeaseExpiresAt: cloneTimePointer(record.LeaseExpiresAt),
		CreatedAt:      record.CreatedAt.UTC(),
		UpdatedAt:      record.UpdatedAt.UTC(),
	}
	if model.Payload == nil {
		model.Payload = []byte("{}")
	}
	return model
}

func dispatchToDomain(record *dispatchRecord) core.DispatchRecord {
	if record == nil {
		return core.DispatchRecord{}
	}
	return core.DispatchRecord{
		ID:             record.ID,
		EventType:      record.EventType,
		Payload:        append([]byte(nil), record.Payload...),
		TargetURL:      record.TargetURL,
		Signature:      record.Signature,
		Status:         core.DispatchStatus(record.Status),
		Attempts:       record.Attempts,
		LastError:      record.LastError,
		LastStatusCode: record.LastStatusCode,
		NextRetryAt:    cloneTimePointer(record.NextRetryAt),
		ReplayOf:       record.ReplayOf,
		LeaseOwner:     record.LeaseOwner,
		LeaseExpiresAt: cloneTimePointer(record.LeaseExpiresAt),
		CreatedAt:      record.CreatedAt.UTC(),
		UpdatedAt:      record.UpdatedAt.UTC(),
	}
}

func cloneTimePointer(input *time.Time) *time.Time {
	if input == nil {
		return nil
	}
	value := input.UTC()
	return &value
}

func isUniqueViolation(err error) bool {
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}
