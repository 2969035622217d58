package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-webhooks/core"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// InboundDeliveryStore deduplicates inbound webhooks on (source, delivery_id).
type InboundDeliveryStore struct {
	db   *bun.DB
	repo repository.Repository[*inboundDeliveryRecord]
	now  func() time.Time
}

func NewInboundDeliveryStore(db *bun.DB) (*InboundDeliveryStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*inboundDeliveryRecord](db, inboundDeliveryHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid inbound delivery repository wiring: %w", err)
		}
	}
	return &InboundDeliveryStore{
		db:   db,
		repo: repo,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

func (s *InboundDeliveryStore) Reserve(
	ctx context.Context,
	source string,
	deliveryID string,
	payload []byte,
) (core.InboundDelivery, bool, error) {
	if s == nil || s.repo == nil {
		return core.InboundDelivery{}, false, fmt.Errorf("sqlstore: inbound delivery store is not configured")
	}
	source = strings.TrimSpace(source)
	deliveryID = strings.TrimSpace(deliveryID)
	if source == "" || deliveryID == "" {
		return core.InboundDelivery{}, false, fmt.Errorf("sqlstore: inbound source and delivery id are required")
	}

	now := s.now()
	created, err := s.repo.Create(ctx, &inboundDeliveryRecord{
		ID:         uuid.NewString(),
		Source:     source,
		DeliveryID: deliveryID,
		Status:     core.InboundDeliveryPending,
		Attempts:   1,
		Payload:    append([]byte(nil), payload...),
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err == nil {
		return inboundDeliveryToDomain(created), true, nil
	}
	if !isUniqueViolation(err) {
		return core.InboundDelivery{}, false, err
	}

	existing, err := s.get(ctx, source, deliveryID)
	if err != nil {
		return core.InboundDelivery{}, false, err
	}
	if existing.Status != core.InboundDeliveryFailed {
		return inboundDeliveryToDomain(existing), false, nil
	}

	result, err := s.db.NewUpdate().
		Model((*inboundDeliveryRecord)(nil)).
		Set("status = ?", core.InboundDeliveryPending).
		Set("attempts = attempts + 1").
		Set("last_error = ?", "").
		Set("updated_at = ?", now).
		Where("source = ?", source).
		Where("delivery_id = ?", deliveryID).
		Where("status = ?", core.InboundDeliveryFailed).
		Exec(ctx)
	if err != nil {
		return core.InboundDelivery{}, false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return core.InboundDelivery{}, false, err
	}
	current, err := s.get(ctx, source, deliveryID)
	if err != nil {
		return core.InboundDelivery{}, false, err
	}
	return inboundDeliveryToDomain(current), affected == 1, nil
}

func (s *InboundDeliveryStore) MarkProcessed(ctx context.Context, source string, deliveryID string) error {
	return s.mark(ctx, source, deliveryID, core.InboundDeliveryProcessed, "")
}

func (s *InboundDeliveryStore) MarkFailed(ctx context.Context, source string, deliveryID string, cause error) error {
	message := ""
	if cause != nil {
		message = cause.Error()
	}
	return s.mark(ctx, source, deliveryID, core.InboundDeliveryFailed, message)
}

// PurgeBefore removes processed deliveries last touched before cutoff.
func (s *InboundDeliveryStore) PurgeBefore(ctx context.Context, cutoff time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: inbound delivery store is not configured")
	}
	result, err := s.db.NewDelete().
		Model((*inboundDeliveryRecord)(nil)).
		Where("status = ?", core.InboundDeliveryProcessed).
		Where("updated_at < ?", cutoff.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func (s *InboundDeliveryStore) mark(ctx context.Context, source string, deliveryID string, status string, lastError string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: inbound delivery store is not configured")
	}
	source = strings.TrimSpace(source)
	deliveryID = strings.TrimSpace(deliveryID)
	result, err := s.db.NewUpdate().
		Model((*inboundDeliveryRecord)(nil)).
		Set("status = ?", status).
		Set("last_error = ?", lastError).
		Set("updated_at = ?", s.now()).
		Where("source = ?", source).
		Where("delivery_id = ?", deliveryID).
		Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("sqlstore: inbound delivery %q from %q not found", deliveryID, source)
	}
	return nil
}

func (s *InboundDeliveryStore) get(ctx context.Context, source string, deliveryID string) (*inboundDeliveryRecord, error) {
	record := &inboundDeliveryRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.source = ?", source).
		Where("?TableAlias.delivery_id = ?", deliveryID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("sqlstore: inbound delivery %q from %q not found", deliveryID, source)
		}
		return nil, err
	}
	return record, nil
}

func inboundDeliveryToDomain(record *inboundDeliveryRecord) core.InboundDelivery {
	if record == nil {
		return core.InboundDelivery{}
	}
	return core.InboundDelivery{
		ID:         record.ID,
		Source:     record.Source,
		DeliveryID: record.DeliveryID,
		Status:     record.Status,
		Attempts:   record.Attempts,
		LastError:  record.LastError,
		CreatedAt:  record.CreatedAt.UTC(),
		UpdatedAt:  record.UpdatedAt.UTC(),
	}
}
