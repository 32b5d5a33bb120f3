package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/richardliu001/order-choreography/internal/domain"
	"github.com/richardliu001/order-choreography/internal/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// errStreamMoved signals that the stream version changed between the check and
// the write inside an append transaction.
var errStreamMoved = errors.New("stream moved")

// EventStore is the append-only event log with a per-aggregate version counter.
type EventStore struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

func NewEventStore(db *gorm.DB, logger *zap.SugaredLogger) *EventStore {
	return &EventStore{db: db, log: logger}
}

// Append writes events after expectedVersion in one transaction. Versions are
// stamped onto the passed slice as expectedVersion+1 .. expectedVersion+n.
func (s *EventStore) Append(ctx context.Context, aggregateID string, events []domain.Event, expectedVersion int64) error {
	if len(events) == 0 {
		return nil
	}
	for i := range events {
		if events[i].AggregateID != aggregateID {
			return fmt.Errorf("event %s belongs to %s, not %s", events[i].ID, events[i].AggregateID, aggregateID)
		}
	}

	n := int64(len(events))
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()

		var streams []model.EventStream
		err := tx.Where("aggregate_id = ?", aggregateID).Limit(1).Find(&streams).Error
		switch {
		case err != nil:
			return err
		case len(streams) == 0:
			if expectedVersion != 0 {
				return &domain.ConcurrencyConflictError{AggregateID: aggregateID, Expected: expectedVersion, Actual: 0}
			}
			err = tx.Create(&model.EventStream{AggregateID: aggregateID, CurrentVersion: n, LastModified: now}).Error
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return errStreamMoved
			}
			if err != nil {
				return err
			}
		default:
			stream := streams[0]
			if stream.CurrentVersion != expectedVersion {
				return &domain.ConcurrencyConflictError{AggregateID: aggregateID, Expected: expectedVersion, Actual: stream.CurrentVersion}
			}
			res := tx.Model(&model.EventStream{}).
				Where("aggregate_id = ? AND current_version = ?", aggregateID, expectedVersion).
				Updates(map[string]interface{}{
					"current_version": expectedVersion + n,
					"last_modified":   now,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return errStreamMoved
			}
		}

		rows := make([]model.EventRecord, len(events))
		for i := range events {
			events[i].Version = expectedVersion + int64(i) + 1
			rows[i] = toRecord(events[i])
		}
		if err := tx.Create(&rows).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return errStreamMoved
			}
			return err
		}
		return nil
	})

	if errors.Is(err, errStreamMoved) {
		actual, verr := s.CurrentVersion(ctx, aggregateID)
		if verr != nil {
			s.log.Warnf("read version of %s after conflict: %v", aggregateID, verr)
			actual = -1
		}
		return &domain.ConcurrencyConflictError{AggregateID: aggregateID, Expected: expectedVersion, Actual: actual}
	}
	return err
}

// Read returns events with version > fromVersion in ascending order.
func (s *EventStore) Read(ctx context.Context, aggregateID string, fromVersion int64) ([]domain.Event, error) {
	var rows []model.EventRecord
	err := s.db.WithContext(ctx).
		Where("aggregate_id = ? AND version > ?", aggregateID, fromVersion).
		Order("version asc").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return fromRecords(rows), nil
}

// CurrentVersion is 0 for unknown aggregates.
func (s *EventStore) CurrentVersion(ctx context.Context, aggregateID string) (int64, error) {
	var streams []model.EventStream
	err := s.db.WithContext(ctx).Where("aggregate_id = ?", aggregateID).Limit(1).Find(&streams).Error
	if err != nil {
		return 0, err
	}
	if len(streams) == 0 {
		return 0, nil
	}
	return streams[0].CurrentVersion, nil
}

// Unpublished returns events never handed to the broker that were stored before olderThan.
func (s *EventStore) Unpublished(ctx context.Context, olderThan time.Time, limit int) ([]domain.Event, error) {
	var rows []model.EventRecord
	err := s.db.WithContext(ctx).
		Where("published = ? AND created_at <= ?", false, olderThan).
		Order("created_at asc").Order("aggregate_id asc").Order("version asc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return fromRecords(rows), nil
}

// UnpublishedBefore returns the aggregate's unpublished events below version, oldest first.
func (s *EventStore) UnpublishedBefore(ctx context.Context, aggregateID string, version int64) ([]domain.Event, error) {
	var rows []model.EventRecord
	err := s.db.WithContext(ctx).
		Where("aggregate_id = ? AND version < ? AND published = ?", aggregateID, version, false).
		Order("version asc").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return fromRecords(rows), nil
}

func (s *EventStore) MarkPublished(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Model(&model.EventRecord{}).
		Where("id IN ? AND published = ?", ids, false).
		Updates(map[string]interface{}{"published": true, "published_at": &now}).Error
}

func toRecord(e domain.Event) model.EventRecord {
	return model.EventRecord{
		ID:            e.ID,
		AggregateID:   e.AggregateID,
		Version:       e.Version,
		Kind:          string(e.Kind),
		Payload:       string(e.Payload),
		CorrelationID: e.CorrelationID,
		CausationID:   e.CausationID,
		OccurredAt:    e.Timestamp,
	}
}

func fromRecords(rows []model.EventRecord) []domain.Event {
	out := make([]domain.Event, len(rows))
	for i, r := range rows {
		out[i] = domain.Event{
			ID:            r.ID,
			AggregateID:   r.AggregateID,
			Kind:          domain.Kind(r.Kind),
			Timestamp:     r.OccurredAt.UTC(),
			Version:       r.Version,
			Payload:       []byte(r.Payload),
			CorrelationID: r.CorrelationID,
			CausationID:   r.CausationID,
		}
	}
	return out
}
