package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/didport/didport/internal/payment/domain"
	pkgdb "github.com/didport/didport/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *domain.WebhookEvent) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO webhook_events (
			id, event_id, event_type, provider, payment_intent_id,
			processed, processed_at, note, metadata, received_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (event_id) DO NOTHING`,
		event.ID,
		event.EventID,
		event.EventType,
		event.Provider,
		event.PaymentIntentID,
		event.Processed,
		event.ProcessedAt,
		event.Note,
		event.Metadata,
		event.ReceivedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindEvent(ctx context.Context, db *gorm.DB, eventID string) (*domain.WebhookEvent, error) {
	var item domain.WebhookEvent
	err := db.WithContext(ctx).Raw(
		`SELECT id, event_id, event_type, provider, payment_intent_id,
			processed, processed_at, note, metadata, received_at
		 FROM webhook_events
		 WHERE event_id = ?
		 LIMIT 1`,
		eventID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindProcessedSucceeded(ctx context.Context, db *gorm.DB, paymentIntentID string) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(*)
		 FROM webhook_events
		 WHERE payment_intent_id = ?
		   AND event_type = ?
		   AND processed = TRUE`,
		paymentIntentID,
		domain.EventTypePaymentSucceeded,
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// AcquireCompletionMarker claims the per-intent lock. The unique index on
// event_id is the whole mechanism: a duplicate-key violation means lost.
func (r *repo) AcquireCompletionMarker(ctx context.Context, db *gorm.DB, marker *domain.WebhookEvent) (bool, error) {
	inserted, err := r.InsertEvent(ctx, db, marker)
	if err != nil {
		if pkgdb.IsDuplicateKeyErr(err) {
			return false, nil
		}
		return false, err
	}
	return inserted, nil
}

func (r *repo) ReleaseCompletionMarker(ctx context.Context, db *gorm.DB, markerEventID string) error {
	return db.WithContext(ctx).Exec(
		`DELETE FROM webhook_events WHERE event_id = ?`,
		markerEventID,
	).Error
}

func (r *repo) MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, note string, processedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE webhook_events
		 SET processed = TRUE, processed_at = ?, note = ?
		 WHERE id = ?`,
		processedAt,
		note,
		id,
	).Error
}

func (r *repo) MarkProcessedByEventID(ctx context.Context, db *gorm.DB, eventID string, note string, processedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE webhook_events
		 SET processed = TRUE, processed_at = ?, note = ?
		 WHERE event_id = ?`,
		processedAt,
		note,
		eventID,
	).Error
}

func (r *repo) RecordError(ctx context.Context, db *gorm.DB, id snowflake.ID, note string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE webhook_events
		 SET note = ?
		 WHERE id = ?`,
		note,
		id,
	).Error
}
