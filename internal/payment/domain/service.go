package domain

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// AdapterConfig is the decrypted per-gateway configuration handed to adapter
// factories.
type AdapterConfig struct {
	Provider string
	Config   map[string]any
}

// PaymentAdapter verifies and parses one gateway's webhook payloads.
type PaymentAdapter interface {
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*PaymentEvent, error)
}

type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (PaymentAdapter, error)
}

// Service ingests a raw webhook request: gateway config lookup, signature
// verification, parsing, then reconciliation.
type Service interface {
	IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error
}

// Reconciler applies a parsed event exactly once.
type Reconciler interface {
	ProcessEvent(ctx context.Context, event *PaymentEvent) error
}

type Repository interface {
	// InsertEvent inserts with ON CONFLICT DO NOTHING on event_id and reports
	// whether this call created the row.
	InsertEvent(ctx context.Context, db *gorm.DB, event *WebhookEvent) (bool, error)
	FindEvent(ctx context.Context, db *gorm.DB, eventID string) (*WebhookEvent, error)

	// FindProcessedSucceeded reports whether any processed payment_succeeded
	// event already exists for the payment intent.
	FindProcessedSucceeded(ctx context.Context, db *gorm.DB, paymentIntentID string) (bool, error)

	// AcquireCompletionMarker inserts the derived marker row. False means the
	// lock is held by another delivery.
	AcquireCompletionMarker(ctx context.Context, db *gorm.DB, marker *WebhookEvent) (bool, error)
	ReleaseCompletionMarker(ctx context.Context, db *gorm.DB, markerEventID string) error

	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, note string, processedAt time.Time) error
	MarkProcessedByEventID(ctx context.Context, db *gorm.DB, eventID string, note string, processedAt time.Time) error
	RecordError(ctx context.Context, db *gorm.DB, id snowflake.ID, note string) error
}
