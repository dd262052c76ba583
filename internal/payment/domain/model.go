// Package domain defines the webhook reconciliation models. The unique index
// on webhook_events.event_id doubles as the distributed lock that keeps the
// external credit at-most-once.
package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// WebhookEvent is the idempotency record for one inbound gateway event. Two
// kinds of ids live in the same table: real provider event ids and derived
// completion markers (see CompletionMarkerID). Uniqueness of EventID is the
// concurrency-control mechanism for both.
type WebhookEvent struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	EventID         string         `json:"event_id" gorm:"type:text;not null;uniqueIndex"`
	EventType       string         `json:"event_type" gorm:"type:text;not null"`
	Provider        string         `json:"provider" gorm:"type:text;not null"`
	PaymentIntentID string         `json:"payment_intent_id" gorm:"type:text;index"`
	Processed       bool           `json:"processed" gorm:"not null;default:false"`
	ProcessedAt     *time.Time     `json:"processed_at"`
	Note            string         `json:"note" gorm:"type:text"`
	Metadata        datatypes.JSON `json:"metadata"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null"`
}

func (WebhookEvent) TableName() string { return "webhook_events" }

// CompletionMarkerID derives the lock key for a payment intent. Inserting a
// WebhookEvent with this id claims exclusive ownership of crediting that
// intent; a duplicate-key violation means another delivery holds the lock.
func CompletionMarkerID(paymentIntentID string) string {
	return fmt.Sprintf("payment_completion_%s", paymentIntentID)
}

const EventTypeCompletionMarker = "payment_completion_marker"

type PaymentStatus string

const (
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// PaymentRecord is the append-only audit row for one webhook-confirmed charge
// attempt. Amount fields keep the fee breakdown for integrity reconciliation.
type PaymentRecord struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	UserID          snowflake.ID   `json:"user_id" gorm:"not null;index"`
	Provider        string         `json:"provider" gorm:"type:text;not null"`
	PaymentIntentID string         `json:"payment_intent_id" gorm:"type:text;not null;index"`
	Status          PaymentStatus  `json:"status" gorm:"type:text;not null"`
	TopupAmount     float64        `json:"topup_amount" gorm:"not null"`
	ProcessingFee   float64        `json:"processing_fee" gorm:"not null;default:0"`
	FixedFee        float64        `json:"fixed_fee" gorm:"not null;default:0"`
	AmountCharged   int64          `json:"amount_charged" gorm:"not null"`
	Currency        string         `json:"currency" gorm:"type:text;not null"`
	PaymentMethod   string         `json:"payment_method" gorm:"type:text"`
	FailureCode     string         `json:"failure_code" gorm:"type:text"`
	FailureMessage  string         `json:"failure_message" gorm:"type:text"`
	CreditTxID      string         `json:"credit_tx_id" gorm:"type:text"`
	RawPayload      datatypes.JSON `json:"raw_payload"`
	CreatedAt       time.Time      `json:"created_at" gorm:"not null"`
}

func (PaymentRecord) TableName() string { return "payment_records" }

// GatewayConfig stores one payment gateway's settings. Config is an AES-GCM
// encrypted JSON document holding at least webhook_secret.
type GatewayConfig struct {
	ID        snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider  string         `json:"provider" gorm:"type:text;not null;index"`
	Config    datatypes.JSON `json:"config" gorm:"not null"`
	IsActive  bool           `json:"is_active" gorm:"not null;default:false"`
	CreatedAt time.Time      `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"not null"`
}

func (GatewayConfig) TableName() string { return "payment_gateway_configs" }

const (
	EventTypePaymentSucceeded = "payment_succeeded"
	EventTypePaymentFailed    = "payment_failed"
	EventTypeIgnored          = "ignored"
)

// PaymentEvent is the canonical event parsed by gateway adapters. Fee fields
// come from the provider metadata in currency units; AmountCharged is the
// provider-reported charge in minor units.
type PaymentEvent struct {
	Provider        string
	EventID         string
	EventType       string
	ProviderType    string
	PaymentIntentID string
	UserID          snowflake.ID
	TopupAmount     float64
	ProcessingFee   float64
	FixedFee        float64
	AmountCharged   int64
	Currency        string
	PaymentMethod   string
	FailureCode     string
	FailureMessage  string
	Note            string
	OccurredAt      time.Time
	RawPayload      []byte
}

var (
	ErrInvalidProvider       = errors.New("invalid_provider")
	ErrProviderNotFound      = errors.New("provider_not_found")
	ErrInvalidSignature      = errors.New("invalid_signature")
	ErrInvalidPayload        = errors.New("invalid_payload")
	ErrInvalidEvent          = errors.New("invalid_event")
	ErrInvalidUser           = errors.New("invalid_user")
	ErrInvalidConfig         = errors.New("invalid_gateway_config")
	ErrEncryptionKeyMissing  = errors.New("encryption_key_missing")
	ErrEventAlreadyProcessed = errors.New("event_already_processed")
	ErrNeedsManualProcessing = errors.New("needs_manual_processing")
)
