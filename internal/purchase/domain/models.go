// Package domain holds the assignment and billing-ledger models written by
// the purchase flow.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	numberdomain "github.com/didport/didport/internal/number/domain"
)

type AssignmentStatus string

const (
	AssignmentStatusActive AssignmentStatus = "active"
	AssignmentStatusEnded  AssignmentStatus = "ended"
)

// Assignment is an append-only record of an ownership grant. Rate values are
// snapshotted at assignment time and never re-resolved.
type Assignment struct {
	ID               snowflake.ID              `json:"id" gorm:"primaryKey"`
	PhoneNumberID    snowflake.ID              `json:"phone_number_id" gorm:"not null;index"`
	UserID           snowflake.ID              `json:"user_id" gorm:"not null;index"`
	AssignedBy       snowflake.ID              `json:"assigned_by" gorm:"not null"`
	AssignedAt       time.Time                 `json:"assigned_at" gorm:"not null"`
	Status           AssignmentStatus          `json:"status" gorm:"type:text;not null;default:active"`
	BillingStartDate time.Time                 `json:"billing_start_date" gorm:"not null"`
	MonthlyRate      float64                   `json:"monthly_rate" gorm:"not null"`
	SetupFee         float64                   `json:"setup_fee" gorm:"not null"`
	Currency         string                    `json:"currency" gorm:"type:text;not null"`
	BillingCycle     numberdomain.BillingCycle `json:"billing_cycle" gorm:"type:text;not null"`
}

func (Assignment) TableName() string { return "phone_number_assignments" }

type TransactionType string

const (
	TransactionTypeMonthlyFee  TransactionType = "monthly_fee"
	TransactionTypeSetupFee    TransactionType = "setup_fee"
	TransactionTypeProratedFee TransactionType = "prorated_fee"
	TransactionTypeRefund      TransactionType = "refund"
)

type BillingStatus string

const (
	BillingStatusPending BillingStatus = "pending"
	BillingStatusPaid    BillingStatus = "paid"
	BillingStatusFailed  BillingStatus = "failed"
)

// BillingRecord is one append-only ledger line. Status moves pending to paid
// or failed exactly once per immediate-payment attempt.
type BillingRecord struct {
	ID                 snowflake.ID    `json:"id" gorm:"primaryKey"`
	PhoneNumberID      snowflake.ID    `json:"phone_number_id" gorm:"not null;index"`
	UserID             snowflake.ID    `json:"user_id" gorm:"not null;index"`
	AssignmentID       snowflake.ID    `json:"assignment_id" gorm:"not null;index"`
	Amount             float64         `json:"amount" gorm:"not null"`
	Currency           string          `json:"currency" gorm:"type:text;not null"`
	BillingPeriodStart time.Time       `json:"billing_period_start" gorm:"not null"`
	BillingPeriodEnd   time.Time       `json:"billing_period_end" gorm:"not null"`
	TransactionType    TransactionType `json:"transaction_type" gorm:"type:text;not null"`
	Status             BillingStatus   `json:"status" gorm:"type:text;not null;default:pending"`
	SippyTransactionID string          `json:"sippy_transaction_id" gorm:"type:text"`
	FailureReason      string          `json:"failure_reason" gorm:"type:text"`
	ProcessedBy        string          `json:"processed_by" gorm:"type:text"`
	CreatedAt          time.Time       `json:"created_at" gorm:"not null"`
	UpdatedAt          time.Time       `json:"updated_at" gorm:"not null"`
}

func (BillingRecord) TableName() string { return "phone_number_billing" }

// User is the minimal portal account projection the purchase and webhook
// flows need: identity, contact address, and the external ledger account ref.
type User struct {
	ID             snowflake.ID `json:"id" gorm:"primaryKey"`
	Email          string       `json:"email" gorm:"type:text;not null;uniqueIndex"`
	Name           string       `json:"name" gorm:"type:text;not null"`
	SippyAccountID *int64       `json:"sippy_account_id"`
	CreatedAt      time.Time    `json:"created_at" gorm:"not null"`
}

func (User) TableName() string { return "users" }
