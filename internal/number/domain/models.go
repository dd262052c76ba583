// Package domain contains the phone number inventory models.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type NumberStatus string

const (
	NumberStatusAvailable NumberStatus = "available"
	NumberStatusAssigned  NumberStatus = "assigned"
	NumberStatusReserved  NumberStatus = "reserved"
	NumberStatusSuspended NumberStatus = "suspended"
)

type BillingCycle string

const (
	BillingCycleMonthly BillingCycle = "monthly"
	BillingCycleYearly  BillingCycle = "yearly"
)

// PhoneNumber is a tariff-able inventory resource. MonthlyRate and SetupFee
// are the last-applied tariff, snapshotted at assignment time.
type PhoneNumber struct {
	ID           snowflake.ID `json:"id" gorm:"primaryKey"`
	Number       string       `json:"number" gorm:"type:text;not null;uniqueIndex"`
	Country      string       `json:"country" gorm:"type:text;not null;index"`
	NumberType   string       `json:"number_type" gorm:"type:text;not null"`
	Currency     string       `json:"currency" gorm:"type:text;not null"`
	BillingCycle BillingCycle `json:"billing_cycle" gorm:"type:text;not null;default:monthly"`
	Status       NumberStatus `json:"status" gorm:"type:text;not null;index"`

	// BackorderOnly blocks the direct-purchase path; acquisition goes through
	// a reviewed backorder request instead.
	BackorderOnly bool `json:"backorder_only" gorm:"not null;default:false"`

	AssignedTo *snowflake.ID `json:"assigned_to" gorm:"index"`
	AssignedBy *snowflake.ID `json:"assigned_by"`
	AssignedAt *time.Time    `json:"assigned_at"`

	MonthlyRate     float64    `json:"monthly_rate" gorm:"not null;default:0"`
	SetupFee        float64    `json:"setup_fee" gorm:"not null;default:0"`
	NextBillingDate *time.Time `json:"next_billing_date"`
	LastBilledDate  *time.Time `json:"last_billed_date"`

	UnassignedAt *time.Time    `json:"unassigned_at"`
	UnassignedBy *snowflake.ID `json:"unassigned_by"`

	CreatedAt time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null"`
}

func (PhoneNumber) TableName() string { return "phone_numbers" }

var (
	ErrNotFound      = errors.New("number_not_found")
	ErrNotAvailable  = errors.New("number_not_available")
	ErrBackorderOnly = errors.New("number_backorder_only")
)
