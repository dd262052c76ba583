// Package domain holds the backorder request models. Backorder requests are
// the reviewed acquisition path for inventory that cannot be bought directly.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type RequestStatus string

const (
	RequestStatusPending  RequestStatus = "pending"
	RequestStatusApproved RequestStatus = "approved"
	RequestStatusRejected RequestStatus = "rejected"
)

type BackorderRequest struct {
	ID            snowflake.ID  `json:"id" gorm:"primaryKey"`
	PhoneNumberID snowflake.ID  `json:"phone_number_id" gorm:"not null;index"`
	UserID        snowflake.ID  `json:"user_id" gorm:"not null;index"`
	Status        RequestStatus `json:"status" gorm:"type:text;not null;default:pending"`
	Notes         string        `json:"notes" gorm:"type:text"`

	ReviewedBy  *snowflake.ID `json:"reviewed_by"`
	ReviewedAt  *time.Time    `json:"reviewed_at"`
	ReviewNotes string        `json:"review_notes" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null"`
}

func (BackorderRequest) TableName() string { return "backorder_requests" }

var (
	ErrRequestNotFound  = errors.New("backorder_request_not_found")
	ErrNotBackorderable = errors.New("number_not_backorderable")
	ErrDuplicateRequest = errors.New("backorder_request_exists")
	ErrAlreadyReviewed  = errors.New("backorder_request_already_reviewed")
)
