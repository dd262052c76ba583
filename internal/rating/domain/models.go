// Package domain contains rate deck models and the resolver contract.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// RateDeckType scopes a deck to a resource family. Only number decks exist
// today; trunk and termination decks would slot in beside it.
type RateDeckType string

const RateDeckTypeNumber RateDeckType = "number"

type RateDeck struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	Name      string       `json:"name" gorm:"type:text;not null"`
	DeckType  RateDeckType `json:"deck_type" gorm:"type:text;not null;default:number"`
	Currency  string       `json:"currency" gorm:"type:text;not null"`
	IsActive  bool         `json:"is_active" gorm:"not null;default:true"`
	CreatedAt time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time    `json:"updated_at" gorm:"not null"`
}

func (RateDeck) TableName() string { return "rate_decks" }

// NumberRate is one tariff row in a deck. Immutable once matched against.
type NumberRate struct {
	ID         snowflake.ID `json:"id" gorm:"primaryKey"`
	RateDeckID snowflake.ID `json:"rate_deck_id" gorm:"not null;index"`
	Prefix     string       `json:"prefix" gorm:"type:text;not null"`
	Country    string       `json:"country" gorm:"type:text;not null"`
	NumberType string       `json:"number_type" gorm:"type:text;not null"`
	Rate       float64      `json:"rate" gorm:"not null"`
	SetupFee   float64      `json:"setup_fee" gorm:"not null;default:0"`
	CreatedAt  time.Time    `json:"created_at" gorm:"not null"`
}

func (NumberRate) TableName() string { return "number_rates" }

// RateDeckAssignment binds a user to at most one active deck per deck type.
type RateDeckAssignment struct {
	ID         snowflake.ID `json:"id" gorm:"primaryKey"`
	UserID     snowflake.ID `json:"user_id" gorm:"not null;index:idx_rate_deck_assignments_user"`
	RateDeckID snowflake.ID `json:"rate_deck_id" gorm:"not null"`
	DeckType   RateDeckType `json:"deck_type" gorm:"type:text;not null;index:idx_rate_deck_assignments_user"`
	IsActive   bool         `json:"is_active" gorm:"not null;default:true"`
	AssignedBy snowflake.ID `json:"assigned_by" gorm:"not null"`
	AssignedAt time.Time    `json:"assigned_at" gorm:"not null"`
}

func (RateDeckAssignment) TableName() string { return "rate_deck_assignments" }
