package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Claim captures the fields stamped onto a number when it is assigned.
type Claim struct {
	UserID          snowflake.ID
	AssignedBy      snowflake.ID
	AssignedAt      time.Time
	MonthlyRate     float64
	SetupFee        float64
	NextBillingDate time.Time
}

type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*PhoneNumber, error)
	ListAvailable(ctx context.Context, db *gorm.DB, country string, numberType string, limit int) ([]*PhoneNumber, error)

	// ClaimAvailable conditionally flips an available, directly purchasable
	// number to assigned. It reports false when the row was not in a
	// claimable state, which is how concurrent purchases lose the race.
	ClaimAvailable(ctx context.Context, db *gorm.DB, id snowflake.ID, claim Claim) (bool, error)

	// ClaimBackordered is the approval path for backorder-only numbers.
	ClaimBackordered(ctx context.Context, db *gorm.DB, id snowflake.ID, claim Claim) (bool, error)
}
