package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// PurchaseResult reports one completed purchase: the grant plus the outcome
// of each immediate billing attempt.
type PurchaseResult struct {
	Assignment *Assignment      `json:"assignment"`
	Billing    []*BillingRecord `json:"billing"`
}

// BulkOutcome classifies a bulk purchase: every item succeeded, some did, or
// none did.
type BulkOutcome string

const (
	BulkOutcomeComplete BulkOutcome = "complete"
	BulkOutcomePartial  BulkOutcome = "partial"
	BulkOutcomeFailed   BulkOutcome = "failed"
)

type BulkItemFailure struct {
	PhoneNumberID snowflake.ID `json:"phone_number_id"`
	Reason        string       `json:"reason"`
}

type BulkResult struct {
	Outcome    BulkOutcome       `json:"outcome"`
	Successful []*PurchaseResult `json:"successful"`
	Failed     []BulkItemFailure `json:"failed"`
}

type Service interface {
	// Purchase assigns one directly purchasable number to the user and
	// immediately attempts to collect the first charges. Billing failures
	// do not revoke the grant.
	Purchase(ctx context.Context, userID snowflake.ID, phoneNumberID snowflake.ID) (*PurchaseResult, error)

	// BulkPurchase runs Purchase sequentially over up to MaxBulkItems ids,
	// never aborting the batch on an individual failure.
	BulkPurchase(ctx context.Context, userID snowflake.ID, phoneNumberIDs []snowflake.ID) (*BulkResult, error)

	// Assign is the reviewed acquisition path used by backorder approval.
	Assign(ctx context.Context, userID snowflake.ID, phoneNumberID snowflake.ID, approvedBy snowflake.ID) (*PurchaseResult, error)
}

const MaxBulkItems = 20

var (
	ErrNoRateDeck     = errors.New("no_rate_deck_assigned")
	ErrNoMatchingRate = errors.New("no_matching_rate")
	ErrTooManyItems   = errors.New("too_many_items")
	ErrPurchaseFailed = errors.New("purchase_failed")
	ErrUserNotFound   = errors.New("user_not_found")
)
