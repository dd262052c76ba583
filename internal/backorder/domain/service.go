package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	purchasedomain "github.com/didport/didport/internal/purchase/domain"
)

type Service interface {
	// Create opens a request for a backorder-only number. A user may hold at
	// most one pending request per number.
	Create(ctx context.Context, userID snowflake.ID, phoneNumberID snowflake.ID, notes string) (*BackorderRequest, error)

	// Approve assigns the number to the requester through the reviewed
	// acquisition path. The request stays pending if the assignment fails.
	Approve(ctx context.Context, requestID snowflake.ID, reviewedBy snowflake.ID, reviewNotes string) (*purchasedomain.PurchaseResult, error)

	Reject(ctx context.Context, requestID snowflake.ID, reviewedBy snowflake.ID, reviewNotes string) error

	ListByUser(ctx context.Context, userID snowflake.ID) ([]*BackorderRequest, error)
	ListPending(ctx context.Context) ([]*BackorderRequest, error)
}
