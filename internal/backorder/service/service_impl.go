package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	backorderdomain "github.com/didport/didport/internal/backorder/domain"
	"github.com/didport/didport/internal/clock"
	numberdomain "github.com/didport/didport/internal/number/domain"
	purchasedomain "github.com/didport/didport/internal/purchase/domain"
	"github.com/didport/didport/pkg/db/option"
	"github.com/didport/didport/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	NumberRepo  numberdomain.Repository
	PurchaseSvc purchasedomain.Service
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock

	numberRepo  numberdomain.Repository
	purchaseSvc purchasedomain.Service
	requestRepo repository.Repository[backorderdomain.BackorderRequest]
}

func NewService(p Params) backorderdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("backorder.service"),
		genID: p.GenID,
		clock: p.Clock,

		numberRepo:  p.NumberRepo,
		purchaseSvc: p.PurchaseSvc,
		requestRepo: repository.ProvideStore[backorderdomain.BackorderRequest](p.DB),
	}
}

func (s *Service) Create(ctx context.Context, userID snowflake.ID, phoneNumberID snowflake.ID, notes string) (*backorderdomain.BackorderRequest, error) {
	number, err := s.numberRepo.FindByID(ctx, s.db, phoneNumberID)
	if err != nil {
		return nil, err
	}
	if number == nil {
		return nil, numberdomain.ErrNotFound
	}
	if !number.BackorderOnly {
		return nil, backorderdomain.ErrNotBackorderable
	}
	if number.Status != numberdomain.NumberStatusAvailable {
		return nil, numberdomain.ErrNotAvailable
	}

	open, err := s.requestRepo.Count(ctx, &backorderdomain.BackorderRequest{
		PhoneNumberID: phoneNumberID,
		UserID:        userID,
		Status:        backorderdomain.RequestStatusPending,
	})
	if err != nil {
		return nil, err
	}
	if open > 0 {
		return nil, backorderdomain.ErrDuplicateRequest
	}

	now := s.clock.Now()
	request := &backorderdomain.BackorderRequest{
		ID:            s.genID.Generate(),
		PhoneNumberID: phoneNumberID,
		UserID:        userID,
		Status:        backorderdomain.RequestStatusPending,
		Notes:         notes,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.requestRepo.Create(ctx, request); err != nil {
		return nil, err
	}
	return request, nil
}

func (s *Service) Approve(ctx context.Context, requestID snowflake.ID, reviewedBy snowflake.ID, reviewNotes string) (*purchasedomain.PurchaseResult, error) {
	request, err := s.pendingRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	result, err := s.purchaseSvc.Assign(ctx, request.UserID, request.PhoneNumberID, reviewedBy)
	if err != nil {
		// The request stays pending so the reviewer can retry or reject.
		s.log.Warn("backorder approval failed",
			zap.String("request_id", request.ID.String()),
			zap.Error(err),
		)
		return nil, err
	}

	if err := s.review(ctx, request, backorderdomain.RequestStatusApproved, reviewedBy, reviewNotes); err != nil {
		// The number is already assigned; log and surface the bookkeeping
		// failure without undoing the grant.
		s.log.Error("failed to mark backorder request approved",
			zap.String("request_id", request.ID.String()),
			zap.Error(err),
		)
		return result, err
	}
	return result, nil
}

func (s *Service) Reject(ctx context.Context, requestID snowflake.ID, reviewedBy snowflake.ID, reviewNotes string) error {
	request, err := s.pendingRequest(ctx, requestID)
	if err != nil {
		return err
	}
	return s.review(ctx, request, backorderdomain.RequestStatusRejected, reviewedBy, reviewNotes)
}

func (s *Service) ListByUser(ctx context.Context, userID snowflake.ID) ([]*backorderdomain.BackorderRequest, error) {
	return s.requestRepo.Find(ctx,
		&backorderdomain.BackorderRequest{UserID: userID},
		option.WithOrder("created_at DESC"),
	)
}

func (s *Service) ListPending(ctx context.Context) ([]*backorderdomain.BackorderRequest, error) {
	return s.requestRepo.Find(ctx,
		&backorderdomain.BackorderRequest{Status: backorderdomain.RequestStatusPending},
		option.WithOrder("created_at ASC, id ASC"),
	)
}

func (s *Service) pendingRequest(ctx context.Context, requestID snowflake.ID) (*backorderdomain.BackorderRequest, error) {
	request, err := s.requestRepo.FindOne(ctx, &backorderdomain.BackorderRequest{ID: requestID})
	if err != nil {
		return nil, err
	}
	if request == nil {
		return nil, backorderdomain.ErrRequestNotFound
	}
	if request.Status != backorderdomain.RequestStatusPending {
		return nil, backorderdomain.ErrAlreadyReviewed
	}
	return request, nil
}

func (s *Service) review(ctx context.Context, request *backorderdomain.BackorderRequest, status backorderdomain.RequestStatus, reviewedBy snowflake.ID, reviewNotes string) error {
	now := s.clock.Now()
	result := s.db.WithContext(ctx).Exec(
		`UPDATE backorder_requests
		 SET status = ?, reviewed_by = ?, reviewed_at = ?, review_notes = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		status, reviewedBy, now, reviewNotes, now,
		request.ID, backorderdomain.RequestStatusPending,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return backorderdomain.ErrAlreadyReviewed
	}
	request.Status = status
	request.ReviewedBy = &reviewedBy
	request.ReviewedAt = &now
	request.ReviewNotes = reviewNotes
	request.UpdatedAt = now
	return nil
}
