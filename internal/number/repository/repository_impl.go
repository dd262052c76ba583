package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/didport/didport/internal/number/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.PhoneNumber, error) {
	var item domain.PhoneNumber
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM phone_numbers WHERE id = ? LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) ListAvailable(ctx context.Context, db *gorm.DB, country string, numberType string, limit int) ([]*domain.PhoneNumber, error) {
	if limit <= 0 || limit > 250 {
		limit = 50
	}
	query := db.WithContext(ctx).
		Where("status = ?", domain.NumberStatusAvailable)
	if country != "" {
		query = query.Where("LOWER(country) = LOWER(?)", country)
	}
	if numberType != "" {
		query = query.Where("number_type = ?", numberType)
	}

	var items []*domain.PhoneNumber
	err := query.Order("number ASC").Limit(limit).Find(&items).Error
	return items, err
}

func (r *repo) ClaimAvailable(ctx context.Context, db *gorm.DB, id snowflake.ID, claim domain.Claim) (bool, error) {
	return r.claim(ctx, db, id, claim, false)
}

func (r *repo) ClaimBackordered(ctx context.Context, db *gorm.DB, id snowflake.ID, claim domain.Claim) (bool, error) {
	return r.claim(ctx, db, id, claim, true)
}

func (r *repo) claim(ctx context.Context, db *gorm.DB, id snowflake.ID, claim domain.Claim, backorderOnly bool) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE phone_numbers
		 SET status = ?,
		     assigned_to = ?,
		     assigned_by = ?,
		     assigned_at = ?,
		     monthly_rate = ?,
		     setup_fee = ?,
		     next_billing_date = ?,
		     last_billed_date = ?,
		     unassigned_at = NULL,
		     unassigned_by = NULL,
		     updated_at = ?
		 WHERE id = ?
		   AND status = ?
		   AND backorder_only = ?`,
		domain.NumberStatusAssigned,
		claim.UserID,
		claim.AssignedBy,
		claim.AssignedAt,
		claim.MonthlyRate,
		claim.SetupFee,
		claim.NextBillingDate,
		claim.AssignedAt,
		claim.AssignedAt,
		id,
		domain.NumberStatusAvailable,
		backorderOnly,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
