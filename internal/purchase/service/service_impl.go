package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/didport/didport/internal/clock"
	"github.com/didport/didport/internal/config"
	"github.com/didport/didport/internal/metrics"
	numberdomain "github.com/didport/didport/internal/number/domain"
	outboxdomain "github.com/didport/didport/internal/outbox/domain"
	purchasedomain "github.com/didport/didport/internal/purchase/domain"
	ratingdomain "github.com/didport/didport/internal/rating/domain"
	"github.com/didport/didport/internal/sippy"
	sippydomain "github.com/didport/didport/internal/sippy/domain"
	"github.com/didport/didport/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Cfg        config.Config
	NumberRepo numberdomain.Repository
	RatingSvc  ratingdomain.Service
	Ledger     sippydomain.Client   `optional:"true"`
	Outbox     outboxdomain.Service `optional:"true"`
	Metrics    *metrics.Metrics     `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	adminEmail string

	numberRepo numberdomain.Repository
	ratingSvc  ratingdomain.Service
	ledger     sippydomain.Client
	outbox     outboxdomain.Service
	metrics    *metrics.Metrics

	userRepo       repository.Repository[purchasedomain.User]
	assignmentRepo repository.Repository[purchasedomain.Assignment]
	billingRepo    repository.Repository[purchasedomain.BillingRecord]
}

func NewService(p Params) purchasedomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("purchase.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		adminEmail: p.Cfg.AdminEmail,

		numberRepo: p.NumberRepo,
		ratingSvc:  p.RatingSvc,
		ledger:     p.Ledger,
		outbox:     p.Outbox,
		metrics:    p.Metrics,

		userRepo:       repository.ProvideStore[purchasedomain.User](p.DB),
		assignmentRepo: repository.ProvideStore[purchasedomain.Assignment](p.DB),
		billingRepo:    repository.ProvideStore[purchasedomain.BillingRecord](p.DB),
	}
}

func (s *Service) Purchase(ctx context.Context, userID snowflake.ID, phoneNumberID snowflake.ID) (*purchasedomain.PurchaseResult, error) {
	result, err := s.acquire(ctx, userID, phoneNumberID, userID, false)
	s.countPurchase(err)
	return result, err
}

func (s *Service) Assign(ctx context.Context, userID snowflake.ID, phoneNumberID snowflake.ID, approvedBy snowflake.ID) (*purchasedomain.PurchaseResult, error) {
	result, err := s.acquire(ctx, userID, phoneNumberID, approvedBy, true)
	s.countPurchase(err)
	return result, err
}

func (s *Service) BulkPurchase(ctx context.Context, userID snowflake.ID, phoneNumberIDs []snowflake.ID) (*purchasedomain.BulkResult, error) {
	if len(phoneNumberIDs) == 0 {
		return nil, purchasedomain.ErrPurchaseFailed
	}
	if len(phoneNumberIDs) > purchasedomain.MaxBulkItems {
		return nil, purchasedomain.ErrTooManyItems
	}

	out := &purchasedomain.BulkResult{}
	for _, id := range phoneNumberIDs {
		result, err := s.Purchase(ctx, userID, id)
		if err != nil {
			out.Failed = append(out.Failed, purchasedomain.BulkItemFailure{
				PhoneNumberID: id,
				Reason:        err.Error(),
			})
			continue
		}
		out.Successful = append(out.Successful, result)
	}

	switch {
	case len(out.Successful) == 0:
		out.Outcome = purchasedomain.BulkOutcomeFailed
	case len(out.Failed) > 0:
		out.Outcome = purchasedomain.BulkOutcomePartial
	default:
		out.Outcome = purchasedomain.BulkOutcomeComplete
	}
	return out, nil
}

// acquire runs the shared assignment flow. backordered selects the reviewed
// claim path; the direct path refuses backorder-only inventory outright.
func (s *Service) acquire(ctx context.Context, userID, phoneNumberID, assignedBy snowflake.ID, backordered bool) (*purchasedomain.PurchaseResult, error) {
	number, err := s.numberRepo.FindByID(ctx, s.db, phoneNumberID)
	if err != nil {
		return nil, err
	}
	if number == nil {
		return nil, numberdomain.ErrNotFound
	}
	if !backordered && number.BackorderOnly {
		return nil, numberdomain.ErrBackorderOnly
	}
	if number.Status != numberdomain.NumberStatusAvailable {
		return nil, numberdomain.ErrNotAvailable
	}

	deckAssignment, err := s.ratingSvc.ActiveAssignment(ctx, userID, ratingdomain.RateDeckTypeNumber)
	if err != nil {
		return nil, err
	}
	if deckAssignment == nil {
		return nil, purchasedomain.ErrNoRateDeck
	}

	rate, err := s.ratingSvc.Resolve(ctx, ratingdomain.ResolveTarget{
		Number:     number.Number,
		Country:    number.Country,
		NumberType: number.NumberType,
	}, deckAssignment.RateDeckID)
	if err != nil {
		return nil, err
	}
	if rate == nil {
		return nil, purchasedomain.ErrNoMatchingRate
	}

	now := s.clock.Now()
	monthlyRate := rate.Rate
	setupFee := rate.SetupFee
	if setupFee <= 0 {
		setupFee = number.SetupFee
	}
	if setupFee < 0 {
		setupFee = 0
	}
	nextBillingDate := now.AddDate(0, 1, 0)
	if number.BillingCycle == numberdomain.BillingCycleYearly {
		nextBillingDate = now.AddDate(1, 0, 0)
	}

	claim := numberdomain.Claim{
		UserID:          userID,
		AssignedBy:      assignedBy,
		AssignedAt:      now,
		MonthlyRate:     monthlyRate,
		SetupFee:        setupFee,
		NextBillingDate: nextBillingDate,
	}

	assignment := &purchasedomain.Assignment{
		ID:               s.genID.Generate(),
		PhoneNumberID:    number.ID,
		UserID:           userID,
		AssignedBy:       assignedBy,
		AssignedAt:       now,
		Status:           purchasedomain.AssignmentStatusActive,
		BillingStartDate: now,
		MonthlyRate:      monthlyRate,
		SetupFee:         setupFee,
		Currency:         number.Currency,
		BillingCycle:     number.BillingCycle,
	}

	pending := s.buildBillingRecords(assignment, now, nextBillingDate)

	// Claim, assignment, and pending billing rows commit or roll back
	// together; the immediate charge happens after commit so the external
	// ledger call never holds row locks.
	// Claim rollback rides on the transaction itself. Touching the row again
	// after a rollback could clobber a competing purchase that claimed the
	// number in the meantime.
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var claimed bool
		var txErr error
		if backordered {
			claimed, txErr = s.numberRepo.ClaimBackordered(ctx, tx, number.ID, claim)
		} else {
			claimed, txErr = s.numberRepo.ClaimAvailable(ctx, tx, number.ID, claim)
		}
		if txErr != nil {
			return txErr
		}
		if !claimed {
			return numberdomain.ErrNotAvailable
		}

		if txErr := s.assignmentRepo.WithTrx(tx).Create(ctx, assignment); txErr != nil {
			return txErr
		}
		return s.billingRepo.WithTrx(tx).BatchCreate(ctx, pending)
	})
	if err != nil {
		if err == numberdomain.ErrNotAvailable {
			return nil, err
		}
		s.log.Error("purchase failed",
			zap.String("user_id", userID.String()),
			zap.String("phone_number_id", number.ID.String()),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", purchasedomain.ErrPurchaseFailed, err)
	}

	for _, record := range pending {
		s.chargeBilling(ctx, userID, number, record)
	}

	s.notifyPurchase(ctx, userID, number, assignment)

	return &purchasedomain.PurchaseResult{
		Assignment: assignment,
		Billing:    pending,
	}, nil
}

func (s *Service) buildBillingRecords(assignment *purchasedomain.Assignment, now, nextBillingDate time.Time) []*purchasedomain.BillingRecord {
	var records []*purchasedomain.BillingRecord

	if assignment.MonthlyRate > 0 {
		records = append(records, &purchasedomain.BillingRecord{
			ID:                 s.genID.Generate(),
			PhoneNumberID:      assignment.PhoneNumberID,
			UserID:             assignment.UserID,
			AssignmentID:       assignment.ID,
			Amount:             assignment.MonthlyRate,
			Currency:           assignment.Currency,
			BillingPeriodStart: now,
			BillingPeriodEnd:   nextBillingDate.AddDate(0, 0, -1),
			TransactionType:    purchasedomain.TransactionTypeMonthlyFee,
			Status:             purchasedomain.BillingStatusPending,
			ProcessedBy:        "purchase",
			CreatedAt:          now,
			UpdatedAt:          now,
		})
	}
	if assignment.SetupFee > 0 {
		records = append(records, &purchasedomain.BillingRecord{
			ID:                 s.genID.Generate(),
			PhoneNumberID:      assignment.PhoneNumberID,
			UserID:             assignment.UserID,
			AssignmentID:       assignment.ID,
			Amount:             assignment.SetupFee,
			Currency:           assignment.Currency,
			BillingPeriodStart: now,
			BillingPeriodEnd:   now,
			TransactionType:    purchasedomain.TransactionTypeSetupFee,
			Status:             purchasedomain.BillingStatusPending,
			ProcessedBy:        "purchase",
			CreatedAt:          now,
			UpdatedAt:          now,
		})
	}
	return records
}

// chargeBilling attempts to collect one pending billing record from the
// external ledger. Failures mark the record failed for manual follow-up; the
// number stays assigned either way.
func (s *Service) chargeBilling(ctx context.Context, userID snowflake.ID, number *numberdomain.PhoneNumber, record *purchasedomain.BillingRecord) {
	if s.ledger == nil {
		s.markBillingFailed(ctx, record, "ledger client not configured")
		return
	}

	user, err := s.userRepo.FindOne(ctx, &purchasedomain.User{ID: userID})
	if err != nil {
		s.markBillingFailed(ctx, record, fmt.Sprintf("user lookup failed: %v", err))
		return
	}
	if user == nil || user.SippyAccountID == nil {
		s.markBillingFailed(ctx, record, "no billing account configured")
		return
	}
	accountID := *user.SippyAccountID

	currency := record.Currency
	if info, infoErr := s.ledger.GetAccountInfo(ctx, accountID); infoErr == nil && info.PreferredCurrency != "" {
		currency = info.PreferredCurrency
	} else if infoErr != nil {
		s.log.Warn("preferred currency lookup failed, using billing currency",
			zap.Int64("account_id", accountID),
			zap.Error(infoErr),
		)
	}

	note := fmt.Sprintf("DID %s %s", number.Number, record.TransactionType)
	result, err := s.ledger.AccountDebit(ctx, accountID, record.Amount, currency, note)
	if err != nil {
		s.markBillingFailed(ctx, record, err.Error())
		return
	}

	outcome := sippy.Classify(result)
	if !outcome.OK {
		s.markBillingFailed(ctx, record, outcome.Error)
		return
	}
	s.markBillingPaid(ctx, record, outcome.TransactionID)
}

func (s *Service) markBillingPaid(ctx context.Context, record *purchasedomain.BillingRecord, transactionID string) {
	now := time.Now().UTC()
	err := s.db.WithContext(ctx).Exec(
		`UPDATE phone_number_billing
		 SET status = ?, sippy_transaction_id = ?, failure_reason = '', updated_at = ?
		 WHERE id = ? AND status = ?`,
		purchasedomain.BillingStatusPaid,
		transactionID,
		now,
		record.ID,
		purchasedomain.BillingStatusPending,
	).Error
	if err != nil {
		s.log.Error("failed to mark billing record paid",
			zap.String("billing_id", record.ID.String()),
			zap.Error(err),
		)
		return
	}
	record.Status = purchasedomain.BillingStatusPaid
	record.SippyTransactionID = transactionID
}

func (s *Service) markBillingFailed(ctx context.Context, record *purchasedomain.BillingRecord, reason string) {
	if s.metrics != nil {
		s.metrics.DebitFailures.Inc()
	}
	now := time.Now().UTC()
	err := s.db.WithContext(ctx).Exec(
		`UPDATE phone_number_billing
		 SET status = ?, failure_reason = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		purchasedomain.BillingStatusFailed,
		reason,
		now,
		record.ID,
		purchasedomain.BillingStatusPending,
	).Error
	if err != nil {
		s.log.Error("failed to mark billing record failed",
			zap.String("billing_id", record.ID.String()),
			zap.Error(err),
		)
		return
	}
	record.Status = purchasedomain.BillingStatusFailed
	record.FailureReason = reason
	s.log.Warn("immediate charge failed",
		zap.String("billing_id", record.ID.String()),
		zap.String("reason", reason),
	)
}

func (s *Service) notifyPurchase(ctx context.Context, userID snowflake.ID, number *numberdomain.PhoneNumber, assignment *purchasedomain.Assignment) {
	if s.outbox == nil {
		return
	}

	subject := fmt.Sprintf("Number %s is now active", number.Number)
	body := fmt.Sprintf(
		"<p>Your number <strong>%s</strong> has been activated.</p><p>Monthly rate: %.2f %s</p>",
		number.Number,
		assignment.MonthlyRate,
		assignment.Currency,
	)

	if user, err := s.userRepo.FindOne(ctx, &purchasedomain.User{ID: userID}); err == nil && user != nil {
		_ = s.outbox.Enqueue(ctx, user.Email, subject, body)
	}
	if s.adminEmail != "" {
		adminBody := fmt.Sprintf(
			"<p>Number %s was assigned to user %s.</p>",
			number.Number,
			userID.String(),
		)
		_ = s.outbox.Enqueue(ctx, s.adminEmail, fmt.Sprintf("Number assigned: %s", number.Number), adminBody)
	}
}

func (s *Service) countPurchase(err error) {
	if s.metrics == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	s.metrics.Purchases.WithLabelValues(result).Inc()
}
