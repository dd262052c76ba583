package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/didport/didport/internal/clock"
	"github.com/didport/didport/internal/metrics"
	paymentdomain "github.com/didport/didport/internal/payment/domain"
	purchasedomain "github.com/didport/didport/internal/purchase/domain"
	"github.com/didport/didport/internal/sippy"
	sippydomain "github.com/didport/didport/internal/sippy/domain"
	"github.com/didport/didport/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    paymentdomain.Repository
	Ledger  sippydomain.Client `optional:"true"`
	Metrics *metrics.Metrics   `optional:"true"`
}

// Service reconciles parsed payment events against the external ledger. The
// three-layer guard (event-id short circuit, safeguard read, completion
// marker) keeps the credit at-most-once under arbitrary redelivery.
type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    paymentdomain.Repository
	ledger  sippydomain.Client
	metrics *metrics.Metrics

	userRepo   repository.Repository[purchasedomain.User]
	recordRepo repository.Repository[paymentdomain.PaymentRecord]
}

func NewService(p Params) *Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("payment.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		ledger:  p.Ledger,
		metrics: p.Metrics,

		userRepo:   repository.ProvideStore[purchasedomain.User](p.DB),
		recordRepo: repository.ProvideStore[paymentdomain.PaymentRecord](p.DB),
	}
}

func (s *Service) ProcessEvent(ctx context.Context, event *paymentdomain.PaymentEvent) error {
	if event == nil {
		return paymentdomain.ErrInvalidEvent
	}
	event.EventID = strings.TrimSpace(event.EventID)
	if event.EventID == "" {
		return paymentdomain.ErrInvalidEvent
	}

	// Layer one: a processed row for this exact event id means a pure
	// redelivery. Acknowledge without touching anything.
	existing, err := s.repo.FindEvent(ctx, s.db, event.EventID)
	if err != nil {
		return err
	}
	if existing != nil && existing.Processed {
		s.count(event.EventType, "duplicate")
		return paymentdomain.ErrEventAlreadyProcessed
	}

	switch event.EventType {
	case paymentdomain.EventTypePaymentSucceeded:
		return s.processSucceeded(ctx, event, existing)
	case paymentdomain.EventTypePaymentFailed:
		return s.processFailed(ctx, event, existing)
	case paymentdomain.EventTypeIgnored:
		return s.processIgnored(ctx, event, existing)
	default:
		return paymentdomain.ErrInvalidEvent
	}
}

func (s *Service) processSucceeded(ctx context.Context, event *paymentdomain.PaymentEvent, existing *paymentdomain.WebhookEvent) error {
	if strings.TrimSpace(event.PaymentIntentID) == "" {
		return paymentdomain.ErrInvalidEvent
	}
	now := s.clock.Now()

	// Layer two: another event id may already have completed this intent.
	done, err := s.repo.FindProcessedSucceeded(ctx, s.db, event.PaymentIntentID)
	if err != nil {
		return err
	}
	if done {
		if err := s.ackSkipped(ctx, event, existing, "skipped, payment intent already processed", now); err != nil {
			return err
		}
		s.count(event.EventType, "skipped")
		return nil
	}

	// Layer three: the completion marker. Whoever inserts the marker row owns
	// the credit; everyone else acknowledges and walks away.
	markerID := paymentdomain.CompletionMarkerID(event.PaymentIntentID)
	marker := &paymentdomain.WebhookEvent{
		ID:              s.genID.Generate(),
		EventID:         markerID,
		EventType:       paymentdomain.EventTypeCompletionMarker,
		Provider:        event.Provider,
		PaymentIntentID: event.PaymentIntentID,
		ReceivedAt:      now,
	}
	acquired, err := s.repo.AcquireCompletionMarker(ctx, s.db, marker)
	if err != nil {
		return err
	}
	if !acquired {
		if err := s.ackSkipped(ctx, event, existing, "skipped, completion lock held by concurrent delivery", now); err != nil {
			return err
		}
		s.count(event.EventType, "skipped")
		return nil
	}

	stored, err := s.adoptEvent(ctx, event, existing, now)
	if err != nil {
		s.releaseMarker(ctx, markerID)
		return err
	}
	if stored.Processed {
		// Redelivery race on the primary row. The credit already happened, so
		// the freshly acquired marker must not stay behind.
		s.releaseMarker(ctx, markerID)
		s.count(event.EventType, "duplicate")
		return paymentdomain.ErrEventAlreadyProcessed
	}

	creditTxID, err := s.credit(ctx, event)
	if err != nil {
		// Release the lock so a legitimate retry can complete the payment,
		// and keep the failure on the event row for operators.
		s.releaseMarker(ctx, markerID)
		if recErr := s.repo.RecordError(ctx, s.db, stored.ID, fmt.Sprintf("credit failed: %v", err)); recErr != nil {
			s.log.Error("failed to record credit failure", zap.String("event_id", event.EventID), zap.Error(recErr))
		}
		s.count(event.EventType, "failed")
		return fmt.Errorf("%w: %v", paymentdomain.ErrNeedsManualProcessing, err)
	}

	s.persistRecord(ctx, event, paymentdomain.PaymentStatusSucceeded, creditTxID, now)
	s.checkIntegrity(event)

	if err := s.repo.MarkProcessed(ctx, s.db, stored.ID, fmt.Sprintf("credited, tx %s", creditTxID), now); err != nil {
		return err
	}
	if err := s.repo.MarkProcessedByEventID(ctx, s.db, markerID, "completed", now); err != nil {
		return err
	}

	s.count(event.EventType, "processed")
	return nil
}

func (s *Service) processFailed(ctx context.Context, event *paymentdomain.PaymentEvent, existing *paymentdomain.WebhookEvent) error {
	now := s.clock.Now()
	stored, err := s.adoptEvent(ctx, event, existing, now)
	if err != nil {
		return err
	}
	if stored.Processed {
		s.count(event.EventType, "duplicate")
		return paymentdomain.ErrEventAlreadyProcessed
	}

	s.persistRecord(ctx, event, paymentdomain.PaymentStatusFailed, "", now)

	note := "payment failed"
	if event.FailureMessage != "" {
		note = fmt.Sprintf("payment failed: %s", event.FailureMessage)
	}
	if err := s.repo.MarkProcessed(ctx, s.db, stored.ID, note, now); err != nil {
		return err
	}
	s.count(event.EventType, "processed")
	return nil
}

func (s *Service) processIgnored(ctx context.Context, event *paymentdomain.PaymentEvent, existing *paymentdomain.WebhookEvent) error {
	now := s.clock.Now()
	stored, err := s.adoptEvent(ctx, event, existing, now)
	if err != nil {
		return err
	}
	if stored.Processed {
		s.count(event.EventType, "duplicate")
		return paymentdomain.ErrEventAlreadyProcessed
	}

	note := event.Note
	if note == "" {
		note = "ignored"
	}
	if err := s.repo.MarkProcessed(ctx, s.db, stored.ID, note, now); err != nil {
		return err
	}
	s.count(event.EventType, "ignored")
	return nil
}

// adoptEvent inserts the primary event row, or re-reads it when a concurrent
// delivery created it first.
func (s *Service) adoptEvent(ctx context.Context, event *paymentdomain.PaymentEvent, existing *paymentdomain.WebhookEvent, now time.Time) (*paymentdomain.WebhookEvent, error) {
	if existing != nil {
		return existing, nil
	}

	row := &paymentdomain.WebhookEvent{
		ID:              s.genID.Generate(),
		EventID:         event.EventID,
		EventType:       event.EventType,
		Provider:        event.Provider,
		PaymentIntentID: event.PaymentIntentID,
		Metadata:        datatypes.JSON(event.RawPayload),
		ReceivedAt:      now,
	}
	inserted, err := s.repo.InsertEvent(ctx, s.db, row)
	if err != nil {
		return nil, err
	}
	if inserted {
		return row, nil
	}

	stored, err := s.repo.FindEvent(ctx, s.db, event.EventID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, paymentdomain.ErrInvalidEvent
	}
	return stored, nil
}

// ackSkipped marks the current event processed with the skip annotation so a
// later redelivery short-circuits on layer one.
func (s *Service) ackSkipped(ctx context.Context, event *paymentdomain.PaymentEvent, existing *paymentdomain.WebhookEvent, note string, now time.Time) error {
	stored, err := s.adoptEvent(ctx, event, existing, now)
	if err != nil {
		return err
	}
	if stored.Processed {
		return nil
	}
	return s.repo.MarkProcessed(ctx, s.db, stored.ID, note, now)
}

func (s *Service) credit(ctx context.Context, event *paymentdomain.PaymentEvent) (string, error) {
	if s.ledger == nil {
		return "", sippydomain.ErrMissingCredentials
	}

	user, err := s.userRepo.FindOne(ctx, &purchasedomain.User{ID: event.UserID})
	if err != nil {
		return "", err
	}
	if user == nil {
		return "", paymentdomain.ErrInvalidUser
	}
	if user.SippyAccountID == nil {
		return "", sippydomain.ErrMissingAccount
	}

	amount := event.TopupAmount
	if amount <= 0 {
		amount = float64(event.AmountCharged) / 100
	}

	note := fmt.Sprintf("Account topup %s", event.PaymentIntentID)
	result, err := s.ledger.AccountCredit(ctx, *user.SippyAccountID, amount, event.Currency, note)
	if err != nil {
		return "", err
	}
	outcome := sippy.Classify(result)
	if !outcome.OK {
		return "", fmt.Errorf("ledger rejected credit: %s", outcome.Error)
	}

	if s.metrics != nil {
		s.metrics.CreditTotal.Add(amount)
	}
	return outcome.TransactionID, nil
}

// persistRecord writes the audit row. A failure here is logged and swallowed:
// the money already moved and must not be rolled back over local bookkeeping.
func (s *Service) persistRecord(ctx context.Context, event *paymentdomain.PaymentEvent, status paymentdomain.PaymentStatus, creditTxID string, now time.Time) {
	record := &paymentdomain.PaymentRecord{
		ID:              s.genID.Generate(),
		UserID:          event.UserID,
		Provider:        event.Provider,
		PaymentIntentID: event.PaymentIntentID,
		Status:          status,
		TopupAmount:     event.TopupAmount,
		ProcessingFee:   event.ProcessingFee,
		FixedFee:        event.FixedFee,
		AmountCharged:   event.AmountCharged,
		Currency:        event.Currency,
		PaymentMethod:   event.PaymentMethod,
		FailureCode:     event.FailureCode,
		FailureMessage:  event.FailureMessage,
		CreditTxID:      creditTxID,
		RawPayload:      datatypes.JSON(event.RawPayload),
		CreatedAt:       now,
	}
	if err := s.recordRepo.Create(ctx, record); err != nil {
		s.log.Error("failed to persist payment record",
			zap.String("payment_intent_id", event.PaymentIntentID),
			zap.Error(err),
		)
	}
}

// checkIntegrity compares the fee breakdown against the charged amount. Drift
// is a monitoring signal, never a blocking condition.
func (s *Service) checkIntegrity(event *paymentdomain.PaymentEvent) {
	if event.TopupAmount <= 0 {
		return
	}
	expected := event.TopupAmount + event.ProcessingFee + event.FixedFee
	charged := float64(event.AmountCharged) / 100
	if math.Abs(expected-charged) > 0.01 {
		s.log.Warn("payment amount integrity check failed",
			zap.String("payment_intent_id", event.PaymentIntentID),
			zap.Float64("expected_total", expected),
			zap.Float64("amount_charged", charged),
			zap.Float64("topup_amount", event.TopupAmount),
			zap.Float64("processing_fee", event.ProcessingFee),
			zap.Float64("fixed_fee", event.FixedFee),
		)
	}
}

func (s *Service) releaseMarker(ctx context.Context, markerID string) {
	if err := s.repo.ReleaseCompletionMarker(ctx, s.db, markerID); err != nil {
		s.log.Error("failed to release completion marker", zap.String("marker_id", markerID), zap.Error(err))
	}
}

func (s *Service) count(eventType string, result string) {
	if s.metrics == nil {
		return
	}
	s.metrics.WebhookEvents.WithLabelValues(eventType, result).Inc()
}
