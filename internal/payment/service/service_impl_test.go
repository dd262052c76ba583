package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/didport/didport/internal/clock"
	paymentdomain "github.com/didport/didport/internal/payment/domain"
	"github.com/didport/didport/internal/payment/repository"
	sippydomain "github.com/didport/didport/internal/sippy/domain"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type fakeLedger struct {
	creditResult sippydomain.Result
	creditErr    error
	credits      int
	lastAmount   float64
	lastCurrency string
}

func (f *fakeLedger) GetAccountInfo(ctx context.Context, accountID int64) (*sippydomain.AccountInfo, error) {
	return &sippydomain.AccountInfo{PreferredCurrency: "USD"}, nil
}

func (f *fakeLedger) AccountDebit(ctx context.Context, accountID int64, amount float64, currency string, note string) (sippydomain.Result, error) {
	return nil, errors.New("not used")
}

func (f *fakeLedger) AccountCredit(ctx context.Context, accountID int64, amount float64, currency string, note string) (sippydomain.Result, error) {
	f.credits++
	f.lastAmount = amount
	f.lastCurrency = currency
	return f.creditResult, f.creditErr
}

type fixture struct {
	db     *gorm.DB
	node   *snowflake.Node
	ledger *fakeLedger
	svc    *Service
	userID snowflake.ID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := setupTestDB(t)
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	ledger := &fakeLedger{creditResult: sippydomain.Result{"result": "OK", "tx_id": "credit-1"}}

	svc := NewService(Params{
		DB:     db,
		Log:    zap.NewNop(),
		GenID:  node,
		Clock:  clock.NewFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)),
		Repo:   repository.Provide(),
		Ledger: ledger,
	})

	f := &fixture{db: db, node: node, ledger: ledger, svc: svc, userID: node.Generate()}
	insertUser(t, db, f.userID, 42)
	return f
}

func succeededEvent(f *fixture, eventID, intentID string) *paymentdomain.PaymentEvent {
	return &paymentdomain.PaymentEvent{
		Provider:        "stripe",
		EventID:         eventID,
		EventType:       paymentdomain.EventTypePaymentSucceeded,
		PaymentIntentID: intentID,
		UserID:          f.userID,
		TopupAmount:     25.00,
		ProcessingFee:   1.00,
		FixedFee:        0.30,
		AmountCharged:   2630,
		Currency:        "USD",
		OccurredAt:      time.Now().UTC(),
		RawPayload:      []byte(`{"id":"` + eventID + `"}`),
	}
}

func TestProcessSucceededCreditsExactlyOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	event := succeededEvent(f, "evt_1", "pi_1")
	if err := f.svc.ProcessEvent(ctx, event); err != nil {
		t.Fatalf("process: %v", err)
	}
	if f.ledger.credits != 1 {
		t.Fatalf("expected exactly one credit, got %d", f.ledger.credits)
	}
	if f.ledger.lastAmount != 25.00 || f.ledger.lastCurrency != "USD" {
		t.Fatalf("expected topup amount credited, got %v %s", f.ledger.lastAmount, f.ledger.lastCurrency)
	}

	stored := findEvent(t, f.db, "evt_1")
	if !stored.Processed {
		t.Fatalf("expected event marked processed")
	}
	marker := findEvent(t, f.db, paymentdomain.CompletionMarkerID("pi_1"))
	if marker == nil || !marker.Processed {
		t.Fatalf("expected processed completion marker")
	}
	if n := countRecords(t, f.db, paymentdomain.PaymentStatusSucceeded); n != 1 {
		t.Fatalf("expected one succeeded payment record, got %d", n)
	}

	// Redelivery of the same event id is acknowledged without a second credit.
	err := f.svc.ProcessEvent(ctx, succeededEvent(f, "evt_1", "pi_1"))
	if !errors.Is(err, paymentdomain.ErrEventAlreadyProcessed) {
		t.Fatalf("expected already-processed ack, got %v", err)
	}
	if f.ledger.credits != 1 {
		t.Fatalf("redelivery must not credit again, got %d credits", f.ledger.credits)
	}
}

func TestSecondEventForSameIntentIsSkipped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if err := f.svc.ProcessEvent(ctx, succeededEvent(f, "evt_1", "pi_1")); err != nil {
		t.Fatalf("process first: %v", err)
	}

	// A different event id for the same intent must be acknowledged as a
	// skip, never credited.
	if err := f.svc.ProcessEvent(ctx, succeededEvent(f, "evt_2", "pi_1")); err != nil {
		t.Fatalf("process second: %v", err)
	}
	if f.ledger.credits != 1 {
		t.Fatalf("expected one credit across both events, got %d", f.ledger.credits)
	}

	second := findEvent(t, f.db, "evt_2")
	if !second.Processed {
		t.Fatalf("skipped event must still be marked processed")
	}
	if second.Note == "" {
		t.Fatalf("skipped event must carry the skip annotation")
	}
}

func TestHeldMarkerBlocksCredit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// Simulate a concurrent delivery that holds the completion lock but has
	// not finished yet: marker exists, nothing is processed.
	markerID := paymentdomain.CompletionMarkerID("pi_1")
	if err := f.db.Exec(
		`INSERT INTO webhook_events (id, event_id, event_type, provider, payment_intent_id, processed, note, received_at)
		 VALUES (?, ?, ?, 'stripe', 'pi_1', FALSE, '', ?)`,
		f.node.Generate(), markerID, paymentdomain.EventTypeCompletionMarker, time.Now().UTC(),
	).Error; err != nil {
		t.Fatalf("insert marker: %v", err)
	}

	if err := f.svc.ProcessEvent(ctx, succeededEvent(f, "evt_1", "pi_1")); err != nil {
		t.Fatalf("process: %v", err)
	}
	if f.ledger.credits != 0 {
		t.Fatalf("lock held elsewhere, credit must not happen")
	}

	stored := findEvent(t, f.db, "evt_1")
	if !stored.Processed {
		t.Fatalf("blocked delivery must still acknowledge the event")
	}
}

func TestCreditFailureReleasesLockForRetry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.ledger.creditErr = errors.New("connection refused")

	err := f.svc.ProcessEvent(ctx, succeededEvent(f, "evt_1", "pi_1"))
	if !errors.Is(err, paymentdomain.ErrNeedsManualProcessing) {
		t.Fatalf("expected needs_manual_processing, got %v", err)
	}
	if marker := findEvent(t, f.db, paymentdomain.CompletionMarkerID("pi_1")); marker != nil {
		t.Fatalf("failed credit must release the completion marker")
	}
	stored := findEvent(t, f.db, "evt_1")
	if stored.Processed {
		t.Fatalf("failed event must stay unprocessed for retry")
	}
	if stored.Note == "" {
		t.Fatalf("failure must be recorded on the event")
	}

	// A retry after the ledger recovers completes the payment.
	f.ledger.creditErr = nil
	if err := f.svc.ProcessEvent(ctx, succeededEvent(f, "evt_1", "pi_1")); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if f.ledger.credits != 2 {
		t.Fatalf("expected failed attempt plus successful retry, got %d calls", f.ledger.credits)
	}
	if n := countRecords(t, f.db, paymentdomain.PaymentStatusSucceeded); n != 1 {
		t.Fatalf("expected one succeeded record, got %d", n)
	}
}

func TestIntegrityDriftDoesNotBlockProcessing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	event := succeededEvent(f, "evt_1", "pi_1")
	event.AmountCharged = 9999

	if err := f.svc.ProcessEvent(ctx, event); err != nil {
		t.Fatalf("integrity drift must only warn, got %v", err)
	}
	if f.ledger.credits != 1 {
		t.Fatalf("expected credit despite drift")
	}
	if stored := findEvent(t, f.db, "evt_1"); !stored.Processed {
		t.Fatalf("expected event processed despite drift")
	}
}

func TestPaymentFailedPersistsAuditWithoutCredit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	event := succeededEvent(f, "evt_fail", "pi_9")
	event.EventType = paymentdomain.EventTypePaymentFailed
	event.FailureCode = "card_declined"
	event.FailureMessage = "Your card was declined."

	if err := f.svc.ProcessEvent(ctx, event); err != nil {
		t.Fatalf("process failed event: %v", err)
	}
	if f.ledger.credits != 0 {
		t.Fatalf("payment_failed must never credit")
	}
	if n := countRecords(t, f.db, paymentdomain.PaymentStatusFailed); n != 1 {
		t.Fatalf("expected one failed payment record, got %d", n)
	}
	if marker := findEvent(t, f.db, paymentdomain.CompletionMarkerID("pi_9")); marker != nil {
		t.Fatalf("payment_failed must not participate in the lock protocol")
	}
}

func TestIgnoredEventIsAnnotated(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	event := &paymentdomain.PaymentEvent{
		Provider:   "stripe",
		EventID:    "evt_charge",
		EventType:  paymentdomain.EventTypeIgnored,
		Note:       "event type charge.succeeded not handled",
		OccurredAt: time.Now().UTC(),
		RawPayload: []byte(`{"id":"evt_charge"}`),
	}
	if err := f.svc.ProcessEvent(ctx, event); err != nil {
		t.Fatalf("process ignored: %v", err)
	}

	stored := findEvent(t, f.db, "evt_charge")
	if !stored.Processed || stored.Note != "event type charge.succeeded not handled" {
		t.Fatalf("ignored event must be processed with its note, got %+v", stored)
	}
	if f.ledger.credits != 0 {
		t.Fatalf("ignored events never credit")
	}
}

func insertUser(t *testing.T, db *gorm.DB, id snowflake.ID, sippyAccountID int64) {
	t.Helper()
	err := db.Exec(
		`INSERT INTO users (id, email, name, sippy_account_id, created_at)
		 VALUES (?, ?, 'Test User', ?, ?)`,
		id, fmt.Sprintf("user_%d@example.com", id), sippyAccountID, time.Now().UTC(),
	).Error
	if err != nil {
		t.Fatalf("insert user: %v", err)
	}
}

func findEvent(t *testing.T, db *gorm.DB, eventID string) *paymentdomain.WebhookEvent {
	t.Helper()
	var event paymentdomain.WebhookEvent
	if err := db.Raw(`SELECT * FROM webhook_events WHERE event_id = ?`, eventID).Scan(&event).Error; err != nil {
		t.Fatalf("find event: %v", err)
	}
	if event.ID == 0 {
		return nil
	}
	return &event
}

func countRecords(t *testing.T, db *gorm.DB, status paymentdomain.PaymentStatus) int64 {
	t.Helper()
	var n int64
	if err := db.Raw(`SELECT COUNT(*) FROM payment_records WHERE status = ?`, status).Scan(&n).Error; err != nil {
		t.Fatalf("count records: %v", err)
	}
	return n
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_payment_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	schema := []string{
		`CREATE TABLE webhook_events (
			id BIGINT PRIMARY KEY,
			event_id TEXT NOT NULL UNIQUE,
			event_type TEXT NOT NULL,
			provider TEXT NOT NULL,
			payment_intent_id TEXT,
			processed BOOLEAN NOT NULL DEFAULT FALSE,
			processed_at TIMESTAMP,
			note TEXT,
			metadata JSONB,
			received_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE payment_records (
			id BIGINT PRIMARY KEY,
			user_id BIGINT NOT NULL,
			provider TEXT NOT NULL,
			payment_intent_id TEXT NOT NULL,
			status TEXT NOT NULL,
			topup_amount REAL NOT NULL,
			processing_fee REAL NOT NULL DEFAULT 0,
			fixed_fee REAL NOT NULL DEFAULT 0,
			amount_charged BIGINT NOT NULL,
			currency TEXT NOT NULL,
			payment_method TEXT,
			failure_code TEXT,
			failure_message TEXT,
			credit_tx_id TEXT,
			raw_payload JSONB,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE users (
			id BIGINT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			sippy_account_id BIGINT,
			created_at TIMESTAMP NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return db
}
