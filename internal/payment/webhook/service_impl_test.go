package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/didport/didport/internal/clock"
	"github.com/didport/didport/internal/config"
	"github.com/didport/didport/internal/payment/adapters"
	"github.com/didport/didport/internal/payment/adapters/stripe"
	paymentdomain "github.com/didport/didport/internal/payment/domain"
	"github.com/didport/didport/internal/payment/gateway"
	"github.com/didport/didport/internal/payment/repository"
	paymentservice "github.com/didport/didport/internal/payment/service"
	sippydomain "github.com/didport/didport/internal/sippy/domain"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type fakeLedger struct {
	credits int
}

func (f *fakeLedger) GetAccountInfo(ctx context.Context, accountID int64) (*sippydomain.AccountInfo, error) {
	return &sippydomain.AccountInfo{PreferredCurrency: "USD"}, nil
}

func (f *fakeLedger) AccountDebit(ctx context.Context, accountID int64, amount float64, currency string, note string) (sippydomain.Result, error) {
	return nil, errors.New("not used")
}

func (f *fakeLedger) AccountCredit(ctx context.Context, accountID int64, amount float64, currency string, note string) (sippydomain.Result, error) {
	f.credits++
	return sippydomain.Result{"result": "OK", "tx_id": "credit-1"}, nil
}

func TestIngestWebhookEndToEnd(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	cfg := config.Config{WebhookConfigSecret: "test-encryption-secret"}
	fake := &fakeLedger{}
	fixedClock := clock.NewFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))

	gatewaySvc := gateway.NewService(gateway.Params{
		DB: db, Log: zap.NewNop(), GenID: node, Clock: fixedClock, Cfg: cfg,
	})
	reconciler := paymentservice.NewService(paymentservice.Params{
		DB: db, Log: zap.NewNop(), GenID: node, Clock: fixedClock,
		Repo: repository.Provide(), Ledger: fake,
	})
	svc := NewService(Params{
		DB: db, Log: zap.NewNop(), Reconciler: reconciler,
		Adapters: adapters.NewRegistry(stripe.NewFactory()), Cfg: cfg,
	})

	const webhookSecret = "whsec_live_test"
	if _, err := gatewaySvc.Upsert(ctx, "stripe", map[string]any{"webhook_secret": webhookSecret}); err != nil {
		t.Fatalf("upsert gateway config: %v", err)
	}

	userID := node.Generate()
	if err := db.Exec(
		`INSERT INTO users (id, email, name, sippy_account_id, created_at)
		 VALUES (?, 'buyer@example.com', 'Buyer', 42, ?)`,
		userID, time.Now().UTC(),
	).Error; err != nil {
		t.Fatalf("insert user: %v", err)
	}

	payload := marshalEvent(t, map[string]any{
		"id":      "evt_1",
		"type":    "payment_intent.succeeded",
		"created": time.Now().Unix(),
		"data": map[string]any{
			"object": map[string]any{
				"id":              "pi_1",
				"amount":          2630,
				"amount_received": 2630,
				"currency":        "usd",
				"metadata": map[string]any{
					"user_id":        userID.String(),
					"topup_amount":   "25.00",
					"processing_fee": "1.00",
					"fixed_fee":      "0.30",
				},
			},
		},
	})

	headers := http.Header{}
	headers.Set("Stripe-Signature", buildStripeSignatureHeader(webhookSecret, payload, time.Now().Unix()))
	if err := svc.IngestWebhook(ctx, "stripe", payload, headers); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if fake.credits != 1 {
		t.Fatalf("expected one credit, got %d", fake.credits)
	}

	// Tampered signature never reaches the reconciler.
	headers.Set("Stripe-Signature", buildStripeSignatureHeader("wrong_secret", payload, time.Now().Unix()))
	if err := svc.IngestWebhook(ctx, "stripe", payload, headers); !errors.Is(err, paymentdomain.ErrInvalidSignature) {
		t.Fatalf("expected signature rejection, got %v", err)
	}
	if fake.credits != 1 {
		t.Fatalf("unverified payload must not credit")
	}
}

func TestIngestWebhookAcceptsPreviousSecretAfterRotation(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	cfg := config.Config{WebhookConfigSecret: "test-encryption-secret"}
	fake := &fakeLedger{}
	fixedClock := clock.NewFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))

	gatewaySvc := gateway.NewService(gateway.Params{
		DB: db, Log: zap.NewNop(), GenID: node, Clock: fixedClock, Cfg: cfg,
	})
	reconciler := paymentservice.NewService(paymentservice.Params{
		DB: db, Log: zap.NewNop(), GenID: node, Clock: fixedClock,
		Repo: repository.Provide(), Ledger: fake,
	})
	svc := NewService(Params{
		DB: db, Log: zap.NewNop(), Reconciler: reconciler,
		Adapters: adapters.NewRegistry(stripe.NewFactory()), Cfg: cfg,
	})

	const oldSecret = "whsec_old"
	const newSecret = "whsec_new"
	if _, err := gatewaySvc.Upsert(ctx, "stripe", map[string]any{"webhook_secret": oldSecret}); err != nil {
		t.Fatalf("upsert old config: %v", err)
	}
	if _, err := gatewaySvc.Upsert(ctx, "stripe", map[string]any{"webhook_secret": newSecret}); err != nil {
		t.Fatalf("upsert new config: %v", err)
	}

	userID := node.Generate()
	if err := db.Exec(
		`INSERT INTO users (id, email, name, sippy_account_id, created_at)
		 VALUES (?, 'buyer@example.com', 'Buyer', 42, ?)`,
		userID, time.Now().UTC(),
	).Error; err != nil {
		t.Fatalf("insert user: %v", err)
	}

	buildPayload := func(eventID, intentID string) []byte {
		return marshalEvent(t, map[string]any{
			"id":      eventID,
			"type":    "payment_intent.succeeded",
			"created": time.Now().Unix(),
			"data": map[string]any{
				"object": map[string]any{
					"id":              intentID,
					"amount":          1000,
					"amount_received": 1000,
					"currency":        "usd",
					"metadata": map[string]any{
						"user_id":      userID.String(),
						"topup_amount": "10.00",
					},
				},
			},
		})
	}

	// A delivery signed before the rotation still verifies.
	payload := buildPayload("evt_old_secret", "pi_old_secret")
	headers := http.Header{}
	headers.Set("Stripe-Signature", buildStripeSignatureHeader(oldSecret, payload, time.Now().Unix()))
	if err := svc.IngestWebhook(ctx, "stripe", payload, headers); err != nil {
		t.Fatalf("ingest with previous secret: %v", err)
	}
	if fake.credits != 1 {
		t.Fatalf("credits = %d, want 1", fake.credits)
	}

	payload = buildPayload("evt_new_secret", "pi_new_secret")
	headers.Set("Stripe-Signature", buildStripeSignatureHeader(newSecret, payload, time.Now().Unix()))
	if err := svc.IngestWebhook(ctx, "stripe", payload, headers); err != nil {
		t.Fatalf("ingest with current secret: %v", err)
	}
	if fake.credits != 2 {
		t.Fatalf("credits = %d, want 2", fake.credits)
	}
}

func TestIngestWebhookUnknownProvider(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := NewService(Params{
		DB: db, Log: zap.NewNop(),
		Adapters: adapters.NewRegistry(stripe.NewFactory()),
		Cfg:      config.Config{WebhookConfigSecret: "secret"},
	})

	err := svc.IngestWebhook(ctx, "paypal", []byte(`{}`), http.Header{})
	if !errors.Is(err, paymentdomain.ErrProviderNotFound) {
		t.Fatalf("expected provider_not_found, got %v", err)
	}
}

func marshalEvent(t *testing.T, event any) []byte {
	t.Helper()
	payload, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return payload
}

func buildStripeSignatureHeader(secret string, payload []byte, timestamp int64) string {
	signed := fmt.Sprintf("%d.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(signed))
	signature := hex.EncodeToString(mac.Sum(nil))
	return fmt.Sprintf("t=%d,v1=%s", timestamp, signature)
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_webhook_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	schema := []string{
		`CREATE TABLE payment_gateway_configs (
			id BIGINT PRIMARY KEY,
			provider TEXT NOT NULL,
			config JSONB NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
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
