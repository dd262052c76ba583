package stripe

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
	paymentdomain "github.com/didport/didport/internal/payment/domain"
)

func TestVerifySignature(t *testing.T) {
	secret := "whsec_test"
	payload := []byte(`{"id":"evt_123","type":"payment_intent.succeeded","data":{"object":{}}}`)
	timestamp := time.Now().Unix()

	header := buildStripeSignatureHeader(secret, payload, timestamp)
	reqHeader := http.Header{}
	reqHeader.Set("Stripe-Signature", header)

	adapter := &Adapter{webhookSecret: secret}
	if err := adapter.Verify(context.Background(), payload, reqHeader); err != nil {
		t.Fatalf("expected valid signature, got error: %v", err)
	}

	reqHeader.Set("Stripe-Signature", buildStripeSignatureHeader("wrong", payload, timestamp))
	if !errors.Is(adapter.Verify(context.Background(), payload, reqHeader), paymentdomain.ErrInvalidSignature) {
		t.Fatalf("expected invalid signature error")
	}

	reqHeader.Del("Stripe-Signature")
	if !errors.Is(adapter.Verify(context.Background(), payload, reqHeader), paymentdomain.ErrInvalidSignature) {
		t.Fatalf("expected missing header rejection")
	}
}

func TestParsePaymentIntentSucceeded(t *testing.T) {
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	userID := node.Generate()
	created := time.Now().UTC().Unix()

	payload := marshalEvent(t, map[string]any{
		"id":      "evt_pi",
		"type":    "payment_intent.succeeded",
		"created": created,
		"data": map[string]any{
			"object": map[string]any{
				"id":                   "pi_1",
				"amount":               2630,
				"amount_received":      2630,
				"currency":             "usd",
				"created":              created,
				"payment_method_types": []string{"card"},
				"metadata": map[string]any{
					"user_id":        userID.String(),
					"topup_amount":   "25.00",
					"processing_fee": "1.00",
					"fixed_fee":      "0.30",
				},
			},
		},
	})

	adapter := &Adapter{webhookSecret: "whsec"}
	event, err := adapter.Parse(context.Background(), payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.EventType != paymentdomain.EventTypePaymentSucceeded {
		t.Fatalf("expected payment_succeeded, got %s", event.EventType)
	}
	if event.PaymentIntentID != "pi_1" || event.UserID != userID {
		t.Fatalf("unexpected identifiers: %+v", event)
	}
	if event.TopupAmount != 25.00 || event.ProcessingFee != 1.00 || event.FixedFee != 0.30 {
		t.Fatalf("unexpected fee breakdown: %+v", event)
	}
	if event.AmountCharged != 2630 || event.Currency != "USD" {
		t.Fatalf("unexpected charge amount: %+v", event)
	}
	if event.PaymentMethod != "card" {
		t.Fatalf("expected payment method snapshot, got %q", event.PaymentMethod)
	}
}

func TestParsePaymentIntentFailed(t *testing.T) {
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	payload := marshalEvent(t, map[string]any{
		"id":   "evt_fail",
		"type": "payment_intent.payment_failed",
		"data": map[string]any{
			"object": map[string]any{
				"id":       "pi_2",
				"amount":   2630,
				"currency": "usd",
				"metadata": map[string]any{
					"user_id":      node.Generate().String(),
					"topup_amount": "25.00",
				},
				"last_payment_error": map[string]any{
					"code":    "card_declined",
					"message": "Your card was declined.",
				},
			},
		},
	})

	adapter := &Adapter{webhookSecret: "whsec"}
	event, err := adapter.Parse(context.Background(), payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.EventType != paymentdomain.EventTypePaymentFailed {
		t.Fatalf("expected payment_failed, got %s", event.EventType)
	}
	if event.FailureCode != "card_declined" || event.FailureMessage != "Your card was declined." {
		t.Fatalf("expected provider failure details, got %+v", event)
	}
}

func TestParseChargeSucceededIsIgnored(t *testing.T) {
	payload := marshalEvent(t, map[string]any{
		"id":   "evt_charge",
		"type": "charge.succeeded",
		"data": map[string]any{
			"object": map[string]any{"id": "ch_1"},
		},
	})

	adapter := &Adapter{webhookSecret: "whsec"}
	event, err := adapter.Parse(context.Background(), payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.EventType != paymentdomain.EventTypeIgnored {
		t.Fatalf("charge.succeeded must be ignored, got %s", event.EventType)
	}
	if event.EventID != "evt_charge" || event.Note == "" {
		t.Fatalf("ignored event must keep its id and note: %+v", event)
	}
}

func TestParseMissingUserID(t *testing.T) {
	payload := marshalEvent(t, map[string]any{
		"id":   "evt_nouser",
		"type": "payment_intent.succeeded",
		"data": map[string]any{
			"object": map[string]any{
				"id":       "pi_3",
				"amount":   100,
				"currency": "usd",
				"metadata": map[string]any{},
			},
		},
	})

	adapter := &Adapter{webhookSecret: "whsec"}
	if _, err := adapter.Parse(context.Background(), payload); !errors.Is(err, paymentdomain.ErrInvalidUser) {
		t.Fatalf("expected invalid user error, got %v", err)
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
