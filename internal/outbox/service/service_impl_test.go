package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	outboxdomain "github.com/didport/didport/internal/outbox/domain"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type fakeEmail struct {
	sendErr error
	sent    [][]string
}

func (f *fakeEmail) Send(_ context.Context, to []string, _ string, _ string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, to)
	return nil
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_outbox_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	if err := db.Exec(`CREATE TABLE outbox_messages (
		id INTEGER PRIMARY KEY,
		recipient TEXT NOT NULL,
		subject TEXT NOT NULL,
		html_body TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		created_at DATETIME NOT NULL,
		sent_at DATETIME
	)`).Error; err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return db
}

func newService(t *testing.T, provider *fakeEmail) (*Service, *gorm.DB) {
	t.Helper()

	db := setupTestDB(t)
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}
	svc := NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Email: provider,
	}).(*Service)
	return svc, db
}

func listMessages(t *testing.T, db *gorm.DB) []outboxdomain.Message {
	t.Helper()

	var out []outboxdomain.Message
	if err := db.Raw(`SELECT * FROM outbox_messages ORDER BY created_at ASC`).Scan(&out).Error; err != nil {
		t.Fatalf("list messages: %v", err)
	}
	return out
}

func TestEnqueueAndDispatch(t *testing.T) {
	provider := &fakeEmail{}
	svc, db := newService(t, provider)
	ctx := context.Background()

	if err := svc.Enqueue(ctx, "one@example.com", "Welcome", "<p>hi</p>"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := svc.Enqueue(ctx, "two@example.com", "Welcome", "<p>hi</p>"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	sent, err := svc.DispatchPending(ctx, 10)
	if err != nil {
		t.Fatalf("DispatchPending: %v", err)
	}
	if sent != 2 {
		t.Fatalf("sent = %d, want 2", sent)
	}
	if len(provider.sent) != 2 {
		t.Fatalf("provider calls = %d, want 2", len(provider.sent))
	}

	for _, message := range listMessages(t, db) {
		if message.Status != outboxdomain.MessageStatusSent {
			t.Fatalf("message %s status = %q", message.ID, message.Status)
		}
		if message.SentAt == nil {
			t.Fatalf("message %s has no sent_at", message.ID)
		}
	}
}

func TestEnqueueIgnoresEmptyRecipient(t *testing.T) {
	svc, db := newService(t, &fakeEmail{})

	if err := svc.Enqueue(context.Background(), "   ", "Welcome", "<p>hi</p>"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if got := len(listMessages(t, db)); got != 0 {
		t.Fatalf("messages = %d, want 0", got)
	}
}

func TestDispatchKeepsFailedDeliveryPending(t *testing.T) {
	provider := &fakeEmail{sendErr: errors.New("smtp connect refused")}
	svc, db := newService(t, provider)
	ctx := context.Background()

	if err := svc.Enqueue(ctx, "one@example.com", "Welcome", "<p>hi</p>"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	sent, err := svc.DispatchPending(ctx, 10)
	if err != nil {
		t.Fatalf("DispatchPending: %v", err)
	}
	if sent != 0 {
		t.Fatalf("sent = %d, want 0", sent)
	}

	messages := listMessages(t, db)
	if len(messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(messages))
	}
	if messages[0].Status != outboxdomain.MessageStatusPending {
		t.Fatalf("status = %q, want pending", messages[0].Status)
	}
	if messages[0].Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", messages[0].Attempts)
	}
	if messages[0].LastError != "smtp connect refused" {
		t.Fatalf("last_error = %q", messages[0].LastError)
	}
}

func TestDispatchMarksMessageFailedAfterMaxAttempts(t *testing.T) {
	provider := &fakeEmail{sendErr: errors.New("mailbox unavailable")}
	svc, db := newService(t, provider)
	ctx := context.Background()

	if err := svc.Enqueue(ctx, "one@example.com", "Welcome", "<p>hi</p>"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	for i := 0; i < maxAttempts; i++ {
		if _, err := svc.DispatchPending(ctx, 10); err != nil {
			t.Fatalf("DispatchPending: %v", err)
		}
	}

	messages := listMessages(t, db)
	if messages[0].Status != outboxdomain.MessageStatusFailed {
		t.Fatalf("status = %q, want failed", messages[0].Status)
	}
	if messages[0].Attempts != maxAttempts {
		t.Fatalf("attempts = %d, want %d", messages[0].Attempts, maxAttempts)
	}

	// Exhausted messages are no longer picked up.
	sent, err := svc.DispatchPending(ctx, 10)
	if err != nil {
		t.Fatalf("DispatchPending: %v", err)
	}
	if sent != 0 {
		t.Fatalf("sent = %d, want 0", sent)
	}
}
