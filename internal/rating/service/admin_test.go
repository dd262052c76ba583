package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/didport/didport/internal/clock"
	ratingdomain "github.com/didport/didport/internal/rating/domain"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newAdmin(t *testing.T, db *gorm.DB) *Admin {
	t.Helper()
	node, err := snowflake.NewNode(2)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return NewAdmin(AdminParams{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)),
	})
}

func TestAssignDeckRetiresPreviousAssignment(t *testing.T) {
	ctx := context.Background()
	db := setupAdminDB(t)
	admin := newAdmin(t, db)
	svc := newService(t, db)

	deckA, err := admin.CreateDeck(ctx, "Deck A", ratingdomain.RateDeckTypeNumber, "USD")
	if err != nil {
		t.Fatalf("create deck: %v", err)
	}
	deckB, err := admin.CreateDeck(ctx, "Deck B", ratingdomain.RateDeckTypeNumber, "USD")
	if err != nil {
		t.Fatalf("create deck: %v", err)
	}

	userID := snowflake.ID(1001)
	adminID := snowflake.ID(1)
	if _, err := admin.AssignDeck(ctx, userID, deckA.ID, adminID); err != nil {
		t.Fatalf("assign deck A: %v", err)
	}
	if _, err := admin.AssignDeck(ctx, userID, deckB.ID, adminID); err != nil {
		t.Fatalf("assign deck B: %v", err)
	}

	active, err := svc.ActiveAssignment(ctx, userID, ratingdomain.RateDeckTypeNumber)
	if err != nil {
		t.Fatalf("active assignment: %v", err)
	}
	if active == nil || active.RateDeckID != deckB.ID {
		t.Fatalf("expected deck B active, got %+v", active)
	}

	var activeCount int64
	if err := db.Raw(
		`SELECT COUNT(*) FROM rate_deck_assignments WHERE user_id = ? AND is_active = TRUE`,
		userID,
	).Scan(&activeCount).Error; err != nil {
		t.Fatalf("count active: %v", err)
	}
	if activeCount != 1 {
		t.Fatalf("expected exactly one active assignment, got %d", activeCount)
	}
}

func TestAddRateRequiresExistingDeck(t *testing.T) {
	ctx := context.Background()
	db := setupAdminDB(t)
	admin := newAdmin(t, db)

	if _, err := admin.AddRate(ctx, snowflake.ID(999), "44", "UK", "Local", 2.50, 0); err != ratingdomain.ErrInvalidDeck {
		t.Fatalf("expected invalid deck error, got %v", err)
	}

	deck, err := admin.CreateDeck(ctx, "Deck", ratingdomain.RateDeckTypeNumber, "USD")
	if err != nil {
		t.Fatalf("create deck: %v", err)
	}
	rate, err := admin.AddRate(ctx, deck.ID, "44", "UK", "Local", 2.50, 1.00)
	if err != nil {
		t.Fatalf("add rate: %v", err)
	}
	if rate.Prefix != "44" || rate.Rate != 2.50 {
		t.Fatalf("unexpected rate row: %+v", rate)
	}
}

func setupAdminDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_rating_admin_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	schema := []string{
		`CREATE TABLE rate_decks (
			id BIGINT PRIMARY KEY,
			name TEXT NOT NULL,
			deck_type TEXT NOT NULL DEFAULT 'number',
			currency TEXT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE number_rates (
			id BIGINT PRIMARY KEY,
			rate_deck_id BIGINT NOT NULL,
			prefix TEXT NOT NULL,
			country TEXT NOT NULL,
			number_type TEXT NOT NULL,
			rate REAL NOT NULL,
			setup_fee REAL NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE rate_deck_assignments (
			id BIGINT PRIMARY KEY,
			user_id BIGINT NOT NULL,
			rate_deck_id BIGINT NOT NULL,
			deck_type TEXT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			assigned_by BIGINT NOT NULL,
			assigned_at TIMESTAMP NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return db
}
