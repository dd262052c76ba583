package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// ResolveTarget identifies the number a tariff is being looked up for.
type ResolveTarget struct {
	Number     string
	Country    string
	NumberType string
}

type Service interface {
	// Resolve returns the best tariff for the target in the given deck, or
	// nil when no prefix matches at any stage. Callers must treat nil as
	// "no rate available" and abort, not crash.
	Resolve(ctx context.Context, target ResolveTarget, rateDeckID snowflake.ID) (*NumberRate, error)

	// ActiveAssignment returns the user's single active deck assignment for
	// the deck type, or nil when none exists.
	ActiveAssignment(ctx context.Context, userID snowflake.ID, deckType RateDeckType) (*RateDeckAssignment, error)
}

var (
	ErrInvalidDeck = errors.New("invalid_rate_deck")
)
