package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/didport/didport/internal/clock"
	ratingdomain "github.com/didport/didport/internal/rating/domain"
	"github.com/didport/didport/pkg/db/option"
	"github.com/didport/didport/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type AdminParams struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

// Admin manages rate decks, their tariff rows, and user assignments.
type Admin struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock

	deckRepo       repository.Repository[ratingdomain.RateDeck]
	rateRepo       repository.Repository[ratingdomain.NumberRate]
	assignmentRepo repository.Repository[ratingdomain.RateDeckAssignment]
}

func NewAdmin(p AdminParams) *Admin {
	return &Admin{
		db:    p.DB,
		log:   p.Log.Named("rating.admin"),
		genID: p.GenID,
		clock: p.Clock,

		deckRepo:       repository.ProvideStore[ratingdomain.RateDeck](p.DB),
		rateRepo:       repository.ProvideStore[ratingdomain.NumberRate](p.DB),
		assignmentRepo: repository.ProvideStore[ratingdomain.RateDeckAssignment](p.DB),
	}
}

func (a *Admin) CreateDeck(ctx context.Context, name string, deckType ratingdomain.RateDeckType, currency string) (*ratingdomain.RateDeck, error) {
	name = strings.TrimSpace(name)
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if name == "" || currency == "" {
		return nil, ratingdomain.ErrInvalidDeck
	}
	if deckType == "" {
		deckType = ratingdomain.RateDeckTypeNumber
	}

	now := a.clock.Now()
	deck := &ratingdomain.RateDeck{
		ID:        a.genID.Generate(),
		Name:      name,
		DeckType:  deckType,
		Currency:  currency,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.deckRepo.Create(ctx, deck); err != nil {
		return nil, err
	}
	return deck, nil
}

func (a *Admin) ListDecks(ctx context.Context) ([]*ratingdomain.RateDeck, error) {
	return a.deckRepo.Find(ctx, &ratingdomain.RateDeck{}, option.WithOrder("name ASC"))
}

func (a *Admin) AddRate(ctx context.Context, deckID snowflake.ID, prefix, country, numberType string, rate, setupFee float64) (*ratingdomain.NumberRate, error) {
	prefix = strings.TrimSpace(prefix)
	if deckID == 0 || prefix == "" || rate < 0 || setupFee < 0 {
		return nil, ratingdomain.ErrInvalidDeck
	}
	deck, err := a.deckRepo.FindOne(ctx, &ratingdomain.RateDeck{ID: deckID})
	if err != nil {
		return nil, err
	}
	if deck == nil {
		return nil, ratingdomain.ErrInvalidDeck
	}

	row := &ratingdomain.NumberRate{
		ID:         a.genID.Generate(),
		RateDeckID: deckID,
		Prefix:     prefix,
		Country:    strings.TrimSpace(country),
		NumberType: strings.TrimSpace(numberType),
		Rate:       rate,
		SetupFee:   setupFee,
		CreatedAt:  a.clock.Now(),
	}
	if err := a.rateRepo.Create(ctx, row); err != nil {
		return nil, err
	}
	return row, nil
}

// AssignDeck activates a deck for the user, retiring any previous active
// assignment of the same deck type so at most one stays active.
func (a *Admin) AssignDeck(ctx context.Context, userID, deckID, assignedBy snowflake.ID) (*ratingdomain.RateDeckAssignment, error) {
	if userID == 0 || deckID == 0 {
		return nil, ratingdomain.ErrInvalidDeck
	}
	deck, err := a.deckRepo.FindOne(ctx, &ratingdomain.RateDeck{ID: deckID})
	if err != nil {
		return nil, err
	}
	if deck == nil {
		return nil, ratingdomain.ErrInvalidDeck
	}

	now := a.clock.Now()
	assignment := &ratingdomain.RateDeckAssignment{
		ID:         a.genID.Generate(),
		UserID:     userID,
		RateDeckID: deckID,
		DeckType:   deck.DeckType,
		IsActive:   true,
		AssignedBy: assignedBy,
		AssignedAt: now,
	}

	err = a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(
			`UPDATE rate_deck_assignments
			 SET is_active = FALSE
			 WHERE user_id = ? AND deck_type = ? AND is_active = TRUE`,
			userID, deck.DeckType,
		).Error; err != nil {
			return err
		}
		return a.assignmentRepo.WithTrx(tx).Create(ctx, assignment)
	})
	if err != nil {
		return nil, err
	}
	return assignment, nil
}
