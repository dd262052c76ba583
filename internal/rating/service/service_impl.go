package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	ratingdomain "github.com/didport/didport/internal/rating/domain"
	"github.com/didport/didport/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	rateRepo       repository.Repository[ratingdomain.NumberRate]
	assignmentRepo repository.Repository[ratingdomain.RateDeckAssignment]
}

type Params struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

func NewService(p Params) ratingdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("rating.service"),

		rateRepo:       repository.ProvideStore[ratingdomain.NumberRate](p.DB),
		assignmentRepo: repository.ProvideStore[ratingdomain.RateDeckAssignment](p.DB),
	}
}

func (s *Service) Resolve(ctx context.Context, target ratingdomain.ResolveTarget, rateDeckID snowflake.ID) (*ratingdomain.NumberRate, error) {
	if rateDeckID == 0 {
		return nil, nil
	}

	rates, err := s.rateRepo.Find(ctx, &ratingdomain.NumberRate{RateDeckID: rateDeckID})
	if err != nil {
		return nil, err
	}
	if len(rates) == 0 {
		return nil, nil
	}

	number := normalizeNumber(target.Number)

	scoped := filterByCountryAndType(rates, target.Country, target.NumberType)
	if match := bestPrefixMatch(scoped, number); match != nil {
		return match, nil
	}

	// No row matched on country+type; fall back to a pure prefix scan over
	// the whole deck so oddly-classified inventory still gets a tariff.
	return bestPrefixMatch(rates, number), nil
}

func (s *Service) ActiveAssignment(ctx context.Context, userID snowflake.ID, deckType ratingdomain.RateDeckType) (*ratingdomain.RateDeckAssignment, error) {
	return s.assignmentRepo.FindOne(ctx, &ratingdomain.RateDeckAssignment{
		UserID:   userID,
		DeckType: deckType,
		IsActive: true,
	})
}

// normalizeNumber strips a leading '+' and all whitespace.
func normalizeNumber(raw string) string {
	cleaned := strings.Join(strings.Fields(raw), "")
	return strings.TrimPrefix(cleaned, "+")
}

func filterByCountryAndType(rates []*ratingdomain.NumberRate, country string, numberType string) []*ratingdomain.NumberRate {
	out := make([]*ratingdomain.NumberRate, 0, len(rates))
	for _, rate := range rates {
		if !strings.EqualFold(rate.Country, country) {
			continue
		}
		if rate.NumberType != numberType {
			continue
		}
		out = append(out, rate)
	}
	return out
}

// bestPrefixMatch selects the candidate with the longest prefix the number
// starts with. Equal-length prefixes are broken by lowest rate, then by the
// prefix string, so the winner is deterministic under any row order.
func bestPrefixMatch(rates []*ratingdomain.NumberRate, number string) *ratingdomain.NumberRate {
	if number == "" {
		return nil
	}

	var best *ratingdomain.NumberRate
	bestLen := -1
	for _, rate := range rates {
		prefix := normalizeNumber(rate.Prefix)
		if prefix == "" || !strings.HasPrefix(number, prefix) {
			continue
		}
		switch {
		case len(prefix) > bestLen:
			best = rate
			bestLen = len(prefix)
		case len(prefix) == bestLen && best != nil:
			if rate.Rate < best.Rate || (rate.Rate == best.Rate && prefix < normalizeNumber(best.Prefix)) {
				best = rate
			}
		}
	}
	return best
}
