package server

import (
	"net/http"

	ratingdomain "github.com/didport/didport/internal/rating/domain"
	"github.com/gin-gonic/gin"
)

type createRateDeckRequest struct {
	Name     string `json:"name" binding:"required"`
	DeckType string `json:"deck_type"`
	Currency string `json:"currency" binding:"required"`
}

func (s *Server) HandleCreateRateDeck(c *gin.Context) {
	var req createRateDeckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	deck, err := s.ratingAdmin.CreateDeck(c.Request.Context(), req.Name, ratingdomain.RateDeckType(req.DeckType), req.Currency)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, deck)
}

func (s *Server) HandleListRateDecks(c *gin.Context) {
	decks, err := s.ratingAdmin.ListDecks(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rate_decks": decks})
}

type addRateRequest struct {
	Prefix     string  `json:"prefix" binding:"required"`
	Country    string  `json:"country"`
	NumberType string  `json:"number_type"`
	Rate       float64 `json:"rate"`
	SetupFee   float64 `json:"setup_fee"`
}

func (s *Server) HandleAddRate(c *gin.Context) {
	deckID, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req addRateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	rate, err := s.ratingAdmin.AddRate(c.Request.Context(), deckID, req.Prefix, req.Country, req.NumberType, req.Rate, req.SetupFee)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rate)
}

type assignRateDeckRequest struct {
	UserID     string `json:"user_id" binding:"required"`
	AssignedBy string `json:"assigned_by" binding:"required"`
}

func (s *Server) HandleAssignRateDeck(c *gin.Context) {
	deckID, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req assignRateDeckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	userID, err := parseID(req.UserID)
	if err != nil {
		AbortWithError(c, newValidationError("user_id", "invalid_user_id", "user_id must be a valid id"))
		return
	}
	assignedBy, err := parseID(req.AssignedBy)
	if err != nil {
		AbortWithError(c, newValidationError("assigned_by", "invalid_id", "assigned_by must be a valid id"))
		return
	}

	assignment, err := s.ratingAdmin.AssignDeck(c.Request.Context(), userID, deckID, assignedBy)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, assignment)
}
