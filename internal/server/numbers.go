package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	purchasedomain "github.com/didport/didport/internal/purchase/domain"
	"github.com/gin-gonic/gin"
)

const defaultListLimit = 50

func (s *Server) HandleListNumbers(c *gin.Context) {
	country := strings.TrimSpace(c.Query("country"))
	numberType := strings.TrimSpace(c.Query("type"))

	limit := defaultListLimit
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			AbortWithError(c, newValidationError("limit", "invalid_limit", "limit must be a positive integer"))
			return
		}
		limit = parsed
	}

	numbers, err := s.numberRepo.ListAvailable(c.Request.Context(), s.db, country, numberType, limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"numbers": numbers})
}

type purchaseRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

func (s *Server) HandlePurchaseNumber(c *gin.Context) {
	numberID, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req purchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	userID, err := parseID(req.UserID)
	if err != nil {
		AbortWithError(c, newValidationError("user_id", "invalid_user_id", "user_id must be a valid id"))
		return
	}

	result, err := s.purchaseSvc.Purchase(c.Request.Context(), userID, numberID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type bulkPurchaseRequest struct {
	UserID         string   `json:"user_id" binding:"required"`
	PhoneNumberIDs []string `json:"phone_number_ids" binding:"required"`
}

func (s *Server) HandleBulkPurchase(c *gin.Context) {
	var req bulkPurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	userID, err := parseID(req.UserID)
	if err != nil {
		AbortWithError(c, newValidationError("user_id", "invalid_user_id", "user_id must be a valid id"))
		return
	}

	ids := make([]snowflake.ID, 0, len(req.PhoneNumberIDs))
	for _, raw := range req.PhoneNumberIDs {
		id, err := parseID(raw)
		if err != nil {
			AbortWithError(c, newValidationError("phone_number_ids", "invalid_id", "phone_number_ids must be valid ids"))
			return
		}
		ids = append(ids, id)
	}

	result, err := s.purchaseSvc.BulkPurchase(c.Request.Context(), userID, ids)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	// Partial success surfaces as 207 so callers inspect the per-item
	// failures instead of assuming everything went through.
	status := http.StatusOK
	switch result.Outcome {
	case purchasedomain.BulkOutcomePartial:
		status = http.StatusMultiStatus
	case purchasedomain.BulkOutcomeFailed:
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, result)
}
