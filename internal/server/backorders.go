package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type createBackorderRequest struct {
	UserID        string `json:"user_id" binding:"required"`
	PhoneNumberID string `json:"phone_number_id" binding:"required"`
	Notes         string `json:"notes"`
}

func (s *Server) HandleCreateBackorder(c *gin.Context) {
	var req createBackorderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	userID, err := parseID(req.UserID)
	if err != nil {
		AbortWithError(c, newValidationError("user_id", "invalid_user_id", "user_id must be a valid id"))
		return
	}
	numberID, err := parseID(req.PhoneNumberID)
	if err != nil {
		AbortWithError(c, newValidationError("phone_number_id", "invalid_id", "phone_number_id must be a valid id"))
		return
	}

	request, err := s.backorderSvc.Create(c.Request.Context(), userID, numberID, strings.TrimSpace(req.Notes))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, request)
}

func (s *Server) HandleListBackorders(c *gin.Context) {
	if raw := strings.TrimSpace(c.Query("user_id")); raw != "" {
		userID, err := parseID(raw)
		if err != nil {
			AbortWithError(c, newValidationError("user_id", "invalid_user_id", "user_id must be a valid id"))
			return
		}
		requests, err := s.backorderSvc.ListByUser(c.Request.Context(), userID)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"requests": requests})
		return
	}

	requests, err := s.backorderSvc.ListPending(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": requests})
}

type reviewBackorderRequest struct {
	ReviewedBy string `json:"reviewed_by" binding:"required"`
	Notes      string `json:"notes"`
}

func (s *Server) HandleApproveBackorder(c *gin.Context) {
	requestID, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req reviewBackorderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	reviewedBy, err := parseID(req.ReviewedBy)
	if err != nil {
		AbortWithError(c, newValidationError("reviewed_by", "invalid_id", "reviewed_by must be a valid id"))
		return
	}

	result, err := s.backorderSvc.Approve(c.Request.Context(), requestID, reviewedBy, strings.TrimSpace(req.Notes))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) HandleRejectBackorder(c *gin.Context) {
	requestID, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req reviewBackorderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	reviewedBy, err := parseID(req.ReviewedBy)
	if err != nil {
		AbortWithError(c, newValidationError("reviewed_by", "invalid_id", "reviewed_by must be a valid id"))
		return
	}

	if err := s.backorderSvc.Reject(c.Request.Context(), requestID, reviewedBy, strings.TrimSpace(req.Notes)); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "rejected"})
}
