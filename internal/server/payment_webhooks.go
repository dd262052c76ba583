package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	paymentdomain "github.com/didport/didport/internal/payment/domain"
	"github.com/gin-gonic/gin"
)

func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	err = s.webhookSvc.IngestWebhook(c.Request.Context(), provider, payload, c.Request.Header)
	if err != nil {
		// Duplicates are acknowledged; the provider must stop retrying.
		if errors.Is(err, paymentdomain.ErrEventAlreadyProcessed) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
			return
		}
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type upsertGatewayRequest struct {
	Config map[string]any `json:"config" binding:"required"`
}

func (s *Server) HandleUpsertGateway(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))

	var req upsertGatewayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	row, err := s.gatewaySvc.Upsert(c.Request.Context(), provider, req.Config)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	// Never echo the config back, encrypted or not.
	c.JSON(http.StatusOK, gin.H{"id": row.ID.String(), "provider": row.Provider, "is_active": row.IsActive})
}

func (s *Server) HandleDeactivateGateway(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))

	if err := s.gatewaySvc.Deactivate(c.Request.Context(), provider); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"provider": strings.ToLower(provider), "is_active": false})
}

func (s *Server) HandleListGateways(c *gin.Context) {
	rows, err := s.gatewaySvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, gin.H{
			"id":         row.ID.String(),
			"provider":   row.Provider,
			"is_active":  row.IsActive,
			"created_at": row.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"gateways": out})
}
