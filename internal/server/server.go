package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	backorderdomain "github.com/didport/didport/internal/backorder/domain"
	"github.com/didport/didport/internal/config"
	numberdomain "github.com/didport/didport/internal/number/domain"
	paymentdomain "github.com/didport/didport/internal/payment/domain"
	"github.com/didport/didport/internal/payment/gateway"
	purchasedomain "github.com/didport/didport/internal/purchase/domain"
	ratingservice "github.com/didport/didport/internal/rating/service"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(registry *prometheus.Registry) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	return r
}

func registerGin(registry *prometheus.Registry) *gin.Engine {
	return NewEngine(registry)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine *gin.Engine
	cfg    config.Config
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node

	numberRepo   numberdomain.Repository
	purchaseSvc  purchasedomain.Service
	backorderSvc backorderdomain.Service
	ratingAdmin  *ratingservice.Admin
	gatewaySvc   *gateway.Service
	webhookSvc   paymentdomain.Service
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	NumberRepo   numberdomain.Repository
	PurchaseSvc  purchasedomain.Service
	BackorderSvc backorderdomain.Service
	RatingAdmin  *ratingservice.Admin
	GatewaySvc   *gateway.Service
	WebhookSvc   paymentdomain.Service
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine: p.Gin,
		cfg:    p.Cfg,
		db:     p.DB,
		log:    p.Log.Named("server"),
		genID:  p.GenID,

		numberRepo:   p.NumberRepo,
		purchaseSvc:  p.PurchaseSvc,
		backorderSvc: p.BackorderSvc,
		ratingAdmin:  p.RatingAdmin,
		gatewaySvc:   p.GatewaySvc,
		webhookSvc:   p.WebhookSvc,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	v1 := s.engine.Group("/v1")
	{
		v1.GET("/numbers", s.HandleListNumbers)
		v1.POST("/numbers/:id/purchase", s.HandlePurchaseNumber)
		v1.POST("/numbers/purchase", s.HandleBulkPurchase)

		v1.POST("/backorders", s.HandleCreateBackorder)
		v1.GET("/backorders", s.HandleListBackorders)
		v1.POST("/backorders/:id/approve", s.HandleApproveBackorder)
		v1.POST("/backorders/:id/reject", s.HandleRejectBackorder)

		v1.POST("/rate-decks", s.HandleCreateRateDeck)
		v1.GET("/rate-decks", s.HandleListRateDecks)
		v1.POST("/rate-decks/:id/rates", s.HandleAddRate)
		v1.POST("/rate-decks/:id/assign", s.HandleAssignRateDeck)

		v1.GET("/gateways", s.HandleListGateways)
		v1.PUT("/gateways/:provider", s.HandleUpsertGateway)
		v1.DELETE("/gateways/:provider", s.HandleDeactivateGateway)
	}

	s.engine.POST("/webhooks/payments/:provider", s.HandlePaymentWebhook)
}

func parseID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(raw)
	if err != nil {
		return 0, invalidRequestError()
	}
	return id, nil
}
