package migration

import (
	"go.uber.org/fx"
	"gorm.io/gorm"

	backorderdomain "github.com/didport/didport/internal/backorder/domain"
	"github.com/didport/didport/internal/config"
	numberdomain "github.com/didport/didport/internal/number/domain"
	outboxdomain "github.com/didport/didport/internal/outbox/domain"
	paymentdomain "github.com/didport/didport/internal/payment/domain"
	purchasedomain "github.com/didport/didport/internal/purchase/domain"
	ratingdomain "github.com/didport/didport/internal/rating/domain"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType != "postgres" {
			// The versioned SQL migrations target postgres. For sqlite and
			// mysql deployments the schema is derived from the models.
			return conn.AutoMigrate(
				&purchasedomain.User{},
				&numberdomain.PhoneNumber{},
				&purchasedomain.Assignment{},
				&purchasedomain.BillingRecord{},
				&ratingdomain.RateDeck{},
				&ratingdomain.NumberRate{},
				&ratingdomain.RateDeckAssignment{},
				&backorderdomain.BackorderRequest{},
				&paymentdomain.WebhookEvent{},
				&paymentdomain.PaymentRecord{},
				&paymentdomain.GatewayConfig{},
				&outboxdomain.Message{},
			)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}

		return RunMigrations(sqlDB)
	}),
)
