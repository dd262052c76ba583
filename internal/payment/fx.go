package payment

import (
	"github.com/didport/didport/internal/payment/adapters"
	"github.com/didport/didport/internal/payment/adapters/stripe"
	"github.com/didport/didport/internal/payment/gateway"
	"github.com/didport/didport/internal/payment/repository"
	paymentservice "github.com/didport/didport/internal/payment/service"
	"github.com/didport/didport/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment",
	fx.Provide(repository.Provide),
	fx.Provide(func() *adapters.Registry {
		return adapters.NewRegistry(
			stripe.NewFactory(),
		)
	}),
	fx.Provide(paymentservice.NewService),
	fx.Provide(gateway.NewService),
	fx.Provide(webhook.NewService),
)
