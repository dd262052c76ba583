package rating

import (
	"github.com/didport/didport/internal/rating/service"
	"go.uber.org/fx"
)

var Module = fx.Module("rating.service",
	fx.Provide(service.NewService),
	fx.Provide(service.NewAdmin),
)
