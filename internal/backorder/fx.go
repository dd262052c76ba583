package backorder

import (
	"github.com/didport/didport/internal/backorder/service"
	"go.uber.org/fx"
)

var Module = fx.Module("backorder",
	fx.Provide(service.NewService),
)
