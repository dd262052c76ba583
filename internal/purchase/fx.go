package purchase

import (
	"github.com/didport/didport/internal/purchase/service"
	"go.uber.org/fx"
)

var Module = fx.Module("purchase",
	fx.Provide(service.NewService),
)
