package sippy

import (
	"go.uber.org/fx"
)

var Module = fx.Module("sippy.client",
	fx.Provide(NewLedger),
)
