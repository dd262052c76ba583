package number

import (
	"github.com/didport/didport/internal/number/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("number.inventory",
	fx.Provide(repository.Provide),
)
