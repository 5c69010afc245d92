package items

import (
	"go.uber.org/fx"
)

// Module provides agenda item dependencies via fx
var Module = fx.Module("items",
	fx.Provide(
		NewRepository,
	),
)
