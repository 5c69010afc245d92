package meetings

import (
	"go.uber.org/fx"
)

// Module provides meeting dependencies via fx
var Module = fx.Module("meetings",
	fx.Provide(
		NewRepository,
	),
)
