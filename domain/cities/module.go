package cities

import (
	"go.uber.org/fx"
)

// Module provides city dependencies via fx
var Module = fx.Module("cities",
	fx.Provide(
		NewRepository,
		NewImporter,
	),
)
