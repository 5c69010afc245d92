package matters

import "go.uber.org/fx"

// Module provides matter tracking components
var Module = fx.Module("matters",
	fx.Provide(
		NewRepository,
		NewTracker,
	),
)
