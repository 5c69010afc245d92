package queue

import "go.uber.org/fx"

// Module provides the durable job queue
var Module = fx.Module("queue",
	fx.Provide(
		NewRepository,
	),
)
