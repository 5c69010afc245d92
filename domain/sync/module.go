package sync

import "go.uber.org/fx"

var Module = fx.Module("sync",
	fx.Provide(NewRepository),
	fx.Provide(NewFetcher),
)
