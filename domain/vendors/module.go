package vendors

import "go.uber.org/fx"

// Module provides the shared vendor infrastructure. Individual vendor
// packages register their factories against the Registry in their own
// modules.
var Module = fx.Module("vendors",
	fx.Provide(
		NewClient,
		NewRegistry,
	),
)
