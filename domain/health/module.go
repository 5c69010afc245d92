package health

import (
	"go.uber.org/fx"

	"github.com/engagic/engagic/pkg/syshealth"
)

var Module = fx.Module("health",
	fx.Provide(
		NewHandler,
		NewMetrics,
		syshealth.NewCollector,
	),
	fx.Invoke(RegisterRoutes),
)
