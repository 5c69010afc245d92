package jobs

import "go.uber.org/fx"

// Module provides worker pool infrastructure.
// Domain modules build their own pools by pairing a Handler with the
// durable queue repository:
//  1. Implement Handler (Kinds + Process) over your domain service
//  2. Create a Pool sized from config
//  3. Register the pool with fx lifecycle for start/drain
var Module = fx.Module("jobs",
	// No direct providers - the conductor wires pools to handlers
)
