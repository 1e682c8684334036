package outbox

import "go.uber.org/fx"

// Module exposes the outbox store via Fx.
var Module = fx.Options(
	fx.Provide(NewStore),
)
