package panel

import "go.uber.org/fx"

// Module exposes the panel client via Fx.
var Module = fx.Options(
	fx.Provide(New),
)
