package jobs

import (
	"go.uber.org/fx"

	"github.com/fatflowers/tunnelbot/internal/platform/panel"
)

var Module = fx.Options(
	fx.Provide(
		func(c *panel.Client) PanelLister { return c },
		NewRegistry,
		NewSyncHandlers,
	),
	fx.Invoke(registerSyncHandlers),
)
