package provisioning

import (
	"go.uber.org/fx"

	"github.com/fatflowers/tunnelbot/internal/platform/panel"
	"github.com/fatflowers/tunnelbot/internal/platform/redislock"
)

var Module = fx.Options(
	fx.Provide(
		func(c *panel.Client) Panel { return c },
		func(l *redislock.Locker) Locker {
			if l == nil {
				return nil
			}
			return l
		},
		NewService,
	),
	fx.Invoke(registerHandler),
)
