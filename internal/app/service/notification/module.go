package notification

import (
	"go.uber.org/fx"

	"github.com/fatflowers/tunnelbot/internal/app/service/jobs"
	"github.com/fatflowers/tunnelbot/internal/platform/panel"
	"github.com/fatflowers/tunnelbot/internal/platform/telegram"
	"github.com/fatflowers/tunnelbot/pkg/types"
)

func registerHandlers(r *jobs.Registry, rec *Reconciler, sender *Sender) error {
	if err := r.Register(types.JobTypeReconcile, rec.Handle); err != nil {
		return err
	}
	return r.Register(types.JobTypeSendNotifications, sender.Handle)
}

var Module = fx.Options(
	fx.Provide(
		func(b *telegram.Bot) Notifier { return b },
		func(c *panel.Client) LinkFetcher { return c },
		NewReconciler,
		NewSender,
		NewRequests,
	),
	fx.Invoke(registerHandlers),
)
