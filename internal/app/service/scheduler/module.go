package scheduler

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Options(
	fx.Provide(ProvideConfig, New),
)

// Start runs the scheduler loop for the lifetime of the fx app.
func Start(lc fx.Lifecycle, s *Scheduler) {
	var cancel context.CancelFunc
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			go func() {
				defer close(done)
				s.RunForever(ctx)
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}
