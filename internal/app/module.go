package app

import (
	"time"

	"go.uber.org/fx"

	"github.com/fatflowers/tunnelbot/internal/app/api/server"
	"github.com/fatflowers/tunnelbot/internal/app/service/jobs"
	"github.com/fatflowers/tunnelbot/internal/app/service/notification"
	"github.com/fatflowers/tunnelbot/internal/app/service/outbox"
	"github.com/fatflowers/tunnelbot/internal/app/service/payment"
	"github.com/fatflowers/tunnelbot/internal/app/service/provisioning"
	"github.com/fatflowers/tunnelbot/internal/app/service/scheduler"
	"github.com/fatflowers/tunnelbot/internal/app/service/statistics"
	"github.com/fatflowers/tunnelbot/internal/app/service/subscription"
	"github.com/fatflowers/tunnelbot/internal/app/service/webhook"
	"github.com/fatflowers/tunnelbot/internal/platform/db"
	"github.com/fatflowers/tunnelbot/internal/platform/panel"
	"github.com/fatflowers/tunnelbot/internal/platform/redislock"
	"github.com/fatflowers/tunnelbot/internal/platform/telegram"
	"github.com/fatflowers/tunnelbot/pkg/clock"
	"github.com/fatflowers/tunnelbot/pkg/config"
	"github.com/fatflowers/tunnelbot/pkg/logger"
	"github.com/fatflowers/tunnelbot/pkg/metrics"
)

const (
	DefaultStartTimeout = 15 * time.Second
	// covers one in-flight job finishing after cancel
	DefaultStopTimeout = 5 * time.Minute
)

// CoreModule is shared by the API and the worker.
var CoreModule = fx.Options(
	logger.Module,
	config.Module,
	db.Module,
	metrics.Module,
	fx.Provide(clock.New),
	panel.Module,
	redislock.Module,
	telegram.Module,
	outbox.Module,
	jobs.Module,
	subscription.Module,
	provisioning.Module,
	payment.Module,
	notification.Module,
	webhook.Module,
	statistics.Module,
)

var APIModule = fx.Options(
	CoreModule,
	server.Module,
)

var WorkerModule = fx.Options(
	CoreModule,
	scheduler.Module,
	fx.Invoke(scheduler.Start),
)
