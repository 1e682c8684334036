package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/tunnelbot/docs"
	"github.com/fatflowers/tunnelbot/internal/app/api/handlers"
	mw "github.com/fatflowers/tunnelbot/internal/app/api/middleware"
	"github.com/fatflowers/tunnelbot/internal/app/service/notification"
	"github.com/fatflowers/tunnelbot/internal/app/service/outbox"
	"github.com/fatflowers/tunnelbot/internal/app/service/payment"
	"github.com/fatflowers/tunnelbot/internal/app/service/statistics"
	"github.com/fatflowers/tunnelbot/internal/app/service/subscription"
	"github.com/fatflowers/tunnelbot/internal/app/service/webhook"
	"github.com/fatflowers/tunnelbot/pkg/clock"
	cfgpkg "github.com/fatflowers/tunnelbot/pkg/config"
	"github.com/fatflowers/tunnelbot/pkg/metrics"
)

func newEngine(m *metrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	// request logger & access log are attached per group in registerRoutes
	r.Use(mw.TraceMiddleware(), m.Middleware())
	return r
}

type routeDeps struct {
	fx.In

	Log           *zap.SugaredLogger
	Config        *cfgpkg.Config
	Clock         clock.Clock
	Store         *outbox.Store
	Payments      *payment.Service
	Subscriptions *subscription.Service
	Requests      *notification.Requests
	Webhook       *webhook.Service
	Statistics    *statistics.Service
}

func registerRoutes(r *gin.Engine, d routeDeps) {
	log := d.Log
	// Public group: request logger + access log
	pub := r.Group("/")
	pub.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware(log))
	handlers.RegisterHealthRoutes(pub)
	docs.SwaggerInfo.BasePath = "/"
	pub.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	if d.Webhook.Enabled() {
		handlers.RegisterWebhookRoutes(pub, d.Config.Webhook.Path, d.Webhook, log)
	}

	apiV1 := r.Group("/api/v1")
	apiV1.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware(log))
	handlers.RegisterPaymentRoutes(apiV1.Group("/payments"), d.Payments, log)
	handlers.RegisterUserRoutes(apiV1.Group("/users"), d.Subscriptions, d.Requests, log)

	admin := apiV1.Group("/admin")
	admin.Use(mw.AdminAuthMiddleware(d.Config, log))
	handlers.RegisterAdminRoutes(admin, handlers.AdminDeps{
		Jobs:       d.Store,
		Grants:     d.Subscriptions,
		Support:    d.Requests,
		Statistics: d.Statistics,
		Clock:      d.Clock,
	}, log)
}

func runServer(lc fx.Lifecycle, log *zap.SugaredLogger, cfg *cfgpkg.Config, r *gin.Engine) {
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Infow("starting HTTP server", "addr", addr)
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Errorf("server error: %v", err)
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Infow("stopping HTTP server")
			shutdownCtx, cancel := context.WithTimeout(ctx, 120*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

var Module = fx.Options(
	fx.Provide(newEngine),
	fx.Invoke(registerRoutes),
	fx.Invoke(runServer),
)
