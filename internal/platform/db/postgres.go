package db

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormprom "gorm.io/plugin/prometheus"

	"github.com/fatflowers/tunnelbot/internal/models"
	cfgpkg "github.com/fatflowers/tunnelbot/pkg/config"
	gormzap "github.com/fatflowers/tunnelbot/pkg/gormlog"
)

func NewDB(l *zap.SugaredLogger, cfg *cfgpkg.Config) (*gorm.DB, error) {
	if cfg.Database.DSN == "" {
		l.Error("database DSN is empty")
		return nil, gorm.ErrInvalidDB
	}
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN), &gorm.Config{Logger: gormzap.New(l)})
	if err != nil {
		l.Errorf("failed to connect database: %v", err)
		return nil, err
	}
	if cfg.MetricsAddr != "" {
		if err := db.Use(gormprom.New(gormprom.Config{
			DBName:          "tunnelbot",
			RefreshInterval: 15,
			StartServer:     false,
		})); err != nil {
			l.Warnw("gorm prometheus plugin disabled", "err", err)
		}
	}
	l.Infow("connected to postgres via DSN")
	return db, nil
}

var Module = fx.Options(
	fx.Provide(NewDB),
	fx.Invoke(autoMigrateOnStart),
	fx.Invoke(registerDBClose),
)

func autoMigrateOnStart(l *zap.SugaredLogger, cfg *cfgpkg.Config, db *gorm.DB) error {
	if !cfg.Database.AutoMigrate {
		l.Infow("automigrate skipped")
		return nil
	}
	return AutoMigrate(l, db)
}

// AutoMigrate creates or updates every table the services use.
func AutoMigrate(l *zap.SugaredLogger, db *gorm.DB) error {
	if err := db.AutoMigrate(models.All()...); err != nil {
		l.Errorf("automigrate failed: %v", err)
		return fmt.Errorf("automigrate: %w", err)
	}
	l.Infow("automigrate completed")
	return nil
}

// registerDBClose ensures the underlying *sql.DB is closed on shutdown
func registerDBClose(lc fx.Lifecycle, l *zap.SugaredLogger, gdb *gorm.DB) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			sqlDB, err := gdb.DB()
			if err != nil {
				l.Warnw("gorm: get sql.DB failed", "err", err)
				return nil
			}
			l.Infow("closing postgres connection pool")
			return sqlDB.Close()
		},
	})
}
