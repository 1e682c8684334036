//go:build integration

package dbtest

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/fatflowers/tunnelbot/internal/platform/db"
	"github.com/fatflowers/tunnelbot/pkg/tool"
)

const pgDSN = "host=localhost user=testuser password=testpass dbname=%s port=%s sslmode=disable TimeZone=UTC"

var (
	pgOnce sync.Once
	pgPort string
	pgErr  error
)

// startPostgres runs one container per test binary. It is removed when the
// binary exits.
func startPostgres() (string, error) {
	pgOnce.Do(func() {
		pool, err := dockertest.NewPool("")
		if err != nil {
			pgErr = fmt.Errorf("could not construct pool: %w", err)
			return
		}
		pool.MaxWait = 60 * time.Second
		if err := pool.Client.Ping(); err != nil {
			pgErr = fmt.Errorf("could not connect to docker: %w", err)
			return
		}
		res, err := pool.RunWithOptions(&dockertest.RunOptions{
			Repository: "postgres",
			Tag:        "17-alpine",
			Env: []string{
				"POSTGRES_USER=testuser",
				"POSTGRES_PASSWORD=testpass",
				"POSTGRES_DB=postgres",
			},
		}, func(config *docker.HostConfig) {
			config.AutoRemove = true
			config.RestartPolicy = docker.RestartPolicy{Name: "no"}
		})
		if err != nil {
			pgErr = fmt.Errorf("could not start postgres: %w", err)
			return
		}
		_ = res.Expire(600)
		pgPort = res.GetPort("5432/tcp")
		pgErr = pool.Retry(func() error {
			gdb, err := gorm.Open(postgres.Open(fmt.Sprintf(pgDSN, "postgres", pgPort)), &gorm.Config{Logger: logger.Discard})
			if err != nil {
				return err
			}
			sqlDB, err := gdb.DB()
			if err != nil {
				return err
			}
			defer sqlDB.Close()
			return sqlDB.Ping()
		})
	})
	return pgPort, pgErr
}

// NewPostgres returns a migrated database of its own on a shared Postgres container.
func NewPostgres(t testing.TB) *gorm.DB {
	t.Helper()
	port, err := startPostgres()
	require.NoError(t, err)

	admin, err := gorm.Open(postgres.Open(fmt.Sprintf(pgDSN, "postgres", port)), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	name := "t_" + strings.ReplaceAll(tool.GenerateUUIDV7(), "-", "")
	require.NoError(t, admin.Exec("CREATE DATABASE "+name).Error)
	adminDB, err := admin.DB()
	require.NoError(t, err)
	require.NoError(t, adminDB.Close())

	gdb, err := gorm.Open(postgres.Open(fmt.Sprintf(pgDSN, name, port)), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(10)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(zap.NewNop().Sugar(), gdb))
	return gdb
}
