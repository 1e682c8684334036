package jobs

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fatflowers/tunnelbot/internal/models"
	"github.com/fatflowers/tunnelbot/internal/platform/panel"
	"github.com/fatflowers/tunnelbot/pkg/logctx"
	"github.com/fatflowers/tunnelbot/pkg/types"
)

// PanelLister is the read side of the panel used by the sync jobs.
type PanelLister interface {
	ListServers(ctx context.Context) ([]panel.Server, error)
	ListUsers(ctx context.Context) ([]panel.RemoteUser, error)
}

type SyncHandlers struct {
	panel PanelLister
	log   *zap.SugaredLogger
}

func NewSyncHandlers(p PanelLister, log *zap.SugaredLogger) *SyncHandlers {
	return &SyncHandlers{panel: p, log: log}
}

func (h *SyncHandlers) SyncServers(ctx context.Context, job *models.Job) error {
	p, err := Decode[SyncPayload](job)
	if err != nil {
		return err
	}
	servers, err := h.panel.ListServers(ctx)
	if err != nil {
		return fmt.Errorf("list servers: %w", err)
	}
	online := 0
	for _, s := range servers {
		if s.Online {
			online++
		}
	}
	logctx.FromCtx(ctx, h.log).Infow("servers_synced", "count", len(servers), "online", online, "source", p.Source, "actor", p.Actor)
	return nil
}

func (h *SyncHandlers) SyncUsers(ctx context.Context, job *models.Job) error {
	p, err := Decode[SyncPayload](job)
	if err != nil {
		return err
	}
	users, err := h.panel.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	logctx.FromCtx(ctx, h.log).Infow("users_synced", "count", len(users), "source", p.Source, "actor", p.Actor)
	return nil
}

func registerSyncHandlers(r *Registry, h *SyncHandlers) error {
	if err := r.Register(types.JobTypeSyncServers, h.SyncServers); err != nil {
		return err
	}
	return r.Register(types.JobTypeSyncUsers, h.SyncUsers)
}
