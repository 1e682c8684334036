package notification

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fatflowers/tunnelbot/internal/app/service/jobs"
	"github.com/fatflowers/tunnelbot/internal/app/service/outbox"
	"github.com/fatflowers/tunnelbot/internal/app/service/subscription"
	"github.com/fatflowers/tunnelbot/internal/models"
	"github.com/fatflowers/tunnelbot/pkg/clock"
	"github.com/fatflowers/tunnelbot/pkg/config"
	"github.com/fatflowers/tunnelbot/pkg/logctx"
	"github.com/fatflowers/tunnelbot/pkg/types"
)

const day = 24 * time.Hour

// Reconciler expires overdue subscriptions and schedules expiry notices.
type Reconciler struct {
	db      *gorm.DB
	subs    *subscription.Service
	store   *outbox.Store
	clock   clock.Clock
	enabled bool
	log     *zap.SugaredLogger
}

func NewReconciler(db *gorm.DB, subs *subscription.Service, store *outbox.Store, cfg *config.Config, clk clock.Clock, log *zap.SugaredLogger) *Reconciler {
	if clk == nil {
		clk = clock.New()
	}
	return &Reconciler{
		db:      db,
		subs:    subs,
		store:   store,
		clock:   clk,
		enabled: cfg.Notifications.Enabled,
		log:     log,
	}
}

// DueNotices returns the notices an active subscription qualifies for at now.
// Whole days remaining are counted down, so 1d 23h left is one day.
func DueNotices(expiresAt, now time.Time) []types.NoticeType {
	if !expiresAt.After(now) {
		return []types.NoticeType{types.NoticeTypeExpired}
	}
	daysLeft := int(expiresAt.Sub(now) / day)
	var out []types.NoticeType
	if daysLeft <= 3 {
		out = append(out, types.NoticeTypeExpires3d)
	}
	if daysLeft <= 1 {
		out = append(out, types.NoticeTypeExpires1d)
	}
	return out
}

// ReconcileResult summarises one run.
type ReconcileResult struct {
	Expired   int
	Scanned   int
	Scheduled int
}

// Handle is the reconcile job handler.
func (r *Reconciler) Handle(ctx context.Context, job *models.Job) error {
	p, err := jobs.Decode[jobs.ReconcilePayload](job)
	if err != nil {
		return err
	}
	res, err := r.Reconcile(ctx)
	if err != nil {
		return err
	}
	logctx.FromCtx(ctx, r.log).Infow("reconcile_done", "expired", res.Expired, "scanned", res.Scanned, "scheduled", res.Scheduled, "actor", p.Actor, "source", p.Source)
	return nil
}

// Reconcile runs one expire-and-notify pass. Running it again schedules
// nothing that was already scheduled.
func (r *Reconciler) Reconcile(ctx context.Context) (ReconcileResult, error) {
	var res ReconcileResult
	var onExpired subscription.ExpiredHook
	if r.enabled {
		// the expired notice commits with the status flip or not at all
		onExpired = func(tx *gorm.DB, sub *models.Subscription) error {
			job, err := scheduleNotice(ctx, tx, r.store, sub, types.NoticeTypeExpired)
			if err != nil {
				return err
			}
			if job != nil {
				res.Scheduled++
				logctx.FromCtx(ctx, r.log).Infow("notice_scheduled", "subscription_id", sub.ID, "user_id", sub.UserID, "notice_type", types.NoticeTypeExpired, "job_id", job.ID)
			}
			return nil
		}
	}
	expired, err := r.subs.ExpireOverdue(ctx, onExpired)
	if err != nil {
		return ReconcileResult{}, err
	}
	res.Expired = len(expired)

	if !r.enabled {
		return res, nil
	}

	active, err := r.subs.ListActive(ctx)
	if err != nil {
		return res, err
	}
	res.Scanned = len(active)
	now := r.clock.Now()
	for i := range active {
		notices := DueNotices(active[i].ExpiresAt, now)
		if len(notices) == 0 {
			continue
		}
		n, err := r.schedule(ctx, &active[i], notices)
		if err != nil {
			return res, err
		}
		res.Scheduled += n
	}
	return res, nil
}

func (r *Reconciler) schedule(ctx context.Context, sub *models.Subscription, notices []types.NoticeType) (int, error) {
	scheduled := 0
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, notice := range notices {
			job, err := scheduleNotice(ctx, tx, r.store, sub, notice)
			if err != nil {
				return err
			}
			if job != nil {
				scheduled++
				logctx.FromCtx(ctx, r.log).Infow("notice_scheduled", "subscription_id", sub.ID, "user_id", sub.UserID, "notice_type", notice, "job_id", job.ID)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return scheduled, nil
}
