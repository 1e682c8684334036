package provisioning

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/fatflowers/tunnelbot/internal/app/service/jobs"
	"github.com/fatflowers/tunnelbot/internal/app/service/subscription"
	"github.com/fatflowers/tunnelbot/internal/models"
	"github.com/fatflowers/tunnelbot/internal/platform/panel"
	"github.com/fatflowers/tunnelbot/pkg/clock"
	"github.com/fatflowers/tunnelbot/pkg/config"
	"github.com/fatflowers/tunnelbot/pkg/joberr"
	"github.com/fatflowers/tunnelbot/pkg/logctx"
	"github.com/fatflowers/tunnelbot/pkg/tool"
	"github.com/fatflowers/tunnelbot/pkg/types"
)

var (
	ErrMappingNotFound = errors.New("plan_location_mapping_not_found")
	ErrUserLocked      = errors.New("user_provisioning_in_progress")
)

// Panel is the subset of the panel client that provisioning drives.
type Panel interface {
	EnsureUser(ctx context.Context, username string) (*panel.RemoteUser, error)
	ApplyAccess(ctx context.Context, remoteUserID, profileID string, expiresAt time.Time) error
	ExtendExpiration(ctx context.Context, remoteUserID string, days int) error
	GetDeliveryLink(ctx context.Context, remoteUserID string) (*panel.DeliveryLink, error)
}

// Locker serialises provisioning per user across workers.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, key, token string) error
}

// Service creates or extends the single active subscription for a
// (user, plan, location) slot.
type Service struct {
	db      *gorm.DB
	panel   Panel
	locker  Locker
	clock   clock.Clock
	lockTTL time.Duration
	log     *zap.SugaredLogger
}

func NewService(db *gorm.DB, p Panel, locker Locker, cfg *config.Config, clk clock.Clock, log *zap.SugaredLogger) *Service {
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		db:      db,
		panel:   p,
		locker:  locker,
		clock:   clk,
		lockTTL: cfg.Provisioning.LockTTL,
		log:     log,
	}
}

// Handle is the provision_subscription job handler.
func (s *Service) Handle(ctx context.Context, job *models.Job) error {
	p, err := jobs.Decode[jobs.ProvisionPayload](job)
	if err != nil {
		return err
	}
	_, err = s.Provision(ctx, p)
	return err
}

// Provision runs one create-or-extend pass. Calling it again for the same
// slot extends the existing row and never adds a second active one.
func (s *Service) Provision(ctx context.Context, p jobs.ProvisionPayload) (*models.Subscription, error) {
	ctx, log := logctx.WithFields(ctx, s.log, "user_id", p.UserID, "plan_code", p.PlanCode, "location_code", p.LocationCode)

	mapping, err := s.mapping(ctx, p.PlanCode, p.LocationCode)
	if err != nil {
		return nil, err
	}

	unlock, err := s.lock(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	current, err := subscription.FindActive(ctx, s.db, p.UserID, p.PlanCode, p.LocationCode)
	if err != nil {
		return nil, err
	}
	if current != nil {
		sub, err := s.extend(ctx, current, mapping, p)
		if err != nil {
			return nil, err
		}
		log.Infow("subscription_extended", "subscription_id", sub.ID, "expires_at", sub.ExpiresAt)
		return sub, nil
	}

	sub, err := s.create(ctx, mapping, p)
	if err != nil {
		return nil, err
	}
	log.Infow("subscription_created", "subscription_id", sub.ID, "expires_at", sub.ExpiresAt)
	return sub, nil
}

func (s *Service) mapping(ctx context.Context, planCode, locationCode string) (*models.PlanLocationMapping, error) {
	var m models.PlanLocationMapping
	err := s.db.WithContext(ctx).
		Where("plan_code = ? AND location_code = ? AND is_active = ?", planCode, locationCode, true).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, joberr.Permanent(fmt.Errorf("%w: %s/%s", ErrMappingNotFound, planCode, locationCode))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan mapping: %w", err)
	}
	return &m, nil
}

func (s *Service) lock(ctx context.Context, userID int64) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	key := "lock:user:" + strconv.FormatInt(userID, 10)
	token, ok, err := s.locker.TryLock(ctx, key, s.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to take %s: %w", key, err)
	}
	if !ok {
		return nil, ErrUserLocked
	}
	return func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
			logctx.FromCtx(ctx, s.log).Warnw("user_lock_release_failed", "key", key, "err", err)
		}
	}, nil
}

func (s *Service) extend(ctx context.Context, sub *models.Subscription, mapping *models.PlanLocationMapping, p jobs.ProvisionPayload) (*models.Subscription, error) {
	now := s.clock.Now()
	target := now.AddDate(0, 0, p.PeriodDays)

	remoteID := sub.RemoteUserID()
	meta := sub.ProvisionMeta.Data()
	if remoteID == "" {
		// row predates a successful panel call; bind it to an account now
		remote, err := s.panel.EnsureUser(ctx, username(p.UserID))
		if err != nil {
			return nil, err
		}
		remoteID = remote.ID
		meta.RemoteUserID = remoteID
		if err := s.panel.ApplyAccess(ctx, remoteID, mapping.ProfileUUID, maxTime(sub.ExpiresAt, now)); err != nil {
			return nil, err
		}
	}
	if err := s.panel.ExtendExpiration(ctx, remoteID, p.PeriodDays); err != nil {
		return nil, err
	}

	before := sub.ExpiresAt
	sub.ExpiresAt = maxTime(sub.ExpiresAt, target)
	sub.ProvisionMeta = datatypes.NewJSONType(meta)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Subscription{}).
			Where("id = ? AND status = ?", sub.ID, types.SubscriptionStatusActive).
			Updates(map[string]any{
				"expires_at":     sub.ExpiresAt,
				"provision_meta": sub.ProvisionMeta,
				"updated_at":     now,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to extend subscription: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("subscription %s is no longer active", sub.ID)
		}
		return subscription.WriteLog(ctx, tx, sub, models.SubscriptionLogActionExtended, &before, logExtra(p))
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *Service) create(ctx context.Context, mapping *models.PlanLocationMapping, p jobs.ProvisionPayload) (*models.Subscription, error) {
	now := s.clock.Now()
	expiresAt := now.AddDate(0, 0, p.PeriodDays)

	remote, err := s.panel.EnsureUser(ctx, username(p.UserID))
	if err != nil {
		return nil, err
	}
	if err := s.panel.ApplyAccess(ctx, remote.ID, mapping.ProfileUUID, expiresAt); err != nil {
		return nil, err
	}
	// the link is sent on demand, fetching it here only proves the account is usable
	if _, err := s.panel.GetDeliveryLink(ctx, remote.ID); err != nil {
		return nil, err
	}

	sub := &models.Subscription{
		ID:           tool.GenerateUUIDV7(),
		UserID:       p.UserID,
		PlanCode:     p.PlanCode,
		LocationCode: p.LocationCode,
		Status:       types.SubscriptionStatusActive,
		ExpiresAt:    expiresAt,
		ProvisionMeta: datatypes.NewJSONType(models.ProvisionMeta{
			RemoteUserID: remote.ID,
			PaymentID:    p.PaymentID,
			Source:       p.Source,
		}),
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(sub).Error; err != nil {
			return fmt.Errorf("failed to create subscription: %w", err)
		}
		return subscription.WriteLog(ctx, tx, sub, models.SubscriptionLogActionCreated, nil, logExtra(p))
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// username is the stable panel login for a chat user.
func username(userID int64) string {
	return strconv.FormatInt(userID, 10)
}

func logExtra(p jobs.ProvisionPayload) map[string]any {
	extra := map[string]any{"period_days": p.PeriodDays}
	if p.Source != "" {
		extra["source"] = string(p.Source)
	}
	if p.PaymentID != "" {
		extra["payment_id"] = p.PaymentID
	}
	if p.Actor != "" {
		extra["actor"] = p.Actor
	}
	return extra
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func registerHandler(r *jobs.Registry, s *Service) error {
	return r.Register(types.JobTypeProvisionSubscription, s.Handle)
}
