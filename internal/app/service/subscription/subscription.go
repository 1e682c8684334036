package subscription

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/fatflowers/tunnelbot/internal/app/service/jobs"
	"github.com/fatflowers/tunnelbot/internal/app/service/outbox"
	"github.com/fatflowers/tunnelbot/internal/models"
	"github.com/fatflowers/tunnelbot/pkg/clock"
	"github.com/fatflowers/tunnelbot/pkg/config"
	"github.com/fatflowers/tunnelbot/pkg/logctx"
	"github.com/fatflowers/tunnelbot/pkg/tool"
	"github.com/fatflowers/tunnelbot/pkg/types"
)

var (
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
	ErrUserNotFound         = errors.New("user_not_found")
	ErrTrialAlreadyUsed     = errors.New("trial_already_used")
	ErrInvalidGrant         = errors.New("invalid_grant")
)

// Service owns subscription rows and the producers that request provisioning.
type Service struct {
	db    *gorm.DB
	store *outbox.Store
	cfg   *config.Config
	clock clock.Clock
	log   *zap.SugaredLogger
}

func NewService(db *gorm.DB, store *outbox.Store, cfg *config.Config, clk clock.Clock, log *zap.SugaredLogger) *Service {
	if clk == nil {
		clk = clock.New()
	}
	return &Service{db: db, store: store, cfg: cfg, clock: clk, log: log}
}

// FindActive returns the active slot for (user, plan, location), or nil.
func FindActive(ctx context.Context, tx *gorm.DB, userID int64, planCode, locationCode string) (*models.Subscription, error) {
	var sub models.Subscription
	err := tx.WithContext(ctx).
		Where("user_id = ? AND plan_code = ? AND location_code = ? AND status = ?",
			userID, planCode, locationCode, types.SubscriptionStatusActive).
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active subscription: %w", err)
	}
	return &sub, nil
}

// WriteLog appends an audit row for a subscription change.
func WriteLog(ctx context.Context, tx *gorm.DB, sub *models.Subscription, action models.SubscriptionLogAction, before *time.Time, extra map[string]any) error {
	entry := &models.SubscriptionLog{
		ID:             tool.GenerateUUIDV7(),
		SubscriptionID: sub.ID,
		UserID:         sub.UserID,
		Action:         action,
		ExpiresBefore:  before,
		ExpiresAfter:   sub.ExpiresAt,
		Extra:          datatypes.JSONMap(extra),
	}
	if entry.Extra == nil {
		entry.Extra = datatypes.JSONMap{}
	}
	if err := tx.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to save subscription log: %w", err)
	}
	return nil
}

// GetForUser loads a subscription only if it belongs to userID.
func (s *Service) GetForUser(ctx context.Context, userID int64, subscriptionID string) (*models.Subscription, error) {
	if _, err := uuid.Parse(subscriptionID); err != nil {
		return nil, ErrSubscriptionNotFound
	}
	var sub models.Subscription
	err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", subscriptionID, userID).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return &sub, nil
}

// ListForUser returns the user's subscriptions, newest expiry first.
func (s *Service) ListForUser(ctx context.Context, userID int64) ([]models.Subscription, error) {
	var subs []models.Subscription
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("expires_at desc").Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return subs, nil
}

// ListActive returns every subscription still marked active.
func (s *Service) ListActive(ctx context.Context) ([]models.Subscription, error) {
	var subs []models.Subscription
	if err := s.db.WithContext(ctx).Where("status = ?", types.SubscriptionStatusActive).Order("expires_at asc").Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("failed to list active subscriptions: %w", err)
	}
	return subs, nil
}

// ExpiredHook runs inside the expiry transaction for each subscription it flips.
type ExpiredHook func(tx *gorm.DB, sub *models.Subscription) error

// ExpireOverdue flips active subscriptions whose expiry has passed to expired
// and returns them. A hook error rolls back the whole pass.
func (s *Service) ExpireOverdue(ctx context.Context, onExpired ExpiredHook) ([]models.Subscription, error) {
	now := s.clock.Now()
	var expired []models.Subscription
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var due []models.Subscription
		if err := tx.Where("status = ? AND expires_at <= ?", types.SubscriptionStatusActive, now).Find(&due).Error; err != nil {
			return fmt.Errorf("failed to load overdue subscriptions: %w", err)
		}
		for i := range due {
			sub := &due[i]
			res := tx.Model(&models.Subscription{}).
				Where("id = ? AND status = ?", sub.ID, types.SubscriptionStatusActive).
				Updates(map[string]any{"status": types.SubscriptionStatusExpired, "updated_at": now})
			if res.Error != nil {
				return fmt.Errorf("failed to expire subscription %s: %w", sub.ID, res.Error)
			}
			if res.RowsAffected == 0 {
				continue
			}
			sub.Status = types.SubscriptionStatusExpired
			if err := WriteLog(ctx, tx, sub, models.SubscriptionLogActionExpired, &sub.ExpiresAt, nil); err != nil {
				return err
			}
			if onExpired != nil {
				if err := onExpired(tx, sub); err != nil {
					return err
				}
			}
			expired = append(expired, *sub)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(expired) > 0 {
		logctx.FromCtx(ctx, s.log).Infow("subscriptions_expired", "count", len(expired))
	}
	return expired, nil
}

// StartTrial requests the one-time trial for userID.
func (s *Service) StartTrial(ctx context.Context, userID int64) (*models.Job, error) {
	trial := s.cfg.Trial
	var job *models.Job
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now()
		res := tx.Model(&models.User{}).
			Where("id = ? AND trial_used_at IS NULL", userID).
			Updates(map[string]any{"trial_used_at": now, "updated_at": now})
		if res.Error != nil {
			return fmt.Errorf("failed to stamp trial: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&models.User{}).Where("id = ?", userID).Count(&count).Error; err != nil {
				return fmt.Errorf("failed to load user: %w", err)
			}
			if count == 0 {
				return ErrUserNotFound
			}
			return ErrTrialAlreadyUsed
		}

		var err error
		job, err = s.store.WithTx(tx).Enqueue(ctx, types.JobTypeProvisionSubscription, jobs.ProvisionPayload{
			UserID:       userID,
			PlanCode:     trial.PlanCode,
			LocationCode: trial.LocationCode,
			PeriodDays:   trial.PeriodDays,
			Source:       types.ProvisionSourceTrial,
		}, "trial:"+strconv.FormatInt(userID, 10))
		return err
	})
	if err != nil {
		return nil, err
	}
	logctx.FromCtx(ctx, s.log).Infow("trial_requested", "user_id", userID, "job_id", job.ID)
	return job, nil
}

// GrantAccess lets an operator provision days for a user without a payment.
// One grant per user, plan and location per day.
func (s *Service) GrantAccess(ctx context.Context, userID int64, planCode, locationCode string, days int, operatorID string) (*models.Job, error) {
	if userID <= 0 || planCode == "" || locationCode == "" || days <= 0 {
		return nil, ErrInvalidGrant
	}
	key := fmt.Sprintf("grant:%d:%s:%s:%s", userID, planCode, locationCode, s.clock.Now().Format(time.DateOnly))
	job, err := s.store.Enqueue(ctx, types.JobTypeProvisionSubscription, jobs.ProvisionPayload{
		UserID:       userID,
		PlanCode:     planCode,
		LocationCode: locationCode,
		PeriodDays:   days,
		Source:       types.ProvisionSourceAdmin,
		Actor:        operatorID,
	}, key)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue grant: %w", err)
	}
	logctx.FromCtx(ctx, s.log).Infow("access_granted", "user_id", userID, "operator", operatorID, "job_id", job.ID)
	return job, nil
}
