package notification

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fatflowers/tunnelbot/internal/app/service/jobs"
	"github.com/fatflowers/tunnelbot/internal/app/service/outbox"
	"github.com/fatflowers/tunnelbot/internal/models"
	"github.com/fatflowers/tunnelbot/pkg/tool"
	"github.com/fatflowers/tunnelbot/pkg/types"
)

// NoticeKey is the idempotency key of the job delivering a subscription notice.
func NoticeKey(subscriptionID string, notice types.NoticeType) string {
	return fmt.Sprintf("notice:%s:%s", subscriptionID, notice)
}

// scheduleNotice claims the (user, subscription, notice) slot in the log and,
// only when this call inserted it, enqueues the delivery job in the same
// transaction. It returns nil when the notice was already scheduled.
func scheduleNotice(ctx context.Context, tx *gorm.DB, store *outbox.Store, sub *models.Subscription, notice types.NoticeType) (*models.Job, error) {
	entry := &models.NotificationLog{
		ID:             tool.GenerateUUIDV7(),
		UserID:         sub.UserID,
		SubscriptionID: sub.ID,
		Type:           notice,
	}
	res := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "subscription_id"}, {Name: "type"}},
			DoNothing: true,
		}).
		Create(entry)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to save notification log: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}

	job, err := store.WithTx(tx).Enqueue(ctx, types.JobTypeSendNotifications, jobs.NotificationPayload{
		Kind:           types.NotificationKindSubscriptionNotice,
		UserID:         sub.UserID,
		SubscriptionID: sub.ID,
		NoticeType:     notice,
	}, NoticeKey(sub.ID, notice))
	if err != nil {
		return nil, err
	}
	if err := tx.WithContext(ctx).Model(entry).Update("job_id", job.ID).Error; err != nil {
		return nil, fmt.Errorf("failed to link notification job: %w", err)
	}
	return job, nil
}
