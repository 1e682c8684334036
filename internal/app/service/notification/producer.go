package notification

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fatflowers/tunnelbot/internal/app/service/jobs"
	"github.com/fatflowers/tunnelbot/internal/app/service/outbox"
	"github.com/fatflowers/tunnelbot/internal/app/service/subscription"
	"github.com/fatflowers/tunnelbot/internal/models"
	"github.com/fatflowers/tunnelbot/pkg/logctx"
	"github.com/fatflowers/tunnelbot/pkg/types"
)

// Requests enqueues user-initiated messages.
type Requests struct {
	store *outbox.Store
	subs  *subscription.Service
	log   *zap.SugaredLogger
}

func NewRequests(store *outbox.Store, subs *subscription.Service, log *zap.SugaredLogger) *Requests {
	return &Requests{store: store, subs: subs, log: log}
}

// RequestDeliveryLink queues the connection link for one of the user's
// subscriptions. Repeated requests reuse the same job.
func (r *Requests) RequestDeliveryLink(ctx context.Context, userID int64, subscriptionID string) (*models.Job, error) {
	if _, err := r.subs.GetForUser(ctx, userID, subscriptionID); err != nil {
		return nil, err
	}
	job, err := r.store.Enqueue(ctx, types.JobTypeSendNotifications, jobs.NotificationPayload{
		Kind:           types.NotificationKindDeliveryLink,
		UserID:         userID,
		SubscriptionID: subscriptionID,
	}, "delivery:"+subscriptionID)
	if err != nil {
		return nil, err
	}
	logctx.FromCtx(ctx, r.log).Infow("delivery_link_requested", "user_id", userID, "subscription_id", subscriptionID, "job_id", job.ID)
	return job, nil
}

// QueueSupportReply forwards a support answer to the user once per message.
func (r *Requests) QueueSupportReply(ctx context.Context, userID int64, ticketID, messageID, text string) (*models.Job, error) {
	key := fmt.Sprintf("support_reply:%s:%s", ticketID, messageID)
	return r.store.Enqueue(ctx, types.JobTypeSendNotifications, jobs.NotificationPayload{
		Kind:   types.NotificationKindSupportReply,
		UserID: userID,
		Text:   text,
	}, key)
}
