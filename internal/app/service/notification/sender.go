package notification

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fatflowers/tunnelbot/internal/app/service/jobs"
	"github.com/fatflowers/tunnelbot/internal/app/service/subscription"
	"github.com/fatflowers/tunnelbot/internal/models"
	"github.com/fatflowers/tunnelbot/internal/platform/panel"
	"github.com/fatflowers/tunnelbot/pkg/joberr"
	"github.com/fatflowers/tunnelbot/pkg/logctx"
	"github.com/fatflowers/tunnelbot/pkg/types"
)

const (
	TextSubscriptionNotFound = "Subscription not found."
	TextLinkPending          = "Your connection link will be available after the next sync."
	TextSupportReplyDefault  = "Support has replied to your ticket."
	TextNoticeFallback       = "Your subscription has been updated."
)

var noticeTexts = map[types.NoticeType]string{
	types.NoticeTypeExpires3d: "Your subscription expires in 3 days.",
	types.NoticeTypeExpires1d: "Your subscription expires in 1 day.",
	types.NoticeTypeExpired:   "Your subscription has ended. Renew it from the Buy menu.",
}

// NoticeText is the message sent for a subscription notice.
func NoticeText(notice types.NoticeType) string {
	if t, ok := noticeTexts[notice]; ok {
		return t
	}
	return TextNoticeFallback
}

// Notifier delivers a chat message to a user.
type Notifier interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// LinkFetcher resolves the connection link of a panel account.
type LinkFetcher interface {
	GetDeliveryLink(ctx context.Context, remoteUserID string) (*panel.DeliveryLink, error)
}

// Sender is the send_notifications job handler. Dedup happens when the job
// is enqueued, so every job it receives results in at most one message.
type Sender struct {
	subs     *subscription.Service
	notifier Notifier
	links    LinkFetcher
	log      *zap.SugaredLogger
}

func NewSender(subs *subscription.Service, notifier Notifier, links LinkFetcher, log *zap.SugaredLogger) *Sender {
	return &Sender{subs: subs, notifier: notifier, links: links, log: log}
}

func (s *Sender) Handle(ctx context.Context, job *models.Job) error {
	p, err := jobs.Decode[jobs.NotificationPayload](job)
	if err != nil {
		return err
	}
	text, err := s.render(ctx, p)
	if err != nil {
		return err
	}
	if err := s.notifier.SendMessage(ctx, p.UserID, text); err != nil {
		return fmt.Errorf("send %s to %d: %w", p.Kind, p.UserID, err)
	}
	logctx.FromCtx(ctx, s.log).Infow("notification_sent", "kind", p.Kind, "user_id", p.UserID, "notice_type", p.NoticeType)
	return nil
}

func (s *Sender) render(ctx context.Context, p jobs.NotificationPayload) (string, error) {
	switch p.Kind {
	case types.NotificationKindDeliveryLink:
		return s.deliveryLink(ctx, p)
	case types.NotificationKindSupportReply:
		if p.Text == "" {
			return TextSupportReplyDefault, nil
		}
		return p.Text, nil
	case types.NotificationKindSubscriptionNotice:
		return NoticeText(p.NoticeType), nil
	}
	return "", joberr.Permanentf("unsupported notification kind %q", p.Kind)
}

func (s *Sender) deliveryLink(ctx context.Context, p jobs.NotificationPayload) (string, error) {
	sub, err := s.subs.GetForUser(ctx, p.UserID, p.SubscriptionID)
	if errors.Is(err, subscription.ErrSubscriptionNotFound) {
		return TextSubscriptionNotFound, nil
	}
	if err != nil {
		return "", err
	}
	remoteID := sub.RemoteUserID()
	if remoteID == "" {
		return TextLinkPending, nil
	}
	link, err := s.links.GetDeliveryLink(ctx, remoteID)
	if err != nil {
		return "", err
	}
	if link.String() == "" {
		return TextLinkPending, nil
	}
	return "Your connection link: " + link.String(), nil
}
