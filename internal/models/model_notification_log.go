package models

import (
	"time"

	"github.com/fatflowers/tunnelbot/pkg/types"
)

// NotificationLog marks a notice as scheduled. The unique index makes each
// (user, subscription, notice type) fire at most once.
type NotificationLog struct {
	ID             string           `gorm:"column:id;type:uuid;primary_key" json:"id"`
	UserID         int64            `gorm:"column:user_id;not null;uniqueIndex:uniq_notice,priority:1" json:"user_id"`
	SubscriptionID string           `gorm:"column:subscription_id;type:uuid;not null;uniqueIndex:uniq_notice,priority:2" json:"subscription_id"`
	Type           types.NoticeType `gorm:"column:type;type:varchar(32);not null;uniqueIndex:uniq_notice,priority:3" json:"type"`
	JobID          *string          `gorm:"column:job_id;type:uuid" json:"job_id"`
	CreatedAt      time.Time        `json:"created_at"`
}

func (NotificationLog) TableName() string {
	return "notification_log"
}
