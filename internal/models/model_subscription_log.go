package models

import (
	"time"

	"gorm.io/datatypes"
)

type SubscriptionLogAction string

const (
	SubscriptionLogActionCreated  SubscriptionLogAction = "created"
	SubscriptionLogActionExtended SubscriptionLogAction = "extended"
	SubscriptionLogActionExpired  SubscriptionLogAction = "expired"
)

// SubscriptionLog records every change the worker applies to a subscription.
// Use case: troubleshooting duplicate or missing provisioning.
type SubscriptionLog struct {
	ID             string                `gorm:"column:id;type:uuid;primary_key" json:"id"`
	SubscriptionID string                `gorm:"column:subscription_id;type:uuid;not null;index" json:"subscription_id"`
	UserID         int64                 `gorm:"column:user_id;not null;index" json:"user_id"`
	Action         SubscriptionLogAction `gorm:"column:action;type:varchar(32);not null" json:"action"`
	// ExpiresBefore is nil for newly created subscriptions.
	ExpiresBefore *time.Time `gorm:"column:expires_before" json:"expires_before"`
	ExpiresAfter  time.Time  `gorm:"column:expires_after;not null" json:"expires_after"`
	// Extra stores the trigger, e.g. payment id or source.
	Extra     datatypes.JSONMap `gorm:"column:extra;type:jsonb;default:'{}'" json:"extra"`
	CreatedAt time.Time         `json:"created_at"`
}

func (SubscriptionLog) TableName() string {
	return "subscription_log"
}
