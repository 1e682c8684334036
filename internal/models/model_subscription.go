package models

import (
	"time"

	"github.com/fatflowers/tunnelbot/pkg/types"
	"gorm.io/datatypes"
)

// ProvisionMeta records what the panel knows about the subscription.
type ProvisionMeta struct {
	RemoteUserID string                `json:"remnawave_user_id,omitempty"`
	PaymentID    string                `json:"payment_id,omitempty"`
	Source       types.ProvisionSource `json:"source,omitempty"`
}

// Subscription is a provisioned access grant.
// At most one active row exists per (user, plan, location); provisioning extends it instead of adding another.
type Subscription struct {
	ID           string                   `gorm:"column:id;type:uuid;primary_key" json:"id"`
	UserID       int64                    `gorm:"column:user_id;not null;index;uniqueIndex:uniq_active_slot,priority:1,where:status = 'active'" json:"user_id"`
	PlanCode     string                   `gorm:"column:plan_code;type:varchar(32);not null;uniqueIndex:uniq_active_slot,priority:2,where:status = 'active'" json:"plan_code"`
	LocationCode string                   `gorm:"column:location_code;type:varchar(16);not null;uniqueIndex:uniq_active_slot,priority:3,where:status = 'active'" json:"location_code"`
	Status       types.SubscriptionStatus `gorm:"column:status;type:varchar(32);not null;index" json:"status"`
	ExpiresAt    time.Time                `gorm:"column:expires_at;not null;index" json:"expires_at"`
	// ProvisionMeta holds the remote account id issued by the panel.
	ProvisionMeta datatypes.JSONType[ProvisionMeta] `gorm:"column:provision_meta;type:jsonb;default:'{}'" json:"provision_meta"`
	CreatedAt     time.Time                         `json:"created_at"`
	UpdatedAt     time.Time                         `json:"updated_at"`
}

func (Subscription) TableName() string {
	return "subscriptions"
}

func (s *Subscription) RemoteUserID() string {
	if s == nil {
		return ""
	}
	return s.ProvisionMeta.Data().RemoteUserID
}

// Valid reports whether the subscription grants access at now.
func (s *Subscription) Valid(now time.Time) bool {
	return s != nil &&
		s.Status == types.SubscriptionStatusActive &&
		s.ExpiresAt.After(now)
}
