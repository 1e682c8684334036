package models

import (
	"time"

	"github.com/fatflowers/tunnelbot/pkg/types"
	"gorm.io/datatypes"
)

type PaymentIntentMeta struct {
	FreeDays  int    `json:"free_days,omitempty"`
	PromoCode string `json:"promo_code,omitempty"`
	Title     string `json:"title,omitempty"`
}

// PaymentIntent is a proposed purchase. Status only moves forward: created -> invoiced -> paid.
type PaymentIntent struct {
	ID           string                                `gorm:"column:id;type:uuid;primary_key" json:"id"`
	UserID       int64                                 `gorm:"column:user_id;not null;index" json:"user_id"`
	PlanCode     string                                `gorm:"column:plan_code;type:varchar(32);not null" json:"plan_code"`
	PeriodDays   int                                   `gorm:"column:period_days;not null" json:"period_days"`
	LocationCode string                                `gorm:"column:location_code;type:varchar(16);not null" json:"location_code"`
	AmountStars  int                                   `gorm:"column:amount_stars;not null" json:"amount_stars"`
	Provider     types.PaymentProvider                 `gorm:"column:provider;type:varchar(32);not null" json:"provider"`
	Status       types.PaymentIntentStatus             `gorm:"column:status;type:varchar(32);not null" json:"status"`
	PromoCodeID  *string                               `gorm:"column:promo_code_id;type:uuid" json:"promo_code_id"`
	ExpiresAt    time.Time                             `gorm:"column:expires_at;not null" json:"expires_at"`
	Meta         datatypes.JSONType[PaymentIntentMeta] `gorm:"column:meta;type:jsonb;default:'{}'" json:"meta"`
	CreatedAt    time.Time                             `json:"created_at"`
	UpdatedAt    time.Time                             `json:"updated_at"`
}

func (PaymentIntent) TableName() string {
	return "payment_intents"
}

// TotalDays is the provisioning period including promo bonus days.
func (p *PaymentIntent) TotalDays() int {
	return p.PeriodDays + p.Meta.Data().FreeDays
}

// Payment is a confirmed charge. ProviderPaymentID is unique and absorbs duplicate confirmations.
type Payment struct {
	ID                string                `gorm:"column:id;type:uuid;primary_key" json:"id"`
	IntentID          string                `gorm:"column:intent_id;type:uuid;not null;index" json:"intent_id"`
	UserID            int64                 `gorm:"column:user_id;not null;index" json:"user_id"`
	PlanCode          string                `gorm:"column:plan_code;type:varchar(32);not null" json:"plan_code"`
	Provider          types.PaymentProvider `gorm:"column:provider;type:varchar(32);not null" json:"provider"`
	ProviderPaymentID string                `gorm:"column:provider_payment_id;type:varchar(128);not null;uniqueIndex" json:"provider_payment_id"`
	AmountStars       int                   `gorm:"column:amount_stars;not null" json:"amount_stars"`
	Currency          string                `gorm:"column:currency;type:varchar(8);not null" json:"currency"`
	Status            types.PaymentStatus   `gorm:"column:status;type:varchar(32);not null" json:"status"`
	Raw               datatypes.JSON        `gorm:"column:raw;type:jsonb;default:'{}'" json:"raw"`
	CreatedAt         time.Time             `json:"created_at"`
}

func (Payment) TableName() string {
	return "payments"
}
