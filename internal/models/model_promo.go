package models

import "time"

type PromoCode struct {
	ID              string     `gorm:"column:id;type:uuid;primary_key" json:"id"`
	Code            string     `gorm:"column:code;type:varchar(32);not null;uniqueIndex" json:"code"`
	DiscountPercent *int       `gorm:"column:discount_percent" json:"discount_percent"`
	DiscountStars   *int       `gorm:"column:discount_stars" json:"discount_stars"`
	FreeDays        *int       `gorm:"column:free_days" json:"free_days"`
	MaxRedemptions  *int       `gorm:"column:max_redemptions" json:"max_redemptions"`
	IsActive        bool       `gorm:"column:is_active;not null;default:true" json:"is_active"`
	ExpiresAt       *time.Time `gorm:"column:expires_at" json:"expires_at"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (PromoCode) TableName() string {
	return "promo_codes"
}

// PromoRedemption allows each user to redeem a promo at most once.
type PromoRedemption struct {
	ID          string    `gorm:"column:id;type:uuid;primary_key" json:"id"`
	PromoCodeID string    `gorm:"column:promo_code_id;type:uuid;not null;uniqueIndex:uniq_promo_user,priority:1" json:"promo_code_id"`
	UserID      int64     `gorm:"column:user_id;not null;uniqueIndex:uniq_promo_user,priority:2" json:"user_id"`
	PaymentID   *string   `gorm:"column:payment_id;type:uuid" json:"payment_id"`
	RedeemedAt  time.Time `gorm:"column:redeemed_at;not null" json:"redeemed_at"`
}

func (PromoRedemption) TableName() string {
	return "promo_redemptions"
}
