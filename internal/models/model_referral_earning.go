package models

import "time"

// ReferralEarning credits a referrer once per payment.
type ReferralEarning struct {
	ID          string    `gorm:"column:id;type:uuid;primary_key" json:"id"`
	ReferrerID  int64     `gorm:"column:referrer_id;not null;index" json:"referrer_id"`
	ReferredID  int64     `gorm:"column:referred_id;not null" json:"referred_id"`
	PaymentID   string    `gorm:"column:payment_id;type:uuid;not null;uniqueIndex" json:"payment_id"`
	AmountStars int       `gorm:"column:amount_stars;not null" json:"amount_stars"`
	CreatedAt   time.Time `json:"created_at"`
}

func (ReferralEarning) TableName() string {
	return "referral_earnings"
}
