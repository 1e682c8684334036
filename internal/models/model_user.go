package models

import "time"

// User is a chat user, keyed by the messenger's numeric id.
type User struct {
	ID          int64      `gorm:"column:id;primaryKey;autoIncrement:false" json:"id"`
	Username    *string    `gorm:"column:username;type:varchar(64)" json:"username"`
	ReferrerID  *int64     `gorm:"column:referrer_id;index" json:"referrer_id"`
	RefCode     string     `gorm:"column:ref_code;type:varchar(16);not null;uniqueIndex" json:"ref_code"`
	TrialUsedAt *time.Time `gorm:"column:trial_used_at" json:"trial_used_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}
