package models

import "time"

type Plan struct {
	PlanCode     string    `gorm:"column:plan_code;type:varchar(32);primaryKey" json:"plan_code"`
	Title        string    `gorm:"column:title;type:varchar(128);not null" json:"title"`
	DurationDays int       `gorm:"column:duration_days;not null" json:"duration_days"`
	PriceStars   int       `gorm:"column:price_stars;not null" json:"price_stars"`
	DeviceLimit  int       `gorm:"column:device_limit;not null;default:1" json:"device_limit"`
	IsActive     bool      `gorm:"column:is_active;not null;default:true" json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (Plan) TableName() string {
	return "plans"
}

// PlanLocationMapping binds a plan sold in a location to a panel access profile.
type PlanLocationMapping struct {
	ID           string    `gorm:"column:id;type:uuid;primary_key" json:"id"`
	PlanCode     string    `gorm:"column:plan_code;type:varchar(32);not null;uniqueIndex:uniq_plan_location,priority:1" json:"plan_code"`
	LocationCode string    `gorm:"column:location_code;type:varchar(16);not null;uniqueIndex:uniq_plan_location,priority:2" json:"location_code"`
	ProfileUUID  string    `gorm:"column:profile_uuid;type:varchar(64);not null" json:"profile_uuid"`
	SquadID      *string   `gorm:"column:squad_id;type:varchar(64)" json:"squad_id"`
	IsActive     bool      `gorm:"column:is_active;not null;default:true" json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (PlanLocationMapping) TableName() string {
	return "plan_location_mappings"
}
