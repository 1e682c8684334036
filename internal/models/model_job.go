package models

import (
	"time"

	"github.com/fatflowers/tunnelbot/pkg/types"
	"gorm.io/datatypes"
)

const DefaultJobMaxAttempts = 5

// Job is a durable unit of deferred work in the outbox.
// Rows are created by producers and only mutated by the scheduler; they are never deleted.
type Job struct {
	ID             string          `gorm:"column:id;type:uuid;primary_key" json:"id"`
	JobType        types.JobType   `gorm:"column:job_type;type:varchar(64);not null;index" json:"job_type"`
	Payload        datatypes.JSON  `gorm:"column:payload;type:jsonb;default:'{}'" json:"payload"`
	Status         types.JobStatus `gorm:"column:status;type:varchar(32);not null;index:idx_job_due,priority:1" json:"status"`
	IdempotencyKey string          `gorm:"column:idempotency_key;type:varchar(128);not null;uniqueIndex" json:"idempotency_key"`
	Attempts       int             `gorm:"column:attempts;not null;default:0" json:"attempts"`
	MaxAttempts    int             `gorm:"column:max_attempts;not null;default:5" json:"max_attempts"`
	// RunAfter is the earliest time the job may be claimed.
	RunAfter  time.Time `gorm:"column:run_after;not null;index:idx_job_due,priority:2" json:"run_after"`
	LastError *string   `gorm:"column:last_error;type:varchar(2000)" json:"last_error"`
	// Lease fields are set while a worker owns the job.
	LockedBy       *string    `gorm:"column:locked_by;type:varchar(128)" json:"locked_by"`
	LockedAt       *time.Time `gorm:"column:locked_at" json:"locked_at"`
	LeaseExpiresAt *time.Time `gorm:"column:lease_expires_at;index" json:"lease_expires_at"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (Job) TableName() string {
	return "job_outbox"
}

// Owner returns the lease holder, or "" when the job is not leased.
func (j *Job) Owner() string {
	if j == nil || j.LockedBy == nil {
		return ""
	}
	return *j.LockedBy
}

// Exhausted reports whether one more failure would spend the retry budget.
func (j *Job) Exhausted() bool {
	return j.Attempts+1 >= j.MaxAttempts
}
