package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/fatflowers/tunnelbot/internal/models"
	"github.com/fatflowers/tunnelbot/pkg/joberr"
	"github.com/fatflowers/tunnelbot/pkg/types"
)

var validate = validator.New()

type ProvisionPayload struct {
	UserID       int64                 `json:"user_id" validate:"required,gt=0"`
	PlanCode     string                `json:"plan_code" validate:"required"`
	LocationCode string                `json:"location_code" validate:"required"`
	PeriodDays   int                   `json:"period_days" validate:"gt=0"`
	PaymentID    string                `json:"payment_id,omitempty"`
	Source       types.ProvisionSource `json:"source,omitempty" validate:"omitempty,oneof=payment trial admin"`
	Actor        string                `json:"actor,omitempty"`
}

type SyncPayload struct {
	Actor   string         `json:"actor,omitempty"`
	Source  string         `json:"source,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

type ReconcilePayload struct {
	Actor  string `json:"actor,omitempty"`
	Source string `json:"source,omitempty"`
}

type NotificationPayload struct {
	Kind           types.NotificationKind `json:"kind" validate:"required,oneof=delivery_link support_reply subscription_notice"`
	UserID         int64                  `json:"user_id" validate:"required,gt=0"`
	SubscriptionID string                 `json:"subscription_id,omitempty" validate:"required_unless=Kind support_reply"`
	NoticeType     types.NoticeType       `json:"notice_type,omitempty" validate:"required_if=Kind subscription_notice"`
	Text           string                 `json:"text,omitempty"`
}

// Decode unmarshals and validates the job payload into T.
// Malformed payloads never become valid, so every failure is permanent.
func Decode[T any](job *models.Job) (T, error) {
	var out T
	raw := []byte(job.Payload)
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, joberr.Permanent(fmt.Errorf("decode %s payload: %w", job.JobType, err))
	}
	if err := validate.Struct(out); err != nil {
		return out, joberr.Permanent(fmt.Errorf("invalid %s payload: %w", job.JobType, err))
	}
	return out, nil
}
