package webhook

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fatflowers/tunnelbot/internal/app/service/jobs"
	"github.com/fatflowers/tunnelbot/internal/app/service/outbox"
	"github.com/fatflowers/tunnelbot/internal/models"
	"github.com/fatflowers/tunnelbot/pkg/config"
	"github.com/fatflowers/tunnelbot/pkg/logctx"
	"github.com/fatflowers/tunnelbot/pkg/types"
)

const Source = "remnawave"

var (
	ErrDisabled         = errors.New("webhook_disabled")
	ErrInvalidSignature = errors.New("webhook_invalid_signature")
	ErrInvalidPayload   = errors.New("webhook_invalid_payload")
)

// Service turns panel webhook deliveries into outbox jobs.
type Service struct {
	cfg   config.WebhookConfig
	store *outbox.Store
	log   *zap.SugaredLogger
}

func NewService(cfg *config.Config, store *outbox.Store, log *zap.SugaredLogger) *Service {
	return &Service{cfg: cfg.Webhook, store: store, log: log}
}

func (s *Service) Enabled() bool { return s.cfg.Enabled }

// Verify checks the shared secret sent in X-Signature.
func (s *Service) Verify(signature string) error {
	if !s.cfg.Enabled {
		return ErrDisabled
	}
	if s.cfg.Secret == "" || subtle.ConstantTimeCompare([]byte(signature), []byte(s.cfg.Secret)) != 1 {
		return ErrInvalidSignature
	}
	return nil
}

// Event is the parsed body of a delivery.
type Event map[string]any

// JobType routes server events to sync_servers, user events to sync_users
// and everything else to reconcile.
func (e Event) JobType() types.JobType {
	event := e.str("type")
	if event == "" {
		event = e.str("event")
	}
	resource := e.str("resource")
	switch {
	case strings.Contains(event, "server") || strings.Contains(resource, "server"):
		return types.JobTypeSyncServers
	case strings.Contains(event, "user") || strings.Contains(resource, "user"):
		return types.JobTypeSyncUsers
	}
	return types.JobTypeReconcile
}

// Key is the idempotency key of the job. Deliveries without an id are keyed
// by the hash of their canonical JSON, so replays of the same body collapse.
func (e Event) Key() (string, error) {
	jobType := e.JobType()
	for _, field := range []string{"id", "event_id"} {
		if id := e.str(field); id != "" && id != "0" {
			return fmt.Sprintf("webhook:%s:%s", jobType, id), nil
		}
	}
	canonical, err := json.Marshal(map[string]any(e))
	if err != nil {
		return "", fmt.Errorf("failed to hash webhook payload: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return fmt.Sprintf("webhook:%s:%s", jobType, hex.EncodeToString(sum[:])), nil
}

func (e Event) str(field string) string {
	switch v := e[field].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		if v {
			return "true"
		}
	}
	return ""
}

// ParseEvent decodes a delivery body. Numbers keep their literal form.
func ParseEvent(body []byte) (Event, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var e Event
	if err := dec.Decode(&e); err != nil || e == nil {
		return nil, ErrInvalidPayload
	}
	return e, nil
}

// Ingest enqueues the job for one delivery. Replays return the original job.
func (s *Service) Ingest(ctx context.Context, body []byte) (*models.Job, error) {
	e, err := ParseEvent(body)
	if err != nil {
		return nil, err
	}
	key, err := e.Key()
	if err != nil {
		return nil, err
	}
	job, err := s.store.Enqueue(ctx, e.JobType(), jobs.SyncPayload{Source: Source, Payload: e}, key)
	if err != nil {
		return nil, err
	}
	logctx.FromCtx(ctx, s.log).Infow("webhook_enqueued", "job_type", job.JobType, "key", key, "job_id", job.ID)
	return job, nil
}
