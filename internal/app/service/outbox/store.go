package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fatflowers/tunnelbot/internal/models"
	"github.com/fatflowers/tunnelbot/pkg/clock"
	"github.com/fatflowers/tunnelbot/pkg/logctx"
	"github.com/fatflowers/tunnelbot/pkg/tool"
	"github.com/fatflowers/tunnelbot/pkg/types"
)

const (
	MaxErrorLength = 2000

	ErrMsgUnknownJobType = "unknown_job_type"
	ErrMsgLeaseExpired   = "lease_expired"
)

var (
	ErrJobNotFound    = errors.New("job_not_found")
	ErrLeaseLost      = errors.New("job_lease_lost")
	ErrEmptyKey       = errors.New("idempotency_key_empty")
	ErrJobNotRetrying = errors.New("job_not_failed")
)

// Store is the persistent job outbox.
type Store struct {
	db    *gorm.DB
	log   *zap.SugaredLogger
	clock clock.Clock
}

func NewStore(db *gorm.DB, log *zap.SugaredLogger, clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.New()
	}
	return &Store{db: db, log: log, clock: clk}
}

// WithTx binds the store to tx so producers can enqueue atomically with their own writes.
func (s *Store) WithTx(tx *gorm.DB) *Store {
	return &Store{db: tx, log: s.log, clock: s.clock}
}

// Enqueue inserts a pending job. When a job with the same idempotency key
// already exists, nothing is written and the existing row is returned as-is.
func (s *Store) Enqueue(ctx context.Context, jobType types.JobType, payload any, key string) (*models.Job, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	now := s.clock.Now()
	job := &models.Job{
		ID:             tool.GenerateUUIDV7(),
		JobType:        jobType,
		Payload:        raw,
		Status:         types.JobStatusPending,
		IdempotencyKey: key,
		Attempts:       0,
		MaxAttempts:    models.DefaultJobMaxAttempts,
		RunAfter:       now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "idempotency_key"}}, DoNothing: true}).
		Create(job)
	if res.Error != nil {
		return nil, fmt.Errorf("create job: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		logctx.FromCtx(ctx, s.log).Infow("job_enqueued", "job_id", job.ID, "job_type", jobType, "key", key)
		return job, nil
	}

	existing, err := s.GetByKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load existing job: %w", err)
	}
	logctx.FromCtx(ctx, s.log).Infow("job_enqueue_deduplicated", "job_id", existing.ID, "job_type", existing.JobType, "key", key)
	return existing, nil
}

func marshalPayload(payload any) (datatypes.JSON, error) {
	switch p := payload.(type) {
	case nil:
		return datatypes.JSON("{}"), nil
	case datatypes.JSON:
		return p, nil
	case json.RawMessage:
		return datatypes.JSON(p), nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

func (s *Store) Get(ctx context.Context, id string) (*models.Job, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrJobNotFound
	}
	var job models.Job
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &job, nil
}

func (s *Store) GetByKey(ctx context.Context, key string) (*models.Job, error) {
	var job models.Job
	if err := s.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("get job by key: %w", err)
	}
	return &job, nil
}

// ClaimDue returns up to limit pending jobs whose run_after has passed,
// oldest run_after first, ties broken by creation time. The rows are not
// leased yet; callers take each one with MarkRunning.
func (s *Store) ClaimDue(ctx context.Context, limit int) ([]models.Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	var jobs []models.Job
	err := s.db.WithContext(ctx).
		Where("status = ? AND run_after <= ?", types.JobStatusPending, s.clock.Now()).
		Order("run_after ASC").
		Order("created_at ASC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("claim due jobs: %w", err)
	}
	return jobs, nil
}

// MarkRunning leases job to owner for ttl. It returns false when the job is
// no longer pending, i.e. another worker already took it.
func (s *Store) MarkRunning(ctx context.Context, job *models.Job, owner string, ttl time.Duration) (bool, error) {
	now := s.clock.Now()
	expires := now.Add(ttl)
	res := s.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND status = ?", job.ID, types.JobStatusPending).
		Updates(map[string]any{
			"status":           types.JobStatusRunning,
			"locked_by":        owner,
			"locked_at":        now,
			"lease_expires_at": expires,
			"updated_at":       now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("mark running: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	job.Status = types.JobStatusRunning
	job.LockedBy = &owner
	job.LockedAt = &now
	job.LeaseExpiresAt = &expires
	job.UpdatedAt = now
	return true, nil
}

// MarkDone completes a leased job.
func (s *Store) MarkDone(ctx context.Context, job *models.Job) error {
	return s.finish(ctx, job, map[string]any{
		"status": types.JobStatusDone,
	})
}

// MarkFailed moves a leased job to failed; it is not retried.
func (s *Store) MarkFailed(ctx context.Context, job *models.Job, msg string) error {
	return s.finish(ctx, job, map[string]any{
		"status":     types.JobStatusFailed,
		"last_error": tool.Truncate(msg, MaxErrorLength),
	})
}

// Reschedule returns a leased job to pending after delay and spends one attempt.
func (s *Store) Reschedule(ctx context.Context, job *models.Job, delay time.Duration, msg string) error {
	return s.finish(ctx, job, map[string]any{
		"status":     types.JobStatusPending,
		"attempts":   job.Attempts + 1,
		"run_after":  s.clock.Now().Add(delay),
		"last_error": tool.Truncate(msg, MaxErrorLength),
	})
}

// finish applies a terminal or retry transition, guarded by the lease owner.
func (s *Store) finish(ctx context.Context, job *models.Job, updates map[string]any) error {
	owner := job.Owner()
	if owner == "" {
		return ErrLeaseLost
	}
	now := s.clock.Now()
	updates["locked_by"] = nil
	updates["locked_at"] = nil
	updates["lease_expires_at"] = nil
	updates["updated_at"] = now

	res := s.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND status = ? AND locked_by = ?", job.ID, types.JobStatusRunning, owner).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update job %s: %w", job.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrLeaseLost
	}
	applyUpdates(job, updates)
	return nil
}

func applyUpdates(job *models.Job, updates map[string]any) {
	if v, ok := updates["status"].(types.JobStatus); ok {
		job.Status = v
	}
	if v, ok := updates["attempts"].(int); ok {
		job.Attempts = v
	}
	if v, ok := updates["run_after"].(time.Time); ok {
		job.RunAfter = v
	}
	if v, ok := updates["last_error"].(string); ok {
		job.LastError = &v
	}
	if v, ok := updates["updated_at"].(time.Time); ok {
		job.UpdatedAt = v
	}
	job.LockedBy = nil
	job.LockedAt = nil
	job.LeaseExpiresAt = nil
}

// ReleaseExpiredLeases returns jobs whose lease ran out to pending, spending
// one attempt, or fails them when the budget is already spent. It returns the
// number of reclaimed jobs.
func (s *Store) ReleaseExpiredLeases(ctx context.Context) (int64, error) {
	now := s.clock.Now()
	var reclaimed int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		expired := tx.Model(&models.Job{}).
			Where("status = ? AND lease_expires_at < ?", types.JobStatusRunning, now)

		res := expired.Session(&gorm.Session{}).
			Where("attempts + 1 >= max_attempts").
			Updates(map[string]any{
				"status":           types.JobStatusFailed,
				"attempts":         gorm.Expr("attempts + 1"),
				"last_error":       ErrMsgLeaseExpired,
				"locked_by":        nil,
				"locked_at":        nil,
				"lease_expires_at": nil,
				"updated_at":       now,
			})
		if res.Error != nil {
			return fmt.Errorf("fail expired leases: %w", res.Error)
		}
		reclaimed += res.RowsAffected

		res = expired.Session(&gorm.Session{}).
			Updates(map[string]any{
				"status":           types.JobStatusPending,
				"attempts":         gorm.Expr("attempts + 1"),
				"run_after":        now,
				"last_error":       ErrMsgLeaseExpired,
				"locked_by":        nil,
				"locked_at":        nil,
				"lease_expires_at": nil,
				"updated_at":       now,
			})
		if res.Error != nil {
			return fmt.Errorf("release expired leases: %w", res.Error)
		}
		reclaimed += res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}
	if reclaimed > 0 {
		logctx.FromCtx(ctx, s.log).Warnw("job_leases_reclaimed", "count", reclaimed)
	}
	return reclaimed, nil
}

// Retry puts a failed job back in the queue with a fresh retry budget.
func (s *Store) Retry(ctx context.Context, id string) (*models.Job, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrJobNotFound
	}
	now := s.clock.Now()
	res := s.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND status = ?", id, types.JobStatusFailed).
		Updates(map[string]any{
			"status":     types.JobStatusPending,
			"attempts":   0,
			"run_after":  now,
			"updated_at": now,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("retry job: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrJobNotRetrying
	}
	return s.Get(ctx, id)
}

type ListFilter struct {
	Status  types.JobStatus
	JobType types.JobType
	Filters []*types.CommonFilter
	Limit   int
	Offset  int
}

// List returns jobs newest first.
func (s *Store) List(ctx context.Context, f ListFilter) ([]models.Job, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.Job{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.JobType != "" {
		q = q.Where("job_type = ?", f.JobType)
	}
	exprs := lo.FilterMap(f.Filters, func(cf *types.CommonFilter, _ int) (clause.Expression, bool) {
		return cf, cf != nil && len(cf.Values) > 0
	})
	for _, e := range exprs {
		cf := e.(*types.CommonFilter)
		if err := cf.Check(types.JobFilterFields); err != nil {
			return nil, 0, fmt.Errorf("filter %q: %w", cf.Field, err)
		}
	}
	if len(exprs) > 0 {
		q = q.Where(clause.Where{Exprs: exprs})
	}

	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var jobs []models.Job
	if err := q.Order("created_at DESC").Limit(limit).Offset(f.Offset).Find(&jobs).Error; err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, total, nil
}
