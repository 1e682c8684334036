package outbox

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fatflowers/tunnelbot/internal/models"
	"github.com/fatflowers/tunnelbot/internal/platform/db/dbtest"
	"github.com/fatflowers/tunnelbot/pkg/clock"
	"github.com/fatflowers/tunnelbot/pkg/types"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newStore(t *testing.T) (*Store, *clock.Fake, *gorm.DB) {
	t.Helper()
	gdb := dbtest.New(t)
	clk := clock.NewFake(t0)
	return NewStore(gdb, zap.NewNop().Sugar(), clk), clk, gdb
}

func lease(t *testing.T, s *Store, job *models.Job) {
	t.Helper()
	ok, err := s.MarkRunning(context.Background(), job, "worker-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestEnqueue_Idempotent(t *testing.T) {
	s, _, gdb := newStore(t)
	ctx := context.Background()

	first, err := s.Enqueue(ctx, types.JobTypeProvisionSubscription, map[string]any{"user_id": 1, "period_days": 30}, "payment:p1")
	require.NoError(t, err)
	require.Equal(t, types.JobStatusPending, first.Status)
	require.Equal(t, 0, first.Attempts)
	require.Equal(t, models.DefaultJobMaxAttempts, first.MaxAttempts)
	require.True(t, first.RunAfter.Equal(t0))

	second, err := s.Enqueue(ctx, types.JobTypeProvisionSubscription, map[string]any{"user_id": 1, "period_days": 99}, "payment:p1")
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(second.Payload, &payload))
	require.EqualValues(t, 30, payload["period_days"])

	var count int64
	require.NoError(t, gdb.Model(&models.Job{}).Where("idempotency_key = ?", "payment:p1").Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestEnqueue_ReturnsExistingUnchangedAfterProgress(t *testing.T) {
	s, _, _ := newStore(t)
	ctx := context.Background()

	job, err := s.Enqueue(ctx, types.JobTypeSyncServers, nil, "sync_servers:2026-03-01")
	require.NoError(t, err)
	lease(t, s, job)
	require.NoError(t, s.MarkDone(ctx, job))

	again, err := s.Enqueue(ctx, types.JobTypeSyncServers, nil, "sync_servers:2026-03-01")
	require.NoError(t, err)
	require.Equal(t, job.ID, again.ID)
	require.Equal(t, types.JobStatusDone, again.Status)
}

func TestEnqueue_EmptyKey(t *testing.T) {
	s, _, _ := newStore(t)
	_, err := s.Enqueue(context.Background(), types.JobTypeReconcile, nil, "")
	require.ErrorIs(t, err, ErrEmptyKey)
}

func TestClaimDue_SkipsFutureAndNonPending(t *testing.T) {
	s, clk, _ := newStore(t)
	ctx := context.Background()

	due, err := s.Enqueue(ctx, types.JobTypeReconcile, nil, "a")
	require.NoError(t, err)

	later, err := s.Enqueue(ctx, types.JobTypeReconcile, nil, "b")
	require.NoError(t, err)
	lease(t, s, later)
	require.NoError(t, s.Reschedule(ctx, later, 10*time.Minute, "boom"))

	done, err := s.Enqueue(ctx, types.JobTypeReconcile, nil, "c")
	require.NoError(t, err)
	lease(t, s, done)
	require.NoError(t, s.MarkDone(ctx, done))

	jobs, err := s.ClaimDue(ctx, 50)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, due.ID, jobs[0].ID)
	for _, j := range jobs {
		require.False(t, j.RunAfter.After(clk.Now()))
	}

	clk.Advance(10 * time.Minute)
	jobs, err = s.ClaimDue(ctx, 50)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
}

func TestClaimDue_OrderAndLimit(t *testing.T) {
	s, clk, _ := newStore(t)
	ctx := context.Background()

	var ids []string
	for _, key := range []string{"k1", "k2", "k3"} {
		job, err := s.Enqueue(ctx, types.JobTypeReconcile, nil, key)
		require.NoError(t, err)
		ids = append(ids, job.ID)
		clk.Advance(time.Second)
	}

	jobs, err := s.ClaimDue(ctx, 2)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	require.Equal(t, ids[0], jobs[0].ID)
	require.Equal(t, ids[1], jobs[1].ID)

	jobs, err = s.ClaimDue(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, jobs)
}

func TestMarkRunning_SingleOwner(t *testing.T) {
	s, _, _ := newStore(t)
	ctx := context.Background()

	job, err := s.Enqueue(ctx, types.JobTypeReconcile, nil, "k")
	require.NoError(t, err)
	other := *job

	ok, err := s.MarkRunning(ctx, job, "worker-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "worker-1", job.Owner())

	ok, err = s.MarkRunning(ctx, &other, "worker-2", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	stored, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, types.JobStatusRunning, stored.Status)
	require.Equal(t, "worker-1", stored.Owner())
	require.NotNil(t, stored.LeaseExpiresAt)
}

func TestReschedule(t *testing.T) {
	s, clk, _ := newStore(t)
	ctx := context.Background()

	job, err := s.Enqueue(ctx, types.JobTypeReconcile, nil, "k")
	require.NoError(t, err)
	lease(t, s, job)

	require.NoError(t, s.Reschedule(ctx, job, 2*time.Minute, strings.Repeat("x", 2500)))

	stored, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, types.JobStatusPending, stored.Status)
	require.Equal(t, 1, stored.Attempts)
	require.True(t, stored.RunAfter.Equal(clk.Now().Add(2*time.Minute)))
	require.NotNil(t, stored.LastError)
	require.Len(t, *stored.LastError, MaxErrorLength)
	require.Nil(t, stored.LockedBy)
	require.Nil(t, stored.LeaseExpiresAt)
}

func TestFinish_RequiresLease(t *testing.T) {
	s, _, _ := newStore(t)
	ctx := context.Background()

	job, err := s.Enqueue(ctx, types.JobTypeReconcile, nil, "k")
	require.NoError(t, err)
	require.ErrorIs(t, s.MarkDone(ctx, job), ErrLeaseLost)

	lease(t, s, job)
	stale := *job
	require.NoError(t, s.MarkFailed(ctx, job, "unknown_job_type"))
	require.ErrorIs(t, s.MarkDone(ctx, &stale), ErrLeaseLost)

	stored, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, types.JobStatusFailed, stored.Status)
	require.Equal(t, "unknown_job_type", *stored.LastError)
}

func TestReleaseExpiredLeases(t *testing.T) {
	s, clk, gdb := newStore(t)
	ctx := context.Background()

	fresh, err := s.Enqueue(ctx, types.JobTypeReconcile, nil, "fresh")
	require.NoError(t, err)
	stuck, err := s.Enqueue(ctx, types.JobTypeReconcile, nil, "stuck")
	require.NoError(t, err)
	spent, err := s.Enqueue(ctx, types.JobTypeReconcile, nil, "spent")
	require.NoError(t, err)
	require.NoError(t, gdb.Model(&models.Job{}).Where("id = ?", spent.ID).Update("attempts", 4).Error)

	_, err = s.MarkRunning(ctx, stuck, "dead-worker", time.Minute)
	require.NoError(t, err)
	_, err = s.MarkRunning(ctx, spent, "dead-worker", time.Minute)
	require.NoError(t, err)

	clk.Advance(30 * time.Second)
	_, err = s.MarkRunning(ctx, fresh, "live-worker", time.Minute)
	require.NoError(t, err)

	clk.Advance(45 * time.Second)
	n, err := s.ReleaseExpiredLeases(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	got, err := s.Get(ctx, stuck.ID)
	require.NoError(t, err)
	require.Equal(t, types.JobStatusPending, got.Status)
	require.Equal(t, 1, got.Attempts)
	require.Nil(t, got.LockedBy)
	require.Equal(t, ErrMsgLeaseExpired, *got.LastError)

	got, err = s.Get(ctx, spent.ID)
	require.NoError(t, err)
	require.Equal(t, types.JobStatusFailed, got.Status)
	require.Equal(t, 5, got.Attempts)

	got, err = s.Get(ctx, fresh.ID)
	require.NoError(t, err)
	require.Equal(t, types.JobStatusRunning, got.Status)
	require.Equal(t, "live-worker", got.Owner())

	// The dead worker can no longer complete what it lost.
	require.ErrorIs(t, s.MarkDone(ctx, stuck), ErrLeaseLost)
}

func TestRetry(t *testing.T) {
	s, _, _ := newStore(t)
	ctx := context.Background()

	job, err := s.Enqueue(ctx, types.JobTypeReconcile, nil, "k")
	require.NoError(t, err)

	_, err = s.Retry(ctx, job.ID)
	require.ErrorIs(t, err, ErrJobNotRetrying)

	_, err = s.Retry(ctx, "00000000-0000-0000-0000-000000000000")
	require.ErrorIs(t, err, ErrJobNotFound)

	lease(t, s, job)
	require.NoError(t, s.Reschedule(ctx, job, 0, "first"))
	lease(t, s, job)
	require.NoError(t, s.MarkFailed(ctx, job, "second"))

	retried, err := s.Retry(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, types.JobStatusPending, retried.Status)
	require.Equal(t, 0, retried.Attempts)
}

func TestList(t *testing.T) {
	s, _, _ := newStore(t)
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		_, err := s.Enqueue(ctx, types.JobTypeReconcile, nil, key)
		require.NoError(t, err)
	}
	sync, err := s.Enqueue(ctx, types.JobTypeSyncUsers, nil, "d")
	require.NoError(t, err)

	jobs, total, err := s.List(ctx, ListFilter{JobType: types.JobTypeSyncUsers})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	require.Equal(t, sync.ID, jobs[0].ID)

	jobs, total, err = s.List(ctx, ListFilter{
		Status:  types.JobStatusPending,
		Filters: []*types.CommonFilter{{Field: "idempotency_key", Operator: types.FilterOperatorIn, Values: []any{"a", "b"}}},
		Limit:   1,
	})
	require.NoError(t, err)
	require.EqualValues(t, 2, total)
	require.Len(t, jobs, 1)

	_, _, err = s.List(ctx, ListFilter{
		Filters: []*types.CommonFilter{{Field: "payload; drop table job_outbox", Operator: types.FilterOperatorEq, Values: []any{"x"}}},
	})
	require.ErrorIs(t, err, types.ErrFilterField)
}
