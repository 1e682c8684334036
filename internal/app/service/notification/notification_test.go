package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/fatflowers/tunnelbot/internal/app/service/jobs"
	"github.com/fatflowers/tunnelbot/internal/app/service/outbox"
	"github.com/fatflowers/tunnelbot/internal/app/service/subscription"
	"github.com/fatflowers/tunnelbot/internal/models"
	"github.com/fatflowers/tunnelbot/internal/platform/db/dbtest"
	"github.com/fatflowers/tunnelbot/internal/platform/panel"
	"github.com/fatflowers/tunnelbot/pkg/clock"
	"github.com/fatflowers/tunnelbot/pkg/config"
	"github.com/fatflowers/tunnelbot/pkg/joberr"
	"github.com/fatflowers/tunnelbot/pkg/tool"
	"github.com/fatflowers/tunnelbot/pkg/types"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type mockNotifier struct{ mock.Mock }

func (m *mockNotifier) SendMessage(ctx context.Context, chatID int64, text string) error {
	return m.Called(ctx, chatID, text).Error(0)
}

type mockLinks struct{ mock.Mock }

func (m *mockLinks) GetDeliveryLink(ctx context.Context, remoteUserID string) (*panel.DeliveryLink, error) {
	args := m.Called(ctx, remoteUserID)
	l, _ := args.Get(0).(*panel.DeliveryLink)
	return l, args.Error(1)
}

type fixture struct {
	db    *gorm.DB
	clock *clock.Fake
	store *outbox.Store
	subs  *subscription.Service
	rec   *Reconciler
}

func newFixture(t *testing.T, enabled bool) *fixture {
	t.Helper()
	gdb := dbtest.New(t)
	clk := clock.NewFake(t0)
	log := zap.NewNop().Sugar()
	cfg := &config.Config{Notifications: config.NotificationsConfig{Enabled: enabled}}
	store := outbox.NewStore(gdb, log, clk)
	subs := subscription.NewService(gdb, store, cfg, clk, log)
	return &fixture{
		db:    gdb,
		clock: clk,
		store: store,
		subs:  subs,
		rec:   NewReconciler(gdb, subs, store, cfg, clk, log),
	}
}

func (f *fixture) seedSub(t *testing.T, userID int64, loc string, expires time.Time, remoteID string) *models.Subscription {
	t.Helper()
	if err := f.db.First(&models.User{}, userID).Error; errors.Is(err, gorm.ErrRecordNotFound) {
		require.NoError(t, f.db.Create(&models.User{ID: userID, RefCode: fmt.Sprintf("ref%d", userID)}).Error)
	}
	sub := &models.Subscription{
		ID:            tool.GenerateUUIDV7(),
		UserID:        userID,
		PlanCode:      "classic",
		LocationCode:  loc,
		Status:        types.SubscriptionStatusActive,
		ExpiresAt:     expires,
		ProvisionMeta: datatypes.NewJSONType(models.ProvisionMeta{RemoteUserID: remoteID}),
	}
	require.NoError(t, f.db.Create(sub).Error)
	return sub
}

func (f *fixture) notices(t *testing.T, subID string) []types.NoticeType {
	t.Helper()
	var rows []models.NotificationLog
	require.NoError(t, f.db.Where("subscription_id = ?", subID).Order("type").Find(&rows).Error)
	out := make([]types.NoticeType, 0, len(rows))
	for _, r := range rows {
		require.NotNil(t, r.JobID)
		out = append(out, r.Type)
	}
	return out
}

func (f *fixture) countJobs(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&models.Job{}).Where("job_type = ?", types.JobTypeSendNotifications).Count(&n).Error)
	return n
}

func TestDueNotices(t *testing.T) {
	cases := []struct {
		name string
		left time.Duration
		want []types.NoticeType
	}{
		{"ten days", 10 * day, nil},
		{"four days", 4 * day, nil},
		{"just under four days", 4*day - time.Minute, []types.NoticeType{types.NoticeTypeExpires3d}},
		{"two days", 2 * day, []types.NoticeType{types.NoticeTypeExpires3d}},
		{"one day and change", day + 23*time.Hour, []types.NoticeType{types.NoticeTypeExpires3d, types.NoticeTypeExpires1d}},
		{"hours", 5 * time.Hour, []types.NoticeType{types.NoticeTypeExpires3d, types.NoticeTypeExpires1d}},
		{"now", 0, []types.NoticeType{types.NoticeTypeExpired}},
		{"past", -time.Hour, []types.NoticeType{types.NoticeTypeExpired}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, DueNotices(t0.Add(tc.left), t0))
		})
	}
}

func TestReconcile_SchedulesEachNoticeOnce(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	soon := f.seedSub(t, 1, "nl1", t0.Add(2*day+time.Hour), "r-1")
	far := f.seedSub(t, 2, "nl1", t0.Add(30*day), "r-2")

	res, err := f.rec.Reconcile(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Scheduled)
	require.Equal(t, 2, res.Scanned)
	require.Equal(t, []types.NoticeType{types.NoticeTypeExpires3d}, f.notices(t, soon.ID))
	require.Empty(t, f.notices(t, far.ID))

	for range 3 {
		res, err = f.rec.Reconcile(ctx)
		require.NoError(t, err)
		require.Zero(t, res.Scheduled)
	}
	require.EqualValues(t, 1, f.countJobs(t))

	job, err := f.store.GetByKey(ctx, NoticeKey(soon.ID, types.NoticeTypeExpires3d))
	require.NoError(t, err)
	p, err := jobs.Decode[jobs.NotificationPayload](job)
	require.NoError(t, err)
	require.Equal(t, types.NotificationKindSubscriptionNotice, p.Kind)
	require.Equal(t, int64(1), p.UserID)
	require.Equal(t, soon.ID, p.SubscriptionID)
	require.Equal(t, types.NoticeTypeExpires3d, p.NoticeType)

	// 13h left
	f.clock.Advance(36 * time.Hour)
	res, err = f.rec.Reconcile(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Scheduled)
	require.Equal(t, []types.NoticeType{types.NoticeTypeExpires1d, types.NoticeTypeExpires3d}, f.notices(t, soon.ID))

	f.clock.Advance(day)
	res, err = f.rec.Reconcile(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Expired)
	require.Equal(t, 1, res.Scheduled)
	require.Equal(t, []types.NoticeType{types.NoticeTypeExpired, types.NoticeTypeExpires1d, types.NoticeTypeExpires3d}, f.notices(t, soon.ID))

	res, err = f.rec.Reconcile(ctx)
	require.NoError(t, err)
	require.Zero(t, res.Expired)
	require.Zero(t, res.Scheduled)
	require.EqualValues(t, 3, f.countJobs(t))

	var stored models.Subscription
	require.NoError(t, f.db.First(&stored, "id = ?", soon.ID).Error)
	require.Equal(t, types.SubscriptionStatusExpired, stored.Status)
}

func TestReconcile_LapsedSubscriptionGetsOnlyExpiredNotice(t *testing.T) {
	f := newFixture(t, true)
	sub := f.seedSub(t, 1, "nl1", t0.Add(-time.Hour), "r-1")

	res, err := f.rec.Reconcile(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Expired)
	require.Zero(t, res.Scanned)
	require.Equal(t, []types.NoticeType{types.NoticeTypeExpired}, f.notices(t, sub.ID))
}

func TestReconcile_ExpiredNoticeSurvivesFailedRun(t *testing.T) {
	f := newFixture(t, true)
	sub := f.seedSub(t, 1, "nl1", t0.Add(-time.Hour), "r-1")

	failLog := true
	require.NoError(t, f.db.Callback().Create().Before("gorm:create").Register("test:fail_notice_log", func(tx *gorm.DB) {
		if failLog && tx.Statement.Table == (models.NotificationLog{}).TableName() {
			tx.AddError(errors.New("transient db error"))
		}
	}))

	_, err := f.rec.Reconcile(context.Background())
	require.Error(t, err)
	var got models.Subscription
	require.NoError(t, f.db.First(&got, "id = ?", sub.ID).Error)
	require.Equal(t, types.SubscriptionStatusActive, got.Status)
	require.Empty(t, f.notices(t, sub.ID))
	require.Zero(t, f.countJobs(t))

	failLog = false
	res, err := f.rec.Reconcile(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Expired)
	require.Equal(t, 1, res.Scheduled)
	require.NoError(t, f.db.First(&got, "id = ?", sub.ID).Error)
	require.Equal(t, types.SubscriptionStatusExpired, got.Status)
	require.Equal(t, []types.NoticeType{types.NoticeTypeExpired}, f.notices(t, sub.ID))
	require.EqualValues(t, 1, f.countJobs(t))
}

func TestReconcile_Disabled(t *testing.T) {
	f := newFixture(t, false)
	sub := f.seedSub(t, 1, "nl1", t0.Add(-time.Hour), "r-1")
	f.seedSub(t, 2, "nl1", t0.Add(time.Hour), "r-2")

	res, err := f.rec.Reconcile(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Expired)
	require.Zero(t, res.Scheduled)
	require.Empty(t, f.notices(t, sub.ID))
	require.Zero(t, f.countJobs(t))
}

func TestReconcile_HandleRejectsBadPayload(t *testing.T) {
	f := newFixture(t, true)
	err := f.rec.Handle(context.Background(), &models.Job{JobType: types.JobTypeReconcile, Payload: datatypes.JSON(`[1]`)})
	require.True(t, joberr.IsPermanent(err))

	err = f.rec.Handle(context.Background(), &models.Job{JobType: types.JobTypeReconcile, Payload: datatypes.JSON(`{"source":"admin"}`)})
	require.NoError(t, err)
}

func notificationJob(t *testing.T, p jobs.NotificationPayload) *models.Job {
	t.Helper()
	raw, err := json.Marshal(p)
	require.NoError(t, err)
	return &models.Job{ID: tool.GenerateUUIDV7(), JobType: types.JobTypeSendNotifications, Payload: datatypes.JSON(raw)}
}

func TestSender(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	linked := f.seedSub(t, 7, "nl1", t0.Add(10*day), "r-7")
	unlinked := f.seedSub(t, 7, "de1", t0.Add(10*day), "")

	cases := []struct {
		name    string
		payload jobs.NotificationPayload
		link    *panel.DeliveryLink
		want    string
	}{
		{
			name:    "delivery link",
			payload: jobs.NotificationPayload{Kind: types.NotificationKindDeliveryLink, UserID: 7, SubscriptionID: linked.ID},
			link:    &panel.DeliveryLink{Link: "vless://abc"},
			want:    "Your connection link: vless://abc",
		},
		{
			name:    "delivery link empty",
			payload: jobs.NotificationPayload{Kind: types.NotificationKindDeliveryLink, UserID: 7, SubscriptionID: linked.ID},
			link:    &panel.DeliveryLink{},
			want:    TextLinkPending,
		},
		{
			name:    "delivery link without remote account",
			payload: jobs.NotificationPayload{Kind: types.NotificationKindDeliveryLink, UserID: 7, SubscriptionID: unlinked.ID},
			want:    TextLinkPending,
		},
		{
			name:    "delivery link other user",
			payload: jobs.NotificationPayload{Kind: types.NotificationKindDeliveryLink, UserID: 8, SubscriptionID: linked.ID},
			want:    TextSubscriptionNotFound,
		},
		{
			name:    "support reply",
			payload: jobs.NotificationPayload{Kind: types.NotificationKindSupportReply, UserID: 7, Text: "Try the nl1 location."},
			want:    "Try the nl1 location.",
		},
		{
			name:    "support reply default",
			payload: jobs.NotificationPayload{Kind: types.NotificationKindSupportReply, UserID: 7},
			want:    TextSupportReplyDefault,
		},
		{
			name:    "notice",
			payload: jobs.NotificationPayload{Kind: types.NotificationKindSubscriptionNotice, UserID: 7, SubscriptionID: linked.ID, NoticeType: types.NoticeTypeExpires1d},
			want:    NoticeText(types.NoticeTypeExpires1d),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			n := &mockNotifier{}
			l := &mockLinks{}
			if tc.link != nil {
				l.On("GetDeliveryLink", mock.Anything, "r-7").Return(tc.link, nil).Once()
			}
			n.On("SendMessage", mock.Anything, tc.payload.UserID, tc.want).Return(nil).Once()

			s := NewSender(f.subs, n, l, zap.NewNop().Sugar())
			require.NoError(t, s.Handle(ctx, notificationJob(t, tc.payload)))
			n.AssertExpectations(t)
			l.AssertExpectations(t)
		})
	}
}

func TestSender_Errors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	sub := f.seedSub(t, 7, "nl1", t0.Add(10*day), "r-7")

	t.Run("panel failure is retryable", func(t *testing.T) {
		n := &mockNotifier{}
		l := &mockLinks{}
		l.On("GetDeliveryLink", mock.Anything, "r-7").Return(nil, errors.New("boom")).Once()
		s := NewSender(f.subs, n, l, zap.NewNop().Sugar())

		err := s.Handle(ctx, notificationJob(t, jobs.NotificationPayload{Kind: types.NotificationKindDeliveryLink, UserID: 7, SubscriptionID: sub.ID}))
		require.Error(t, err)
		require.False(t, joberr.IsPermanent(err))
		n.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("permanent send failure stays permanent", func(t *testing.T) {
		n := &mockNotifier{}
		n.On("SendMessage", mock.Anything, int64(7), mock.Anything).Return(joberr.Permanentf("chat blocked")).Once()
		s := NewSender(f.subs, n, &mockLinks{}, zap.NewNop().Sugar())

		err := s.Handle(ctx, notificationJob(t, jobs.NotificationPayload{Kind: types.NotificationKindSupportReply, UserID: 7}))
		require.True(t, joberr.IsPermanent(err))
	})

	t.Run("missing notice type", func(t *testing.T) {
		s := NewSender(f.subs, &mockNotifier{}, &mockLinks{}, zap.NewNop().Sugar())
		err := s.Handle(ctx, notificationJob(t, jobs.NotificationPayload{Kind: types.NotificationKindSubscriptionNotice, UserID: 7, SubscriptionID: sub.ID}))
		require.True(t, joberr.IsPermanent(err))
	})
}

func TestRequests(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	sub := f.seedSub(t, 7, "nl1", t0.Add(10*day), "r-7")
	r := NewRequests(f.store, f.subs, zap.NewNop().Sugar())

	first, err := r.RequestDeliveryLink(ctx, 7, sub.ID)
	require.NoError(t, err)
	require.Equal(t, "delivery:"+sub.ID, first.IdempotencyKey)
	second, err := r.RequestDeliveryLink(ctx, 7, sub.ID)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	_, err = r.RequestDeliveryLink(ctx, 8, sub.ID)
	require.ErrorIs(t, err, subscription.ErrSubscriptionNotFound)

	reply, err := r.QueueSupportReply(ctx, 7, "t-1", "m-1", "hello")
	require.NoError(t, err)
	require.Equal(t, "support_reply:t-1:m-1", reply.IdempotencyKey)
	again, err := r.QueueSupportReply(ctx, 7, "t-1", "m-1", "hello")
	require.NoError(t, err)
	require.Equal(t, reply.ID, again.ID)
	require.EqualValues(t, 2, f.countJobs(t))
}
