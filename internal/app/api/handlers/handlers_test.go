package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fatflowers/tunnelbot/internal/app/service/jobs"
	"github.com/fatflowers/tunnelbot/internal/app/service/outbox"
	"github.com/fatflowers/tunnelbot/internal/app/service/payment"
	"github.com/fatflowers/tunnelbot/internal/app/service/statistics"
	"github.com/fatflowers/tunnelbot/internal/app/service/subscription"
	"github.com/fatflowers/tunnelbot/internal/app/service/webhook"
	"github.com/fatflowers/tunnelbot/internal/models"
	"github.com/fatflowers/tunnelbot/pkg/clock"
	"github.com/fatflowers/tunnelbot/pkg/logctx"
	"github.com/fatflowers/tunnelbot/pkg/response"
	"github.com/fatflowers/tunnelbot/pkg/types"
)

var nop = zap.NewNop().Sugar()

type envelope struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    json.RawMessage          `json:"data"`
}

func serve(t *testing.T, r *gin.Engine, method, path string, body any, headers map[string]string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w, env
}

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}

type stubWebhook struct {
	verifyErr error
	ingestErr error
	bodies    [][]byte
}

func (s *stubWebhook) Verify(string) error { return s.verifyErr }

func (s *stubWebhook) Ingest(_ context.Context, body []byte) (*models.Job, error) {
	s.bodies = append(s.bodies, body)
	if s.ingestErr != nil {
		return nil, s.ingestErr
	}
	return &models.Job{ID: "job-1", Status: types.JobStatusPending}, nil
}

func TestApiPanelWebhook(t *testing.T) {
	cases := []struct {
		name     string
		stub     *stubWebhook
		wantHTTP int
		wantCode response.APIResponseCode
	}{
		{"accepted", &stubWebhook{}, http.StatusOK, response.APIResponseCodeOK},
		{"disabled", &stubWebhook{verifyErr: webhook.ErrDisabled}, http.StatusNotFound, response.APIResponseCodeNotFound},
		{"bad signature", &stubWebhook{verifyErr: webhook.ErrInvalidSignature}, http.StatusForbidden, response.APIResponseCodeForbidden},
		{"bad payload", &stubWebhook{ingestErr: webhook.ErrInvalidPayload}, http.StatusBadRequest, response.APIResponseCodeBadRequest},
		{"store failure", &stubWebhook{ingestErr: errors.New("db down")}, http.StatusInternalServerError, response.APIResponseCodeError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newRouter()
			RegisterWebhookRoutes(r, "/webhooks/remnawave", tc.stub, nop)

			w, env := serve(t, r, http.MethodPost, "/webhooks/remnawave", `{"type":"user.created"}`, map[string]string{HeaderSignature: "s"})
			require.Equal(t, tc.wantHTTP, w.Code)
			require.Equal(t, tc.wantCode, env.Code)
			if tc.stub.verifyErr != nil {
				require.Empty(t, tc.stub.bodies)
			}
			if tc.wantCode == response.APIResponseCodeOK {
				require.JSONEq(t, `{"status":"accepted","job_id":"job-1"}`, string(env.Data))
				require.Equal(t, `{"type":"user.created"}`, string(tc.stub.bodies[0]))
			}
		})
	}
}

type stubJobStore struct {
	enqueued []string
	payloads []any
	filter   outbox.ListFilter
	retryErr error
}

func (s *stubJobStore) Enqueue(_ context.Context, jobType types.JobType, payload any, key string) (*models.Job, error) {
	s.enqueued = append(s.enqueued, key)
	s.payloads = append(s.payloads, payload)
	return &models.Job{ID: "job-" + key, JobType: jobType, Status: types.JobStatusPending, IdempotencyKey: key}, nil
}

func (s *stubJobStore) List(_ context.Context, f outbox.ListFilter) ([]models.Job, int64, error) {
	s.filter = f
	return []models.Job{{ID: "a"}, {ID: "b"}}, 7, nil
}

func (s *stubJobStore) Retry(_ context.Context, id string) (*models.Job, error) {
	if s.retryErr != nil {
		return nil, s.retryErr
	}
	return &models.Job{ID: id, Status: types.JobStatusPending}, nil
}

type stubGranter struct{ operator string }

func (s *stubGranter) GrantAccess(_ context.Context, userID int64, planCode, locationCode string, days int, operatorID string) (*models.Job, error) {
	s.operator = operatorID
	return &models.Job{ID: "grant", Status: types.JobStatusPending}, nil
}

type stubSupport struct{}

func (stubSupport) QueueSupportReply(_ context.Context, userID int64, ticketID, messageID, text string) (*models.Job, error) {
	return &models.Job{ID: ticketID + "/" + messageID, Status: types.JobStatusPending}, nil
}

type stubStats struct{}

func (stubStats) Get(_ context.Context, req *statistics.Request) (*statistics.Response, error) {
	return &statistics.Response{DataItems: map[statistics.StatisticType][]statistics.DataItem{
		statistics.StatisticTypeDailyRevenue: {{Date: "2026-03-01", Value: int64(req.Days)}},
	}}, nil
}

func adminRouter(store JobStore, grants Granter) *gin.Engine {
	r := newRouter()
	g := r.Group("/api/v1/admin", func(c *gin.Context) {
		c.Set(string(logctx.UserIDKey), int64(42))
	})
	clk := clock.NewFake(time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC))
	RegisterAdminRoutes(g, AdminDeps{Jobs: store, Grants: grants, Support: stubSupport{}, Statistics: stubStats{}, Clock: clk}, nop)
	return r
}

func TestApiEnqueueAdminJob(t *testing.T) {
	store := &stubJobStore{}
	r := adminRouter(store, &stubGranter{})

	for _, jt := range []string{"sync_servers", "sync_users", "reconcile"} {
		_, env := serve(t, r, http.MethodPost, "/api/v1/admin/jobs/"+jt, nil, nil)
		require.Equal(t, response.APIResponseCodeOK, env.Code)
	}
	require.Equal(t, []string{"sync_servers:2026-03-01", "sync_users:2026-03-01", "reconcile:2026-03-01"}, store.enqueued)
	require.Equal(t, jobs.SyncPayload{Actor: "42", Source: "admin"}, store.payloads[0])
	require.Equal(t, jobs.ReconcilePayload{Actor: "42", Source: "admin"}, store.payloads[2])

	_, env := serve(t, r, http.MethodPost, "/api/v1/admin/jobs/provision_subscription", nil, nil)
	require.Equal(t, response.APIResponseCodeBadRequest, env.Code)
	require.Len(t, store.enqueued, 3)
}

func TestApiListJobs(t *testing.T) {
	store := &stubJobStore{}
	r := adminRouter(store, &stubGranter{})

	_, env := serve(t, r, http.MethodGet, "/api/v1/admin/jobs?status=failed&job_type=reconcile&limit=10&offset=20", nil, nil)
	require.Equal(t, response.APIResponseCodeOK, env.Code)
	require.Equal(t, outbox.ListFilter{Status: types.JobStatusFailed, JobType: types.JobTypeReconcile, Limit: 10, Offset: 20}, store.filter)

	var data ListJobsResponse
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.EqualValues(t, 7, data.Total)
	require.Len(t, data.Items, 2)

	_, env = serve(t, r, http.MethodGet, "/api/v1/admin/jobs?limit=x", nil, nil)
	require.Equal(t, response.APIResponseCodeBadRequest, env.Code)
}

func TestApiRetryJob(t *testing.T) {
	store := &stubJobStore{}
	r := adminRouter(store, &stubGranter{})

	_, env := serve(t, r, http.MethodPost, "/api/v1/admin/jobs/0190e0e0-0000-7000-8000-000000000001/retry", nil, nil)
	require.Equal(t, response.APIResponseCodeOK, env.Code)
	require.Contains(t, string(env.Data), "0190e0e0-0000-7000-8000-000000000001")

	store.retryErr = outbox.ErrJobNotFound
	_, env = serve(t, r, http.MethodPost, "/api/v1/admin/jobs/x/retry", nil, nil)
	require.Equal(t, response.APIResponseCodeNotFound, env.Code)

	store.retryErr = outbox.ErrJobNotRetrying
	_, env = serve(t, r, http.MethodPost, "/api/v1/admin/jobs/x/retry", nil, nil)
	require.Equal(t, response.APIResponseCodeConflict, env.Code)
}

func TestApiGrantAccess(t *testing.T) {
	g := &stubGranter{}
	r := adminRouter(&stubJobStore{}, g)

	_, env := serve(t, r, http.MethodPost, "/api/v1/admin/grants", GrantRequest{UserID: 5, PlanCode: "classic", LocationCode: "nl1", Days: 7}, nil)
	require.Equal(t, response.APIResponseCodeOK, env.Code)
	require.Equal(t, "42", g.operator)

	_, env = serve(t, r, http.MethodPost, "/api/v1/admin/grants", GrantRequest{UserID: 5, PlanCode: "classic"}, nil)
	require.Equal(t, response.APIResponseCodeBadRequest, env.Code)

	_, env = serve(t, r, http.MethodPost, "/api/v1/admin/support/replies", SupportReplyRequest{UserID: 5, TicketID: "t", MessageID: "m"}, nil)
	require.Equal(t, response.APIResponseCodeOK, env.Code)
	require.Contains(t, string(env.Data), "t/m")
}

func TestApiGetStatistics(t *testing.T) {
	r := adminRouter(&stubJobStore{}, &stubGranter{})
	_, env := serve(t, r, http.MethodPost, "/api/v1/admin/statistics", statistics.Request{Days: 3}, nil)
	require.Equal(t, response.APIResponseCodeOK, env.Code)
	require.JSONEq(t, `{"data_items":{"daily_revenue":[{"date":"2026-03-01","value":3}]}}`, string(env.Data))
}

type stubPayments struct {
	checkoutErr error
	completeJob *models.Job
}

func (s *stubPayments) Checkout(_ context.Context, userID int64, planCode, locationCode, promoCode string) (*models.PaymentIntent, *payment.Quote, error) {
	if s.checkoutErr != nil {
		return nil, nil, s.checkoutErr
	}
	return &models.PaymentIntent{ID: "pi-1", UserID: userID, AmountStars: 270}, &payment.Quote{PlanCode: planCode, AmountStars: 270}, nil
}

func (s *stubPayments) MarkInvoiced(_ context.Context, intentID string) (*models.PaymentIntent, error) {
	if intentID == "expired" {
		return nil, payment.ErrIntentExpired
	}
	return &models.PaymentIntent{ID: intentID, Status: types.PaymentIntentStatusInvoiced}, nil
}

func (s *stubPayments) CompletePayment(_ context.Context, intentID, providerPaymentID string, raw json.RawMessage) (*models.Payment, *models.Job, error) {
	return &models.Payment{ID: "pay-1", ProviderPaymentID: providerPaymentID}, s.completeJob, nil
}

func TestPaymentRoutes(t *testing.T) {
	svc := &stubPayments{completeJob: &models.Job{ID: "job-9"}}
	r := newRouter()
	RegisterPaymentRoutes(r.Group("/api/v1/payments"), svc, nop)

	_, env := serve(t, r, http.MethodPost, "/api/v1/payments/checkout", CheckoutRequest{UserID: 1, PlanCode: "classic", LocationCode: "nl1", PromoCode: "SALE"}, nil)
	require.Equal(t, response.APIResponseCodeOK, env.Code)
	var co CheckoutResponse
	require.NoError(t, json.Unmarshal(env.Data, &co))
	require.Equal(t, "pi-1", co.Intent.ID)
	require.Equal(t, 270, co.Quote.AmountStars)

	_, env = serve(t, r, http.MethodPost, "/api/v1/payments/checkout", CheckoutRequest{PlanCode: "classic"}, nil)
	require.Equal(t, response.APIResponseCodeBadRequest, env.Code)

	svc.checkoutErr = payment.ErrPromoAlreadyRedeemed
	_, env = serve(t, r, http.MethodPost, "/api/v1/payments/checkout", CheckoutRequest{UserID: 1, PlanCode: "classic", LocationCode: "nl1"}, nil)
	require.Equal(t, response.APIResponseCodeConflict, env.Code)

	svc.checkoutErr = payment.ErrPlanNotFound
	_, env = serve(t, r, http.MethodPost, "/api/v1/payments/checkout", CheckoutRequest{UserID: 1, PlanCode: "gold", LocationCode: "nl1"}, nil)
	require.Equal(t, response.APIResponseCodeNotFound, env.Code)

	_, env = serve(t, r, http.MethodPost, "/api/v1/payments/expired/invoiced", nil, nil)
	require.Equal(t, response.APIResponseCodeConflict, env.Code)

	_, env = serve(t, r, http.MethodPost, "/api/v1/payments/pi-1/complete", map[string]any{"provider_payment_id": "tg-1", "raw": map[string]any{"charge": "x"}}, nil)
	require.Equal(t, response.APIResponseCodeOK, env.Code)
	var done CompletePaymentResponse
	require.NoError(t, json.Unmarshal(env.Data, &done))
	require.Equal(t, "job-9", done.JobID)
	require.Equal(t, "tg-1", done.Payment.ProviderPaymentID)

	_, env = serve(t, r, http.MethodPost, "/api/v1/payments/pi-1/complete", map[string]any{}, nil)
	require.Equal(t, response.APIResponseCodeBadRequest, env.Code)
}

type stubSubs struct{}

func (stubSubs) ListForUser(_ context.Context, userID int64) ([]models.Subscription, error) {
	return []models.Subscription{{ID: "s-1", UserID: userID}}, nil
}

func (stubSubs) StartTrial(_ context.Context, userID int64) (*models.Job, error) {
	if userID == 2 {
		return nil, subscription.ErrTrialAlreadyUsed
	}
	return &models.Job{ID: "trial", Status: types.JobStatusPending}, nil
}

type stubLinks struct{}

func (stubLinks) RequestDeliveryLink(_ context.Context, userID int64, subscriptionID string) (*models.Job, error) {
	if subscriptionID != "s-1" {
		return nil, subscription.ErrSubscriptionNotFound
	}
	return &models.Job{ID: "link", Status: types.JobStatusPending}, nil
}

func TestUserRoutes(t *testing.T) {
	r := newRouter()
	RegisterUserRoutes(r.Group("/api/v1/users"), stubSubs{}, stubLinks{}, nop)

	_, env := serve(t, r, http.MethodGet, "/api/v1/users/1/subscriptions", nil, nil)
	require.Equal(t, response.APIResponseCodeOK, env.Code)
	require.Contains(t, string(env.Data), "s-1")

	_, env = serve(t, r, http.MethodGet, "/api/v1/users/abc/subscriptions", nil, nil)
	require.Equal(t, response.APIResponseCodeBadRequest, env.Code)

	_, env = serve(t, r, http.MethodPost, "/api/v1/users/1/trial", nil, nil)
	require.Equal(t, response.APIResponseCodeOK, env.Code)
	_, env = serve(t, r, http.MethodPost, "/api/v1/users/2/trial", nil, nil)
	require.Equal(t, response.APIResponseCodeConflict, env.Code)

	_, env = serve(t, r, http.MethodPost, "/api/v1/users/1/subscriptions/s-1/link", nil, nil)
	require.Equal(t, response.APIResponseCodeOK, env.Code)
	_, env = serve(t, r, http.MethodPost, "/api/v1/users/1/subscriptions/s-2/link", nil, nil)
	require.Equal(t, response.APIResponseCodeNotFound, env.Code)
}

func TestHealthz(t *testing.T) {
	r := newRouter()
	RegisterHealthRoutes(r)
	w, env := serve(t, r, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"status":"ok"}`, string(env.Data))
}
