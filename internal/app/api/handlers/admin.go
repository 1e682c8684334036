package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fatflowers/tunnelbot/internal/app/service/jobs"
	"github.com/fatflowers/tunnelbot/internal/app/service/outbox"
	"github.com/fatflowers/tunnelbot/internal/app/service/statistics"
	"github.com/fatflowers/tunnelbot/internal/models"
	"github.com/fatflowers/tunnelbot/pkg/clock"
	"github.com/fatflowers/tunnelbot/pkg/logctx"
	"github.com/fatflowers/tunnelbot/pkg/response"
	"github.com/fatflowers/tunnelbot/pkg/types"
)

type JobStore interface {
	Enqueue(ctx context.Context, jobType types.JobType, payload any, key string) (*models.Job, error)
	List(ctx context.Context, f outbox.ListFilter) ([]models.Job, int64, error)
	Retry(ctx context.Context, id string) (*models.Job, error)
}

type Granter interface {
	GrantAccess(ctx context.Context, userID int64, planCode, locationCode string, days int, operatorID string) (*models.Job, error)
}

type SupportReplier interface {
	QueueSupportReply(ctx context.Context, userID int64, ticketID, messageID, text string) (*models.Job, error)
}

type StatisticsService interface {
	Get(ctx context.Context, req *statistics.Request) (*statistics.Response, error)
}

type ListJobsResponse struct {
	Items []models.Job `json:"items"`
	Total int64        `json:"total"`
}

type GrantRequest struct {
	UserID       int64  `json:"user_id" binding:"required,gt=0"`
	PlanCode     string `json:"plan_code" binding:"required"`
	LocationCode string `json:"location_code" binding:"required"`
	Days         int    `json:"days" binding:"required,gt=0"`
}

type SupportReplyRequest struct {
	UserID    int64  `json:"user_id" binding:"required,gt=0"`
	TicketID  string `json:"ticket_id" binding:"required"`
	MessageID string `json:"message_id" binding:"required"`
	Text      string `json:"text"`
}

func adminID(c *gin.Context) string {
	if v, ok := c.Get(string(logctx.UserIDKey)); ok {
		return fmt.Sprint(v)
	}
	return ""
}

// AdminJobKey is the idempotency key of an operator-triggered job: one per type per UTC day.
func AdminJobKey(jobType types.JobType, now time.Time) string {
	return fmt.Sprintf("%s:%s", jobType, now.UTC().Format(time.DateOnly))
}

// @Summary      Enqueue admin job
// @Description  Enqueues sync_servers, sync_users or reconcile. Repeated calls on the same day return the same job.
// @Tags         Admin
// @Produce      json
// @Security     BearerAuth
// @Param        type path string true "Job type" Enums(sync_servers, sync_users, reconcile)
// @Success      200  {object}  handlers.RespJobAccepted
// @Router       /api/v1/admin/jobs/{type} [post]
func ApiEnqueueAdminJob(store JobStore, clk clock.Clock, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobType := types.JobType(c.Param("type"))
		if !jobType.IsAdmin() {
			badRequest(c, "unsupported job type")
			return
		}
		var payload any = jobs.SyncPayload{Actor: adminID(c), Source: "admin"}
		if jobType == types.JobTypeReconcile {
			payload = jobs.ReconcilePayload{Actor: adminID(c), Source: "admin"}
		}
		job, err := store.Enqueue(c.Request.Context(), jobType, payload, AdminJobKey(jobType, clk.Now()))
		if err != nil {
			writeError(c, log, "admin_enqueue_error", err)
			return
		}
		logctx.FromGin(c, log).Infow("admin_job_enqueued", "job_type", jobType, "job_id", job.ID)
		c.JSON(http.StatusOK, response.OKT(accepted(job)))
	}
}

// @Summary      List jobs
// @Tags         Admin
// @Produce      json
// @Security     BearerAuth
// @Param        status query string false "pending, running, done or failed"
// @Param        job_type query string false "Job type"
// @Param        limit query int false "Page size, default 100"
// @Param        offset query int false "Offset"
// @Success      200  {object}  handlers.RespListJobs
// @Router       /api/v1/admin/jobs [get]
func ApiListJobs(store JobStore, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		f := outbox.ListFilter{
			Status:  types.JobStatus(c.Query("status")),
			JobType: types.JobType(c.Query("job_type")),
		}
		for name, dst := range map[string]*int{"limit": &f.Limit, "offset": &f.Offset} {
			if v := c.Query(name); v != "" {
				n, err := strconv.Atoi(v)
				if err != nil || n < 0 {
					badRequest(c, "invalid "+name)
					return
				}
				*dst = n
			}
		}
		items, total, err := store.List(c.Request.Context(), f)
		if err != nil {
			writeError(c, log, "list_jobs_error", err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(ListJobsResponse{Items: items, Total: total}))
	}
}

// @Summary      Retry failed job
// @Description  Puts a failed job back in the queue with a fresh retry budget.
// @Tags         Admin
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "Job id"
// @Success      200  {object}  handlers.RespJobAccepted
// @Router       /api/v1/admin/jobs/{id}/retry [post]
func ApiRetryJob(store JobStore, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// the segment shares the :type wildcard with ApiEnqueueAdminJob
		job, err := store.Retry(c.Request.Context(), c.Param("type"))
		if err != nil {
			writeError(c, log, "retry_job_error", err)
			return
		}
		logctx.FromGin(c, log).Infow("admin_job_retried", "job_id", job.ID, "job_type", job.JobType)
		c.JSON(http.StatusOK, response.OKT(accepted(job)))
	}
}

// @Summary      Grant access
// @Description  Provisions days for a user without a payment. One grant per user, plan and location per day.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request body GrantRequest true "Grant request"
// @Success      200  {object}  handlers.RespJobAccepted
// @Router       /api/v1/admin/grants [post]
func ApiGrantAccess(svc Granter, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req GrantRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		job, err := svc.GrantAccess(c.Request.Context(), req.UserID, req.PlanCode, req.LocationCode, req.Days, adminID(c))
		if err != nil {
			writeError(c, log, "grant_access_error", err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(accepted(job)))
	}
}

// @Summary      Send support reply
// @Description  Queues a support answer for delivery to the user, once per ticket message.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request body SupportReplyRequest true "Support reply"
// @Success      200  {object}  handlers.RespJobAccepted
// @Router       /api/v1/admin/support/replies [post]
func ApiSupportReply(svc SupportReplier, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SupportReplyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		job, err := svc.QueueSupportReply(c.Request.Context(), req.UserID, req.TicketID, req.MessageID, req.Text)
		if err != nil {
			writeError(c, log, "support_reply_error", err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(accepted(job)))
	}
}

// @Summary      Get statistics
// @Description  Queue health, subscription and payment series for the operator dashboard.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request body statistics.Request true "Statistic request parameters"
// @Success      200  {object}  handlers.RespStatistics
// @Router       /api/v1/admin/statistics [post]
func ApiGetStatistics(svc StatisticsService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req statistics.Request
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		res, err := svc.Get(c.Request.Context(), &req)
		if err != nil {
			writeError(c, log, "statistics_error", err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

type AdminDeps struct {
	Jobs       JobStore
	Grants     Granter
	Support    SupportReplier
	Statistics StatisticsService
	Clock      clock.Clock
}

// RegisterAdminRoutes mounts the operator API. Callers attach AdminAuthMiddleware to r.
func RegisterAdminRoutes(r gin.IRouter, d AdminDeps, log *zap.SugaredLogger) {
	r.GET("/jobs", ApiListJobs(d.Jobs, log))
	r.POST("/jobs/:type", ApiEnqueueAdminJob(d.Jobs, d.Clock, log))
	r.POST("/jobs/:type/retry", ApiRetryJob(d.Jobs, log))
	r.POST("/grants", ApiGrantAccess(d.Grants, log))
	r.POST("/support/replies", ApiSupportReply(d.Support, log))
	r.POST("/statistics", ApiGetStatistics(d.Statistics, log))
}
