package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fatflowers/tunnelbot/internal/models"
	"github.com/fatflowers/tunnelbot/pkg/response"
)

type SubscriptionService interface {
	ListForUser(ctx context.Context, userID int64) ([]models.Subscription, error)
	StartTrial(ctx context.Context, userID int64) (*models.Job, error)
}

type DeliveryLinkRequester interface {
	RequestDeliveryLink(ctx context.Context, userID int64, subscriptionID string) (*models.Job, error)
}

type JobAccepted struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

func accepted(job *models.Job) JobAccepted {
	return JobAccepted{JobID: job.ID, Status: string(job.Status)}
}

// @Summary      List subscriptions
// @Tags         User
// @Produce      json
// @Param        user_id path int true "Telegram user id"
// @Success      200  {object}  handlers.RespSubscriptions
// @Router       /api/v1/users/{user_id}/subscriptions [get]
func ApiListSubscriptions(svc SubscriptionService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := int64Param(c, "user_id")
		if !ok {
			return
		}
		subs, err := svc.ListForUser(c.Request.Context(), userID)
		if err != nil {
			writeError(c, log, "list_subscriptions_error", err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(subs))
	}
}

// @Summary      Start trial
// @Description  Enqueues the one-time trial provisioning for the user.
// @Tags         User
// @Produce      json
// @Param        user_id path int true "Telegram user id"
// @Success      200  {object}  handlers.RespJobAccepted
// @Router       /api/v1/users/{user_id}/trial [post]
func ApiStartTrial(svc SubscriptionService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := int64Param(c, "user_id")
		if !ok {
			return
		}
		job, err := svc.StartTrial(c.Request.Context(), userID)
		if err != nil {
			writeError(c, log, "start_trial_error", err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(accepted(job)))
	}
}

// @Summary      Request connection link
// @Description  Enqueues delivery of the connection link for one of the user's subscriptions.
// @Tags         User
// @Produce      json
// @Param        user_id path int true "Telegram user id"
// @Param        id path string true "Subscription id"
// @Success      200  {object}  handlers.RespJobAccepted
// @Router       /api/v1/users/{user_id}/subscriptions/{id}/link [post]
func ApiRequestDeliveryLink(svc DeliveryLinkRequester, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := int64Param(c, "user_id")
		if !ok {
			return
		}
		job, err := svc.RequestDeliveryLink(c.Request.Context(), userID, c.Param("id"))
		if err != nil {
			writeError(c, log, "delivery_link_error", err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(accepted(job)))
	}
}

func RegisterUserRoutes(r gin.IRouter, subs SubscriptionService, links DeliveryLinkRequester, log *zap.SugaredLogger) {
	r.GET("/:user_id/subscriptions", ApiListSubscriptions(subs, log))
	r.POST("/:user_id/trial", ApiStartTrial(subs, log))
	r.POST("/:user_id/subscriptions/:id/link", ApiRequestDeliveryLink(links, log))
}
