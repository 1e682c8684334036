package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fatflowers/tunnelbot/internal/app/service/webhook"
	"github.com/fatflowers/tunnelbot/internal/models"
	"github.com/fatflowers/tunnelbot/pkg/logctx"
	"github.com/fatflowers/tunnelbot/pkg/response"
)

const (
	HeaderSignature = "X-Signature"
	maxWebhookBody  = 1 << 20
)

type WebhookIngester interface {
	Verify(signature string) error
	Ingest(ctx context.Context, body []byte) (*models.Job, error)
}

type webhookAccepted struct {
	Status string `json:"status"`
	JobID  string `json:"job_id"`
}

// @Summary      Panel webhook
// @Description  Accepts a panel event and enqueues the matching sync or reconcile job. Replays are absorbed.
// @Tags         Webhook
// @Accept       json
// @Produce      json
// @Param        X-Signature header string true "Shared webhook secret"
// @Param        payload body object true "Panel event"
// @Success      200  {object}  handlers.RespWebhookAccepted
// @Failure      403  {object}  handlers.RespOK
// @Failure      404  {object}  handlers.RespOK
// @Router       /webhooks/remnawave [post]
func ApiPanelWebhook(svc WebhookIngester, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := svc.Verify(c.GetHeader(HeaderSignature)); err != nil {
			if errors.Is(err, webhook.ErrDisabled) {
				c.JSON(http.StatusNotFound, response.ErrorT[any](response.APIResponseCodeNotFound, err.Error()))
				return
			}
			logctx.FromGin(c, log).Warnw("webhook_rejected", "error", err.Error())
			c.JSON(http.StatusForbidden, response.ErrorT[any](response.APIResponseCodeForbidden, err.Error()))
			return
		}
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
		if err != nil {
			c.JSON(http.StatusBadRequest, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		job, err := svc.Ingest(c.Request.Context(), body)
		if errors.Is(err, webhook.ErrInvalidPayload) {
			c.JSON(http.StatusBadRequest, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		if err != nil {
			logctx.FromGin(c, log).Errorw("webhook_enqueue_error", "error", err.Error())
			c.JSON(http.StatusInternalServerError, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(webhookAccepted{Status: "accepted", JobID: job.ID}))
	}
}

// RegisterWebhookRoutes mounts the panel webhook at path.
func RegisterWebhookRoutes(r gin.IRouter, path string, svc WebhookIngester, log *zap.SugaredLogger) {
	r.POST(path, ApiPanelWebhook(svc, log))
}
