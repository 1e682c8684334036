package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fatflowers/tunnelbot/internal/app/service/payment"
	"github.com/fatflowers/tunnelbot/internal/models"
	"github.com/fatflowers/tunnelbot/pkg/response"
)

type PaymentService interface {
	Checkout(ctx context.Context, userID int64, planCode, locationCode, promoCode string) (*models.PaymentIntent, *payment.Quote, error)
	MarkInvoiced(ctx context.Context, intentID string) (*models.PaymentIntent, error)
	CompletePayment(ctx context.Context, intentID, providerPaymentID string, raw json.RawMessage) (*models.Payment, *models.Job, error)
}

type CheckoutRequest struct {
	UserID       int64  `json:"user_id" binding:"required,gt=0"`
	PlanCode     string `json:"plan_code" binding:"required"`
	LocationCode string `json:"location_code" binding:"required"`
	PromoCode    string `json:"promo_code"`
}

type CheckoutResponse struct {
	Intent *models.PaymentIntent `json:"intent"`
	Quote  *payment.Quote        `json:"quote"`
}

type CompletePaymentRequest struct {
	ProviderPaymentID string          `json:"provider_payment_id" binding:"required"`
	Raw               json.RawMessage `json:"raw" swaggertype:"object"`
}

type CompletePaymentResponse struct {
	Payment *models.Payment `json:"payment"`
	JobID   string          `json:"job_id"`
}

// @Summary      Checkout
// @Description  Prices the plan with an optional promo code and opens a payment intent.
// @Tags         Payment
// @Accept       json
// @Produce      json
// @Param        request body CheckoutRequest true "Checkout request"
// @Success      200  {object}  handlers.RespCheckout
// @Router       /api/v1/payments/checkout [post]
func ApiCheckout(svc PaymentService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CheckoutRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		intent, quote, err := svc.Checkout(c.Request.Context(), req.UserID, req.PlanCode, req.LocationCode, req.PromoCode)
		if err != nil {
			writeError(c, log, "checkout_error", err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(CheckoutResponse{Intent: intent, Quote: quote}))
	}
}

// @Summary      Mark intent invoiced
// @Description  Records that the invoice for the intent was sent to the user.
// @Tags         Payment
// @Produce      json
// @Param        id path string true "Payment intent id"
// @Success      200  {object}  handlers.RespPaymentIntent
// @Router       /api/v1/payments/{id}/invoiced [post]
func ApiMarkInvoiced(svc PaymentService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		intent, err := svc.MarkInvoiced(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, log, "mark_invoiced_error", err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(intent))
	}
}

// @Summary      Complete payment
// @Description  Records a confirmed provider payment and enqueues provisioning. Duplicate confirmations return the original payment.
// @Tags         Payment
// @Accept       json
// @Produce      json
// @Param        id path string true "Payment intent id"
// @Param        request body CompletePaymentRequest true "Provider confirmation"
// @Success      200  {object}  handlers.RespCompletePayment
// @Router       /api/v1/payments/{id}/complete [post]
func ApiCompletePayment(svc PaymentService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CompletePaymentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		p, job, err := svc.CompletePayment(c.Request.Context(), c.Param("id"), req.ProviderPaymentID, req.Raw)
		if err != nil {
			writeError(c, log, "complete_payment_error", err)
			return
		}
		out := CompletePaymentResponse{Payment: p}
		if job != nil {
			out.JobID = job.ID
		}
		c.JSON(http.StatusOK, response.OKT(out))
	}
}

func RegisterPaymentRoutes(r gin.IRouter, svc PaymentService, log *zap.SugaredLogger) {
	r.POST("/checkout", ApiCheckout(svc, log))
	r.POST("/:id/invoiced", ApiMarkInvoiced(svc, log))
	r.POST("/:id/complete", ApiCompletePayment(svc, log))
}
