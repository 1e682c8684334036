package handlers

import (
	"github.com/fatflowers/tunnelbot/internal/app/service/statistics"
	"github.com/fatflowers/tunnelbot/internal/models"
	"github.com/fatflowers/tunnelbot/pkg/response"
)

// RespOK is a generic OK envelope for endpoints returning no specific data.
type RespOK struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    interface{}              `json:"data"`
}

type RespJobAccepted struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    JobAccepted              `json:"data"`
}

type RespWebhookAccepted struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    webhookAccepted          `json:"data"`
}

type RespListJobs struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    ListJobsResponse         `json:"data"`
}

type RespCheckout struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    CheckoutResponse         `json:"data"`
}

type RespPaymentIntent struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    models.PaymentIntent     `json:"data"`
}

type RespCompletePayment struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    CompletePaymentResponse  `json:"data"`
}

type RespSubscriptions struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    []models.Subscription    `json:"data"`
}

type RespStatistics struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    statistics.Response      `json:"data"`
}
