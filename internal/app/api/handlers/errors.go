package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fatflowers/tunnelbot/internal/app/service/outbox"
	"github.com/fatflowers/tunnelbot/internal/app/service/payment"
	"github.com/fatflowers/tunnelbot/internal/app/service/subscription"
	"github.com/fatflowers/tunnelbot/pkg/logctx"
	"github.com/fatflowers/tunnelbot/pkg/response"
)

var (
	notFoundErrors = []error{
		outbox.ErrJobNotFound,
		payment.ErrIntentNotFound,
		payment.ErrPlanNotFound,
		payment.ErrLocationUnavailable,
		payment.ErrPromoNotFound,
		subscription.ErrSubscriptionNotFound,
		subscription.ErrUserNotFound,
	}
	conflictErrors = []error{
		outbox.ErrJobNotRetrying,
		payment.ErrIntentExpired,
		payment.ErrInvalidTransition,
		payment.ErrPromoAlreadyRedeemed,
		payment.ErrPromoExhausted,
		subscription.ErrTrialAlreadyUsed,
	}
	badRequestErrors = []error{
		outbox.ErrEmptyKey,
		payment.ErrEmptyProviderPayment,
		subscription.ErrInvalidGrant,
	}
)

func codeFor(err error) response.APIResponseCode {
	for _, set := range []struct {
		errs []error
		code response.APIResponseCode
	}{
		{notFoundErrors, response.APIResponseCodeNotFound},
		{conflictErrors, response.APIResponseCodeConflict},
		{badRequestErrors, response.APIResponseCodeBadRequest},
	} {
		for _, e := range set.errs {
			if errors.Is(err, e) {
				return set.code
			}
		}
	}
	return response.APIResponseCodeError
}

// writeError answers with the envelope code matching err. Unknown errors are logged.
func writeError(c *gin.Context, log *zap.SugaredLogger, event string, err error) {
	code := codeFor(err)
	if code == response.APIResponseCodeError {
		logctx.FromGin(c, log).Errorw(event, "error", err.Error())
	}
	c.JSON(http.StatusOK, response.ErrorT[any](code, err.Error()))
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, msg))
}

func int64Param(c *gin.Context, name string) (int64, bool) {
	v, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || v <= 0 {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return v, true
}
