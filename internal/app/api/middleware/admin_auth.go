package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/fatflowers/tunnelbot/pkg/config"
	"github.com/fatflowers/tunnelbot/pkg/logctx"
	"github.com/fatflowers/tunnelbot/pkg/response"
)

var (
	ErrMissingToken = errors.New("missing_bearer_token")
	ErrInvalidToken = errors.New("invalid_token")
	ErrNotAdmin     = errors.New("not_admin")
)

// ParseAdminToken validates an HS256 token and returns the admin id from its subject.
func ParseAdminToken(cfg config.AdminConfig, raw string) (int64, error) {
	if cfg.JWTSecret == "" {
		return 0, ErrInvalidToken
	}
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return []byte(cfg.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return 0, errors.Join(ErrInvalidToken, err)
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return 0, ErrInvalidToken
	}
	if !cfg.IsAdmin(id) {
		return 0, ErrNotAdmin
	}
	return id, nil
}

// AdminAuthMiddleware admits requests carrying a bearer token issued to one of admin.ids.
// The admin id is stored under user_id for handlers and logs.
func AdminAuthMiddleware(cfg *config.Config, base *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.ErrorT[any](response.APIResponseCodeUnauthorized, ErrMissingToken.Error()))
			return
		}
		id, err := ParseAdminToken(cfg.Admin, strings.TrimSpace(raw))
		if errors.Is(err, ErrNotAdmin) {
			c.AbortWithStatusJSON(http.StatusForbidden, response.ErrorT[any](response.APIResponseCodeForbidden, err.Error()))
			return
		}
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.ErrorT[any](response.APIResponseCodeUnauthorized, ErrInvalidToken.Error()))
			return
		}

		c.Set(string(logctx.UserIDKey), id)
		ctx := context.WithValue(c.Request.Context(), logctx.UserIDKey, id)
		ctx, l := logctx.WithFields(ctx, base, "admin_id", id)
		c.Set(string(logctx.LoggerKey), l)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
