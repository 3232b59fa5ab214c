package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

type contextKey string

const tokenKey contextKey = "authBearerToken"

// GetToken retrieves the forwarded bearer token from context.
func GetToken(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	if value, ok := ctx.Value(tokenKey).(string); ok && value != "" {
		return value, true
	}
	return "", false
}

// WithToken stores token in ctx.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey, token)
}

// BearerMiddleware requires a bearer token and stores it for forwarding to the
// classification API. Signatures are not checked here; the API owns that.
func BearerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := ExtractBearerToken(c.Request.Header.Get("Authorization"))
		if err != nil {
			unauthorized(c, err.Error())
			return
		}
		if err := Preflight(token, time.Now()); err != nil {
			unauthorized(c, "token expired")
			return
		}

		c.Request = c.Request.WithContext(WithToken(c.Request.Context(), token))
		c.Set(string(tokenKey), token)
		c.Next()
	}
}

// ExtractBearerToken parses an Authorization header value.
func ExtractBearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header required")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("token missing")
	}
	return token, nil
}

func unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": message})
}
