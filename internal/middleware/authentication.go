package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/monica-infra/deployer/internal/errdef"
)

func NewAuthentication(apiToken string) AuthenticationMiddleware {
	return AuthenticationMiddleware{
		apiToken: apiToken,
	}
}

// AuthenticationMiddleware authenticates requests carrying the configured API token as a bearer
// token. All requests are rejected if no token is configured.
type AuthenticationMiddleware struct {
	apiToken string
}

func (m AuthenticationMiddleware) TokenAuthentication(c *gin.Context) {
	if m.apiToken == "" {
		_ = c.Error(errdef.NewUnauthorized("token authentication is not configured"))
		c.Abort()
		return
	}

	token, ok := bearerToken(c.GetHeader("Authorization"))
	if !ok {
		_ = c.Error(errdef.NewUnauthorized("invalid Authorization header format"))
		c.Abort()
		return
	}

	if subtle.ConstantTimeCompare([]byte(token), []byte(m.apiToken)) != 1 {
		_ = c.Error(errdef.NewUnauthorized("token not valid"))
		c.Abort()
		return
	}

	c.Next()
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", false
	}
	return token, true
}
