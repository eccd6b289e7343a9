package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/sentinel/pkg/dto"
)

const (
	headerName = "X-API-Key"
	// browsers cannot set headers on a WebSocket upgrade
	queryName = "api_key"
)

// APIKeyMiddleware checks the X-API-Key header, or the api_key query
// parameter on WebSocket upgrades. An empty apiKey disables the check.
func APIKeyMiddleware(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey == "" {
			c.Next()
			return
		}

		provided := c.GetHeader(headerName)
		if provided == "" && c.IsWebsocket() {
			provided = c.Query(queryName)
		}
		if provided == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, dto.ErrorResponse{Error: "missing API key", Code: "UNAUTHORIZED"})
			return
		}

		if subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, dto.ErrorResponse{Error: "invalid API key", Code: "FORBIDDEN"})
			return
		}

		c.Next()
	}
}
