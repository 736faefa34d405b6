package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"invoicehub/internal/apperr"

	"github.com/gin-gonic/gin"
)

// AbortWithError writes err as {"error": message} using its apperr status.
// Errors outside the taxonomy are logged and reported as "internal error".
func AbortWithError(c *gin.Context, logger *slog.Logger, err error) {
	status := apperr.HTTPStatus(err)
	if status == http.StatusInternalServerError && logger != nil {
		logger.Error("request failed",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.String("error", err.Error()))
	}
	body := gin.H{"error": apperr.Message(err)}
	if wait := apperr.RetryAfter(err); wait > 0 {
		secs := int(math.Ceil(wait.Seconds()))
		c.Header("Retry-After", strconv.Itoa(secs))
		body["retry_after"] = secs
	}
	c.AbortWithStatusJSON(status, body)
}
