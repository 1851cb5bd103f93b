package middleware

import (
	apierrors "credpool-gateway/internal/errors"
	"github.com/gin-gonic/gin"
)

// CircuitBreaker gates every upstream-proxy route behind the global
// circuit breaker (§4.8), rejecting with 503 before the retry driver is
// ever invoked once the breaker is tripped.
func CircuitBreaker(allow func(c *gin.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := allow(c); err != nil {
			apiErr := apierrors.MapSchedulerError(err)
			body, _ := apiErr.ToJSON()
			c.Data(apiErr.HTTPStatus, "application/json", body)
			c.Abort()
			return
		}
		c.Next()
	}
}
