// Package gateway assembles the gin engine fronting the retry driver: the
// Gemini-shaped upstream proxy route, operator endpoints, and the
// health/readiness/metrics surface, grounded on the teacher's
// internal/server builder/engine_helpers middleware-chain idiom, slimmed
// since protocol translation between provider wire formats is out of scope
// (§1 Non-goals).
package gateway

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"credpool-gateway/internal/breaker"
	"credpool-gateway/internal/coordination"
	apierrors "credpool-gateway/internal/errors"
	"credpool-gateway/internal/middleware"
	"credpool-gateway/internal/retrydriver"
	"credpool-gateway/internal/scheduler"
)

// Dependencies are the services the gateway's routes drive.
type Dependencies struct {
	Scheduler      *scheduler.Scheduler
	Breaker        *breaker.Breaker
	RetryDriver    *retrydriver.Driver
	Store          *coordination.Store
	CatalogPing    func(ctx context.Context) error
	CatalogUpsert  func(ctx context.Context, key string) error
	OperatorToken  string
	MetricsEnabled bool
}

// Build constructs the gateway's gin engine, grounded on the teacher's
// applyStandardEngineSettings ordering: panic recovery first, then request
// ID, then metrics, then request logging.
func Build(deps Dependencies) *gin.Engine {
	engine := gin.New()
	_ = engine.SetTrustedProxies([]string{})

	engine.Use(middleware.Recovery(), middleware.RequestID(), middleware.Metrics(), middleware.RequestLogger())

	engine.GET("/healthz", healthz)
	engine.GET("/readyz", readyz(deps))
	if deps.MetricsEnabled {
		engine.GET("/metrics", middleware.MetricsHandler)
	}

	proxy := engine.Group("/v1beta/models")
	proxy.Use(middleware.CircuitBreaker(func(c *gin.Context) error {
		return deps.Breaker.Allow(c.Request.Context())
	}))
	// The Gemini-style wire shape fuses the model name and a
	// colon-prefixed action into one path segment (e.g.
	// "gemini-1.5-pro:generateContent"); gin's router can't mix a literal
	// colon with a path param within one segment, so the whole segment is
	// captured as a wildcard and split on ":" in the handler instead.
	proxy.POST("/*modelAction", generateContent(deps))

	admin := engine.Group("/admin")
	admin.Use(middleware.OperatorAuth(deps.OperatorToken))
	admin.GET("/credentials", adminStatus(deps))
	admin.POST("/credentials", adminAddCredential(deps))
	admin.POST("/credentials/:key/reset", adminReset(deps))

	return engine
}

func healthz(c *gin.Context) {
	c.Status(http.StatusOK)
}

func readyz(deps Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if err := deps.Store.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false, "reason": "coordination store unreachable"})
			return
		}
		if deps.CatalogPing != nil {
			if err := deps.CatalogPing(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false, "reason": "catalog unreachable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"ready": true})
	}
}

// generateContent forwards the request body opaquely to the retry driver
// per §1's Non-goals (wire-level JSON schema is never parsed here) and
// writes back the upstream status/body unchanged on success.
func generateContent(deps Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		model, action, ok := splitModelAction(c.Param("modelAction"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unrecognized model:action path"})
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
			return
		}

		resp, err := deps.RetryDriver.Do(c.Request.Context(), model, action, body)
		if err != nil {
			writeError(c, err)
			return
		}
		c.Data(resp.Status, "application/json", resp.Body)
	}
}

// splitModelAction parses gin's leading-slash wildcard capture
// ("/gemini-1.5-pro:generateContent") into its model and action parts.
func splitModelAction(raw string) (model, action string, ok bool) {
	raw = strings.TrimPrefix(raw, "/")
	idx := strings.LastIndex(raw, ":")
	if idx <= 0 || idx == len(raw)-1 {
		return "", "", false
	}
	return raw[:idx], raw[idx+1:], true
}

func adminStatus(deps Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		status, err := deps.Scheduler.Status(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, status)
	}
}

// adminAddCredential provisions a new credential into the catalog and
// immediately seeds it into HAS_TOKENS, grounded on the teacher's
// internal/handlers/management admin credential-management route group
// (e.g. its POST /credentials/:id/enable shape) scoped down to this
// gateway's single-service catalog.
func adminAddCredential(deps Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Key string `json:"key" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "request body must be {\"key\": \"...\"}"})
			return
		}

		ctx := c.Request.Context()
		if deps.CatalogUpsert != nil {
			if err := deps.CatalogUpsert(ctx, req.Key); err != nil {
				writeError(c, err)
				return
			}
		}
		if err := deps.Scheduler.Seed(ctx, []string{req.Key}, ""); err != nil {
			writeError(c, err)
			return
		}
		c.Header("X-Operation-ID", uuid.NewString())
		c.Status(http.StatusCreated)
	}
}

func adminReset(deps Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.Param("key")
		if err := deps.Scheduler.Reset(c.Request.Context(), key); err != nil {
			writeError(c, err)
			return
		}
		// An operator-facing operation ID, grounded on the teacher's
		// uuid.NewString() token-generation pattern, so a reset can be
		// correlated against logs after the fact.
		c.Header("X-Operation-ID", uuid.NewString())
		c.Status(http.StatusNoContent)
	}
}

func writeError(c *gin.Context, err error) {
	if ctxErr := c.Request.Context().Err(); ctxErr != nil {
		c.Status(http.StatusRequestTimeout)
		return
	}

	if clientErr, ok := err.(*apierrors.ClientError); ok {
		c.Data(clientErr.Status, "application/json", []byte(clientErr.Body))
		return
	}

	apiErr := apierrors.MapSchedulerError(err)
	body, _ := apiErr.ToJSON()
	c.Data(apiErr.HTTPStatus, "application/json", body)
}
