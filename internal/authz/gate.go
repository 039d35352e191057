// Package authz provides the per-route permission gate applied after
// authentication has populated the request context.
package authz

import (
	"github.com/gin-gonic/gin"

	"github.com/keygate-io/keygate/internal/auth"
	"github.com/keygate-io/keygate/internal/auth/apikey"
	"github.com/keygate-io/keygate/internal/observability"
)

// Gate issues per-route capability checks. It is stateless and
// composable: stacking multiple RequireCapability middlewares on one
// route gives AND semantics.
type Gate struct {
	logger  observability.Logger
	metrics *Metrics
}

// GateOption is a functional option for the gate.
type GateOption func(*Gate)

// WithGateLogger sets the logger for the gate.
func WithGateLogger(logger observability.Logger) GateOption {
	return func(g *Gate) {
		g.logger = logger
	}
}

// WithGateMetrics sets the metrics for the gate.
func WithGateMetrics(metrics *Metrics) GateOption {
	return func(g *Gate) {
		g.metrics = metrics
	}
}

// NewGate creates a new permission gate.
func NewGate(opts ...GateOption) *Gate {
	g := &Gate{
		logger: observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(g)
	}

	if g.metrics == nil {
		g.metrics = NewMetrics("")
	}

	return g
}

// RequireCapability returns a middleware that admits the request only
// if the authenticated context holds the named capability. Override
// contexts always pass: the bypass tier is a superuser/testing tier.
// The rejection echoes the caller's own permission set for
// diagnosability; never anyone else's.
func (g *Gate) RequireCapability(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authCtx, ok := auth.FromGin(c)
		if !ok {
			// The auth middleware did not run; treat as unauthenticated
			// rather than leaking an internal wiring error.
			g.metrics.RecordDecision(name, "unauthenticated")
			auth.AbortWithRejection(c, apikey.NewRejection(
				apikey.CodeMissingCredential,
				"authentication is required",
			))
			return
		}

		if authCtx.Override {
			g.metrics.RecordDecision(name, "override")
			c.Next()
			return
		}

		if !authCtx.HasPermission(name) {
			g.metrics.RecordDecision(name, "denied")
			g.logger.WithContext(c.Request.Context()).Warn("capability denied",
				observability.String("capability", name),
				observability.String("project_id", authCtx.ProjectID),
				observability.Strings("granted", authCtx.Permissions),
			)

			rejection := apikey.NewRejection(
				apikey.CodeInsufficientPermissions,
				"API key does not hold the required capability",
			)
			rejection.Details = map[string]interface{}{
				"required": name,
				"granted":  grantedOrEmpty(authCtx.Permissions),
			}
			auth.AbortWithRejection(c, rejection)
			return
		}

		g.metrics.RecordDecision(name, "allowed")
		c.Next()
	}
}

// grantedOrEmpty normalizes a nil permission set to an empty list so
// the JSON details are always an array.
func grantedOrEmpty(permissions []string) []string {
	if permissions == nil {
		return []string{}
	}
	return permissions
}
