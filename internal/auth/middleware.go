package auth

import (
	"github.com/gin-gonic/gin"

	"github.com/keygate-io/keygate/internal/auth/apikey"
	"github.com/keygate-io/keygate/internal/middleware"
	"github.com/keygate-io/keygate/internal/observability"
)

// MiddlewareOption is a functional option for the auth middleware.
type MiddlewareOption func(*authMiddleware)

// WithMiddlewareLogger sets the logger for the middleware.
func WithMiddlewareLogger(logger observability.Logger) MiddlewareOption {
	return func(m *authMiddleware) {
		m.logger = logger
	}
}

type authMiddleware struct {
	validator apikey.Validator
	extractor apikey.Extractor
	logger    observability.Logger
}

// Middleware returns the gin middleware that authenticates every
// request. On success the validated Context is stored in the gin
// context; on failure the structured error body is written and the
// chain aborted.
func Middleware(validator apikey.Validator, extractor apikey.Extractor, opts ...MiddlewareOption) gin.HandlerFunc {
	m := &authMiddleware{
		validator: validator,
		extractor: extractor,
		logger:    observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m.handle
}

// handle authenticates a single request.
func (m *authMiddleware) handle(c *gin.Context) {
	raw, err := m.extractor.Extract(c.Request)
	if err != nil {
		AbortWithRejection(c, apikey.NewRejection(
			apikey.CodeMissingCredential,
			"API key is required",
		))
		return
	}

	origin := middleware.GetClientIP(c)

	result, err := m.validator.Validate(c.Request.Context(), raw, origin)
	if err != nil {
		if rejection, ok := apikey.AsRejection(err); ok {
			m.logger.WithContext(c.Request.Context()).Warn("request rejected",
				observability.String("code", string(rejection.Code)),
				observability.String("path", c.Request.URL.Path),
				observability.String("origin", origin),
			)
			AbortWithRejection(c, rejection)
			return
		}

		// Infrastructure failure: recoverable at the caller, never a
		// security rejection. The store error is logged, not echoed.
		m.logger.WithContext(c.Request.Context()).Error("authentication infrastructure failure",
			observability.String("path", c.Request.URL.Path),
			observability.Error(err),
		)
		AbortWithRejection(c, apikey.NewRejection(
			apikey.CodeInternalError,
			"authentication is temporarily unavailable",
		))
		return
	}

	c.Set(ContextKey, NewContext(result))
	c.Next()
}
