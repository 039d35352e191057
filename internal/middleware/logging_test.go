package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keygate-io/keygate/internal/observability"
)

func TestRequestIDGenerated(t *testing.T) {
	t.Parallel()

	engine := gin.New()
	engine.Use(RequestID())

	var got string
	engine.GET("/v1/whoami", func(c *gin.Context) {
		got = GetRequestID(c)
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest("GET", "/v1/whoami", nil))

	require.NotEmpty(t, got)
	_, err := uuid.Parse(got)
	assert.NoError(t, err)
	assert.Equal(t, got, w.Header().Get(RequestIDHeader))
}

func TestRequestIDPropagated(t *testing.T) {
	t.Parallel()

	engine := gin.New()
	engine.Use(RequestID())

	var fromCtx string
	engine.GET("/v1/whoami", func(c *gin.Context) {
		fromCtx = observability.RequestIDFromContext(c.Request.Context())
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/v1/whoami", nil)
	r.Header.Set(RequestIDHeader, "req-123")
	engine.ServeHTTP(w, r)

	assert.Equal(t, "req-123", fromCtx)
	assert.Equal(t, "req-123", w.Header().Get(RequestIDHeader))
}

func TestLoggingMiddleware(t *testing.T) {
	t.Parallel()

	engine := gin.New()
	engine.Use(Logging(observability.NopLogger()))

	engine.GET("/v1/whoami", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	engine.GET("/healthz", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	for _, path := range []string{"/v1/whoami", "/healthz"} {
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest("GET", path, nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestIsHealthCheckPath(t *testing.T) {
	t.Parallel()

	assert.True(t, isHealthCheckPath("/healthz"))
	assert.True(t, isHealthCheckPath("/health"))
	assert.True(t, isHealthCheckPath("/ready"))
	assert.True(t, isHealthCheckPath("/readyz"))
	assert.False(t, isHealthCheckPath("/v1/whoami"))
}
