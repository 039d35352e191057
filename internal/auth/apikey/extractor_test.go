package apikey

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderExtractor(t *testing.T) {
	t.Parallel()

	extractor := NewHeaderExtractor("X-API-Key")

	r := httptest.NewRequest("GET", "/v1/whoami", nil)
	r.Header.Set("X-API-Key", "  proj_abc_production_x1  ")

	key, err := extractor.Extract(r)
	require.NoError(t, err)
	assert.Equal(t, "proj_abc_production_x1", key)

	empty := httptest.NewRequest("GET", "/v1/whoami", nil)
	_, err = extractor.Extract(empty)
	assert.ErrorIs(t, err, ErrMissingAPIKeyHeader)
}

func TestHeaderExtractorDefaultsHeader(t *testing.T) {
	t.Parallel()

	extractor := NewHeaderExtractor("")

	r := httptest.NewRequest("GET", "/v1/whoami", nil)
	r.Header.Set("X-API-Key", "proj_abc_production_x1")

	key, err := extractor.Extract(r)
	require.NoError(t, err)
	assert.Equal(t, "proj_abc_production_x1", key)
}

func TestQueryExtractor(t *testing.T) {
	t.Parallel()

	extractor := NewQueryExtractor("api_key")

	r := httptest.NewRequest("GET", "/v1/whoami?api_key=proj_abc_production_x1", nil)
	key, err := extractor.Extract(r)
	require.NoError(t, err)
	assert.Equal(t, "proj_abc_production_x1", key)

	empty := httptest.NewRequest("GET", "/v1/whoami", nil)
	_, err = extractor.Extract(empty)
	assert.ErrorIs(t, err, ErrMissingAPIKeyQuery)
}

func TestDefaultExtractorHeaderTakesPrecedence(t *testing.T) {
	t.Parallel()

	extractor := DefaultExtractor("X-API-Key", "api_key")

	r := httptest.NewRequest("GET", "/v1/whoami?api_key=proj_query_production_x1", nil)
	r.Header.Set("X-API-Key", "proj_header_production_x1")

	key, err := extractor.Extract(r)
	require.NoError(t, err)
	assert.Equal(t, "proj_header_production_x1", key)
}

func TestDefaultExtractorFallsBackToQuery(t *testing.T) {
	t.Parallel()

	extractor := DefaultExtractor("X-API-Key", "api_key")

	r := httptest.NewRequest("GET", "/v1/whoami?api_key=proj_query_production_x1", nil)
	key, err := extractor.Extract(r)
	require.NoError(t, err)
	assert.Equal(t, "proj_query_production_x1", key)
}

func TestDefaultExtractorNothingPresented(t *testing.T) {
	t.Parallel()

	extractor := DefaultExtractor("X-API-Key", "api_key")

	r := httptest.NewRequest("GET", "/v1/whoami", nil)
	_, err := extractor.Extract(r)
	assert.Error(t, err)
}
