package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerExposesCollectors(t *testing.T) {
	CacheHits.WithLabelValues("structural").Inc()
	CacheMisses.Inc()
	MapSize.Set(3)
	Compiles.Inc()
	CompileSeconds.Observe(0.01)
	Executions.WithLabelValues("success").Inc()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "offload_runner_cache_hits_total")
	assert.Contains(t, body, "offload_runner_cache_misses_total")
	assert.Contains(t, body, "offload_runner_map_entries")
	assert.Contains(t, body, "offload_backend_compiles_total")
	assert.Contains(t, body, "offload_backend_compile_seconds")
	assert.Contains(t, body, "offload_runner_executions_total")
}
