package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestHandlerRecordsRouteTemplate(t *testing.T) {
	r := gin.New()
	r.Use(Handler())
	r.GET("/checks/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	before := testutil.ToFloat64(HTTPRequests.WithLabelValues("/checks/:id", http.MethodGet, "204"))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/checks/example_check", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	after := testutil.ToFloat64(HTTPRequests.WithLabelValues("/checks/:id", http.MethodGet, "204"))
	assert.Equal(t, before+1, after)
}

func TestHandlerCollapsesUnmatchedRoutes(t *testing.T) {
	r := gin.New()
	r.Use(Handler())

	before := testutil.ToFloat64(HTTPRequests.WithLabelValues("unmatched", http.MethodGet, "404"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope/123", nil))
	after := testutil.ToFloat64(HTTPRequests.WithLabelValues("unmatched", http.MethodGet, "404"))

	assert.Equal(t, before+1, after)
}

func TestExposerServesCollectors(t *testing.T) {
	CheckExecutions.WithLabelValues("example_check", "Success").Inc()

	r := gin.New()
	r.GET("/metrics", Exposer())
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "datadash_check_executions_total"))
}
