package observability

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics(t *testing.T) {
	t.Run("creates and registers all metrics", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		metrics := NewMetrics(registry)
		require.NotNil(t, metrics)

		assert.NotNil(t, metrics.PluginEventsTotal)
		assert.NotNil(t, metrics.ActivePlugins)
		assert.NotNil(t, metrics.ModificationStamp)
		assert.NotNil(t, metrics.ServiceLoadsTotal)
		assert.NotNil(t, metrics.ServiceLoadErrorsTotal)
		assert.NotNil(t, metrics.SnapshotCacheHitsTotal)
		assert.NotNil(t, metrics.SnapshotCacheMissesTotal)
		assert.NotNil(t, metrics.MigrationRunsTotal)
		assert.NotNil(t, metrics.MigrationDuration)
		assert.NotNil(t, metrics.FoldersMigratedTotal)
		assert.NotNil(t, metrics.MigrationFallbacksTotal)
		assert.NotNil(t, metrics.ModuleCommitsTotal)
		assert.NotNil(t, metrics.StampPublishTotal)
	})

	t.Run("panics on duplicate registration", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		NewMetrics(registry)

		assert.Panics(t, func() {
			NewMetrics(registry)
		})
	})
}

func TestMetrics_Counters(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	metrics.PluginEventsTotal.WithLabelValues("build", "added", "applied").Inc()
	metrics.PluginEventsTotal.WithLabelValues("build", "added", "applied").Inc()
	metrics.FoldersMigratedTotal.WithLabelValues("demote").Add(3)
	metrics.ModificationStamp.Set(4)

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.PluginEventsTotal.WithLabelValues("build", "added", "applied")))
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.FoldersMigratedTotal.WithLabelValues("demote")))
	assert.Equal(t, 4.0, testutil.ToFloat64(metrics.ModificationStamp))
}

func TestMetricsHandler(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	metrics.ActivePlugins.Set(2)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	MetricsHandler(registry).ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "sourceroots_active_plugins 2"))
}
