package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Plugin registry metrics
	PluginEventsTotal *prometheus.CounterVec
	ActivePlugins     prometheus.Gauge
	ModificationStamp prometheus.Gauge

	// Service loading metrics
	ServiceLoadsTotal        *prometheus.CounterVec
	ServiceLoadErrorsTotal   *prometheus.CounterVec
	SnapshotCacheHitsTotal   prometheus.Counter
	SnapshotCacheMissesTotal prometheus.Counter

	// Migration metrics
	MigrationRunsTotal      *prometheus.CounterVec
	MigrationDuration       *prometheus.HistogramVec
	FoldersMigratedTotal    *prometheus.CounterVec
	MigrationFallbacksTotal *prometheus.CounterVec
	ModuleCommitsTotal      *prometheus.CounterVec

	// Notification metrics
	StampPublishTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		PluginEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sourceroots_plugin_events_total",
				Help: "Total number of plugin add/remove events by source and outcome",
			},
			[]string{"source", "kind", "outcome"},
		),
		ActivePlugins: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sourceroots_active_plugins",
				Help: "Number of plugins currently contributing to the registry",
			},
		),
		ModificationStamp: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sourceroots_modification_stamp",
				Help: "Current plugin registry modification stamp",
			},
		),

		ServiceLoadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sourceroots_service_loads_total",
				Help: "Total number of service discovery passes",
			},
			[]string{"service"},
		),
		ServiceLoadErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sourceroots_service_load_errors_total",
				Help: "Total number of service discovery passes that failed with a configuration error",
			},
			[]string{"service"},
		),
		SnapshotCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sourceroots_snapshot_cache_hits_total",
				Help: "Serializer snapshot lookups served from the stamp-keyed cache",
			},
		),
		SnapshotCacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sourceroots_snapshot_cache_misses_total",
				Help: "Serializer snapshot lookups that required service discovery",
			},
		),

		MigrationRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sourceroots_migration_runs_total",
				Help: "Total number of per-project migration runs",
			},
			[]string{"direction", "status"},
		),
		MigrationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sourceroots_migration_duration_seconds",
				Help:    "Per-project migration duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"direction"},
		),
		FoldersMigratedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sourceroots_folders_migrated_total",
				Help: "Total number of source folders retagged",
			},
			[]string{"direction"},
		),
		MigrationFallbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sourceroots_migration_fallbacks_total",
				Help: "Source folders whose properties could not be converted and were reset to defaults",
			},
			[]string{"direction"},
		),
		ModuleCommitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sourceroots_module_commits_total",
				Help: "Module model transactions issued by migrations",
			},
			[]string{"direction", "status"},
		),

		StampPublishTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sourceroots_stamp_publish_total",
				Help: "Modification stamp notifications published to Redis",
			},
			[]string{"status"},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.PluginEventsTotal,
		m.ActivePlugins,
		m.ModificationStamp,
		m.ServiceLoadsTotal,
		m.ServiceLoadErrorsTotal,
		m.SnapshotCacheHitsTotal,
		m.SnapshotCacheMissesTotal,
		m.MigrationRunsTotal,
		m.MigrationDuration,
		m.FoldersMigratedTotal,
		m.MigrationFallbacksTotal,
		m.ModuleCommitsTotal,
		m.StampPublishTotal,
	)

	return m
}

// MetricsHandler serves the registry in the Prometheus exposition format
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
