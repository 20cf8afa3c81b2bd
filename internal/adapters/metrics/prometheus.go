// Package metrics provides Prometheus metrics collection.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Collector implements the MetricsCollector port using Prometheus. A batch
// run has no scrape endpoint, so metrics live in a private registry that is
// exported through the node exporter textfile collector or a Pushgateway.
type Collector struct {
	registry *prometheus.Registry

	storageOperations *prometheus.CounterVec
	storageDuration   *prometheus.HistogramVec
	tasksDiscovered   prometheus.Gauge
	downloads         *prometheus.CounterVec
	downloadRetries   prometheus.Counter
	mosaics           *prometheus.CounterVec
	mergeDuration     prometheus.Histogram
	runDuration       prometheus.Gauge
	lastRunSuccess    prometheus.Gauge
	lastRunTimestamp  prometheus.Gauge
}

// NewCollector creates a new Prometheus metrics collector.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "tilemerge"
	}

	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,

		storageOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "storage_operations_total",
				Help:      "Total number of storage operations",
			},
			[]string{"operation", "status"},
		),

		storageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "storage_duration_seconds",
				Help:      "Storage operation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		tasksDiscovered: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "tasks_discovered",
				Help:      "Number of download tasks discovered by the last run",
			},
		),

		downloads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "downloads_total",
				Help:      "Total number of download tasks by outcome",
			},
			[]string{"outcome"},
		),

		downloadRetries: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "download_retries_total",
				Help:      "Total number of retried download attempts",
			},
		),

		mosaics: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "mosaics_total",
				Help:      "Total number of merge groups by outcome",
			},
			[]string{"outcome"},
		),

		mergeDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "merge_duration_seconds",
				Help:      "Duration of one group merge in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
			},
		),

		runDuration: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of the last run in seconds",
			},
		),

		lastRunSuccess: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_success",
				Help:      "Whether the last run completed without error",
			},
		),

		lastRunTimestamp: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_timestamp_seconds",
				Help:      "Unix time the last run finished",
			},
		),
	}
}

// Registry returns the registry holding the collector's metrics.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// IncStorageOperations increments storage operation counter.
func (c *Collector) IncStorageOperations(operation string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	c.storageOperations.WithLabelValues(operation, status).Inc()
}

// ObserveStorageDuration records storage operation duration.
func (c *Collector) ObserveStorageDuration(operation string, duration time.Duration) {
	c.storageDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetTasksDiscovered sets the number of discovered download tasks.
func (c *Collector) SetTasksDiscovered(count int) {
	c.tasksDiscovered.Set(float64(count))
}

// IncDownloads increments the download counter for an outcome.
func (c *Collector) IncDownloads(outcome string) {
	c.downloads.WithLabelValues(outcome).Inc()
}

// IncDownloadRetries increments the retry counter.
func (c *Collector) IncDownloadRetries() {
	c.downloadRetries.Inc()
}

// IncMosaics increments the mosaic counter for an outcome.
func (c *Collector) IncMosaics(outcome string) {
	c.mosaics.WithLabelValues(outcome).Inc()
}

// ObserveMergeDuration records the duration of one group merge.
func (c *Collector) ObserveMergeDuration(duration time.Duration) {
	c.mergeDuration.Observe(duration.Seconds())
}

// RecordRun records the outcome of a finished run.
func (c *Collector) RecordRun(duration time.Duration, success bool, finished time.Time) {
	c.runDuration.Set(duration.Seconds())
	if success {
		c.lastRunSuccess.Set(1)
	} else {
		c.lastRunSuccess.Set(0)
	}
	c.lastRunTimestamp.Set(float64(finished.Unix()))
}

// WriteTextfile writes all metrics in the text exposition format, atomically
// replacing path.
func (c *Collector) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}

// Push pushes all metrics to a Pushgateway, replacing the metrics of job.
func (c *Collector) Push(ctx context.Context, url, job string) error {
	if err := push.New(url, job).Gatherer(c.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("pushing metrics: %w", err)
	}
	return nil
}
