package output

import "time"

// MetricsCollector defines the secondary port for metrics collection.
type MetricsCollector interface {
	// IncStorageOperations increments storage operation counter.
	IncStorageOperations(operation string, success bool)

	// ObserveStorageDuration records storage operation duration.
	ObserveStorageDuration(operation string, duration time.Duration)

	// SetTasksDiscovered sets the number of download tasks of the current run.
	SetTasksDiscovered(count int)

	// IncDownloads increments the download counter for an outcome.
	IncDownloads(outcome string)

	// IncDownloadRetries increments the retry counter.
	IncDownloadRetries()

	// IncMosaics increments the mosaic counter for an outcome.
	IncMosaics(outcome string)

	// ObserveMergeDuration records the duration of one group merge.
	ObserveMergeDuration(duration time.Duration)
}

// NoOpMetrics is a no-op implementation of MetricsCollector.
type NoOpMetrics struct{}

// IncStorageOperations implements MetricsCollector.
func (n *NoOpMetrics) IncStorageOperations(_ string, _ bool) {}

// ObserveStorageDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveStorageDuration(_ string, _ time.Duration) {}

// SetTasksDiscovered implements MetricsCollector.
func (n *NoOpMetrics) SetTasksDiscovered(_ int) {}

// IncDownloads implements MetricsCollector.
func (n *NoOpMetrics) IncDownloads(_ string) {}

// IncDownloadRetries implements MetricsCollector.
func (n *NoOpMetrics) IncDownloadRetries() {}

// IncMosaics implements MetricsCollector.
func (n *NoOpMetrics) IncMosaics(_ string) {}

// ObserveMergeDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveMergeDuration(_ time.Duration) {}
