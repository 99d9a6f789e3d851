package metrics

// StoreMetrics holds all event-store-specific metrics.
type StoreMetrics struct {
	registry *Registry

	// Counters
	AppendsTotal        *Counter
	AppendErrorsTotal   *Counter
	RotationsTotal      *Counter
	CompressionsTotal   *Counter
	CompressionFailures *Counter
	VerificationsTotal  *Counter
	QueriesTotal        *Counter
	SegmentsDeleted     *Counter

	// Gauges
	SegmentFiles      *Gauge
	ActiveSegmentSize *Gauge
	EventCount        *Gauge

	// Histograms
	AppendDuration       *Histogram
	VerificationDuration *Histogram
}

// NewStoreMetrics creates and registers all event store metrics. A nil
// registry uses the default one.
func NewStoreMetrics(registry *Registry) *StoreMetrics {
	if registry == nil {
		registry = Default()
	}

	return &StoreMetrics{
		registry: registry,

		AppendsTotal: registry.RegisterCounter(
			"appends_total",
			"Total number of events appended",
			nil,
		),
		AppendErrorsTotal: registry.RegisterCounter(
			"append_errors_total",
			"Total number of failed append attempts",
			nil,
		),
		RotationsTotal: registry.RegisterCounter(
			"rotations_total",
			"Total number of segment rotations",
			nil,
		),
		CompressionsTotal: registry.RegisterCounter(
			"compressions_total",
			"Total number of segments compressed",
			nil,
		),
		CompressionFailures: registry.RegisterCounter(
			"compression_failures_total",
			"Total number of failed segment compressions",
			nil,
		),
		VerificationsTotal: registry.RegisterCounter(
			"verifications_total",
			"Total number of chain verification runs",
			nil,
		),
		QueriesTotal: registry.RegisterCounter(
			"queries_total",
			"Total number of queries served",
			nil,
		),
		SegmentsDeleted: registry.RegisterCounter(
			"segments_deleted_total",
			"Total number of segments removed by retention cleanup",
			nil,
		),

		SegmentFiles: registry.RegisterGauge(
			"segment_files",
			"Number of segment files on disk",
			nil,
		),
		ActiveSegmentSize: registry.RegisterGauge(
			"active_segment_bytes",
			"Size of the active segment in bytes",
			nil,
		),
		EventCount: registry.RegisterGauge(
			"events",
			"Number of events appended over the store's lifetime",
			nil,
		),

		AppendDuration: registry.RegisterHistogram(
			"append_duration_seconds",
			"Duration of append operations",
			nil,
			DurationBuckets,
		),
		VerificationDuration: registry.RegisterHistogram(
			"verification_duration_seconds",
			"Duration of full-chain verification runs",
			nil,
			DurationBuckets,
		),
	}
}
