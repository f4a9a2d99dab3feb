package blkreactor

import "github.com/prometheus/client_golang/prometheus"

// TrackerCollector exposes a tracker's counters as Prometheus metrics.
// Register it with any prometheus.Registerer; collection reads the atomic
// counters and never touches the hot submit/poll path.
type TrackerCollector struct {
	tracker *Tracker

	expected      *prometheus.Desc
	submitted     *prometheus.Desc
	completed     *prometheus.Desc
	failed        *prometheus.Desc
	unitSubmitted *prometheus.Desc
	unitCompleted *prometheus.Desc
	unitFailed    *prometheus.Desc
}

// NewTrackerCollector creates a collector over the given tracker.
func NewTrackerCollector(t *Tracker) *TrackerCollector {
	return &TrackerCollector{
		tracker: t,
		expected: prometheus.NewDesc(
			"blkreactor_requests_expected",
			"Total requests the workload declared up front.",
			nil, nil),
		submitted: prometheus.NewDesc(
			"blkreactor_requests_submitted_total",
			"Requests submitted to device queues.",
			nil, nil),
		completed: prometheus.NewDesc(
			"blkreactor_requests_completed_total",
			"Requests whose completion callback fired.",
			nil, nil),
		failed: prometheus.NewDesc(
			"blkreactor_requests_failed_total",
			"Requests completed with a device error.",
			nil, nil),
		unitSubmitted: prometheus.NewDesc(
			"blkreactor_unit_requests_submitted_total",
			"Requests submitted, per work unit.",
			[]string{"unit"}, nil),
		unitCompleted: prometheus.NewDesc(
			"blkreactor_unit_requests_completed_total",
			"Requests completed, per work unit.",
			[]string{"unit"}, nil),
		unitFailed: prometheus.NewDesc(
			"blkreactor_unit_requests_failed_total",
			"Requests failed, per work unit.",
			[]string{"unit"}, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *TrackerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.expected
	ch <- c.submitted
	ch <- c.completed
	ch <- c.failed
	ch <- c.unitSubmitted
	ch <- c.unitCompleted
	ch <- c.unitFailed
}

// Collect implements prometheus.Collector.
func (c *TrackerCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.tracker.Snapshot()
	ch <- prometheus.MustNewConstMetric(c.expected, prometheus.GaugeValue, float64(s.Expected))
	ch <- prometheus.MustNewConstMetric(c.submitted, prometheus.CounterValue, float64(s.Submitted))
	ch <- prometheus.MustNewConstMetric(c.completed, prometheus.CounterValue, float64(s.Completed))
	ch <- prometheus.MustNewConstMetric(c.failed, prometheus.CounterValue, float64(s.Failed))

	for _, u := range c.tracker.Units() {
		ch <- prometheus.MustNewConstMetric(c.unitSubmitted, prometheus.CounterValue,
			float64(u.Submitted()), u.Name())
		ch <- prometheus.MustNewConstMetric(c.unitCompleted, prometheus.CounterValue,
			float64(u.Completed()), u.Name())
		ch <- prometheus.MustNewConstMetric(c.unitFailed, prometheus.CounterValue,
			float64(u.Failed()), u.Name())
	}
}

// Compile-time interface check
var _ prometheus.Collector = (*TrackerCollector)(nil)
