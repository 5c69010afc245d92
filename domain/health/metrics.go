package health

import (
	"context"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/engagic/engagic/domain/conductor"
	"github.com/engagic/engagic/domain/queue"
)

// Metrics owns the Prometheus registry for the /metrics endpoint. Queue and
// worker gauges are computed at scrape time rather than pushed.
type Metrics struct {
	registry *prometheus.Registry
}

// NewMetrics builds the registry with queue, worker and runtime collectors
func NewMetrics(q *queue.Repository, pools *conductor.Pools) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		newQueueCollector(q),
		newWorkerCollector(pools),
	)
	return &Metrics{registry: reg}
}

// Handler returns the echo handler serving the registry
func (m *Metrics) Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}

// queueCollector exports queue depth by status and the age of the oldest
// due job.
type queueCollector struct {
	q      *queue.Repository
	depth  *prometheus.Desc
	oldest *prometheus.Desc
}

func newQueueCollector(q *queue.Repository) *queueCollector {
	return &queueCollector{
		q: q,
		depth: prometheus.NewDesc(
			"engagic_queue_jobs",
			"Number of queue jobs by status",
			[]string{"status"}, nil),
		oldest: prometheus.NewDesc(
			"engagic_queue_oldest_pending_seconds",
			"Age of the oldest due pending job in seconds",
			nil, nil),
	}
}

func (c *queueCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.depth
	ch <- c.oldest
}

func (c *queueCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
	defer cancel()

	stats, err := c.q.Stats(ctx)
	if err != nil {
		// A failed scrape surfaces as missing series, not a 500
		return
	}

	for status, count := range map[string]int{
		queue.StatusPending:    stats.Pending,
		queue.StatusProcessing: stats.Processing,
		queue.StatusCompleted:  stats.Completed,
		queue.StatusFailed:     stats.Failed,
		queue.StatusDeadLetter: stats.DeadLetter,
	} {
		ch <- prometheus.MustNewConstMetric(c.depth, prometheus.GaugeValue, float64(count), status)
	}
	ch <- prometheus.MustNewConstMetric(c.oldest, prometheus.GaugeValue, stats.OldestPendingSeconds)
}

// workerCollector exports per-pool job counters.
type workerCollector struct {
	pools     *conductor.Pools
	processed *prometheus.Desc
	succeeded *prometheus.Desc
	failed    *prometheus.Desc
	size      *prometheus.Desc
}

func newWorkerCollector(pools *conductor.Pools) *workerCollector {
	return &workerCollector{
		pools: pools,
		processed: prometheus.NewDesc(
			"engagic_worker_jobs_processed_total",
			"Jobs processed by the pool since start",
			[]string{"pool"}, nil),
		succeeded: prometheus.NewDesc(
			"engagic_worker_jobs_succeeded_total",
			"Jobs completed successfully by the pool since start",
			[]string{"pool"}, nil),
		failed: prometheus.NewDesc(
			"engagic_worker_jobs_failed_total",
			"Jobs failed by the pool since start",
			[]string{"pool"}, nil),
		size: prometheus.NewDesc(
			"engagic_worker_pool_size",
			"Number of workers in the pool",
			[]string{"pool"}, nil),
	}
}

func (c *workerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.processed
	ch <- c.succeeded
	ch <- c.failed
	ch <- c.size
}

func (c *workerCollector) Collect(ch chan<- prometheus.Metric) {
	for name, m := range c.pools.Metrics() {
		ch <- prometheus.MustNewConstMetric(c.processed, prometheus.CounterValue, float64(m.Processed), name)
		ch <- prometheus.MustNewConstMetric(c.succeeded, prometheus.CounterValue, float64(m.Succeeded), name)
		ch <- prometheus.MustNewConstMetric(c.failed, prometheus.CounterValue, float64(m.Failed), name)
	}
	ch <- prometheus.MustNewConstMetric(c.size, prometheus.GaugeValue, float64(c.pools.Fetchers.Size()), c.pools.Fetchers.Name())
	ch <- prometheus.MustNewConstMetric(c.size, prometheus.GaugeValue, float64(c.pools.Processors.Size()), c.pools.Processors.Name())
}
