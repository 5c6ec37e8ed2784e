package connection_pool

import (
	"github.com/prometheus/client_golang/prometheus"
)

const Namespace = "connsource"

var (
	Gather = prometheus.NewRegistry()

	AcquireCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "pool",
			Name:      "acquire_total",
			Help:      "Counter of connector acquisitions.",
		}, []string{"source", "result"})

	OpenCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "pool",
			Name:      "open_total",
			Help:      "Counter of physical connector opens.",
		}, []string{"source", "result"})

	HostFailureCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "multi_host",
			Name:      "host_failures_total",
			Help:      "Counter of hosts failing during a multi-host acquisition.",
		}, []string{"endpoint"})
)

func init() {
	Gather.MustRegister(AcquireCounter)
	Gather.MustRegister(OpenCounter)
	Gather.MustRegister(HostFailureCounter)
}

// StatisticsCollector exports the Statistics of a source as gauges.
type StatisticsCollector struct {
	src   Source
	total *prometheus.Desc
	idle  *prometheus.Desc
	busy  *prometheus.Desc
}

// NewStatisticsCollector returns a collector for src labelled with name.
// Register it with Gather or any other registry.
func NewStatisticsCollector(name string, src Source) *StatisticsCollector {
	labels := prometheus.Labels{"name": name, "source": src.kind().String()}
	return &StatisticsCollector{
		src: src,
		total: prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, "pool", "connectors"),
			"Number of connectors owned by the source.", nil, labels),
		idle: prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, "pool", "idle_connectors"),
			"Number of idle connectors.", nil, labels),
		busy: prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, "pool", "busy_connectors"),
			"Number of connectors in use.", nil, labels),
	}
}

func (c *StatisticsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.total
	ch <- c.idle
	ch <- c.busy
}

func (c *StatisticsCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.src.Statistics()
	ch <- prometheus.MustNewConstMetric(c.total, prometheus.GaugeValue, float64(stats.Total))
	ch <- prometheus.MustNewConstMetric(c.idle, prometheus.GaugeValue, float64(stats.Idle))
	ch <- prometheus.MustNewConstMetric(c.busy, prometheus.GaugeValue, float64(stats.Busy))
}

func countAcquire(k Kind, result string) {
	AcquireCounter.WithLabelValues(k.String(), result).Inc()
}

func countOpen(k Kind, err error) {
	if err != nil {
		OpenCounter.WithLabelValues(k.String(), resultError).Inc()
		return
	}
	OpenCounter.WithLabelValues(k.String(), resultOK).Inc()
}
