package tcpip

import (
	"github.com/prometheus/client_golang/prometheus"
)

// metricInfo pairs a metric description with the function that reads its
// value off a TCB snapshot, mirroring the
// runZeroInc-sockstats/pkg/exporter "info" shape (description + supplier)
// rather than hand-rolling a struct of *prometheus.GaugeVec fields.
type metricInfo struct {
	desc     *prometheus.Desc
	supplier func(TCBSnapshot) float64
}

// TCBCollector is a prometheus.Collector that reports live gauges over
// every connection in a TCBTable, without needing to register/unregister
// a metric per connection as sockets come and go.
type TCBCollector struct {
	table *TCBTable
	infos []metricInfo
}

// NewTCBCollector returns a collector over table. labels are constant
// labels applied to every exported series (e.g. a stack/instance name).
func NewTCBCollector(table *TCBTable, constLabels prometheus.Labels) *TCBCollector {
	labelNames := []string{"local", "remote"}
	mk := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc("tcpip_"+name, help, labelNames, constLabels)
	}

	c := &TCBCollector{table: table}
	c.infos = []metricInfo{
		{
			desc:     mk("cwnd_bytes", "Current congestion window in bytes."),
			supplier: func(s TCBSnapshot) float64 { return float64(s.Congestion.Cwnd) },
		},
		{
			desc:     mk("ssthresh_bytes", "Current slow-start threshold in bytes."),
			supplier: func(s TCBSnapshot) float64 { return float64(s.Congestion.Ssthresh) },
		},
		{
			desc:     mk("bytes_in_flight", "Unacknowledged bytes currently outstanding."),
			supplier: func(s TCBSnapshot) float64 { return float64(s.Congestion.BytesInFlight) },
		},
		{
			desc:     mk("bytes_acked_total", "Cumulative bytes acknowledged."),
			supplier: func(s TCBSnapshot) float64 { return float64(s.Congestion.BytesAcked) },
		},
		{
			desc:     mk("dup_ack_count", "Consecutive duplicate ACKs observed."),
			supplier: func(s TCBSnapshot) float64 { return float64(s.Congestion.DupAckCount) },
		},
		{
			desc:     mk("recv_buffer_used_bytes", "Bytes currently held in the receive buffer."),
			supplier: func(s TCBSnapshot) float64 { return float64(s.Flow.RecvBufferUsed) },
		},
		{
			desc:     mk("recv_buffer_utilization", "Fraction of the receive buffer in use."),
			supplier: func(s TCBSnapshot) float64 { return float64(s.Flow.RecvBufferUsed) / float64(max(1, s.Flow.RecvBufferSize)) },
		},
	}
	return c
}

// Describe implements prometheus.Collector.
func (c *TCBCollector) Describe(descs chan<- *prometheus.Desc) {
	for _, info := range c.infos {
		descs <- info.desc
	}
}

// Collect implements prometheus.Collector, snapshotting every live
// connection under the table's read lock.
func (c *TCBCollector) Collect(metrics chan<- prometheus.Metric) {
	c.table.ForEach(func(tcb *TCB) {
		snap := tcb.Snapshot()
		labels := []string{snap.Local.String(), snap.Remote.String()}
		for _, info := range c.infos {
			metrics <- prometheus.MustNewConstMetric(info.desc, prometheus.GaugeValue, info.supplier(snap), labels...)
		}
	})
}

// SocketCountCollector exports the number of live descriptors per socket
// type, for capacity/leak monitoring independent of per-TCB detail.
type SocketCountCollector struct {
	manager *SocketManager
	desc    *prometheus.Desc
}

// NewSocketCountCollector returns a collector over manager.
func NewSocketCountCollector(manager *SocketManager) *SocketCountCollector {
	return &SocketCountCollector{
		manager: manager,
		desc:    prometheus.NewDesc("tcpip_sockets_total", "Number of registered socket descriptors.", []string{"type"}, nil),
	}
}

func (c *SocketCountCollector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.desc
}

func (c *SocketCountCollector) Collect(metrics chan<- prometheus.Metric) {
	counts := map[SocketType]int{}
	c.manager.ForEach(func(s *Socket) { counts[s.Type]++ })
	for typ, n := range counts {
		metrics <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(n), typ.String())
	}
}
