// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package connmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Exporter exposes the tracker's active-set size and the aggregator's
// global totals as Prometheus metrics, mirroring the
// NewMetrics/RegisterMetrics shape the eBPF facade's own Prometheus
// wiring uses.
type Exporter struct {
	activeConnections   prometheus.GaugeFunc
	totalIngressBytes   prometheus.GaugeFunc
	totalEgressBytes    prometheus.GaugeFunc
	totalIngressPackets prometheus.GaugeFunc
	totalEgressPackets  prometheus.GaugeFunc
	totalConnectCount   prometheus.GaugeFunc
}

// NewExporter builds an Exporter reading live values off tracker and agg.
func NewExporter(tracker *Tracker, agg *Aggregator) *Exporter {
	return &Exporter{
		activeConnections: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "landscape_connect_active_total",
			Help: "Number of connections currently in the active-set.",
		}, func() float64 { return float64(tracker.ActiveCount()) }),

		totalIngressBytes: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "landscape_connect_global_ingress_bytes_total",
			Help: "Cumulative ingress bytes across every tracked connection.",
		}, func() float64 { return float64(agg.Snapshot().TotalIngressBytes) }),

		totalEgressBytes: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "landscape_connect_global_egress_bytes_total",
			Help: "Cumulative egress bytes across every tracked connection.",
		}, func() float64 { return float64(agg.Snapshot().TotalEgressBytes) }),

		totalIngressPackets: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "landscape_connect_global_ingress_packets_total",
			Help: "Cumulative ingress packets across every tracked connection.",
		}, func() float64 { return float64(agg.Snapshot().TotalIngressPackets) }),

		totalEgressPackets: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "landscape_connect_global_egress_packets_total",
			Help: "Cumulative egress packets across every tracked connection.",
		}, func() float64 { return float64(agg.Snapshot().TotalEgressPackets) }),

		totalConnectCount: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "landscape_connect_global_connect_count",
			Help: "Total number of connections ever recorded in the historical store.",
		}, func() float64 { return float64(agg.Snapshot().TotalConnectCount) }),
	}
}

// MustRegister registers every metric with the default Prometheus
// registry.
func (e *Exporter) MustRegister() {
	prometheus.MustRegister(
		e.activeConnections,
		e.totalIngressBytes,
		e.totalEgressBytes,
		e.totalIngressPackets,
		e.totalEgressPackets,
		e.totalConnectCount,
	)
}
