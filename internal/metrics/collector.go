// Package metrics exports FTP server metrics to Prometheus.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/gonzalop/ftpd/server"
)

// Collector is the Prometheus implementation of server.MetricsCollector.
type Collector struct {
	commands        *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec
	transfers       *prometheus.CounterVec
	transferBytes   *prometheus.CounterVec
	transferTime    *prometheus.HistogramVec
	connections     *prometheus.CounterVec
	authentications *prometheus.CounterVec
	activeSessions  prometheus.Gauge
}

var _ server.MetricsCollector = (*Collector)(nil)

// NewCollector registers the ftpd metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		commands: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ftpd_commands_total",
				Help: "Commands handled, by verb and reply code",
			},
			[]string{"command", "code"},
		),
		commandDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ftpd_command_duration_seconds",
				Help:    "Time from decoding a command to writing its final reply",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			},
			[]string{"command"},
		),
		transfers: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ftpd_transfers_total",
				Help: "Completed data transfers, by operation",
			},
			[]string{"operation"},
		),
		transferBytes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ftpd_transfer_bytes_total",
				Help: "Bytes moved over data connections, by operation",
			},
			[]string{"operation"},
		),
		transferTime: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ftpd_transfer_duration_seconds",
				Help:    "Duration of completed data transfers",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
			},
			[]string{"operation"},
		),
		connections: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ftpd_connections_total",
				Help: "Accepted control connections, by outcome",
			},
			[]string{"result"},
		),
		authentications: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ftpd_authentications_total",
				Help: "Login attempts, by outcome",
			},
			[]string{"result"},
		),
		activeSessions: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "ftpd_active_sessions",
				Help: "Control connections currently being served",
			},
		),
	}
}

func (c *Collector) RecordCommand(cmd string, code int, duration time.Duration) {
	c.commands.WithLabelValues(cmd, strconv.Itoa(code)).Inc()
	c.commandDuration.WithLabelValues(cmd).Observe(duration.Seconds())
}

func (c *Collector) RecordTransfer(operation string, bytes int64, duration time.Duration) {
	c.transfers.WithLabelValues(operation).Inc()
	c.transferBytes.WithLabelValues(operation).Add(float64(bytes))
	c.transferTime.WithLabelValues(operation).Observe(duration.Seconds())
}

func (c *Collector) RecordConnection(accepted bool, reason string) {
	if accepted {
		reason = "accepted"
	}
	c.connections.WithLabelValues(reason).Inc()
}

// RecordAuthentication counts logins. The user name is not a label, to
// keep cardinality bounded.
func (c *Collector) RecordAuthentication(success bool, _ string) {
	result := "failure"
	if success {
		result = "success"
	}
	c.authentications.WithLabelValues(result).Inc()
}

func (c *Collector) SessionStarted() { c.activeSessions.Inc() }

func (c *Collector) SessionEnded() { c.activeSessions.Dec() }
