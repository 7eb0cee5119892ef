// Package monitoring exports protocol metrics to Prometheus.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements the metrics port over a Prometheus
// registry. One collector instance serves the whole process.
type PrometheusCollector struct {
	sessionsOpened      prometheus.Counter
	sessionsClosed      *prometheus.CounterVec
	framesSent          prometheus.Counter
	framesReceived      prometheus.Counter
	framesRejected      *prometheus.CounterVec
	controlDelivered    prometheus.Counter
	controlRetransmits  prometheus.Counter
	recoveryActivations *prometheus.CounterVec
	degradedSafeEntries prometheus.Counter
	lossRatio           prometheus.Histogram
}

// NewPrometheusCollector creates and registers the protocol metrics on
// the given registry.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	c := &PrometheusCollector{
		sessionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alpine_sessions_opened_total",
			Help: "Sessions established via handshake.",
		}),
		sessionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alpine_sessions_closed_total",
			Help: "Sessions torn down, by reason.",
		}, []string{"reason"}),
		framesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alpine_frames_sent_total",
			Help: "Streaming frames emitted.",
		}),
		framesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alpine_frames_received_total",
			Help: "Streaming frames accepted and applied.",
		}),
		framesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alpine_frames_rejected_total",
			Help: "Frames and acks rejected before application, by error code.",
		}, []string{"code"}),
		controlDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alpine_control_delivered_total",
			Help: "Control envelopes acknowledged by the peer.",
		}),
		controlRetransmits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alpine_control_retransmits_total",
			Help: "Control envelope retransmissions.",
		}),
		recoveryActivations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alpine_recovery_activations_total",
			Help: "Recovery episodes entered, by reason.",
		}, []string{"reason"}),
		degradedSafeEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alpine_degraded_safe_entries_total",
			Help: "Degraded-safe mode entries.",
		}),
		lossRatio: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "alpine_loss_ratio",
			Help:    "Observed per-window loss ratio.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 0.75, 1},
		}),
	}
	reg.MustRegister(
		c.sessionsOpened, c.sessionsClosed,
		c.framesSent, c.framesReceived, c.framesRejected,
		c.controlDelivered, c.controlRetransmits,
		c.recoveryActivations, c.degradedSafeEntries,
		c.lossRatio,
	)
	return c
}

func (c *PrometheusCollector) SessionOpened() { c.sessionsOpened.Inc() }
func (c *PrometheusCollector) SessionClosed(reason string) {
	c.sessionsClosed.WithLabelValues(reason).Inc()
}
func (c *PrometheusCollector) FrameSent()     { c.framesSent.Inc() }
func (c *PrometheusCollector) FrameReceived() { c.framesReceived.Inc() }
func (c *PrometheusCollector) FrameRejected(code string) {
	c.framesRejected.WithLabelValues(code).Inc()
}
func (c *PrometheusCollector) ControlDelivered()  { c.controlDelivered.Inc() }
func (c *PrometheusCollector) ControlRetransmit() { c.controlRetransmits.Inc() }
func (c *PrometheusCollector) RecoveryActivated(reason string) {
	c.recoveryActivations.WithLabelValues(reason).Inc()
}
func (c *PrometheusCollector) DegradedSafeEntered() { c.degradedSafeEntries.Inc() }
func (c *PrometheusCollector) ObserveLossRatio(ratio float64) {
	c.lossRatio.Observe(ratio)
}
