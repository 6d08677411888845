package privacy

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector exports privacy-layer metrics through a
// Prometheus registry. Construct one per process and share it across
// the broadcaster, relay handler, and pool maintainer.
type PrometheusCollector struct {
	privateBroadcasts  prometheus.Counter
	queuedNoCircuit    prometheus.Counter
	broadcastFailed    prometheus.Counter
	exitBroadcasts     prometheus.Counter
	jitterDelay        prometheus.Histogram
	relayForwarded     prometheus.Counter
	relayDropped       *prometheus.CounterVec
	activeCircuits     prometheus.Gauge
	circuitsBuilt      prometheus.Counter
	circuitBuildFailed prometheus.Counter
	coverSent          prometheus.Counter
}

// NewPrometheusCollector creates the collector and registers its
// metrics with reg.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	c := &PrometheusCollector{
		privateBroadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "botho_privacy_tx_broadcast_private_total",
			Help: "Transactions broadcast through an onion circuit.",
		}),
		queuedNoCircuit: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "botho_privacy_tx_queued_no_circuit_total",
			Help: "Broadcast attempts that found the circuit pool empty.",
		}),
		broadcastFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "botho_privacy_tx_broadcast_failed_total",
			Help: "Private broadcasts that failed at the gossip send.",
		}),
		exitBroadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "botho_privacy_tx_exit_broadcast_total",
			Help: "Transactions broadcast on behalf of circuits as exit hop.",
		}),
		jitterDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "botho_privacy_jitter_delay_seconds",
			Help:    "Applied broadcast jitter delays.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 8),
		}),
		relayForwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "botho_privacy_relay_forwarded_total",
			Help: "Relay messages peeled and passed to the next hop.",
		}),
		relayDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "botho_privacy_relay_dropped_total",
			Help: "Relay messages dropped, by reason.",
		}, []string{"reason"}),
		activeCircuits: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "botho_privacy_active_circuits",
			Help: "Live circuits in the pool.",
		}),
		circuitsBuilt: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "botho_privacy_circuits_built_total",
			Help: "Successfully established circuits.",
		}),
		circuitBuildFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "botho_privacy_circuit_build_failed_total",
			Help: "Failed circuit build attempts.",
		}),
		coverSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "botho_privacy_cover_sent_total",
			Help: "Cover messages emitted.",
		}),
	}

	for _, collector := range []prometheus.Collector{
		c.privateBroadcasts, c.queuedNoCircuit, c.broadcastFailed,
		c.exitBroadcasts, c.jitterDelay, c.relayForwarded,
		c.relayDropped, c.activeCircuits, c.circuitsBuilt,
		c.circuitBuildFailed, c.coverSent,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *PrometheusCollector) IncrementPrivateBroadcast() { c.privateBroadcasts.Inc() }
func (c *PrometheusCollector) IncrementQueuedNoCircuit()  { c.queuedNoCircuit.Inc() }
func (c *PrometheusCollector) IncrementBroadcastFailed()  { c.broadcastFailed.Inc() }
func (c *PrometheusCollector) IncrementExitBroadcast()    { c.exitBroadcasts.Inc() }

func (c *PrometheusCollector) RecordJitterDelay(delay time.Duration) {
	c.jitterDelay.Observe(delay.Seconds())
}

func (c *PrometheusCollector) IncrementRelayForwarded() { c.relayForwarded.Inc() }

func (c *PrometheusCollector) IncrementRelayDropped(reason string) {
	c.relayDropped.WithLabelValues(reason).Inc()
}

func (c *PrometheusCollector) SetActiveCircuits(count int) {
	c.activeCircuits.Set(float64(count))
}

func (c *PrometheusCollector) IncrementCircuitBuilt()       { c.circuitsBuilt.Inc() }
func (c *PrometheusCollector) IncrementCircuitBuildFailed() { c.circuitBuildFailed.Inc() }
func (c *PrometheusCollector) IncrementCoverSent()          { c.coverSent.Inc() }
