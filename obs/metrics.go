package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/betaylor73/wayside"
)

// PrometheusSink counts protocol activity for a /metrics endpoint, grounded
// on marmos91-dittofs's promauto.With(registry) construction style and
// runZeroInc-sockstats's per-connection collector pattern, adapted here to
// counters/gauges registered once at construction rather than a custom
// Collector, since the executor/transport/runtime call sites are simple
// increments rather than a periodic scrape-time walk of live state.
type PrometheusSink struct {
	sent           *prometheus.CounterVec
	encodeFailures *prometheus.CounterVec
	sendFailures   *prometheus.CounterVec
	framesDropped  prometheus.Counter
	eventsByKind   *prometheus.CounterVec
	globalState    prometheus.Gauge
}

// NewPrometheusSink registers its metrics against reg and returns a Sink.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	f := promauto.With(reg)
	return &PrometheusSink{
		sent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wayside_messages_sent_total",
			Help: "Total number of protocol messages sent by kind.",
		}, []string{"kind"}),
		encodeFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wayside_encode_failures_total",
			Help: "Total number of outbound messages that failed to encode, by kind.",
		}, []string{"kind"}),
		sendFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wayside_send_failures_total",
			Help: "Total number of outbound messages the link rejected, by kind.",
		}, []string{"kind"}),
		framesDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "wayside_frames_dropped_total",
			Help: "Total number of inbound datagrams dropped for a framing or semantic defect.",
		}),
		eventsByKind: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wayside_reducer_events_total",
			Help: "Total number of events processed by the reducer, by kind.",
		}, []string{"event"}),
		globalState: f.NewGauge(prometheus.GaugeOpts{
			Name: "wayside_global_state",
			Help: "Current controller global state: 0=TRANSPORT_DOWN, 1=INITIALIZING, 2=RUNNING.",
		}),
	}
}

// Sent implements Sink.
func (p *PrometheusSink) Sent(_ string, _ wayside.StationAddress, kind wayside.MessageKind) {
	p.sent.WithLabelValues(kind.String()).Inc()
}

// EncodeFailed implements Sink.
func (p *PrometheusSink) EncodeFailed(_ string, _ wayside.StationAddress, kind wayside.MessageKind, _ error) {
	p.encodeFailures.WithLabelValues(kind.String()).Inc()
}

// SendFailed implements Sink.
func (p *PrometheusSink) SendFailed(_ string, _ wayside.StationAddress, kind wayside.MessageKind, _ error) {
	p.sendFailures.WithLabelValues(kind.String()).Inc()
}

// FrameDropped implements Sink.
func (p *PrometheusSink) FrameDropped(_ []byte, _ error) {
	p.framesDropped.Inc()
}

// StepProcessed implements Sink.
func (p *PrometheusSink) StepProcessed(event wayside.EventKind, _ wayside.StationAddress, globalState wayside.GlobalPhase, _ int) {
	p.eventsByKind.WithLabelValues(event.String()).Inc()
	p.globalState.Set(float64(globalState))
}
