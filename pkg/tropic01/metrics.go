package tropic01

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace is the Prometheus namespace for all metrics of this package.
const Namespace = "tropic01"

// Label names.
const (
	LabelDirection = "direction"
	LabelRequest   = "request"
	LabelKind      = "kind"
	LabelCommand   = "command"
	LabelResult    = "result"
	LabelOutcome   = "outcome"
)

// Metrics counts protocol traffic. A nil *Metrics is valid and records nothing.
type Metrics struct {
	polls    prometheus.Counter
	frames   *prometheus.CounterVec
	retries  *prometheus.CounterVec
	commands *prometheus.CounterVec
	duration *prometheus.HistogramVec
	sessions *prometheus.CounterVec
}

// NewMetrics registers the protocol collectors on reg under the given
// subsystem ("host" for the library, "model" for the chip model).
func NewMetrics(reg prometheus.Registerer, subsystem string) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		polls: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: subsystem,
			Name:      "l1_polls_total",
			Help:      "Number of L1 read polls issued to the chip",
		}),
		frames: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: subsystem,
			Name:      "l2_frames_total",
			Help:      "L2 frames by direction and request",
		}, []string{LabelDirection, LabelRequest}),
		retries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: subsystem,
			Name:      "l2_retries_total",
			Help:      "Frame recoveries by kind (resend, retransmit)",
		}, []string{LabelKind}),
		commands: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: subsystem,
			Name:      "l3_commands_total",
			Help:      "L3 commands by command and result",
		}, []string{LabelCommand, LabelResult}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: subsystem,
			Name:      "l3_command_duration_seconds",
			Help:      "Round trip of L3 commands",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{LabelCommand}),
		sessions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: subsystem,
			Name:      "sessions_total",
			Help:      "Secure session transitions by outcome",
		}, []string{LabelOutcome}),
	}
}

func (m *Metrics) observePoll() {
	if m == nil {
		return
	}
	m.polls.Inc()
}

// ObserveFrame counts one L2 frame. direction is "tx" or "rx".
func (m *Metrics) ObserveFrame(direction string, request byte) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(direction, RequestName(request)).Inc()
}

// ObserveRetry counts one frame recovery.
func (m *Metrics) ObserveRetry(kind string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(kind).Inc()
}

// ObserveCommand counts one L3 command and, when elapsed is non-zero, its latency.
func (m *Metrics) ObserveCommand(cmd CommandID, result Result, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(cmd.String(), result.String()).Inc()
	if elapsed > 0 {
		m.duration.WithLabelValues(cmd.String()).Observe(elapsed.Seconds())
	}
}

// ObserveSession counts a session transition ("established", "failed", "aborted", "reset").
func (m *Metrics) ObserveSession(outcome string) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(outcome).Inc()
}
