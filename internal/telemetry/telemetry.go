// Package telemetry wires structured logging and Prometheus metrics for the
// gateway: one zerolog.Logger built at startup and threaded explicitly
// through every component (no package-level global logger), and the
// counters/gauges the ingest loop and sinks update as they run.
package telemetry

import (
	"fmt"
	"net/http"
	"os"

	"github.com/google/uuid"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ba-nh/canmonitor/internal/detect"
)

// NewLogger builds a zerolog.Logger: a human-readable colored console
// writer when stdout is a TTY, plain JSON lines otherwise (systemd,
// --headless forces JSON regardless of the TTY check). Every line carries
// session_id.
func NewLogger(sessionID uuid.UUID, headless bool) zerolog.Logger {
	if !headless && isatty.IsTerminal(os.Stdout.Fd()) {
		cw := zerolog.ConsoleWriter{Out: colorable.NewColorableStdout()}
		return zerolog.New(cw).With().Timestamp().Str("session_id", sessionID.String()).Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Str("session_id", sessionID.String()).Logger()
}

// Metrics holds the gateway's Prometheus instrumentation and satisfies both
// ingest.Metrics and sink.Metrics, so one object threads through the whole
// pipeline.
type Metrics struct {
	registry *prometheus.Registry

	framesDroppedDuplicate *prometheus.CounterVec
	framesMalformed        prometheus.Counter
	slotsFinalized         prometheus.Counter
	sinkBackpressure       *prometheus.CounterVec
	triggers               *prometheus.CounterVec
	activeEvent            *prometheus.GaugeVec
}

// NewMetrics registers every canmon_* series on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		framesDroppedDuplicate: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "canmon_frames_dropped_duplicate_total",
			Help: "Frames dropped by the dedup filter, by CAN id.",
		}, []string{"id"}),
		framesMalformed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "canmon_frames_malformed_total",
			Help: "Lines that failed frame parsing.",
		}),
		slotsFinalized: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "canmon_slots_finalized_total",
			Help: "Slots finalized on an accepted heartbeat.",
		}),
		sinkBackpressure: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "canmon_sink_backpressure_dropped_total",
			Help: "Records dropped due to a full sink queue, by sink.",
		}, []string{"sink"}),
		triggers: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "canmon_triggers_total",
			Help: "Detector triggers emitted, by event and edge.",
		}, []string{"event", "edge"}),
		activeEvent: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "canmon_active_event",
			Help: "1 for the currently active event, 0 otherwise.",
		}, []string{"event"}),
	}
	for _, e := range []string{"PM", "SA", "SB", "DD", "SH"} {
		m.activeEvent.WithLabelValues(e).Set(0)
	}
	return m
}

// Handler serves the Prometheus text exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// DuplicateFrameDropped implements ingest.Metrics.
func (m *Metrics) DuplicateFrameDropped(id uint16) {
	m.framesDroppedDuplicate.WithLabelValues(formatID(id)).Inc()
}

// MalformedFrame implements ingest.Metrics.
func (m *Metrics) MalformedFrame() { m.framesMalformed.Inc() }

// SlotFinalized implements ingest.Metrics.
func (m *Metrics) SlotFinalized() { m.slotsFinalized.Inc() }

// SinkBackpressureDropped implements sink.Metrics.
func (m *Metrics) SinkBackpressureDropped(sinkName string) {
	m.sinkBackpressure.WithLabelValues(sinkName).Inc()
}

// RecordTriggers updates the per-event/edge trigger counters and the
// active-event gauge vector after arbitration for one slot.
func (m *Metrics) RecordTriggers(triggers []detect.Trigger, active string) {
	for _, t := range triggers {
		event, edge := splitTrigger(t)
		m.triggers.WithLabelValues(event, edge).Inc()
	}
	for _, e := range []string{"PM", "SA", "SB", "DD", "SH"} {
		v := 0.0
		if active == e+"_on" {
			v = 1
		}
		m.activeEvent.WithLabelValues(e).Set(v)
	}
}

func splitTrigger(t detect.Trigger) (event, edge string) {
	s := string(t)
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '_' {
			return s[:i], s[i+1:]
		}
	}
	return s, ""
}

func formatID(id uint16) string {
	return fmt.Sprintf("0x%02X", id)
}
