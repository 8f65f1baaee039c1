package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rickgao/socket-client/internal/connection"
	"github.com/rickgao/socket-client/internal/protocol"
)

const namespace = "socket_client"

var allStates = []connection.State{
	connection.StateInitialized,
	connection.StateConnecting,
	connection.StateConnected,
	connection.StateDisconnected,
	connection.StateClosing,
	connection.StateClosed,
	connection.StateFailed,
}

// Metrics holds the client collectors.
type Metrics struct {
	reg prometheus.Registerer

	connectionState  *prometheus.GaugeVec
	stateTransitions *prometheus.CounterVec
	inboundActions   *prometheus.CounterVec
	presenceEvents   *prometheus.CounterVec
	archiveRows      *prometheus.CounterVec
	archiveErrors    *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		reg: reg,
		connectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "state",
			Help:      "1 for the current connection state, 0 otherwise.",
		}, []string{"state"}),
		stateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "transitions_total",
			Help:      "Connection state transitions by target state.",
		}, []string{"to"}),
		inboundActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "frames_total",
			Help:      "Routed inbound frames by action.",
		}, []string{"action"}),
		presenceEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "presence",
			Name:      "events_total",
			Help:      "Presence events received by kind.",
		}, []string{"kind"}),
		archiveRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "rows_inserted_total",
			Help:      "Rows written to the archive by table.",
		}, []string{"table"}),
		archiveErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "errors_total",
			Help:      "Failed archive batches by table.",
		}, []string{"table"}),
	}
	reg.MustRegister(
		m.connectionState,
		m.stateTransitions,
		m.inboundActions,
		m.presenceEvents,
		m.archiveRows,
		m.archiveErrors,
	)
	m.setState(connection.StateInitialized)
	return m
}

// ObserveState records a connection state change.
func (m *Metrics) ObserveState(change connection.StateChange) {
	m.stateTransitions.WithLabelValues(change.To.String()).Inc()
	m.setState(change.To)
}

func (m *Metrics) setState(current connection.State) {
	for _, s := range allStates {
		v := 0.0
		if s == current {
			v = 1
		}
		m.connectionState.WithLabelValues(s.String()).Set(v)
	}
}

// ObserveFrame records a routed inbound frame.
func (m *Metrics) ObserveFrame(msg protocol.Message) {
	m.inboundActions.WithLabelValues(msg.Action.String()).Inc()
	if msg.Action == protocol.ActionPresence && msg.Presence != nil {
		m.presenceEvents.WithLabelValues(msg.Presence.Action.Event()).Inc()
	}
}

// RegisterConnection exposes manager counters read at scrape time.
func (m *Metrics) RegisterConnection(stats func() connection.Stats) {
	counter := func(name, help string, read func(connection.Stats) int64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(read(stats())) })
	}
	m.reg.MustRegister(
		counter("reconnect_attempts_total", "Automatic reconnect attempts.",
			func(s connection.Stats) int64 { return s.ReconnectAttempts }),
		counter("frames_received_total", "Frames received from the transport.",
			func(s connection.Stats) int64 { return s.FramesReceived }),
		counter("frames_dropped_total", "Undecodable or stale frames dropped.",
			func(s connection.Stats) int64 { return s.FramesDropped }),
		counter("frames_sent_total", "Frames written to the transport.",
			func(s connection.Stats) int64 { return s.FramesSent }),
	)
}

// RegisterChannels exposes the number of registered channels.
func (m *Metrics) RegisterChannels(count func() int) {
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "channels",
		Name:      "registered",
		Help:      "Channels in the registry.",
	}, func() float64 { return float64(count()) }))
}

// Inserted records rows written to an archive table.
func (m *Metrics) Inserted(table string, rows int) {
	m.archiveRows.WithLabelValues(table).Add(float64(rows))
}

// Failed records a failed archive batch.
func (m *Metrics) Failed(table string) {
	m.archiveErrors.WithLabelValues(table).Inc()
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
