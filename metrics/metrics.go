package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments the relay. All recorder methods are nil-safe so
// components can run without instrumentation in tests.
type Metrics struct {
	ActiveClients     prometheus.Gauge
	ActiveRooms       prometheus.Gauge
	StrokesTotal      prometheus.Counter
	BackpressureDrops prometheus.Counter
	ProtocolErrors    prometheus.Counter
}

var (
	once     sync.Once
	instance *Metrics
)

// New returns the process-wide metrics instance, registering the
// collectors on first call.
func New() *Metrics {
	once.Do(func() {
		instance = &Metrics{
			ActiveClients: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "strokesync_active_clients",
				Help: "Current number of connected clients",
			}),
			ActiveRooms: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "strokesync_active_rooms",
				Help: "Current number of live rooms",
			}),
			StrokesTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "strokesync_strokes_total",
				Help: "Total number of strokes accepted and relayed",
			}),
			BackpressureDrops: promauto.NewCounter(prometheus.CounterOpts{
				Name: "strokesync_backpressure_drops_total",
				Help: "Total number of sessions dropped for a full outbound queue",
			}),
			ProtocolErrors: promauto.NewCounter(prometheus.CounterOpts{
				Name: "strokesync_protocol_errors_total",
				Help: "Total number of malformed inbound messages discarded",
			}),
		}
	})
	return instance
}

func (m *Metrics) ClientConnected() {
	if m == nil || m.ActiveClients == nil {
		return
	}
	m.ActiveClients.Inc()
}

func (m *Metrics) ClientDisconnected() {
	if m == nil || m.ActiveClients == nil {
		return
	}
	m.ActiveClients.Dec()
}

func (m *Metrics) RoomOpened() {
	if m == nil || m.ActiveRooms == nil {
		return
	}
	m.ActiveRooms.Inc()
}

func (m *Metrics) RoomClosed() {
	if m == nil || m.ActiveRooms == nil {
		return
	}
	m.ActiveRooms.Dec()
}

func (m *Metrics) RecordStroke() {
	if m == nil || m.StrokesTotal == nil {
		return
	}
	m.StrokesTotal.Inc()
}

func (m *Metrics) RecordBackpressureDrop() {
	if m == nil || m.BackpressureDrops == nil {
		return
	}
	m.BackpressureDrops.Inc()
}

func (m *Metrics) RecordProtocolError() {
	if m == nil || m.ProtocolErrors == nil {
		return
	}
	m.ProtocolErrors.Inc()
}
