package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector exposes connection-manager metrics to Prometheus.
// All methods are safe on a nil receiver.
type Collector struct {
	gatherer prometheus.Gatherer

	ConnectionEvents  *prometheus.CounterVec
	StateTransitions  *prometheus.CounterVec
	RadioEvents       *prometheus.CounterVec
	ScansIssued       *prometheus.CounterVec
	ReconnectAttempts prometheus.Counter
	QueueDepth        prometheus.Gauge
	PermitHeld        prometheus.Gauge
	ConnectDuration   prometheus.Histogram
}

// NewCollector registers the metrics against reg, or the default registerer
// when reg is nil.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	events, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wlcmgr_connection_events_total",
		Help: "Connection events delivered to the user callback, by reason.",
	}, []string{"reason"}), "wlcmgr_connection_events_total")
	if err != nil {
		return nil, err
	}

	transitions, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wlcmgr_state_transitions_total",
		Help: "State machine transitions, by role and entered state.",
	}, []string{"role", "state"}), "wlcmgr_state_transitions_total")
	if err != nil {
		return nil, err
	}

	radioEvents, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wlcmgr_radio_events_total",
		Help: "Radio firmware events handled by the event loop, by kind.",
	}, []string{"kind"}), "wlcmgr_radio_events_total")
	if err != nil {
		return nil, err
	}

	scans, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wlcmgr_scans_issued_total",
		Help: "Scan commands sent to the radio, by purpose.",
	}, []string{"purpose"}), "wlcmgr_scans_issued_total")
	if err != nil {
		return nil, err
	}

	reconnects, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wlcmgr_reconnect_attempts_total",
		Help: "Automatic reconnection attempts.",
	}), "wlcmgr_reconnect_attempts_total")
	if err != nil {
		return nil, err
	}

	depth, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wlcmgr_queue_depth",
		Help: "Messages waiting in the event loop queue.",
	}), "wlcmgr_queue_depth")
	if err != nil {
		return nil, err
	}

	permit, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wlcmgr_scan_permit_held",
		Help: "1 while an operation holds the scan permit.",
	}), "wlcmgr_scan_permit_held")
	if err != nil {
		return nil, err
	}

	duration, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "wlcmgr_connect_duration_seconds",
		Help:    "Time from connect request to connected state.",
		Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
	}), "wlcmgr_connect_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:          gatherer,
		ConnectionEvents:  events,
		StateTransitions:  transitions,
		RadioEvents:       radioEvents,
		ScansIssued:       scans,
		ReconnectAttempts: reconnects,
		QueueDepth:        depth,
		PermitHeld:        permit,
		ConnectDuration:   duration,
	}, nil
}

// Handler serves the collector's gatherer in the Prometheus text format
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

// ObserveEvent counts a delivered connection event
func (c *Collector) ObserveEvent(reason string) {
	if c == nil {
		return
	}
	c.ConnectionEvents.WithLabelValues(reason).Inc()
}

// ObserveTransition counts a state change of role into state
func (c *Collector) ObserveTransition(role, state string) {
	if c == nil {
		return
	}
	c.StateTransitions.WithLabelValues(role, state).Inc()
}

// ObserveRadioEvent counts a handled firmware event
func (c *Collector) ObserveRadioEvent(kind string) {
	if c == nil {
		return
	}
	c.RadioEvents.WithLabelValues(kind).Inc()
}

// ObserveScan counts an issued scan
func (c *Collector) ObserveScan(purpose string) {
	if c == nil {
		return
	}
	c.ScansIssued.WithLabelValues(purpose).Inc()
}

// IncReconnects counts an automatic reconnection attempt
func (c *Collector) IncReconnects() {
	if c == nil {
		return
	}
	c.ReconnectAttempts.Inc()
}

// SetQueueDepth updates the queue depth gauge
func (c *Collector) SetQueueDepth(n int) {
	if c == nil {
		return
	}
	c.QueueDepth.Set(float64(n))
}

// SetPermitHeld updates the scan permit gauge
func (c *Collector) SetPermitHeld(held bool) {
	if c == nil {
		return
	}
	v := 0.0
	if held {
		v = 1
	}
	c.PermitHeld.Set(v)
}

// ObserveConnectDuration records the time a successful connection took
func (c *Collector) ObserveConnectDuration(seconds float64) {
	if c == nil {
		return
	}
	c.ConnectDuration.Observe(seconds)
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}
