// Package metrics exports the roof controller's state as Prometheus
// instruments: a registry owning a fixed set of vectors, registered once
// and reused. A single controller only ever needs one concrete backend,
// so there's no pluggable Provider/Counter/Gauge indirection layered on
// top — just the vectors themselves.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"roofctl-go/internal/roofcore"
)

// statusNames must stay in sync with roofcore.Status's String method; it
// drives the per-status enum gauge.
var statusNames = []string{
	"NotInitialized", "Unknown", "Opening", "Closing", "Open", "Closed",
	"PartiallyOpen", "PartiallyClose", "Stopped", "Error",
}

var stopReasonNames = []string{
	"None", "NormalStop", "LimitSwitchReached", "EmergencyStop",
	"StopButtonPressed", "SafetyWatchdogTimeout", "SystemDisposal",
}

// Metrics owns every Prometheus instrument this binary exposes.
type Metrics struct {
	reg *prometheus.Registry

	status        *prometheus.GaugeVec
	lastStopReason *prometheus.GaugeVec
	watchdogActive prometheus.Gauge
	watchdogRemain prometheus.Gauge
	atSpeed        prometheus.Gauge
	relayFailures  *prometheus.CounterVec
	transitions    prometheus.Counter
}

// New builds a Metrics instance and registers every instrument against
// reg. Pass prometheus.NewRegistry() for an isolated registry, or
// prometheus.DefaultRegisterer's underlying registry to join the global
// one.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		reg: reg,
		status: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "roofctl_status",
			Help: "1 for the roof controller's current status, 0 for every other status value.",
		}, []string{"status"}),
		lastStopReason: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "roofctl_last_stop_reason",
			Help: "1 for the most recently recorded stop reason, 0 for every other value.",
		}, []string{"reason"}),
		watchdogActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "roofctl_watchdog_active",
			Help: "1 if the safety watchdog is currently armed.",
		}),
		watchdogRemain: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "roofctl_watchdog_seconds_remaining",
			Help: "Seconds remaining before the safety watchdog fires, 0 when disarmed.",
		}),
		atSpeed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "roofctl_at_speed",
			Help: "1 if the drive's at-speed input is currently asserted.",
		}),
		relayFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roofctl_relay_write_failures_total",
			Help: "Relay writes that exhausted their retry budget, by relay id.",
		}, []string{"relay"}),
		transitions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "roofctl_status_transitions_total",
			Help: "Total number of published status snapshots.",
		}),
	}
	for _, c := range []prometheus.Collector{
		m.status, m.lastStopReason, m.watchdogActive, m.watchdogRemain,
		m.atSpeed, m.relayFailures, m.transitions,
	} {
		_ = reg.Register(c) // AlreadyRegisteredError is harmless on a shared registry
	}
	for _, s := range statusNames {
		m.status.WithLabelValues(s).Set(0)
	}
	for _, r := range stopReasonNames {
		m.lastStopReason.WithLabelValues(r).Set(0)
	}
	return m
}

// Registry returns the underlying registry, for wiring an HTTP handler
// (left to the caller; see cmd/roofctl).
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Observe applies one status snapshot to every gauge it drives.
func (m *Metrics) Observe(snap roofcore.StatusSnapshot) {
	for i, s := range statusNames {
		v := 0.0
		if roofcore.Status(i) == snap.Status {
			v = 1
		}
		m.status.WithLabelValues(s).Set(v)
	}
	for i, r := range stopReasonNames {
		v := 0.0
		if roofcore.StopReason(i) == snap.LastStopReason {
			v = 1
		}
		m.lastStopReason.WithLabelValues(r).Set(v)
	}
	if snap.IsWatchdogActive {
		m.watchdogActive.Set(1)
		m.watchdogRemain.Set(snap.WatchdogSecondsRemaining)
	} else {
		m.watchdogActive.Set(0)
		m.watchdogRemain.Set(0)
	}
	if snap.IsAtSpeed {
		m.atSpeed.Set(1)
	} else {
		m.atSpeed.Set(0)
	}
	m.transitions.Inc()
}

// RelayFailureHook returns a callback suitable for
// RoofController.SetRelayFailureHook.
func (m *Metrics) RelayFailureHook() func(roofcore.RelayID, error) {
	return func(id roofcore.RelayID, _ error) {
		m.relayFailures.WithLabelValues(relayLabel(id)).Inc()
	}
}

func relayLabel(id roofcore.RelayID) string {
	switch id {
	case roofcore.Relay1:
		return "1"
	case roofcore.Relay2:
		return "2"
	case roofcore.Relay3:
		return "3"
	case roofcore.Relay4:
		return "4"
	default:
		return "unknown"
	}
}

// Run feeds every snapshot received on ch to Observe until the channel
// closes or ctx is cancelled.
func (m *Metrics) Run(ctx context.Context, ch <-chan roofcore.StatusSnapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-ch:
			if !ok {
				return
			}
			m.Observe(snap)
		}
	}
}
