package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"roofctl-go/internal/roofcore"
)

func TestObserveSetsStatusGaugeExclusively(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.Observe(roofcore.StatusSnapshot{Status: roofcore.StatusOpening})

	if got := testutil.ToFloat64(m.status.WithLabelValues("Opening")); got != 1 {
		t.Fatalf("expected Opening=1, got %v", got)
	}
	if got := testutil.ToFloat64(m.status.WithLabelValues("Closing")); got != 0 {
		t.Fatalf("expected Closing=0, got %v", got)
	}
}

func TestObserveTracksWatchdog(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.Observe(roofcore.StatusSnapshot{IsWatchdogActive: true, WatchdogSecondsRemaining: 42})
	if got := testutil.ToFloat64(m.watchdogActive); got != 1 {
		t.Fatalf("expected watchdog active gauge 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.watchdogRemain); got != 42 {
		t.Fatalf("expected 42 remaining, got %v", got)
	}

	m.Observe(roofcore.StatusSnapshot{})
	if got := testutil.ToFloat64(m.watchdogActive); got != 0 {
		t.Fatalf("expected watchdog active gauge reset to 0, got %v", got)
	}
}

func TestRelayFailureHookIncrementsCounter(t *testing.T) {
	m := New(prometheus.NewRegistry())
	hook := m.RelayFailureHook()
	hook(roofcore.Relay2, errors.New("boom"))
	hook(roofcore.Relay2, errors.New("boom again"))

	if got := testutil.ToFloat64(m.relayFailures.WithLabelValues("2")); got != 2 {
		t.Fatalf("expected 2 failures recorded, got %v", got)
	}
	if got := testutil.ToFloat64(m.relayFailures.WithLabelValues("1")); got != 0 {
		t.Fatalf("expected relay 1 untouched, got %v", got)
	}
}

func TestObserveIncrementsTransitionsCounter(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.Observe(roofcore.StatusSnapshot{})
	m.Observe(roofcore.StatusSnapshot{})
	if got := testutil.ToFloat64(m.transitions); got != 2 {
		t.Fatalf("expected 2 transitions recorded, got %v", got)
	}
}
