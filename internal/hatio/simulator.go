package hatio

import (
	"context"
	"sync"
)

// Simulator is an in-memory Port used by the controller's tests and by
// the host demo binary when no real HAT is attached. Grounded on the
// teacher's host-simulator pairing (services/hal/internal/devices/
// aht20adpt/driver_host.go) and its fakeIRQPin test double
// (services/hal/internal/gpioirq/irq_worker_test.go): a test can drive
// raw input levels directly and optionally inject relay-write failures to
// exercise the sequencer's log-and-converge behaviour.
type Simulator struct {
	mu sync.Mutex

	relays   [4]bool
	inputs   [4]bool
	disposed bool

	// failRelay, when non-nil, is consulted on every TrySetRelay call;
	// returning a non-nil error simulates a permanent I/O failure for
	// that relay (used to test the sequencer's log-and-converge path).
	failRelay func(id RelayID, on bool) error

	subs []chan Edge
}

// NewSimulator returns a Simulator with all relays de-energized and all
// inputs at raw level false.
func NewSimulator() *Simulator {
	return &Simulator{}
}

// SetRelayFailure installs a hook consulted on every TrySetRelay call.
// Pass nil to clear it.
func (s *Simulator) SetRelayFailure(f func(id RelayID, on bool) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failRelay = f
}

// TrySetRelay implements Port.
func (s *Simulator) TrySetRelay(_ context.Context, id RelayID, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return ErrDisposed
	}
	if s.failRelay != nil {
		if err := s.failRelay(id, on); err != nil {
			return err
		}
	}
	s.relays[id-1] = on
	return nil
}

// RelayState reports the simulator's current idea of relay id's level.
// Test-only helper; not part of the Port contract.
func (s *Simulator) RelayState(id RelayID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.relays[id-1]
}

// ReadAllInputs implements Port.
func (s *Simulator) ReadAllInputs(_ context.Context) ([4]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return [4]bool{}, ErrDisposed
	}
	return s.inputs, nil
}

// SetInput drives input id's raw level and, if the level actually
// changed, publishes an Edge to every current subscriber.
func (s *Simulator) SetInput(id InputID, level bool) {
	s.mu.Lock()
	idx := id - 1
	changed := s.inputs[idx] != level
	s.inputs[idx] = level
	subs := append([]chan Edge(nil), s.subs...)
	s.mu.Unlock()

	if !changed {
		return
	}
	ev := Edge{Input: id, RawLevel: level}
	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
			// Best-effort, matching the edge stream's "implementations
			// may poll" guidance: a slow subscriber misses a coalesced
			// edge rather than blocking the simulator.
		}
	}
}

// Subscribe implements Port.
func (s *Simulator) Subscribe() (<-chan Edge, func()) {
	ch := make(chan Edge, 8)
	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, c := range s.subs {
			if c == ch {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel
}

// Dispose implements Port.
func (s *Simulator) Dispose() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return nil
	}
	s.disposed = true
	for _, ch := range s.subs {
		close(ch)
	}
	s.subs = nil
	return nil
}
