package roofcore

import (
	"context"

	"roofctl-go/internal/hatio"
	"roofctl-go/internal/obslog"
)

// Sequencer applies a RelayCommand atomically: it writes all four relays
// in a fixed order (stop, open, close, clear_fault) using the HAT port's
// own retrying setter, and does not let one relay's failure stop it from
// writing the rest — the goal is to converge hardware state toward cmd
// rather than leave it stranded half-applied. Grounded on the
// teacher's register write pattern (drivers/ltc4015/bus.go) for the
// per-relay Tx call, generalized from a single retry-capable register
// write to four independent ones applied in sequence.
type Sequencer struct {
	port hatio.Port
	cfg  Config
	log  obslog.Logger

	// onFailure, when set, is invoked for every relay write that exhausts
	// its retries. Wired to internal/metrics by the entrypoint; nil by
	// default so the core never depends on metrics.
	onFailure func(RelayID, error)
}

// NewSequencer builds a Sequencer over port, using cfg's relay-ID mapping.
func NewSequencer(port hatio.Port, cfg Config, log obslog.Logger) *Sequencer {
	if log == nil {
		log = obslog.New(nil)
	}
	return &Sequencer{port: port, cfg: cfg, log: log}
}

// SetFailureHook installs fn to be called on every relay write failure.
// Pass nil to clear it.
func (sq *Sequencer) SetFailureHook(fn func(RelayID, error)) {
	sq.onFailure = fn
}

// Summary is an aggregate success/fail report. The controller uses it
// only for logging, never for state transitions — correctness depends on
// the *intended* electrical state under the fail-safe rules, not on
// whether every individual write succeeded.
type Summary struct {
	Failures map[RelayID]error
}

func (s Summary) OK() bool { return len(s.Failures) == 0 }

// Apply writes cmd to hardware in the fixed stop/open/close/clear_fault
// order.
func (sq *Sequencer) Apply(ctx context.Context, cmd RelayCommand) Summary {
	sum := Summary{Failures: map[RelayID]error{}}

	type line struct {
		id RelayID
		on bool
	}
	lines := []line{
		{sq.cfg.StopRelayID, cmd.Stop},
		{sq.cfg.OpenRelayID, cmd.Open},
		{sq.cfg.CloseRelayID, cmd.Close},
		{sq.cfg.ClearFaultRelayID, cmd.ClearFault},
	}

	for _, l := range lines {
		if err := sq.port.TrySetRelay(ctx, hatio.RelayID(l.id), l.on); err != nil {
			sum.Failures[l.id] = err
			sq.log.ErrorCtx(ctx, "relay write failed", "relay", l.id, "requested_on", l.on, "err", err)
			if sq.onFailure != nil {
				sq.onFailure(l.id, err)
			}
		}
	}
	return sum
}
