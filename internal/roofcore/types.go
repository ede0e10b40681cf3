// Package roofcore implements the roof motion controller's state machine:
// status resolution, relay sequencing, the safety watchdog, and the
// fail-safe electrical rules that keep a three-phase VFD from ever seeing
// a contradictory relay state.
package roofcore

import (
	"fmt"
	"time"

	"roofctl-go/x/mathx"
)

// Status is the roof's externally-visible motion state. Exactly one value
// holds at any time.
type Status int

const (
	StatusNotInitialized Status = iota
	StatusUnknown
	StatusOpening
	StatusClosing
	StatusOpen
	StatusClosed
	StatusPartiallyOpen
	StatusPartiallyClose
	StatusStopped
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusNotInitialized:
		return "NotInitialized"
	case StatusUnknown:
		return "Unknown"
	case StatusOpening:
		return "Opening"
	case StatusClosing:
		return "Closing"
	case StatusOpen:
		return "Open"
	case StatusClosed:
		return "Closed"
	case StatusPartiallyOpen:
		return "PartiallyOpen"
	case StatusPartiallyClose:
		return "PartiallyClose"
	case StatusStopped:
		return "Stopped"
	case StatusError:
		return "Error"
	default:
		return "Unknown"
	}
}

// IsMoving reports whether the roof is currently driven toward a limit.
func (s Status) IsMoving() bool { return s == StatusOpening || s == StatusClosing }

// StopReason records why the drive was last commanded to stop.
type StopReason int

const (
	StopReasonNone StopReason = iota
	StopReasonNormalStop
	StopReasonLimitSwitchReached
	StopReasonEmergencyStop
	StopReasonStopButtonPressed
	StopReasonSafetyWatchdogTimeout
	StopReasonSystemDisposal
)

func (r StopReason) String() string {
	switch r {
	case StopReasonNone:
		return "None"
	case StopReasonNormalStop:
		return "NormalStop"
	case StopReasonLimitSwitchReached:
		return "LimitSwitchReached"
	case StopReasonEmergencyStop:
		return "EmergencyStop"
	case StopReasonStopButtonPressed:
		return "StopButtonPressed"
	case StopReasonSafetyWatchdogTimeout:
		return "SafetyWatchdogTimeout"
	case StopReasonSystemDisposal:
		return "SystemDisposal"
	default:
		return "None"
	}
}

// CommandIntent is the most recent operator/automatic directive. It
// disambiguates partial states once motion stops without a limit reached.
type CommandIntent int

const (
	IntentNoneYet CommandIntent = iota
	IntentInitialize
	IntentOpen
	IntentClose
	IntentStop
	IntentLimitStop
	IntentSafetyStop
)

func (c CommandIntent) String() string {
	switch c {
	case IntentNoneYet:
		return "NoneYet"
	case IntentInitialize:
		return "Initialize"
	case IntentOpen:
		return "Open"
	case IntentClose:
		return "Close"
	case IntentStop:
		return "Stop"
	case IntentLimitStop:
		return "LimitStop"
	case IntentSafetyStop:
		return "SafetyStop"
	default:
		return "NoneYet"
	}
}

// LogicalInputs is the polarity-corrected view of the four digital inputs.
type LogicalInputs struct {
	OpenLimitReached   bool
	ClosedLimitReached bool
	FaultPresent       bool
	AtSpeed            bool
}

// RelayCommand is the four-relay electrical intent the sequencer converges
// hardware toward. Invariants (enforced by the controller, never by the
// caller of RelayCommand itself):
//   - never both Open and Close
//   - Stop is true for every non-motion status
//   - during motion exactly one of Open/Close is true and Stop is false
type RelayCommand struct {
	Stop       bool
	Open       bool
	Close      bool
	ClearFault bool
}

// fullStop is the fail-safe hold command: everything off except the
// inhibiting stop relay.
var fullStop = RelayCommand{Stop: true}

// RelayID identifies one of the four physical relay channels (1..4).
type RelayID int

const (
	Relay1 RelayID = iota + 1
	Relay2
	Relay3
	Relay4
)

// InputID identifies one of the four physical digital inputs (1..4).
type InputID int

const (
	Input1 InputID = iota + 1
	Input2
	Input3
	Input4
)

// Config carries every tunable the controller and its collaborators need.
// Zero-value Config is invalid; use DefaultConfig and override fields, then
// call Validate (NewController validates on the caller's behalf, but a
// caller may validate earlier to fail fast).
type Config struct {
	WatchdogTimeout     time.Duration
	OpenRelayID         RelayID
	CloseRelayID        RelayID
	ClearFaultRelayID   RelayID
	StopRelayID         RelayID
	UseNormallyClosedLimits bool
	EnableInputPolling  bool
	PollInterval        time.Duration

	EnablePeriodicVerificationWhileMoving bool
	PeriodicVerificationInterval          time.Duration

	MaxRelayRetryAttempts int
	RelayRetryDelay       time.Duration

	// Name and Source are informational only; they never participate in
	// validation or control flow. Name appears in log lines; Source
	// records where the config loader read this Config from.
	Name   string
	Source string
}

// DefaultConfig returns the recommended default configuration.
func DefaultConfig() Config {
	return Config{
		WatchdogTimeout:                        90 * time.Second,
		OpenRelayID:                            Relay1,
		CloseRelayID:                           Relay2,
		ClearFaultRelayID:                      Relay3,
		StopRelayID:                            Relay4,
		UseNormallyClosedLimits:                true,
		EnableInputPolling:                     true,
		PollInterval:                           25 * time.Millisecond,
		EnablePeriodicVerificationWhileMoving:   true,
		PeriodicVerificationInterval:            1 * time.Second,
		MaxRelayRetryAttempts:                   3,
		RelayRetryDelay:                         5 * time.Millisecond,
	}
}

// Validate rejects configurations that violate relay/timing invariants.
func (c Config) Validate() error {
	ids := map[RelayID]bool{}
	for _, id := range []RelayID{c.OpenRelayID, c.CloseRelayID, c.ClearFaultRelayID, c.StopRelayID} {
		if id < Relay1 || id > Relay4 {
			return &Error{Code: CodeInvalidConfig, Op: "Validate", Msg: fmt.Sprintf("relay id %d out of range 1..4", id)}
		}
		if ids[id] {
			return &Error{Code: CodeInvalidConfig, Op: "Validate", Msg: fmt.Sprintf("relay id %d assigned more than once", id)}
		}
		ids[id] = true
	}
	if c.WatchdogTimeout <= 0 {
		return &Error{Code: CodeInvalidConfig, Op: "Validate", Msg: "watchdog_timeout must be positive"}
	}
	if c.EnableInputPolling && c.PollInterval <= 0 {
		return &Error{Code: CodeInvalidConfig, Op: "Validate", Msg: "poll_interval must be positive when input polling is enabled"}
	}
	if c.EnablePeriodicVerificationWhileMoving {
		if !c.EnableInputPolling {
			return &Error{Code: CodeInvalidConfig, Op: "Validate", Msg: "periodic verification requires input polling to be enabled"}
		}
		if c.PeriodicVerificationInterval <= 0 {
			return &Error{Code: CodeInvalidConfig, Op: "Validate", Msg: "periodic_verification_interval must be positive"}
		}
		if c.PeriodicVerificationInterval > c.WatchdogTimeout {
			return &Error{Code: CodeInvalidConfig, Op: "Validate", Msg: "periodic_verification_interval must not exceed watchdog_timeout"}
		}
	}
	if c.MaxRelayRetryAttempts <= 0 {
		return &Error{Code: CodeInvalidConfig, Op: "Validate", Msg: "max_relay_retry_attempts must be positive"}
	}
	if c.RelayRetryDelay <= 0 {
		return &Error{Code: CodeInvalidConfig, Op: "Validate", Msg: "relay_retry_delay must be positive"}
	}
	return nil
}

// ClampPulseMS clamps a requested clear-fault pulse width to >= 0.
func ClampPulseMS(ms int) int {
	return mathx.Max(ms, 0)
}

// StatusSnapshot is an immutable, freely-shareable status record delivered
// to subscribers on every externally-visible transition and returned from
// every command.
type StatusSnapshot struct {
	Status                   Status
	IsMoving                 bool
	LastStopReason           StopReason
	LastTransitionUTC        time.Time
	IsWatchdogActive         bool
	WatchdogSecondsRemaining float64
	HasWatchdogRemaining     bool
	IsAtSpeed                bool
}

// HealthSnapshot is the read-only projection a liveness/readiness probe
// samples. Unlike composing Snapshot/IsInitialized/IsDisposed from three
// separate calls, every field here is read under a single lock
// acquisition, so the fields can never straddle an intervening
// transition.
type HealthSnapshot struct {
	IsInitialized            bool
	IsDisposed               bool
	Status                   Status
	LastStopReason           StopReason
	IsMoving                 bool
	IsWatchdogActive         bool
	WatchdogSecondsRemaining float64
	HasWatchdogRemaining     bool

	// Ready is true only once Initialize has completed, Dispose has not
	// run, and the controller isn't latched in Error.
	Ready bool

	// SampledAtUTC is the time this snapshot was taken, not the time of
	// the underlying state's last transition.
	SampledAtUTC time.Time
}
