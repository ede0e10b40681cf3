package roofcore

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"roofctl-go/internal/hatio"
	"roofctl-go/internal/obslog"
	"roofctl-go/internal/statuspub"
)

// RoofController is the core state machine. It exclusively owns the
// Watchdog, the Relay Sequencer, and the Status Publisher's subscriber
// set; it holds a reference to the HAT Port but does not own the port's
// lifetime beyond its own — Dispose stops motion and unsubscribes from
// edges, but never calls Port.Dispose itself.
//
// Every mutating operation is serialized by mu: a command that returns
// has already applied its RelayCommand, updated
// status/last_command/last_stop_reason, and published a snapshot, rather
// than being queued through an event loop for later processing.
type RoofController struct {
	port hatio.Port
	cfg  Config
	seq  *Sequencer
	wd   *Watchdog
	pub  *statuspub.Publisher[StatusSnapshot]
	log  obslog.Logger

	nowFunc func() time.Time

	mu          sync.Mutex
	initialized bool
	disposed    bool

	status            Status
	lastCommand       CommandIntent
	lastStopReason    StopReason
	lastTransitionUTC time.Time
	logical           LogicalInputs

	edgeCancel func()
	verifyStop chan struct{}

	disposeSignal chan struct{}
	disposeOnce   sync.Once
}

// NewController validates cfg and returns an uninitialized controller
// over port. Call Initialize before issuing any other command.
func NewController(port hatio.Port, cfg Config, base *slog.Logger) (*RoofController, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := obslog.New(base)
	c := &RoofController{
		port:          port,
		cfg:           cfg,
		log:           log,
		pub:           statuspub.New[StatusSnapshot](),
		nowFunc:       time.Now,
		status:        StatusNotInitialized,
		lastCommand:   IntentNoneYet,
		disposeSignal: make(chan struct{}),
	}
	c.seq = NewSequencer(port, cfg, log)
	c.wd = NewWatchdog(c.onWatchdogFire)
	return c, nil
}

func (c *RoofController) now() time.Time { return c.nowFunc() }

// Subscribe registers a new status-snapshot subscriber; see statuspub for
// delivery semantics (bounded, non-blocking, replace-oldest).
func (c *RoofController) Subscribe(queueLen int) *statuspub.Subscription[StatusSnapshot] {
	return c.pub.Subscribe(queueLen)
}

// SetRelayFailureHook installs fn to observe every relay write failure the
// Sequencer records (wired to internal/metrics by the entrypoint).
func (c *RoofController) SetRelayFailureHook(fn func(RelayID, error)) {
	c.seq.SetFailureHook(fn)
}

// Snapshot returns the current status, safe to call concurrently with any
// command (backs the Health Probe).
func (c *RoofController) Snapshot() StatusSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// IsInitialized reports whether Initialize has completed successfully.
func (c *RoofController) IsInitialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized
}

// IsDisposed reports whether Dispose has run.
func (c *RoofController) IsDisposed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disposed
}

// Health samples every field a liveness/readiness probe needs in a
// single lock acquisition, so the result can never mix state from two
// different points in time the way calling Snapshot/IsInitialized/
// IsDisposed separately would.
func (c *RoofController) Health() HealthSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.healthLocked()
}

func (c *RoofController) healthLocked() HealthSnapshot {
	snap := c.snapshotLocked()
	return HealthSnapshot{
		IsInitialized:            c.initialized,
		IsDisposed:               c.disposed,
		Status:                   snap.Status,
		LastStopReason:           snap.LastStopReason,
		IsMoving:                 snap.IsMoving,
		IsWatchdogActive:         snap.IsWatchdogActive,
		WatchdogSecondsRemaining: snap.WatchdogSecondsRemaining,
		HasWatchdogRemaining:     snap.HasWatchdogRemaining,
		Ready:                    c.initialized && !c.disposed && snap.Status != StatusError,
		SampledAtUTC:             c.now(),
	}
}

// Initialize performs exactly-once setup: it subscribes to HAT input
// edges, reaches a known safe state via an internal stop, reads the
// starting limit/fault state, and resolves the initial Status.
func (c *RoofController) Initialize(ctx context.Context) (StatusSnapshot, error) {
	c.mu.Lock()
	if c.disposed {
		defer c.mu.Unlock()
		return c.snapshotLocked(), &Error{Code: CodeDisposed, Op: "Initialize"}
	}
	if c.initialized {
		defer c.mu.Unlock()
		return c.snapshotLocked(), &Error{Code: CodeAlreadyInitialized, Op: "Initialize"}
	}
	c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return StatusSnapshot{Status: StatusNotInitialized}, &Error{Code: CodeCancelled, Op: "Initialize", Err: err}
	}

	var edgeCh <-chan hatio.Edge
	var cancelSub func()
	if c.cfg.EnableInputPolling {
		edgeCh, cancelSub = c.port.Subscribe()
		go c.edgeLoop(edgeCh)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed {
		if cancelSub != nil {
			cancelSub()
		}
		return c.snapshotLocked(), &Error{Code: CodeDisposed, Op: "Initialize"}
	}
	if c.initialized {
		if cancelSub != nil {
			cancelSub()
		}
		return c.snapshotLocked(), &Error{Code: CodeAlreadyInitialized, Op: "Initialize"}
	}
	if err := ctx.Err(); err != nil {
		if cancelSub != nil {
			cancelSub()
		}
		return c.snapshotLocked(), &Error{Code: CodeCancelled, Op: "Initialize", Err: err}
	}

	c.edgeCancel = cancelSub
	c.lastCommand = IntentInitialize
	c.internalStopLocked(ctx, StopReasonNone)

	raw, err := c.port.ReadAllInputs(ctx)
	if err != nil {
		if cancelSub != nil {
			cancelSub()
		}
		c.edgeCancel = nil
		return c.snapshotLocked(), &Error{Code: CodeIOError, Op: "Initialize", Err: err}
	}
	c.logical = mapPolarity(raw, c.cfg.UseNormallyClosedLimits)

	c.initialized = true
	c.status = c.resolveStatusLocked()
	c.lastTransitionUTC = c.now()
	snap := c.snapshotLocked()
	c.publishLocked(snap)

	go c.watchCancellation(ctx)
	return snap, nil
}

// watchCancellation triggers a normal stop if ctx is cancelled any time
// after Initialize succeeds, until Dispose.
func (c *RoofController) watchCancellation(ctx context.Context) {
	select {
	case <-ctx.Done():
		_, _ = c.Stop(context.Background(), StopReasonNormalStop)
	case <-c.disposeSignal:
	}
}

// Open commands the roof toward the open limit.
func (c *RoofController) Open(ctx context.Context) (StatusSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.precheckLocked("Open"); err != nil {
		return c.snapshotLocked(), err
	}
	if c.logical.FaultPresent {
		return c.snapshotLocked(), &Error{Code: CodePreconditionFailed, Op: "Open", Msg: "fault present"}
	}
	if c.logical.OpenLimitReached && !c.logical.ClosedLimitReached {
		return c.snapshotLocked(), nil // already at the open limit; success, no-op
	}

	c.lastCommand = IntentOpen
	c.internalStopLocked(ctx, StopReasonNormalStop) // guarantee the drive is inhibited before asserting motion
	c.applyRelayLocked(ctx, RelayCommand{Open: true})
	c.status = StatusOpening
	c.lastTransitionUTC = c.now()
	c.wd.Start(c.cfg.WatchdogTimeout)
	c.startPeriodicVerificationLocked()

	snap := c.snapshotLocked()
	c.publishLocked(snap)
	return snap, nil
}

// Close commands the roof toward the closed limit.
func (c *RoofController) Close(ctx context.Context) (StatusSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.precheckLocked("Close"); err != nil {
		return c.snapshotLocked(), err
	}
	if c.logical.FaultPresent {
		return c.snapshotLocked(), &Error{Code: CodePreconditionFailed, Op: "Close", Msg: "fault present"}
	}
	if c.logical.ClosedLimitReached && !c.logical.OpenLimitReached {
		return c.snapshotLocked(), nil // already at the closed limit; success, no-op
	}

	c.lastCommand = IntentClose
	c.internalStopLocked(ctx, StopReasonNormalStop)
	c.applyRelayLocked(ctx, RelayCommand{Close: true})
	c.status = StatusClosing
	c.lastTransitionUTC = c.now()
	c.wd.Start(c.cfg.WatchdogTimeout)
	c.startPeriodicVerificationLocked()

	snap := c.snapshotLocked()
	c.publishLocked(snap)
	return snap, nil
}

// Stop commands an immediate fail-safe hold. Idempotent: calling it twice
// in a row leaves status, relay state, and watchdog state unchanged after
// the first call.
func (c *RoofController) Stop(ctx context.Context, reason StopReason) (StatusSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.precheckLocked("Stop"); err != nil {
		return c.snapshotLocked(), err
	}
	if reason == StopReasonNone {
		reason = StopReasonNormalStop
	}
	c.internalStopLocked(ctx, reason)
	c.status = c.resolveStatusLocked()
	c.lastTransitionUTC = c.now()

	snap := c.snapshotLocked()
	c.publishLocked(snap)
	return snap, nil
}

// ClearFault performs an emergency stop, pulses the clear-fault relay
// low/high/low holding the high state for pulseMS (clamped to >= 0), then
// re-reads inputs and resolves status. The core always executes the
// pulse when initialized; gating it on Status == Error is left to the
// API boundary.
func (c *RoofController) ClearFault(ctx context.Context, pulseMS int) (StatusSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.precheckLocked("ClearFault"); err != nil {
		return c.snapshotLocked(), err
	}
	pulseMS = ClampPulseMS(pulseMS)

	c.internalStopLocked(ctx, StopReasonEmergencyStop)
	c.applyRelayLocked(ctx, RelayCommand{Stop: true, ClearFault: false}) // low
	c.applyRelayLocked(ctx, RelayCommand{Stop: true, ClearFault: true})  // high
	if pulseMS > 0 {
		time.Sleep(time.Duration(pulseMS) * time.Millisecond)
	}
	c.applyRelayLocked(ctx, RelayCommand{Stop: true, ClearFault: false}) // low

	if raw, err := c.port.ReadAllInputs(ctx); err == nil {
		c.logical = mapPolarity(raw, c.cfg.UseNormallyClosedLimits)
	}
	c.status = c.resolveStatusLocked()
	c.lastTransitionUTC = c.now()

	snap := c.snapshotLocked()
	c.publishLocked(snap)
	return snap, nil
}

// Dispose is idempotent: it performs a final internal stop, unsubscribes
// from input edges, stops the watchdog, and marks the controller
// disposed. It never calls Port.Dispose — the port's lifetime is the
// caller's to manage.
func (c *RoofController) Dispose() (StatusSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return c.snapshotLocked(), nil
	}

	c.internalStopLocked(context.Background(), StopReasonSystemDisposal)
	c.status = c.resolveStatusLocked()
	c.lastTransitionUTC = c.now()
	c.disposed = true

	if c.edgeCancel != nil {
		c.edgeCancel()
		c.edgeCancel = nil
	}
	c.disposeOnce.Do(func() { close(c.disposeSignal) })

	snap := c.snapshotLocked()
	c.publishLocked(snap)
	c.pub.Close()
	return snap, nil
}

// ---- internal helpers (all require c.mu held) ----

func (c *RoofController) precheckLocked(op string) error {
	if c.disposed {
		return &Error{Code: CodeDisposed, Op: op}
	}
	if !c.initialized {
		return &Error{Code: CodeNotInitialized, Op: op}
	}
	return nil
}

// internalStopLocked reaches the fail-safe hold state: all relays off
// except Stop, watchdog disarmed, periodic verification halted, and
// last_stop_reason recorded. It never touches Status or last_command —
// callers resolve status themselves afterward.
func (c *RoofController) internalStopLocked(ctx context.Context, reason StopReason) {
	c.applyRelayLocked(ctx, fullStop)
	c.wd.Stop()
	c.stopPeriodicVerificationLocked()
	c.lastStopReason = reason
}

func (c *RoofController) applyRelayLocked(ctx context.Context, cmd RelayCommand) Summary {
	sum := c.seq.Apply(ctx, cmd)
	if !sum.OK() {
		c.log.WarnCtx(ctx, "relay command applied with failures", "failures", len(sum.Failures))
	}
	return sum
}

func (c *RoofController) resolveStatusLocked() Status {
	return resolveStatus(c.logical.OpenLimitReached, c.logical.ClosedLimitReached, c.lastCommand, c.wd.IsActive())
}

func (c *RoofController) snapshotLocked() StatusSnapshot {
	snap := StatusSnapshot{
		Status:            c.status,
		IsMoving:          c.status.IsMoving(),
		LastStopReason:    c.lastStopReason,
		LastTransitionUTC: c.lastTransitionUTC,
		IsWatchdogActive:  c.wd.IsActive(),
		IsAtSpeed:         c.logical.AtSpeed,
	}
	if snap.IsWatchdogActive {
		snap.WatchdogSecondsRemaining = c.wd.Remaining().Seconds()
		snap.HasWatchdogRemaining = true
	}
	return snap
}

func (c *RoofController) publishLocked(snap StatusSnapshot) {
	c.pub.Publish(snap)
}

// ---- edge handling ----

func (c *RoofController) edgeLoop(ch <-chan hatio.Edge) {
	for ev := range ch {
		c.handleEdge(ev)
	}
}

func (c *RoofController) handleEdge(ev hatio.Edge) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return
	}
	c.handleEdgeLocked(ev.Input, ev.RawLevel)
}

func (c *RoofController) handleEdgeLocked(input hatio.InputID, raw bool) {
	switch input {
	case hatio.Input1:
		level := raw
		if c.cfg.UseNormallyClosedLimits {
			level = !level
		}
		prev := c.logical.OpenLimitReached
		c.logical.OpenLimitReached = level
		if level && !prev {
			c.onOpenLimitReachedLocked()
			return
		}
	case hatio.Input2:
		level := raw
		if c.cfg.UseNormallyClosedLimits {
			level = !level
		}
		prev := c.logical.ClosedLimitReached
		c.logical.ClosedLimitReached = level
		if level && !prev {
			c.onClosedLimitReachedLocked()
			return
		}
	case hatio.Input3:
		prev := c.logical.FaultPresent
		c.logical.FaultPresent = raw
		if raw && !prev {
			c.onFaultLocked()
			return
		}
	case hatio.Input4:
		c.logical.AtSpeed = raw
		c.publishLocked(c.snapshotLocked())
		return
	}

	// A release, or a limit already known reached: re-resolve without
	// forcing a new stop or bumping the transition timestamp.
	c.status = c.resolveStatusLocked()
	c.publishLocked(c.snapshotLocked())
}

func (c *RoofController) onOpenLimitReachedLocked() {
	c.internalStopLocked(context.Background(), StopReasonLimitSwitchReached)
	c.status = c.resolveStatusLocked()
	c.lastTransitionUTC = c.now()
	c.publishLocked(c.snapshotLocked())
}

func (c *RoofController) onClosedLimitReachedLocked() {
	c.internalStopLocked(context.Background(), StopReasonLimitSwitchReached)
	c.status = c.resolveStatusLocked()
	c.lastTransitionUTC = c.now()
	c.publishLocked(c.snapshotLocked())
}

func (c *RoofController) onFaultLocked() {
	c.internalStopLocked(context.Background(), StopReasonEmergencyStop)
	c.status = StatusError
	c.lastTransitionUTC = c.now()
	c.publishLocked(c.snapshotLocked())
}

// onWatchdogFire is the Watchdog's fire callback. It runs on the
// watchdog's own goroutine, so it takes mu itself.
func (c *RoofController) onWatchdogFire() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed || !c.status.IsMoving() {
		return
	}
	c.internalStopLocked(context.Background(), StopReasonSafetyWatchdogTimeout)
	c.status = StatusError
	c.lastTransitionUTC = c.now()
	c.publishLocked(c.snapshotLocked())
}

// ---- periodic verification ----

func (c *RoofController) startPeriodicVerificationLocked() {
	if !c.cfg.EnableInputPolling || !c.cfg.EnablePeriodicVerificationWhileMoving {
		return
	}
	if c.verifyStop != nil {
		return
	}
	stop := make(chan struct{})
	c.verifyStop = stop
	go c.periodicVerificationLoop(stop)
}

func (c *RoofController) stopPeriodicVerificationLocked() {
	if c.verifyStop != nil {
		close(c.verifyStop)
		c.verifyStop = nil
	}
}

func (c *RoofController) periodicVerificationLoop(stop chan struct{}) {
	ticker := time.NewTicker(c.cfg.PeriodicVerificationInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.verifyOnce()
		}
	}
}

// verifyOnce performs a direct read to catch a missed edge
// "Periodic verification"). The edge stream remains authoritative: this
// only replays the same edge-handling path the stream would have taken,
// exactly once per missed transition.
func (c *RoofController) verifyOnce() {
	c.mu.Lock()
	moving := !c.disposed && c.status.IsMoving()
	c.mu.Unlock()
	if !moving {
		return
	}

	raw, err := c.port.ReadAllInputs(context.Background())
	if err != nil {
		return
	}
	logical := mapPolarity(raw, c.cfg.UseNormallyClosedLimits)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed || !c.status.IsMoving() {
		return
	}
	switch {
	case logical.OpenLimitReached && !c.logical.OpenLimitReached:
		c.logical.OpenLimitReached = true
		c.onOpenLimitReachedLocked()
	case logical.ClosedLimitReached && !c.logical.ClosedLimitReached:
		c.logical.ClosedLimitReached = true
		c.onClosedLimitReachedLocked()
	case logical.FaultPresent && !c.logical.FaultPresent:
		c.logical.FaultPresent = true
		c.onFaultLocked()
	default:
		c.logical.AtSpeed = logical.AtSpeed
	}
}

// ---- pure status resolution ----

func resolveStatus(openReached, closedReached bool, lastCommand CommandIntent, watchdogActive bool) Status {
	switch {
	case openReached && !closedReached:
		return StatusOpen
	case !openReached && closedReached:
		return StatusClosed
	case openReached && closedReached:
		return StatusError
	default:
		if watchdogActive {
			switch lastCommand {
			case IntentOpen:
				return StatusOpening
			case IntentClose:
				return StatusClosing
			}
		}
		switch lastCommand {
		case IntentOpen:
			return StatusPartiallyOpen
		case IntentClose:
			return StatusPartiallyClose
		default:
			return StatusStopped
		}
	}
}
