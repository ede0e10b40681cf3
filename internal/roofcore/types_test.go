package roofcore

import "testing"

func TestDefaultConfigValidates(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("expected default config to validate, got %v", err)
	}
}

func TestValidateRejectsDuplicateRelayIDs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CloseRelayID = cfg.OpenRelayID
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for duplicate relay ids")
	}
	if CodeOf(err) != CodeInvalidConfig {
		t.Fatalf("expected CodeInvalidConfig, got %v", CodeOf(err))
	}
}

func TestValidateRejectsOutOfRangeRelayID(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StopRelayID = RelayID(9)
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for out-of-range relay id")
	}
}

func TestValidateRejectsNonPositiveWatchdogTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WatchdogTimeout = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero watchdog timeout")
	}
}

func TestValidateRejectsVerificationWithoutPolling(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableInputPolling = false
	cfg.EnablePeriodicVerificationWhileMoving = true
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when verification is enabled without polling")
	}
}

func TestClampPulseMS(t *testing.T) {
	if got := ClampPulseMS(-50); got != 0 {
		t.Fatalf("expected clamp to 0, got %d", got)
	}
	if got := ClampPulseMS(250); got != 250 {
		t.Fatalf("expected 250 unchanged, got %d", got)
	}
}

func TestStatusIsMoving(t *testing.T) {
	for _, s := range []Status{StatusOpening, StatusClosing} {
		if !s.IsMoving() {
			t.Fatalf("expected %v to be moving", s)
		}
	}
	for _, s := range []Status{StatusOpen, StatusClosed, StatusStopped, StatusPartiallyOpen, StatusPartiallyClose, StatusError, StatusNotInitialized} {
		if s.IsMoving() {
			t.Fatalf("expected %v to not be moving", s)
		}
	}
}

func TestFullStopNeverEnergizesMotion(t *testing.T) {
	if fullStop.Open || fullStop.Close || fullStop.ClearFault {
		t.Fatalf("fullStop must only energize Stop: %+v", fullStop)
	}
	if !fullStop.Stop {
		t.Fatal("fullStop must energize Stop")
	}
}
