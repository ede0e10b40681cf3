package roofcore

import "testing"

func TestMapPolarityNormallyClosedLimits(t *testing.T) {
	raw := [4]bool{true, false, false, true} // open switch released (NC->true), closed switch pressed (NC->false)
	got := mapPolarity(raw, true)
	want := LogicalInputs{OpenLimitReached: false, ClosedLimitReached: true, FaultPresent: false, AtSpeed: true}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestMapPolarityNormallyOpenLimits(t *testing.T) {
	raw := [4]bool{true, false, true, false}
	got := mapPolarity(raw, false)
	want := LogicalInputs{OpenLimitReached: true, ClosedLimitReached: false, FaultPresent: true, AtSpeed: false}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestMapPolarityFaultAndAtSpeedFixed(t *testing.T) {
	// Fault and at-speed never invert regardless of the limit polarity flag.
	raw := [4]bool{false, false, true, true}
	gotNC := mapPolarity(raw, true)
	gotNO := mapPolarity(raw, false)
	if gotNC.FaultPresent != true || gotNC.AtSpeed != true {
		t.Fatalf("NC mapping altered fixed-polarity lines: %+v", gotNC)
	}
	if gotNO.FaultPresent != true || gotNO.AtSpeed != true {
		t.Fatalf("NO mapping altered fixed-polarity lines: %+v", gotNO)
	}
}
