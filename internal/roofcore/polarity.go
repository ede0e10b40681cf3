package roofcore

// mapPolarity translates the four raw electrical levels into the logical
// view the state machine reasons about, following the same inversion
// helper shape as a normally-closed push-button adaptor.
//
// The fault (input 3) and at-speed (input 4) lines have fixed polarity
// (logical == raw); only the two limit switches (inputs 1 and 2) invert
// when the hardware is wired normally-closed. The function is pure:
// identical raw inputs always produce identical logical inputs.
func mapPolarity(raw [4]bool, useNormallyClosedLimits bool) LogicalInputs {
	openLimit := raw[0]
	closedLimit := raw[1]
	if useNormallyClosedLimits {
		openLimit = !openLimit
		closedLimit = !closedLimit
	}
	return LogicalInputs{
		OpenLimitReached:   openLimit,
		ClosedLimitReached: closedLimit,
		FaultPresent:       raw[2],
		AtSpeed:            raw[3],
	}
}
