package camtrack

// frameStepper walks the clip away from a resolved anchor frame with adaptive step size.
// Failure halves the step, and once it drops below the minimum the neighborhood is abandoned:
// step is reset and the anchor moves one default step further
type frameStepper struct {
	// Last position the sweep continues from
	anchor int
	// Current distance to the candidate frame
	step int
	// Default step. Restored after every success and every abandon
	defaultStep int
	// Min allowed step
	minStep int
	// +1 for forward sweep, -1 for backward sweep
	direction int
}

func newFrameStepper(anchor, defaultStep, minStep, direction int) *frameStepper {
	return &frameStepper{
		anchor:      anchor,
		step:        defaultStep,
		defaultStep: defaultStep,
		minStep:     minStep,
		direction:   direction,
	}
}

// candidate returns frame to be solved next
func (stepper *frameStepper) candidate() int {
	return stepper.anchor + stepper.direction*stepper.step
}

// inside checks whether candidate is a valid frame of a clip with given length
func (stepper *frameStepper) inside(frameCount int) bool {
	c := stepper.candidate()
	return c >= 0 && c < frameCount
}

// succeed moves anchor to the solved frame and restores default step
func (stepper *frameStepper) succeed(frame int) {
	stepper.anchor = frame
	stepper.step = stepper.defaultStep
}

// fail halves the step. Returns true when neighborhood has been abandoned
func (stepper *frameStepper) fail() bool {
	stepper.step /= 2
	if stepper.step >= stepper.minStep {
		return false
	}
	stepper.step = stepper.defaultStep
	stepper.anchor += stepper.direction * stepper.defaultStep
	return true
}
