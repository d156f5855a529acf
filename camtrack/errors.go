package camtrack

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrInsufficientCorrespondences is returned when a frame shares fewer than the minimum number of active 3D-2D matches with the point cloud
	ErrInsufficientCorrespondences = errors.New("insufficient 3D-2D correspondences")
	// ErrPoseSolveFailure is returned when robust pose estimation finds no hypothesis with enough support
	ErrPoseSolveFailure = errors.New("pose solve failure")
	// ErrDegenerateTriangulation marks a track whose 3D point can't be recovered reliably. It never leaves batch triangulation
	ErrDegenerateTriangulation = errors.New("degenerate triangulation")
	// ErrMissingBootstrapViews is returned when either known view is absent
	ErrMissingBootstrapViews = errors.New("both known views are required")
	// ErrIncompleteReconstruction is returned when some frame can't be resolved even at the maximum reprojection threshold
	ErrIncompleteReconstruction = errors.New("incomplete reconstruction")
)

// ReconstructionError is a fatal orchestration failure with the context it happened in.
type ReconstructionError struct {
	// Stage is the orchestrator state the failure happened in
	Stage Stage
	// Frame is the frame index being resolved. -1 when not frame specific
	Frame int
	// Threshold is the last reprojection threshold tried (pixels)
	Threshold float64
	// Step is the last sweep step tried. 0 when not applicable
	Step int
	// Err is the underlying cause
	Err error
}

func (e *ReconstructionError) Error() string {
	msg := fmt.Sprintf("%s failed", e.Stage)
	if e.Frame >= 0 {
		msg += fmt.Sprintf(" at frame %d", e.Frame)
	}
	if e.Threshold > 0 {
		msg += fmt.Sprintf(" (threshold %.1f px)", e.Threshold)
	}
	if e.Step > 0 {
		msg += fmt.Sprintf(" (step %d)", e.Step)
	}
	return msg + ": " + e.Err.Error()
}

// Unwrap returns the underlying cause
func (e *ReconstructionError) Unwrap() error {
	return e.Err
}

// Cause implements github.com/pkg/errors causer
func (e *ReconstructionError) Cause() error {
	return e.Err
}
