package camtrack

import (
	"github.com/edaniels/golog"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Stage is the state of the reconstruction
type Stage uint16

const (
	// StageIdle is the state before Run
	StageIdle Stage = iota
	// StageBootstrapping triangulates the initial cloud from the known views
	StageBootstrapping
	// StageInteriorSeeding solves frames between the known views to enrich the cloud
	StageInteriorSeeding
	// StageForwardSweep walks from the later known view to the end of the clip
	StageForwardSweep
	// StageBackwardSweep walks from the earlier known view to the start of the clip
	StageBackwardSweep
	// StageRetriangulation refines positions of existing points from groups of frames
	StageRetriangulation
	// StageFinalPoseResolution solves every frame in order
	StageFinalPoseResolution
	// StageDone means every frame has been resolved
	StageDone
)

func (stage Stage) String() string {
	switch stage {
	case StageIdle:
		return "idle"
	case StageBootstrapping:
		return "bootstrapping"
	case StageInteriorSeeding:
		return "interior seeding"
	case StageForwardSweep:
		return "forward sweep"
	case StageBackwardSweep:
		return "backward sweep"
	case StageRetriangulation:
		return "retriangulation"
	case StageFinalPoseResolution:
		return "final pose resolution"
	case StageDone:
		return "done"
	default:
		return "unknown"
	}
}

// Reconstructor recovers camera views of every frame and a sparse point cloud from feature tracks
// starting from two frames with known poses
type Reconstructor struct {
	intrinsics Intrinsics
	tracks     TrackStore
	cfg        ReconstructionConfig
	logger     golog.Logger
	solver     *PoseSolver
	cloud      *PointCloudStore
	stage      Stage
	sessionID  uuid.UUID
}

// Result is the outcome of a successful reconstruction
type Result struct {
	SessionID uuid.UUID
	// Views of every frame in frame order (world to camera)
	Views []ViewMatrix
	// Poses of every frame in frame order (camera to world)
	Poses []Pose
	// Active points only
	Cloud *PointCloud
}

// NewReconstructorDefault creates default instance of Reconstructor
func NewReconstructorDefault(intrinsics Intrinsics, tracks TrackStore) *Reconstructor {
	return NewReconstructor(intrinsics, tracks, DefaultReconstructionConfig(), golog.NewLogger("camtrack"))
}

// NewReconstructor creates new instance of Reconstructor
func NewReconstructor(intrinsics Intrinsics, tracks TrackStore, cfg ReconstructionConfig, logger golog.Logger) *Reconstructor {
	return &Reconstructor{
		intrinsics: intrinsics,
		tracks:     tracks,
		cfg:        cfg,
		logger:     logger,
		solver:     NewPoseSolver(intrinsics, cfg.PnPMaxIterations, cfg.PnPConfidence, cfg.MinCorrespondences, cfg.Seed),
		cloud:      NewPointCloudStore(),
		stage:      StageIdle,
	}
}

// Cloud returns the point cloud store. Inactive points included
func (rec *Reconstructor) Cloud() *PointCloudStore {
	return rec.cloud
}

// Stage returns current state
func (rec *Reconstructor) Stage() Stage {
	return rec.stage
}

// Run executes the whole reconstruction. Both known views are required.
// Either every frame gets a view or an error is returned
func (rec *Reconstructor) Run(known1, known2 *KnownView) (*Result, error) {
	if known1 == nil || known2 == nil {
		return nil, &ReconstructionError{Stage: StageBootstrapping, Frame: -1, Err: ErrMissingBootstrapViews}
	}
	if err := rec.cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	n := rec.tracks.Len()
	for _, known := range []*KnownView{known1, known2} {
		if known.Frame < 0 || known.Frame >= n {
			return nil, errors.Errorf("known view frame %d is outside of the clip with %d frames", known.Frame, n)
		}
	}
	if known1.Frame == known2.Frame {
		return nil, errors.Errorf("known views must be on different frames, got %d twice", known1.Frame)
	}

	rec.sessionID = uuid.New()
	rec.cloud = NewPointCloudStore()
	rec.logger.Infow("reconstruction started", "session", rec.sessionID, "frames", n, "known_frames", []int{known1.Frame, known2.Frame})

	lo, hi := known1, known2
	if lo.Frame > hi.Frame {
		lo, hi = hi, lo
	}
	loView := lo.Pose.ViewMatrix()
	hiView := hi.Pose.ViewMatrix()

	rec.stage = StageBootstrapping
	rec.growCloud(lo.Frame, loView, hi.Frame, hiView, rec.cfg.BootstrapTriangulation)
	if rec.cloud.Len() == 0 {
		rec.logger.Warnw("bootstrap produced no points", "session", rec.sessionID)
	}

	rec.stage = StageInteriorSeeding
	rec.seedInterior(lo.Frame, loView, hi.Frame, hiView)

	rec.stage = StageForwardSweep
	rec.sweep(hi.Frame, hiView, 1)

	if rec.cfg.BackwardSweep {
		rec.stage = StageBackwardSweep
		rec.sweep(lo.Frame, loView, -1)
	}

	if rec.cfg.Retriangulate {
		rec.stage = StageRetriangulation
		rec.retriangulate(lo.Frame)
	}

	rec.stage = StageFinalPoseResolution
	views, err := rec.resolveViews(known1.Pose.ViewMatrix())
	if err != nil {
		rec.logger.Errorw("reconstruction failed", "session", rec.sessionID, "error", err.Error())
		return nil, err
	}
	rec.stage = StageDone

	result := &Result{
		SessionID: rec.sessionID,
		Views:     views,
		Poses:     make([]Pose, len(views)),
		Cloud:     rec.cloud.Snapshot(),
	}
	for i, view := range views {
		result.Poses[i] = view.Pose()
	}
	rec.logger.Infow("reconstruction finished", "session", rec.sessionID, "poses", len(result.Poses), "points", result.Cloud.Len(), "inactive_points", rec.cloud.Len()-result.Cloud.Len())
	return result, nil
}

// growCloud triangulates tracks shared by two solved frames and inserts the new ones
func (rec *Reconstructor) growCloud(frameA int, viewA ViewMatrix, frameB int, viewB ViewMatrix, params TriangulationParameters) int {
	corrs := BuildCorrespondences(rec.tracks.Corners(frameA), rec.tracks.Corners(frameB))
	points, ids, medianCos := TriangulateCorrespondences(corrs, viewA, viewB, rec.intrinsics, params)
	inserted := rec.cloud.InsertNew(ids, points)
	rec.logger.Debugw("triangulated",
		"session", rec.sessionID,
		"stage", rec.stage.String(),
		"frames", []int{frameA, frameB},
		"correspondences", corrs.Len(),
		"accepted", len(ids),
		"inserted", inserted,
		"median_cos", medianCos,
		"cloud", rec.cloud.Len(),
	)
	return inserted
}

// seedInterior solves interiorSeeds frames. Each solved frame is triangulated against the nearer known frame
func (rec *Reconstructor) seedInterior(lo int, loView ViewMatrix, hi int, hiView ViewMatrix) {
	seeds := interiorSeeds(lo, hi, rec.cfg.MinSeedSpan)
	for _, frame := range seeds {
		solution, err := rec.solver.Solve(rec.cloud, rec.tracks.Corners(frame), rec.cfg.SweepReprojectionError, nil)
		if err != nil {
			rec.logger.Debugw("can't seed frame", "session", rec.sessionID, "frame", frame, "error", err.Error())
			continue
		}
		partner, partnerView := hi, hiView
		if absInt(frame-lo) < absInt(hi-frame) {
			partner, partnerView = lo, loView
		}
		rec.growCloud(frame, solution.View, partner, partnerView, rec.cfg.ExpansionTriangulation)
	}
}

// interiorSeeds returns the midpoint between known frames, the quarter points of both halves when
// the half is longer than minSpan and the frame halfway from the start of the clip to lo when lo is beyond minSpan
func interiorSeeds(lo, hi, minSpan int) []int {
	mid := (lo + hi) / 2
	seeds := make([]int, 0, 4)
	if mid != lo && mid != hi {
		seeds = append(seeds, mid)
	}
	if mid-lo > minSpan {
		seeds = append(seeds, (lo+mid)/2)
	}
	if hi-mid > minSpan {
		seeds = append(seeds, (mid+hi)/2)
	}
	if lo > minSpan {
		seeds = append(seeds, lo/2)
	}
	return seeds
}

// sweep walks away from the anchor frame in the given direction growing the cloud from every solved frame
func (rec *Reconstructor) sweep(anchor int, anchorView ViewMatrix, direction int) {
	n := rec.tracks.Len()
	stepper := newFrameStepper(anchor, rec.cfg.DefaultStep, rec.cfg.MinStep, direction)
	lastFrame, lastView := anchor, anchorView
	for stepper.inside(n) {
		candidate := stepper.candidate()
		solution, err := rec.solver.Solve(rec.cloud, rec.tracks.Corners(candidate), rec.cfg.SweepReprojectionError, nil)
		if err != nil {
			step := stepper.step
			if stepper.fail() {
				rec.logger.Infow("abandoned neighborhood", "session", rec.sessionID, "stage", rec.stage.String(), "frame", candidate, "step", step, "next_anchor", stepper.anchor)
			} else {
				rec.logger.Debugw("step backoff", "session", rec.sessionID, "stage", rec.stage.String(), "frame", candidate, "step", stepper.step, "error", err.Error())
			}
			continue
		}
		rec.growCloud(lastFrame, lastView, candidate, solution.View, rec.cfg.ExpansionTriangulation)
		lastFrame, lastView = candidate, solution.View
		stepper.succeed(candidate)
	}
}

// retriangulate refines positions of existing points from groups of frames spaced by the default step
func (rec *Reconstructor) retriangulate(start int) {
	n := rec.tracks.Len()
	size := rec.cfg.RetriangulationGroupSize
	step := rec.cfg.DefaultStep
	for ; start+(size-1)*step < n; start += step {
		frames := make([]int, size)
		for k := range frames {
			frames[k] = start + k*step
		}
		updated, err := rec.retriangulateGroup(frames)
		if err != nil {
			rec.logger.Warnw("can't retriangulate frames", "session", rec.sessionID, "frames", frames, "error", err.Error())
			continue
		}
		rec.logger.Debugw("retriangulated", "session", rec.sessionID, "frames", frames, "updated", updated)
	}
}

// retriangulateGroup solves every frame of the group and re-triangulates tracks seen on all of them.
// Only ids already present in the cloud are updated
func (rec *Reconstructor) retriangulateGroup(frames []int) (int, error) {
	ids, ok := IntersectFrameIDs(rec.tracks, frames...)
	if !ok {
		return 0, errors.Errorf("frames %v are not inside of the clip", frames)
	}
	projections := make([]*mat.Dense, len(frames))
	for i, frame := range frames {
		solution, err := rec.solver.Solve(rec.cloud, rec.tracks.Corners(frame), rec.cfg.SweepReprojectionError, nil)
		if err != nil {
			return 0, errors.Wrapf(err, "frame %d", frame)
		}
		projections[i] = rec.intrinsics.ProjectionMatrix(solution.View)
	}
	type update struct {
		id       TrackID
		position r3.Vector
	}
	updates := make([]update, 0, len(ids))
	for _, id := range ids {
		if !rec.cloud.Contains(id) {
			continue
		}
		observations := make([]r2.Point, len(frames))
		for i, frame := range frames {
			observations[i], _ = rec.tracks.Corners(frame).Lookup(id)
		}
		position, err := TriangulateNViews(projections, observations)
		if err != nil {
			continue
		}
		updates = append(updates, update{id: id, position: position})
	}
	for _, u := range updates {
		rec.cloud.OverwritePosition(u.id, u.position)
	}
	return len(updates), nil
}

// resolveViews solves every frame in order with warm start from the previous one and escalating threshold
func (rec *Reconstructor) resolveViews(initialGuess ViewMatrix) ([]ViewMatrix, error) {
	n := rec.tracks.Len()
	rec.cloud.ReactivateAll()
	guess := initialGuess
	views := make([]ViewMatrix, 0, n)
	for frame := 0; frame < n; frame++ {
		threshold := rec.cfg.StandardReprojectionError
		var solution PoseSolution
		for {
			var err error
			solution, err = rec.solver.Solve(rec.cloud, rec.tracks.Corners(frame), threshold, &guess)
			if err == nil {
				break
			}
			next := threshold + rec.cfg.ReprojectionErrorIncrement
			if next > rec.cfg.MaxReprojectionError {
				return nil, &ReconstructionError{
					Stage:     StageFinalPoseResolution,
					Frame:     frame,
					Threshold: threshold,
					Err:       errors.Wrapf(ErrIncompleteReconstruction, "%d of %d frames resolved, last attempt: %v", len(views), n, err),
				}
			}
			rec.logger.Debugw("threshold escalated", "session", rec.sessionID, "frame", frame, "threshold", next, "error", err.Error())
			threshold = next
		}
		rec.cloud.Deactivate(solution.OutlierIDs...)
		views = append(views, solution.View)
		guess = solution.View
		if len(solution.OutlierIDs) > 0 {
			rec.logger.Debugw("outliers deactivated", "session", rec.sessionID, "frame", frame, "outliers", len(solution.OutlierIDs), "active", rec.cloud.ActiveLen())
		}
	}
	return views, nil
}

// Reconstruct runs reconstruction with default configuration and colors resulting cloud when frames are given.
// Both known views are required. Empty or nil frame sequence skips coloring
func Reconstruct(intrinsics Intrinsics, tracks TrackStore, frames FrameSequence, known1, known2 *KnownView) ([]Pose, *PointCloud, error) {
	rec := NewReconstructorDefault(intrinsics, tracks)
	result, err := rec.Run(known1, known2)
	if err != nil {
		return nil, nil, err
	}
	if frames != nil && frames.Len() > 0 {
		colors, err := CalcPointCloudColors(result.Cloud, frames, result.Views, intrinsics, tracks, rec.cfg.ColorMaxReprojectionError)
		if err != nil {
			return nil, nil, err
		}
		result.Cloud.Colors = colors
	}
	return result.Poses, result.Cloud, nil
}

func absInt(a int) int {
	if a < 0 {
		return -a
	}
	return a
}
