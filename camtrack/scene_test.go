package camtrack

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
)

const eps = 1e-6

// syntheticScene is a static point set observed by a camera moving along a smooth path
type syntheticScene struct {
	intrinsics Intrinsics
	points     []r3.Vector
	views      []ViewMatrix
}

func testIntrinsics() Intrinsics {
	return NewIntrinsics(500.0, 500.0, 320.0, 240.0)
}

// randomPoints returns points inside the box in front of cameras of syntheticScene
func randomPoints(rng *rand.Rand, n int) []r3.Vector {
	points := make([]r3.Vector, n)
	for i := range points {
		points[i] = r3.Vector{
			X: -2.0 + 4.0*rng.Float64(),
			Y: -1.5 + 3.0*rng.Float64(),
			Z: 5.0 + 4.0*rng.Float64(),
		}
	}
	return points
}

// cameraPath returns view of frame i out of n. Camera slides along X, bobs along Y and slowly yaws
func cameraPath(i, n int) ViewMatrix {
	t := float64(i) / float64(n-1)
	center := r3.Vector{
		X: -1.5 + 3.0*t,
		Y: 0.2 * math.Sin(2.0*math.Pi*t),
		Z: 0.1 * t,
	}
	rot := rodriguesToMatrix(r3.Vector{X: 0.02 * math.Cos(math.Pi*t), Y: 0.15 * (t - 0.5), Z: 0.01})
	return ViewMatrix{R: rot, T: mulMat3Vec(rot, center).Mul(-1)}
}

func newSyntheticScene(numPoints, numFrames int, seed uint64) *syntheticScene {
	rng := rand.New(rand.NewPCG(seed, seed))
	scene := &syntheticScene{
		intrinsics: testIntrinsics(),
		points:     randomPoints(rng, numPoints),
		views:      make([]ViewMatrix, numFrames),
	}
	for i := range scene.views {
		scene.views[i] = cameraPath(i, numFrames)
	}
	return scene
}

// newPlanarScene places points on the plane z = z0 + slopeX*x + slopeY*y
func newPlanarScene(numPoints, numFrames int, seed uint64, z0, slopeX, slopeY float64) *syntheticScene {
	scene := newSyntheticScene(numPoints, numFrames, seed)
	for i, p := range scene.points {
		scene.points[i].Z = z0 + slopeX*p.X + slopeY*p.Y
	}
	return scene
}

// observe projects points into the frame. Track id of a point is its index
func (scene *syntheticScene) observe(t *testing.T, frame int, visible func(id int) bool) *FrameCorners {
	ids := make([]TrackID, 0, len(scene.points))
	points := make([]r2.Point, 0, len(scene.points))
	for id, point := range scene.points {
		if visible != nil && !visible(id) {
			continue
		}
		projected, _ := scene.intrinsics.Project(scene.views[frame], point)
		ids = append(ids, TrackID(id))
		points = append(points, projected)
	}
	corners, err := NewFrameCorners(ids, points)
	if err != nil {
		t.Fatal(err)
	}
	return corners
}

// trackStore observes every point on every frame
func (scene *syntheticScene) trackStore(t *testing.T) *MemoryTrackStore {
	frames := make([]*FrameCorners, len(scene.views))
	for i := range frames {
		frames[i] = scene.observe(t, i, nil)
	}
	return NewMemoryTrackStore(frames)
}

func (scene *syntheticScene) knownView(frame int) *KnownView {
	return &KnownView{Frame: frame, Pose: scene.views[frame].Pose()}
}

func viewsClose(a, b ViewMatrix, tolerance float64) bool {
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if math.Abs(a.R[i][j]-b.R[i][j]) > tolerance {
				return false
			}
		}
	}
	return a.T.Sub(b.T).Norm() <= tolerance
}

func vectorsClose(a, b r3.Vector, tolerance float64) bool {
	return a.Sub(b).Norm() <= tolerance
}
