package camtrack

import (
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

func TestIntrinsicsFromCameraParameters(t *testing.T) {
	intr := IntrinsicsFromCameraParameters(CameraParameters{FovY: math.Pi / 2.0, AspectRatio: 4.0 / 3.0}, 480)
	if math.Abs(intr.Fx-240.0) > eps || math.Abs(intr.Fy-240.0) > eps {
		t.Errorf("Focal length should be 240, got fx=%f, fy=%f", intr.Fx, intr.Fy)
	}
	if math.Abs(intr.Cx-320.0) > eps || math.Abs(intr.Cy-240.0) > eps {
		t.Errorf("Principal point should be (320, 240), got (%f, %f)", intr.Cx, intr.Cy)
	}
}

func TestNormalizeDenormalize(t *testing.T) {
	intr := testIntrinsics()
	p := r2.Point{X: 12.5, Y: 400.25}
	back := intr.Denormalize(intr.Normalize(p))
	if back.Sub(p).Norm() > eps {
		t.Errorf("Point should survive round trip: %v, got %v", p, back)
	}
}

func TestRodriguesRoundTrip(t *testing.T) {
	rvecs := []r3.Vector{
		{},
		{X: 1e-8, Y: -2e-8, Z: 0},
		{X: 0.1, Y: -0.2, Z: 0.3},
		{X: 0, Y: math.Pi / 2.0, Z: 0},
		{X: 0, Y: 0, Z: math.Pi - 1e-9},
		{X: math.Pi / math.Sqrt(2.0), Y: math.Pi / math.Sqrt(2.0), Z: 0},
	}
	for _, rvec := range rvecs {
		m := rodriguesToMatrix(rvec)
		back := rodriguesToMatrix(matrixToRodrigues(m))
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				if math.Abs(m[i][j]-back[i][j]) > eps {
					t.Errorf("Rotation %v should survive round trip. Element [%d][%d]: %f, got %f", rvec, i, j, m[i][j], back[i][j])
				}
			}
		}
	}
}

func TestViewPoseConversion(t *testing.T) {
	view := cameraPath(3, 10)
	pose := view.Pose()
	back := pose.ViewMatrix()
	if !viewsClose(view, back, eps) {
		t.Errorf("View should survive conversion to pose and back: %v, got %v", view, back)
	}
	// Pose translation is the camera center and it maps to the camera origin
	origin := view.Apply(pose.T)
	if origin.Norm() > eps {
		t.Errorf("Camera center should map to origin, got %v", origin)
	}
	// Pose rotation is camera to world
	forward := mulMat3Vec(pose.R, r3.Vector{Z: 1})
	expected := mulMat3Vec(transpose3(view.R), r3.Vector{Z: 1})
	if !vectorsClose(forward, expected, eps) {
		t.Errorf("Optical axis in world should be %v, got %v", expected, forward)
	}
}

func TestProjectionMatrix(t *testing.T) {
	intr := testIntrinsics()
	view := cameraPath(5, 10)
	point := r3.Vector{X: 0.3, Y: -0.4, Z: 6.0}
	projected, depth := intr.Project(view, point)
	if depth <= 0 {
		t.Errorf("Point should be in front of camera, got depth %f", depth)
	}
	p := intr.ProjectionMatrix(view)
	x := p.At(0, 0)*point.X + p.At(0, 1)*point.Y + p.At(0, 2)*point.Z + p.At(0, 3)
	y := p.At(1, 0)*point.X + p.At(1, 1)*point.Y + p.At(1, 2)*point.Z + p.At(1, 3)
	w := p.At(2, 0)*point.X + p.At(2, 1)*point.Y + p.At(2, 2)*point.Z + p.At(2, 3)
	if math.Abs(x/w-projected.X) > eps || math.Abs(y/w-projected.Y) > eps {
		t.Errorf("Projection matrix should give %v, got (%f, %f)", projected, x/w, y/w)
	}
	if math.Abs(w-depth) > eps {
		t.Errorf("Homogeneous coordinate should be depth %f, got %f", depth, w)
	}
}

func TestNearestRotation(t *testing.T) {
	rot := rodriguesToMatrix(r3.Vector{X: 0.3, Y: 0.1, Z: -0.2})
	scaled := mulMat3(rot, [3][3]float64{{2.5, 0, 0}, {0, 2.5, 0}, {0, 0, 2.5}})
	dense := ViewMatrix{R: scaled}.Dense().Slice(0, 3, 0, 3)
	r, scale := nearestRotation(mat.DenseCopyOf(dense))
	if math.Abs(scale-2.5) > eps {
		t.Errorf("Scale should be 2.5, got %f", scale)
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if math.Abs(r[i][j]-rot[i][j]) > eps {
				t.Errorf("Element [%d][%d] should be %f, got %f", i, j, rot[i][j], r[i][j])
			}
		}
	}
}
