package camtrack

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// CameraParameters describes a pinhole camera the way it is declared for a clip
type CameraParameters struct {
	// Vertical field of view (radians)
	FovY float64 `json:"fov_y"`
	// Width to height ratio
	AspectRatio float64 `json:"aspect_ratio"`
}

// Intrinsics is a 3x3 camera matrix without skew
type Intrinsics struct {
	Fx float64
	Fy float64
	Cx float64
	Cy float64
}

// NewIntrinsics creates intrinsics from focal lengths and principal point (pixels)
func NewIntrinsics(fx, fy, cx, cy float64) Intrinsics {
	return Intrinsics{
		Fx: fx,
		Fy: fy,
		Cx: cx,
		Cy: cy,
	}
}

// IntrinsicsFromCameraParameters derives intrinsics from declared camera parameters and the height of the first frame.
// Principal point is the image center, focal length is the same on both axes
func IntrinsicsFromCameraParameters(params CameraParameters, imageHeight int) Intrinsics {
	h := float64(imageHeight)
	w := h * params.AspectRatio
	f := h / (2.0 * math.Tan(params.FovY/2.0))
	return NewIntrinsics(f, f, w/2.0, h/2.0)
}

// Matrix returns K as 3x3 dense matrix
func (k Intrinsics) Matrix() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		k.Fx, 0, k.Cx,
		0, k.Fy, k.Cy,
		0, 0, 1,
	})
}

// Normalize maps pixel coordinates to the normalized image plane
func (k Intrinsics) Normalize(p r2.Point) r2.Point {
	return r2.Point{X: (p.X - k.Cx) / k.Fx, Y: (p.Y - k.Cy) / k.Fy}
}

// Denormalize maps normalized image plane coordinates to pixels
func (k Intrinsics) Denormalize(p r2.Point) r2.Point {
	return r2.Point{X: p.X*k.Fx + k.Cx, Y: p.Y*k.Fy + k.Cy}
}

// Project projects world point into the image of the given view.
// Second value is the depth of the point in camera coordinates
func (k Intrinsics) Project(view ViewMatrix, point r3.Vector) (r2.Point, float64) {
	pc := view.Apply(point)
	return k.Denormalize(r2.Point{X: pc.X / pc.Z, Y: pc.Y / pc.Z}), pc.Z
}

// ProjectionMatrix returns P = K*[R|t]
func (k Intrinsics) ProjectionMatrix(view ViewMatrix) *mat.Dense {
	var p mat.Dense
	p.Mul(k.Matrix(), view.Dense())
	return &p
}

// ViewMatrix is a rigid world-to-camera transform [R | t]
type ViewMatrix struct {
	R [3][3]float64
	T r3.Vector
}

// IdentityView returns camera placed at the origin looking along +Z
func IdentityView() ViewMatrix {
	return ViewMatrix{R: identity3()}
}

// ViewMatrixFromRodrigues builds view matrix from rotation vector and translation
func ViewMatrixFromRodrigues(rvec, tvec r3.Vector) ViewMatrix {
	return ViewMatrix{R: rodriguesToMatrix(rvec), T: tvec}
}

// Rodrigues returns rotation vector and translation of the view
func (v ViewMatrix) Rodrigues() (r3.Vector, r3.Vector) {
	return matrixToRodrigues(v.R), v.T
}

// Apply maps world point into camera coordinates
func (v ViewMatrix) Apply(p r3.Vector) r3.Vector {
	return mulMat3Vec(v.R, p).Add(v.T)
}

// Center returns camera center in world coordinates
func (v ViewMatrix) Center() r3.Vector {
	return mulMat3Vec(transpose3(v.R), v.T).Mul(-1)
}

// Dense returns the view as 3x4 dense matrix
func (v ViewMatrix) Dense() *mat.Dense {
	return mat.NewDense(3, 4, []float64{
		v.R[0][0], v.R[0][1], v.R[0][2], v.T.X,
		v.R[1][0], v.R[1][1], v.R[1][2], v.T.Y,
		v.R[2][0], v.R[2][1], v.R[2][2], v.T.Z,
	})
}

// Pose converts view to camera-to-world pose
func (v ViewMatrix) Pose() Pose {
	return Pose{R: transpose3(v.R), T: v.Center()}
}

// Pose is a camera-to-world transform: orientation of the camera axes and camera center in world coordinates
type Pose struct {
	R [3][3]float64
	T r3.Vector
}

// ViewMatrix converts pose to world-to-camera view matrix
func (p Pose) ViewMatrix() ViewMatrix {
	rt := transpose3(p.R)
	return ViewMatrix{R: rt, T: mulMat3Vec(rt, p.T).Mul(-1)}
}

// KnownView is a frame with a given camera pose
type KnownView struct {
	Frame int
	Pose  Pose
}

func identity3() [3][3]float64 {
	return [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

func transpose3(m [3][3]float64) [3][3]float64 {
	var t [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			t[i][j] = m[j][i]
		}
	}
	return t
}

func mulMat3(a, b [3][3]float64) [3][3]float64 {
	var c [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 3; k++ {
				c[i][j] += a[i][k] * b[k][j]
			}
		}
	}
	return c
}

func mulMat3Vec(m [3][3]float64, v r3.Vector) r3.Vector {
	return r3.Vector{
		X: m[0][0]*v.X + m[0][1]*v.Y + m[0][2]*v.Z,
		Y: m[1][0]*v.X + m[1][1]*v.Y + m[1][2]*v.Z,
		Z: m[2][0]*v.X + m[2][1]*v.Y + m[2][2]*v.Z,
	}
}

// rodriguesToMatrix converts axis-angle rotation vector to rotation matrix
func rodriguesToMatrix(rvec r3.Vector) [3][3]float64 {
	theta := rvec.Norm()
	if theta < 1e-12 {
		return [3][3]float64{
			{1, -rvec.Z, rvec.Y},
			{rvec.Z, 1, -rvec.X},
			{-rvec.Y, rvec.X, 1},
		}
	}
	k := rvec.Mul(1.0 / theta)
	c, s := math.Cos(theta), math.Sin(theta)
	c1 := 1.0 - c
	return [3][3]float64{
		{c + c1*k.X*k.X, c1*k.X*k.Y - s*k.Z, c1*k.X*k.Z + s*k.Y},
		{c1*k.Y*k.X + s*k.Z, c + c1*k.Y*k.Y, c1*k.Y*k.Z - s*k.X},
		{c1*k.Z*k.X - s*k.Y, c1*k.Z*k.Y + s*k.X, c + c1*k.Z*k.Z},
	}
}

// matrixToRodrigues converts rotation matrix to axis-angle rotation vector
func matrixToRodrigues(m [3][3]float64) r3.Vector {
	cos := (m[0][0] + m[1][1] + m[2][2] - 1.0) / 2.0
	cos = math.Max(-1.0, math.Min(1.0, cos))
	theta := math.Acos(cos)
	w := r3.Vector{
		X: (m[2][1] - m[1][2]) / 2.0,
		Y: (m[0][2] - m[2][0]) / 2.0,
		Z: (m[1][0] - m[0][1]) / 2.0,
	}
	sin := w.Norm()
	if sin > 1e-6 {
		return w.Mul(theta / sin)
	}
	if cos > 0 {
		return w
	}
	// Close to 180 degrees: R = 2kk^T - I
	i := 0
	if m[1][1] > m[i][i] {
		i = 1
	}
	if m[2][2] > m[i][i] {
		i = 2
	}
	var k [3]float64
	k[i] = math.Sqrt(math.Max(0, (m[i][i]+1.0)/2.0))
	for j := 0; j < 3; j++ {
		if j != i {
			k[j] = (m[i][j] + m[j][i]) / (4.0 * k[i])
		}
	}
	axis := r3.Vector{X: k[0], Y: k[1], Z: k[2]}.Normalize()
	return axis.Mul(theta)
}

// nearestRotation projects 3x3 matrix onto SO(3) in Frobenius sense.
// Second value is the mean singular value of the input
func nearestRotation(m *mat.Dense) ([3][3]float64, float64) {
	var svd mat.SVD
	if ok := svd.Factorize(m, mat.SVDFull); !ok {
		return identity3(), 0
	}
	var u, vt, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	vt.CloneFrom(v.T())
	values := svd.Values(nil)
	var r mat.Dense
	r.Mul(&u, &vt)
	if mat.Det(&r) < 0 {
		d := mat.NewDiagDense(3, []float64{1, 1, -1})
		var ud mat.Dense
		ud.Mul(&u, d)
		r.Mul(&ud, &vt)
	}
	var out [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = r.At(i, j)
		}
	}
	return out, (values[0] + values[1] + values[2]) / 3.0
}
