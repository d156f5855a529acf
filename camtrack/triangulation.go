package camtrack

import (
	"math"
	"sort"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// TriangulationParameters are quality gates for batch triangulation
type TriangulationParameters struct {
	// Max reprojection error in either view (pixels)
	MaxReprojectionError float64 `json:"max_reprojection_error"`
	// Min angle between viewing rays (degrees)
	MinTriangulationAngleDeg float64 `json:"min_triangulation_angle_deg"`
	// Min depth in front of both cameras
	MinDepth float64 `json:"min_depth"`
}

// TriangulateNViews recovers 3D point from its observations by N >= 2 cameras.
// Each projection matrix must have intrinsics pre-multiplied (3x4).
// Every observation contributes two rows x*P3 - P1 and y*P3 - P2 to homogeneous system A*X = 0,
// solution is the right singular vector of the smallest singular value
func TriangulateNViews(projections []*mat.Dense, points []r2.Point) (r3.Vector, error) {
	if len(projections) != len(points) {
		return r3.Vector{}, errors.Errorf("projections and points arrays must have the same length. Projections array size: %d. Points array size: %d", len(projections), len(points))
	}
	n := len(projections)
	if n < 2 {
		return r3.Vector{}, errors.Wrapf(ErrDegenerateTriangulation, "need at least 2 views, got %d", n)
	}
	a := mat.NewDense(2*n, 4, nil)
	row1 := make([]float64, 4)
	row2 := make([]float64, 4)
	for i, p := range projections {
		x, y := points[i].X, points[i].Y
		for j := 0; j < 4; j++ {
			row1[j] = x*p.At(2, j) - p.At(0, j)
			row2[j] = y*p.At(2, j) - p.At(1, j)
		}
		normalizeRow(row1)
		normalizeRow(row2)
		a.SetRow(2*i, row1)
		a.SetRow(2*i+1, row2)
	}
	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDThin); !ok {
		return r3.Vector{}, errors.Wrap(ErrDegenerateTriangulation, "can't factorize linear system")
	}
	var v mat.Dense
	svd.VTo(&v)
	w := v.At(3, 3)
	if math.Abs(w) < 1e-12 {
		return r3.Vector{}, errors.Wrap(ErrDegenerateTriangulation, "point at infinity")
	}
	point := r3.Vector{X: v.At(0, 3) / w, Y: v.At(1, 3) / w, Z: v.At(2, 3) / w}
	if math.IsNaN(point.X) || math.IsNaN(point.Y) || math.IsNaN(point.Z) {
		return r3.Vector{}, errors.Wrap(ErrDegenerateTriangulation, "not a number")
	}
	return point, nil
}

// TriangulateCorrespondences triangulates matched tracks of two views and keeps only those passing quality gates.
// Returns accepted points, their track ids and median cosine of triangulation angle over accepted points (1 when nothing accepted)
func TriangulateCorrespondences(corrs Correspondences, view1, view2 ViewMatrix, intrinsics Intrinsics, params TriangulationParameters) ([]r3.Vector, []TrackID, float64) {
	projections := []*mat.Dense{
		intrinsics.ProjectionMatrix(view1),
		intrinsics.ProjectionMatrix(view2),
	}
	center1 := view1.Center()
	center2 := view2.Center()
	maxCos := math.Cos(params.MinTriangulationAngleDeg * math.Pi / 180.0)

	points := make([]r3.Vector, 0, corrs.Len())
	ids := make([]TrackID, 0, corrs.Len())
	cosines := make([]float64, 0, corrs.Len())
	obs := make([]r2.Point, 2)
	for i, id := range corrs.IDs {
		obs[0], obs[1] = corrs.PointsA[i], corrs.PointsB[i]
		point, err := TriangulateNViews(projections, obs)
		if err != nil {
			continue
		}
		cos := triangulationCos(point, center1, center2)
		if cos > maxCos {
			continue
		}
		if !passesReprojection(intrinsics, view1, point, obs[0], params) || !passesReprojection(intrinsics, view2, point, obs[1], params) {
			continue
		}
		points = append(points, point)
		ids = append(ids, id)
		cosines = append(cosines, cos)
	}
	return points, ids, medianOf(cosines, 1.0)
}

// triangulationCos returns cosine of the angle between rays from two camera centers to the point
func triangulationCos(point, center1, center2 r3.Vector) float64 {
	ray1 := point.Sub(center1)
	ray2 := point.Sub(center2)
	norms := ray1.Norm() * ray2.Norm()
	if norms == 0 {
		return 1.0
	}
	return ray1.Dot(ray2) / norms
}

func passesReprojection(intrinsics Intrinsics, view ViewMatrix, point r3.Vector, observed r2.Point, params TriangulationParameters) bool {
	projected, depth := intrinsics.Project(view, point)
	if depth <= params.MinDepth {
		return false
	}
	return projected.Sub(observed).Norm() <= params.MaxReprojectionError
}

func normalizeRow(row []float64) {
	norm := 0.0
	for _, v := range row {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return
	}
	for i := range row {
		row[i] /= norm
	}
}

// medianOf returns median of values or fallback for empty input
func medianOf(values []float64, fallback float64) float64 {
	if len(values) == 0 {
		return fallback
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return stat.Quantile(0.5, stat.Empirical, sorted, nil)
}
