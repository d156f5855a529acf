package camtrack

import (
	"math"
	"math/rand/v2"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
)

const (
	// Number of correspondences in a single DLT hypothesis
	dltSampleSize = 6
	// Parameters of pose refinement: rotation vector and translation
	poseParams = 6
	// Samples with the smallest to largest spread ratio below this value are solved as planar
	planarityRatio = 1e-3
)

// PoseSolver estimates camera pose of a frame from known 3D points and their observations (PnP)
// with RANSAC over minimal DLT hypotheses and Levenberg-Marquardt refinement
type PoseSolver struct {
	intrinsics Intrinsics
	// Max number of RANSAC hypotheses. Default is 100
	maxIterations int
	// Probability that at least one sample is free of outliers. Default is 0.99
	confidence float64
	// Min number of 3D-2D matches. Default is 5
	minCorrespondences int
	rng                *rand.Rand
}

// NewPoseSolverDefault creates default instance of PoseSolver
func NewPoseSolverDefault(intrinsics Intrinsics) *PoseSolver {
	return NewPoseSolver(intrinsics, 100, 0.99, 5, 42)
}

// NewPoseSolver creates new instance of PoseSolver. Seed makes hypotheses sampling reproducible
func NewPoseSolver(intrinsics Intrinsics, maxIterations int, confidence float64, minCorrespondences int, seed uint64) *PoseSolver {
	return &PoseSolver{
		intrinsics:         intrinsics,
		maxIterations:      maxIterations,
		confidence:         confidence,
		minCorrespondences: minCorrespondences,
		rng:                rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// PoseSolution is a solved view of a frame with partition of used points
type PoseSolution struct {
	View       ViewMatrix
	InlierIDs  []TrackID
	OutlierIDs []TrackID
}

// Solve estimates view of the frame from active points of the cloud.
// Reprojection threshold is in pixels. Non-nil guess is used as an extrinsic guess (warm start).
// On failure returned solution still lists every candidate id as outlier
func (solver *PoseSolver) Solve(cloud *PointCloudStore, frame *FrameCorners, threshold float64, guess *ViewMatrix) (PoseSolution, error) {
	ids, objectPoints, imagePoints := cloud.ActiveCorrespondences(frame)
	if len(ids) < solver.minCorrespondences {
		return PoseSolution{OutlierIDs: ids}, errors.Wrapf(ErrInsufficientCorrespondences, "%d matches, need at least %d", len(ids), solver.minCorrespondences)
	}
	view, inliers, err := solver.SolvePnPRansac(objectPoints, imagePoints, threshold, guess)
	if err != nil {
		return PoseSolution{OutlierIDs: ids}, err
	}
	isInlier := make([]bool, len(ids))
	for _, i := range inliers {
		isInlier[i] = true
	}
	solution := PoseSolution{
		View:       view,
		InlierIDs:  make([]TrackID, 0, len(inliers)),
		OutlierIDs: make([]TrackID, 0, len(ids)-len(inliers)),
	}
	for i, id := range ids {
		if isInlier[i] {
			solution.InlierIDs = append(solution.InlierIDs, id)
		} else {
			solution.OutlierIDs = append(solution.OutlierIDs, id)
		}
	}
	return solution, nil
}

// SolvePnPRansac estimates view from 3D-2D matches. Returns indices of inliers under the threshold
func (solver *PoseSolver) SolvePnPRansac(objectPoints []r3.Vector, imagePoints []r2.Point, threshold float64, guess *ViewMatrix) (ViewMatrix, []int, error) {
	if len(objectPoints) != len(imagePoints) {
		return ViewMatrix{}, nil, errors.Errorf("object and image points arrays must have the same length. Object array size: %d. Image array size: %d", len(objectPoints), len(imagePoints))
	}
	n := len(objectPoints)
	if n < solver.minCorrespondences {
		return ViewMatrix{}, nil, errors.Wrapf(ErrInsufficientCorrespondences, "%d matches, need at least %d", n, solver.minCorrespondences)
	}
	normalized := make([]r2.Point, n)
	for i, p := range imagePoints {
		normalized[i] = solver.intrinsics.Normalize(p)
	}

	var best ViewMatrix
	var bestInliers []int
	consider := func(view ViewMatrix) []int {
		inliers := solver.inliers(view, objectPoints, imagePoints, threshold)
		if len(inliers) > len(bestInliers) {
			best = view
			bestInliers = inliers
		}
		return inliers
	}

	if guess != nil {
		inliers := consider(*guess)
		// Guess is usually the neighbour frame and may be off by more than the threshold
		if refined, ok := refinePose(solver.intrinsics, *guess, objectPoints, imagePoints); ok {
			consider(refined)
		}
		if len(inliers) >= solver.minCorrespondences && len(inliers) < n {
			if refined, ok := refinePose(solver.intrinsics, *guess, pick3(objectPoints, inliers), pick2(imagePoints, inliers)); ok {
				consider(refined)
			}
		}
	}

	if n >= dltSampleSize {
		sampleObject := make([]r3.Vector, dltSampleSize)
		sampleNormalized := make([]r2.Point, dltSampleSize)
		iterations := solver.maxIterations
		for iter := 0; iter < iterations; iter++ {
			perm := solver.rng.Perm(n)
			for j := 0; j < dltSampleSize; j++ {
				sampleObject[j] = objectPoints[perm[j]]
				sampleNormalized[j] = normalized[perm[j]]
			}
			view, ok := dltPose(sampleObject, sampleNormalized)
			if !ok {
				continue
			}
			consider(view)
			iterations = ransacIterations(float64(len(bestInliers))/float64(n), dltSampleSize, solver.confidence, solver.maxIterations)
		}
	}

	if len(bestInliers) < solver.minCorrespondences {
		return ViewMatrix{}, nil, errors.Wrapf(ErrPoseSolveFailure, "best hypothesis is supported by %d of %d matches", len(bestInliers), n)
	}

	view, inliers := best, bestInliers
	for round := 0; round < 5; round++ {
		refined, ok := refinePose(solver.intrinsics, view, pick3(objectPoints, inliers), pick2(imagePoints, inliers))
		if !ok {
			break
		}
		refinedInliers := solver.inliers(refined, objectPoints, imagePoints, threshold)
		if len(refinedInliers) < len(inliers) {
			break
		}
		stable := len(refinedInliers) == len(inliers)
		view, inliers = refined, refinedInliers
		if stable {
			break
		}
	}
	return view, inliers, nil
}

// inliers returns indices of points in front of the camera with reprojection error under threshold
func (solver *PoseSolver) inliers(view ViewMatrix, objectPoints []r3.Vector, imagePoints []r2.Point, threshold float64) []int {
	inliers := make([]int, 0, len(objectPoints))
	for i, point := range objectPoints {
		projected, depth := solver.intrinsics.Project(view, point)
		if depth <= 0 {
			continue
		}
		if projected.Sub(imagePoints[i]).Norm() <= threshold {
			inliers = append(inliers, i)
		}
	}
	return inliers
}

// ransacIterations returns number of hypotheses needed to draw an outlier-free sample with given confidence
func ransacIterations(inlierRatio float64, sampleSize int, confidence float64, maxIterations int) int {
	good := math.Pow(inlierRatio, float64(sampleSize))
	if good >= 1.0 {
		return 1
	}
	num := math.Log(1.0 - confidence)
	denom := math.Log(1.0 - good)
	if denom >= 0 || -num >= float64(maxIterations)*(-denom) {
		return maxIterations
	}
	return int(math.Ceil(num / denom))
}

// dltPose solves [R|t] linearly from at least 6 matches given in normalized image coordinates.
// 3D points are centered and scaled before solving, rotation is projected onto SO(3).
// Coplanar points don't constrain the 3x4 matrix, they are solved through a plane homography
func dltPose(objectPoints []r3.Vector, normalized []r2.Point) (ViewMatrix, bool) {
	n := len(objectPoints)
	if n < dltSampleSize {
		return ViewMatrix{}, false
	}
	centroid := r3.Vector{}
	for _, p := range objectPoints {
		centroid = centroid.Add(p)
	}
	centroid = centroid.Mul(1.0 / float64(n))
	meanDist := 0.0
	for _, p := range objectPoints {
		meanDist += p.Sub(centroid).Norm()
	}
	meanDist /= float64(n)
	if meanDist < 1e-12 {
		return ViewMatrix{}, false
	}
	if basis, flat := planeBasis(objectPoints, centroid); flat {
		return homographyPose(objectPoints, normalized, centroid, basis, math.Sqrt2/meanDist)
	}
	scale := math.Sqrt(3.0) / meanDist

	a := mat.NewDense(2*n, 12, nil)
	for i, p := range objectPoints {
		q := p.Sub(centroid).Mul(scale)
		x, y := normalized[i].X, normalized[i].Y
		a.SetRow(2*i, []float64{q.X, q.Y, q.Z, 1, 0, 0, 0, 0, -x * q.X, -x * q.Y, -x * q.Z, -x})
		a.SetRow(2*i+1, []float64{0, 0, 0, 0, q.X, q.Y, q.Z, 1, -y * q.X, -y * q.Y, -y * q.Z, -y})
	}
	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDFull); !ok {
		return ViewMatrix{}, false
	}
	var v mat.Dense
	svd.VTo(&v)

	// Undo normalization: M = M' * [sI | -s*c]
	m := mat.NewDense(3, 4, nil)
	for r := 0; r < 3; r++ {
		m0, m1, m2, m3 := v.At(4*r, 11), v.At(4*r+1, 11), v.At(4*r+2, 11), v.At(4*r+3, 11)
		m.Set(r, 0, scale*m0)
		m.Set(r, 1, scale*m1)
		m.Set(r, 2, scale*m2)
		m.Set(r, 3, m3-scale*(m0*centroid.X+m1*centroid.Y+m2*centroid.Z))
	}
	// M = lambda*[R|t], det(lambda*R) has the sign of lambda
	rot := mat.DenseCopyOf(m.Slice(0, 3, 0, 3))
	if mat.Det(rot) < 0 {
		m.Scale(-1, m)
		rot.Scale(-1, rot)
	}
	r, lambda := nearestRotation(rot)
	if lambda < 1e-12 {
		return ViewMatrix{}, false
	}
	t := r3.Vector{X: m.At(0, 3) / lambda, Y: m.At(1, 3) / lambda, Z: m.At(2, 3) / lambda}
	return ViewMatrix{R: r, T: t}, true
}

// planeBasis returns orthonormal basis with the first two columns spanning the best fitting plane
// of centered points and the third one along its normal. Second value reports whether points are coplanar
func planeBasis(objectPoints []r3.Vector, centroid r3.Vector) ([3][3]float64, bool) {
	centered := mat.NewDense(len(objectPoints), 3, nil)
	for i, p := range objectPoints {
		q := p.Sub(centroid)
		centered.SetRow(i, []float64{q.X, q.Y, q.Z})
	}
	var svd mat.SVD
	if ok := svd.Factorize(centered, mat.SVDThin); !ok {
		return identity3(), false
	}
	values := svd.Values(nil)
	if values[0] < 1e-12 || values[2] > planarityRatio*values[0] {
		return identity3(), false
	}
	var v mat.Dense
	svd.VTo(&v)
	e1 := r3.Vector{X: v.At(0, 0), Y: v.At(1, 0), Z: v.At(2, 0)}
	e2 := r3.Vector{X: v.At(0, 1), Y: v.At(1, 1), Z: v.At(2, 1)}
	e3 := e1.Cross(e2)
	return [3][3]float64{
		{e1.X, e2.X, e3.X},
		{e1.Y, e2.Y, e3.Y},
		{e1.Z, e2.Z, e3.Z},
	}, true
}

// homographyPose solves view from coplanar points. Homography H ~ [r1 r2 t'] maps plane coordinates
// (u, v, 1) to the normalized image, where r1, r2 are the plane axes in camera frame and t' is the camera
// coordinates of the centroid
func homographyPose(objectPoints []r3.Vector, normalized []r2.Point, centroid r3.Vector, basis [3][3]float64, scale float64) (ViewMatrix, bool) {
	n := len(objectPoints)
	if n < 4 {
		return ViewMatrix{}, false
	}
	e1 := r3.Vector{X: basis[0][0], Y: basis[1][0], Z: basis[2][0]}
	e2 := r3.Vector{X: basis[0][1], Y: basis[1][1], Z: basis[2][1]}
	a := mat.NewDense(2*n, 9, nil)
	for i, p := range objectPoints {
		q := p.Sub(centroid)
		u, v := scale*q.Dot(e1), scale*q.Dot(e2)
		x, y := normalized[i].X, normalized[i].Y
		a.SetRow(2*i, []float64{u, v, 1, 0, 0, 0, -x * u, -x * v, -x})
		a.SetRow(2*i+1, []float64{0, 0, 0, u, v, 1, -y * u, -y * v, -y})
	}
	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDFull); !ok {
		return ViewMatrix{}, false
	}
	var v mat.Dense
	svd.VTo(&v)
	// Undo plane coordinates scaling: H = H' * diag(s, s, 1)
	column := func(c int, k float64) r3.Vector {
		return r3.Vector{X: k * v.At(c, 8), Y: k * v.At(3+c, 8), Z: k * v.At(6+c, 8)}
	}
	h1, h2, h3 := column(0, scale), column(1, scale), column(2, 1)
	norm := (h1.Norm() + h2.Norm()) / 2.0
	if norm < 1e-12 {
		return ViewMatrix{}, false
	}
	lambda := 1.0 / norm
	// Centroid must be in front of the camera
	if h3.Z < 0 {
		lambda = -lambda
	}
	r1, r2 := h1.Mul(lambda), h2.Mul(lambda)
	r3v := r1.Cross(r2)
	local, _ := nearestRotation(mat.NewDense(3, 3, []float64{
		r1.X, r2.X, r3v.X,
		r1.Y, r2.Y, r3v.Y,
		r1.Z, r2.Z, r3v.Z,
	}))
	rot := mulMat3(local, transpose3(basis))
	t := h3.Mul(lambda).Sub(mulMat3Vec(rot, centroid))
	return ViewMatrix{R: rot, T: t}, true
}

// refinePose minimizes reprojection error over rotation vector and translation with Levenberg-Marquardt.
// Jacobian is computed numerically with central differences
func refinePose(intrinsics Intrinsics, initial ViewMatrix, objectPoints []r3.Vector, imagePoints []r2.Point) (ViewMatrix, bool) {
	m := 2 * len(objectPoints)
	if m < poseParams {
		return initial, false
	}
	rvec, tvec := initial.Rodrigues()
	x := []float64{rvec.X, rvec.Y, rvec.Z, tvec.X, tvec.Y, tvec.Z}
	residuals := func(dst, params []float64) {
		view := paramsToView(params)
		for i, point := range objectPoints {
			projected, _ := intrinsics.Project(view, point)
			dst[2*i] = projected.X - imagePoints[i].X
			dst[2*i+1] = projected.Y - imagePoints[i].Y
		}
	}

	r := make([]float64, m)
	residuals(r, x)
	cost := sumSquares(r)
	if math.IsNaN(cost) || math.IsInf(cost, 0) {
		return initial, false
	}
	candidate := make([]float64, poseParams)
	candidateR := make([]float64, m)
	jac := mat.NewDense(m, poseParams, nil)
	settings := &fd.JacobianSettings{Formula: fd.Central}
	lambda := 1e-3
	for iter := 0; iter < 50 && cost > 1e-24; iter++ {
		fd.Jacobian(jac, residuals, x, settings)
		var jtj mat.Dense
		jtj.Mul(jac.T(), jac)
		var grad mat.VecDense
		grad.MulVec(jac.T(), mat.NewVecDense(m, r))

		improved := false
		stepNorm := 0.0
		for attempt := 0; attempt < 10; attempt++ {
			damped := mat.DenseCopyOf(&jtj)
			for d := 0; d < poseParams; d++ {
				diag := jtj.At(d, d)
				damped.Set(d, d, diag+lambda*math.Max(diag, 1e-9))
			}
			var delta mat.VecDense
			if err := delta.SolveVec(damped, &grad); err != nil {
				lambda *= 10
				continue
			}
			for d := 0; d < poseParams; d++ {
				candidate[d] = x[d] - delta.AtVec(d)
			}
			residuals(candidateR, candidate)
			candidateCost := sumSquares(candidateR)
			if candidateCost < cost {
				stepNorm = math.Sqrt(mat.Dot(&delta, &delta))
				copy(x, candidate)
				copy(r, candidateR)
				cost = candidateCost
				lambda = math.Max(lambda/10, 1e-12)
				improved = true
				break
			}
			lambda *= 10
		}
		if !improved || stepNorm < 1e-14 {
			break
		}
	}
	return paramsToView(x), true
}

func paramsToView(params []float64) ViewMatrix {
	return ViewMatrixFromRodrigues(
		r3.Vector{X: params[0], Y: params[1], Z: params[2]},
		r3.Vector{X: params[3], Y: params[4], Z: params[5]},
	)
}

func sumSquares(values []float64) float64 {
	s := 0.0
	for _, v := range values {
		s += v * v
	}
	return s
}

func pick3(points []r3.Vector, indices []int) []r3.Vector {
	out := make([]r3.Vector, len(indices))
	for i, idx := range indices {
		out[i] = points[idx]
	}
	return out
}

func pick2(points []r2.Point, indices []int) []r2.Point {
	out := make([]r2.Point, len(indices))
	for i, idx := range indices {
		out[i] = points[idx]
	}
	return out
}
