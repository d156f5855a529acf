package camtrack

import (
	"sort"

	"github.com/golang/geo/r2"
)

// Correspondences are observations of the same tracks on two frames.
// Same index in every array refers to the same track
type Correspondences struct {
	IDs     []TrackID
	PointsA []r2.Point
	PointsB []r2.Point
}

// Len returns number of matched tracks
func (c Correspondences) Len() int {
	return len(c.IDs)
}

// BuildCorrespondences matches tracks observed on both frames. Result is ordered by track id
func BuildCorrespondences(a, b *FrameCorners) Correspondences {
	ids := intersectIDs(a.IDs, b.IDs)
	corrs := Correspondences{
		IDs:     ids,
		PointsA: make([]r2.Point, len(ids)),
		PointsB: make([]r2.Point, len(ids)),
	}
	for i, id := range ids {
		corrs.PointsA[i], _ = a.Lookup(id)
		corrs.PointsB[i], _ = b.Lookup(id)
	}
	return corrs
}

// IntersectFrameIDs returns ids of tracks observed on every given frame in ascending order.
// Second value is false when some frame is outside of the store
func IntersectFrameIDs(store TrackStore, frames ...int) ([]TrackID, bool) {
	if len(frames) == 0 {
		return nil, false
	}
	for _, frame := range frames {
		if frame < 0 || frame >= store.Len() {
			return nil, false
		}
	}
	ids := store.Corners(frames[0]).SortedIDs()
	for _, frame := range frames[1:] {
		ids = intersectIDs(ids, store.Corners(frame).IDs)
	}
	return ids, true
}

// intersectIDs returns sorted set intersection
func intersectIDs(a, b []TrackID) []TrackID {
	inB := make(map[TrackID]struct{}, len(b))
	for _, id := range b {
		inB[id] = struct{}{}
	}
	out := make([]TrackID, 0)
	seen := make(map[TrackID]struct{})
	for _, id := range a {
		if _, ok := inB[id]; !ok {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
