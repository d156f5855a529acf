package camtrack

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
)

// PointCloudStore accumulates triangulated points keyed by track id.
// Identifiers are never removed: outliers are only deactivated
type PointCloudStore struct {
	ids       []TrackID
	positions []r3.Vector
	active    []bool
	index     map[TrackID]int
}

// NewPointCloudStore creates empty store
func NewPointCloudStore() *PointCloudStore {
	return &PointCloudStore{
		ids:       make([]TrackID, 0),
		positions: make([]r3.Vector, 0),
		active:    make([]bool, 0),
		index:     make(map[TrackID]int),
	}
}

// InsertNew appends active points whose ids are not in the store yet. Returns number of inserted points
func (store *PointCloudStore) InsertNew(ids []TrackID, points []r3.Vector) int {
	inserted := 0
	for i, id := range ids {
		if i >= len(points) {
			break
		}
		if !store.IsNew(id) {
			continue
		}
		store.index[id] = len(store.ids)
		store.ids = append(store.ids, id)
		store.positions = append(store.positions, points[i])
		store.active = append(store.active, true)
		inserted++
	}
	return inserted
}

// Deactivate marks given points as outliers. Unknown ids are ignored
func (store *PointCloudStore) Deactivate(ids ...TrackID) {
	for _, id := range ids {
		if i, ok := store.index[id]; ok {
			store.active[i] = false
		}
	}
}

// ReactivateAll marks every point as active
func (store *PointCloudStore) ReactivateAll() {
	for i := range store.active {
		store.active[i] = true
	}
}

// OverwritePosition replaces coordinates of existing point keeping its id and flag.
// Returns false when id is unknown
func (store *PointCloudStore) OverwritePosition(id TrackID, position r3.Vector) bool {
	i, ok := store.index[id]
	if !ok {
		return false
	}
	store.positions[i] = position
	return true
}

// Contains checks whether the id is in the store
func (store *PointCloudStore) Contains(id TrackID) bool {
	_, ok := store.index[id]
	return ok
}

// IsNew checks whether the id can still be inserted
func (store *PointCloudStore) IsNew(id TrackID) bool {
	return !store.Contains(id)
}

// IsActive returns flag of the point. False for unknown ids
func (store *PointCloudStore) IsActive(id TrackID) bool {
	i, ok := store.index[id]
	return ok && store.active[i]
}

// Position returns coordinates of the point
func (store *PointCloudStore) Position(id TrackID) (r3.Vector, bool) {
	i, ok := store.index[id]
	if !ok {
		return r3.Vector{}, false
	}
	return store.positions[i], true
}

// Len returns number of points including inactive ones
func (store *PointCloudStore) Len() int {
	return len(store.ids)
}

// ActiveLen returns number of active points
func (store *PointCloudStore) ActiveLen() int {
	n := 0
	for _, a := range store.active {
		if a {
			n++
		}
	}
	return n
}

// ActiveCorrespondences pairs active points with their observations on the frame (3D-2D matches).
// Result is in insertion order of the store
func (store *PointCloudStore) ActiveCorrespondences(frame *FrameCorners) ([]TrackID, []r3.Vector, []r2.Point) {
	ids := make([]TrackID, 0)
	points := make([]r3.Vector, 0)
	observations := make([]r2.Point, 0)
	for i, id := range store.ids {
		if !store.active[i] {
			continue
		}
		obs, ok := frame.Lookup(id)
		if !ok {
			continue
		}
		ids = append(ids, id)
		points = append(points, store.positions[i])
		observations = append(observations, obs)
	}
	return ids, points, observations
}

// PointCloud is a snapshot of active points
type PointCloud struct {
	IDs       []TrackID
	Positions []r3.Vector
	// Colors are filled by CalcPointCloudColors. Same length as IDs or empty
	Colors []PointColor
}

// Len returns number of points
func (pc *PointCloud) Len() int {
	return len(pc.IDs)
}

// Snapshot copies active points out of the store
func (store *PointCloudStore) Snapshot() *PointCloud {
	pc := &PointCloud{
		IDs:       make([]TrackID, 0, len(store.ids)),
		Positions: make([]r3.Vector, 0, len(store.ids)),
	}
	for i, id := range store.ids {
		if !store.active[i] {
			continue
		}
		pc.IDs = append(pc.IDs, id)
		pc.Positions = append(pc.Positions, store.positions[i])
	}
	return pc
}
