package camtrack

import (
	"sort"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
)

// TrackID is a persistent identifier of a physical scene feature across frames
type TrackID int64

// FrameCorners is a set of feature observations on a single frame.
// Track identifiers are unique within a frame
type FrameCorners struct {
	IDs    []TrackID
	Points []r2.Point
	index  map[TrackID]int
}

// NewFrameCorners creates frame observations. Returns error when lengths differ or an identifier is duplicated
func NewFrameCorners(ids []TrackID, points []r2.Point) (*FrameCorners, error) {
	if len(ids) != len(points) {
		return nil, errors.Errorf("ids and points arrays must have the same length. IDs array size: %d. Points array size: %d", len(ids), len(points))
	}
	fc := &FrameCorners{
		IDs:    ids,
		Points: points,
		index:  make(map[TrackID]int, len(ids)),
	}
	for i, id := range ids {
		if _, ok := fc.index[id]; ok {
			return nil, errors.Errorf("duplicated track id %d", id)
		}
		fc.index[id] = i
	}
	return fc, nil
}

// Len returns number of observations
func (fc *FrameCorners) Len() int {
	return len(fc.IDs)
}

// Lookup returns observed position of the track on this frame
func (fc *FrameCorners) Lookup(id TrackID) (r2.Point, bool) {
	if fc.index == nil {
		fc.buildIndex()
	}
	i, ok := fc.index[id]
	if !ok {
		return r2.Point{}, false
	}
	return fc.Points[i], true
}

// Has checks whether the track is observed on this frame
func (fc *FrameCorners) Has(id TrackID) bool {
	_, ok := fc.Lookup(id)
	return ok
}

// SortedIDs returns copy of identifiers in ascending order
func (fc *FrameCorners) SortedIDs() []TrackID {
	ids := make([]TrackID, len(fc.IDs))
	copy(ids, fc.IDs)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (fc *FrameCorners) buildIndex() {
	fc.index = make(map[TrackID]int, len(fc.IDs))
	for i, id := range fc.IDs {
		fc.index[id] = i
	}
}

// TrackStore gives random access to per-frame observations of a clip with fixed length
type TrackStore interface {
	// Len returns number of frames
	Len() int
	// Corners returns observations on the frame. Frame must be in [0, Len())
	Corners(frame int) *FrameCorners
}

// MemoryTrackStore is TrackStore kept in memory
type MemoryTrackStore struct {
	frames []*FrameCorners
}

// NewMemoryTrackStore creates store over given frames
func NewMemoryTrackStore(frames []*FrameCorners) *MemoryTrackStore {
	return &MemoryTrackStore{
		frames: frames,
	}
}

// Len returns number of frames
func (store *MemoryTrackStore) Len() int {
	return len(store.frames)
}

// Corners returns observations on the frame
func (store *MemoryTrackStore) Corners(frame int) *FrameCorners {
	return store.frames[frame]
}
