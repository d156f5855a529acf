package camtrack

import (
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPointCloudStore(t *testing.T) {
	t.Run("insert only new ids", func(t *testing.T) {
		store := NewPointCloudStore()
		inserted := store.InsertNew([]TrackID{1, 2}, []r3.Vector{{X: 1}, {X: 2}})
		require.Equal(t, 2, inserted)

		inserted = store.InsertNew([]TrackID{2, 3}, []r3.Vector{{X: 20}, {X: 3}})
		require.Equal(t, 1, inserted)
		assert.Equal(t, 3, store.Len())

		p, ok := store.Position(2)
		require.True(t, ok)
		assert.Equal(t, r3.Vector{X: 2}, p, "existing point must not be overwritten by insertion")
		assert.False(t, store.IsNew(3))
		assert.True(t, store.IsNew(4))
	})

	t.Run("deactivate and reactivate", func(t *testing.T) {
		store := NewPointCloudStore()
		store.InsertNew([]TrackID{1, 2, 3}, []r3.Vector{{X: 1}, {X: 2}, {X: 3}})
		store.Deactivate(2, 42)
		assert.False(t, store.IsActive(2))
		assert.True(t, store.IsActive(1))
		assert.False(t, store.IsActive(42))
		assert.Equal(t, 3, store.Len(), "deactivation never removes points")
		assert.Equal(t, 2, store.ActiveLen())

		// Inactive id is still known and can't be inserted again
		assert.Equal(t, 0, store.InsertNew([]TrackID{2}, []r3.Vector{{X: 200}}))
		assert.False(t, store.IsActive(2))

		store.ReactivateAll()
		assert.Equal(t, 3, store.ActiveLen())
	})

	t.Run("overwrite position", func(t *testing.T) {
		store := NewPointCloudStore()
		store.InsertNew([]TrackID{5}, []r3.Vector{{X: 5}})
		store.Deactivate(5)
		require.True(t, store.OverwritePosition(5, r3.Vector{Y: 5}))
		p, _ := store.Position(5)
		assert.Equal(t, r3.Vector{Y: 5}, p)
		assert.False(t, store.IsActive(5), "overwrite keeps activity flag")
		assert.False(t, store.OverwritePosition(6, r3.Vector{}))
		assert.False(t, store.Contains(6))
	})

	t.Run("active correspondences", func(t *testing.T) {
		store := NewPointCloudStore()
		store.InsertNew([]TrackID{3, 1, 2}, []r3.Vector{{X: 3}, {X: 1}, {X: 2}})
		store.Deactivate(1)
		frame, err := NewFrameCorners([]TrackID{1, 2, 3, 4}, []r2.Point{{X: 10}, {X: 20}, {X: 30}, {X: 40}})
		require.NoError(t, err)

		ids, points, observations := store.ActiveCorrespondences(frame)
		assert.Equal(t, []TrackID{3, 2}, ids, "insertion order is kept")
		assert.Equal(t, []r3.Vector{{X: 3}, {X: 2}}, points)
		assert.Equal(t, []r2.Point{{X: 30}, {X: 20}}, observations)
	})

	t.Run("snapshot", func(t *testing.T) {
		store := NewPointCloudStore()
		store.InsertNew([]TrackID{1, 2, 3}, []r3.Vector{{X: 1}, {X: 2}, {X: 3}})
		store.Deactivate(2)
		cloud := store.Snapshot()
		assert.Equal(t, []TrackID{1, 3}, cloud.IDs)
		assert.Equal(t, []r3.Vector{{X: 1}, {X: 3}}, cloud.Positions)
		assert.Equal(t, 2, cloud.Len())
	})
}
