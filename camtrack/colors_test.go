package camtrack

import (
	"image"
	"image/color"
	"image/draw"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uniformFrame(c color.Color) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, 640, 480))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return img
}

func TestCalcPointCloudColors(t *testing.T) {
	scene := newSyntheticScene(30, 4, 31)
	tracks := scene.trackStore(t)
	cloud := cloudFromScene(scene).Snapshot()

	t.Run("uniform frames", func(t *testing.T) {
		frames := make(MemoryFrameSequence, len(scene.views))
		for i := range frames {
			frames[i] = uniformFrame(color.NRGBA{R: 200, G: 40, B: 10, A: 255})
		}
		colors, err := CalcPointCloudColors(cloud, frames, scene.views, scene.intrinsics, tracks, 5.0)
		require.NoError(t, err)
		require.Len(t, colors, cloud.Len())
		for i, c := range colors {
			// Points projected outside of the image stay black
			if c == (PointColor{}) {
				continue
			}
			assert.Equal(t, PointColor{R: 200, G: 40, B: 10}, c, "point %d", cloud.IDs[i])
		}
	})

	t.Run("averaged in linear space", func(t *testing.T) {
		frames := MemoryFrameSequence{
			uniformFrame(color.NRGBA{R: 255, G: 255, B: 255, A: 255}),
			uniformFrame(color.NRGBA{R: 0, G: 0, B: 0, A: 255}),
		}
		colors, err := CalcPointCloudColors(cloud, frames, scene.views[:2], scene.intrinsics, NewMemoryTrackStore([]*FrameCorners{tracks.Corners(0), tracks.Corners(1)}), 5.0)
		require.NoError(t, err)
		found := false
		for _, c := range colors {
			if c == (PointColor{}) {
				continue
			}
			found = true
			// Half of linear white is brighter than sRGB 128
			assert.Greater(t, c.R, uint8(180))
			assert.Equal(t, c.R, c.G)
			assert.Equal(t, c.R, c.B)
		}
		assert.True(t, found, "at least one point must be colored")
	})

	t.Run("wrong lengths", func(t *testing.T) {
		_, err := CalcPointCloudColors(cloud, MemoryFrameSequence{}, scene.views, scene.intrinsics, tracks, 5.0)
		assert.Error(t, err)
		_, err = CalcPointCloudColors(cloud, MemoryFrameSequence{}, scene.views[:1], scene.intrinsics, tracks, 5.0)
		assert.Error(t, err)
	})
}

func TestImageSequence(t *testing.T) {
	dir := t.TempDir()
	paths := []string{filepath.Join(dir, "0000.png"), filepath.Join(dir, "0001.png")}
	for _, path := range paths {
		require.NoError(t, imaging.Save(uniformFrame(color.NRGBA{R: 10, G: 20, B: 30, A: 255}), path))
	}
	seq := NewImageSequence(paths)
	assert.Equal(t, 2, seq.Len())
	img, err := seq.Frame(1)
	require.NoError(t, err)
	assert.Equal(t, 640, img.Bounds().Dx())
	_, err = seq.Frame(2)
	assert.Error(t, err)
}

func TestReconstructWithColors(t *testing.T) {
	scene := newSyntheticScene(40, 12, 33)
	frames := make(MemoryFrameSequence, len(scene.views))
	for i := range frames {
		frames[i] = uniformFrame(color.NRGBA{R: 90, G: 90, B: 90, A: 255})
	}
	poses, cloud, err := Reconstruct(scene.intrinsics, scene.trackStore(t), frames, scene.knownView(0), scene.knownView(11))
	require.NoError(t, err)
	assert.Len(t, poses, 12)
	assert.Equal(t, 40, cloud.Len())
	assert.Len(t, cloud.Colors, 40)

	_, _, err = Reconstruct(scene.intrinsics, scene.trackStore(t), nil, nil, scene.knownView(11))
	assert.ErrorIs(t, err, ErrMissingBootstrapViews)
}

func TestReconstructWithoutFrames(t *testing.T) {
	scene := newSyntheticScene(40, 12, 35)
	var nilSequence *ImageSequence
	for _, frames := range []FrameSequence{nil, nilSequence, MemoryFrameSequence(nil)} {
		poses, cloud, err := Reconstruct(scene.intrinsics, scene.trackStore(t), frames, scene.knownView(0), scene.knownView(11))
		require.NoError(t, err)
		assert.Len(t, poses, 12)
		assert.Empty(t, cloud.Colors)
	}
	assert.Equal(t, 0, nilSequence.Len())
	_, err := nilSequence.Frame(0)
	assert.Error(t, err)
}
