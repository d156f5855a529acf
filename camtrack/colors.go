package camtrack

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"
)

// FrameSequence gives random access to decoded frames of a clip
type FrameSequence interface {
	Len() int
	Frame(i int) (image.Image, error)
}

// ImageSequence is FrameSequence backed by image files (one file per frame)
type ImageSequence struct {
	paths []string
}

// NewImageSequence creates sequence over image files given in frame order
func NewImageSequence(paths []string) *ImageSequence {
	return &ImageSequence{
		paths: paths,
	}
}

// Len returns number of frames. Nil sequence is empty
func (seq *ImageSequence) Len() int {
	if seq == nil {
		return 0
	}
	return len(seq.paths)
}

// Frame decodes frame from disk. Supported formats are the ones registered by github.com/disintegration/imaging
func (seq *ImageSequence) Frame(i int) (image.Image, error) {
	if i < 0 || i >= seq.Len() {
		return nil, errors.Errorf("frame %d is outside of sequence with %d frames", i, seq.Len())
	}
	img, err := imaging.Open(seq.paths[i])
	if err != nil {
		return nil, errors.Wrapf(err, "can't decode frame %d", i)
	}
	return img, nil
}

// MemoryFrameSequence is FrameSequence of already decoded images
type MemoryFrameSequence []image.Image

// Len returns number of frames
func (seq MemoryFrameSequence) Len() int {
	return len(seq)
}

// Frame returns decoded frame
func (seq MemoryFrameSequence) Frame(i int) (image.Image, error) {
	if i < 0 || i >= len(seq) {
		return nil, errors.Errorf("frame %d is outside of sequence with %d frames", i, len(seq))
	}
	return seq[i], nil
}

// PointColor is 8-bit RGB color of a point
type PointColor struct {
	R uint8
	G uint8
	B uint8
}

// CalcPointCloudColors samples color of every point from frames where its track is observed close to the point's projection.
// Samples are averaged in linear RGB. Points without a single sample stay black
func CalcPointCloudColors(cloud *PointCloud, frames FrameSequence, views []ViewMatrix, intrinsics Intrinsics, tracks TrackStore, maxReprojectionError float64) ([]PointColor, error) {
	if len(views) != tracks.Len() {
		return nil, errors.Errorf("views and tracks must have the same length. Views array size: %d. Tracks size: %d", len(views), tracks.Len())
	}
	if frames.Len() < len(views) {
		return nil, errors.Errorf("frame sequence is shorter than views: %d < %d", frames.Len(), len(views))
	}
	sums := make([][3]float64, cloud.Len())
	counts := make([]int, cloud.Len())
	for frame, view := range views {
		corners := tracks.Corners(frame)
		var img image.Image
		for i, id := range cloud.IDs {
			observed, ok := corners.Lookup(id)
			if !ok {
				continue
			}
			projected, depth := intrinsics.Project(view, cloud.Positions[i])
			if depth <= 0 || projected.Sub(observed).Norm() > maxReprojectionError {
				continue
			}
			if img == nil {
				var err error
				img, err = frames.Frame(frame)
				if err != nil {
					return nil, errors.Wrap(err, "can't sample colors")
				}
			}
			bounds := img.Bounds()
			pt := image.Pt(bounds.Min.X+int(math.Round(observed.X)), bounds.Min.Y+int(math.Round(observed.Y)))
			if !pt.In(bounds) {
				continue
			}
			c, ok := colorful.MakeColor(img.At(pt.X, pt.Y))
			if !ok {
				continue
			}
			r, g, b := c.LinearRgb()
			sums[i][0] += r
			sums[i][1] += g
			sums[i][2] += b
			counts[i]++
		}
	}
	colors := make([]PointColor, cloud.Len())
	for i := range colors {
		if counts[i] == 0 {
			continue
		}
		k := float64(counts[i])
		r, g, b := colorful.LinearRgb(sums[i][0]/k, sums[i][1]/k, sums[i][2]/k).Clamped().RGB255()
		colors[i] = PointColor{R: r, G: g, B: b}
	}
	return colors, nil
}
