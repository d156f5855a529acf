package camtrack

import (
	"sort"

	"github.com/arthurkushman/go-hungarian"
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
)

// MatchingAlgorithm is for algorithm type for matching detections to tracks
type MatchingAlgorithm uint16

const (
	// MatchingAlgorithmHungarian uses the Hungarian algorithm (Kuhn-Munkres) for optimal assignment
	MatchingAlgorithmHungarian MatchingAlgorithm = iota
	// MatchingAlgorithmGreedy assigns closest pairs first. Faster but potentially suboptimal
	MatchingAlgorithmGreedy
)

// CornerLinker links corners detected independently on every frame into persistent tracks.
// Each live track predicts its next position with Kalman filter, detections are assigned to
// predictions under a distance gate and unmatched detections start new tracks
type CornerLinker struct {
	// Max distance between predicted and detected position (pixels). Default is 5.0
	maxDistance float64
	// Max number of frames a track may be missing before it is dropped. Default is 0
	maxNoMatch int
	// Algorithm to use for matching
	algorithm MatchingAlgorithm
	// Live tracks
	tracks []*cornerTrack
	nextID TrackID
	frames []*FrameCorners
}

// NewCornerLinkerDefault creates default instance of CornerLinker
func NewCornerLinkerDefault() *CornerLinker {
	return NewCornerLinker(5.0, 0, MatchingAlgorithmHungarian)
}

// NewCornerLinker creates new instance of CornerLinker
func NewCornerLinker(maxDistance float64, maxNoMatch int, algorithm MatchingAlgorithm) *CornerLinker {
	return &CornerLinker{
		maxDistance: maxDistance,
		maxNoMatch:  maxNoMatch,
		algorithm:   algorithm,
		tracks:      make([]*cornerTrack, 0),
		frames:      make([]*FrameCorners, 0),
	}
}

// LinkFrame assigns track ids to corners detected on the next frame
func (linker *CornerLinker) LinkFrame(detections []r2.Point) (*FrameCorners, error) {
	for _, track := range linker.tracks {
		track.PredictNextPosition()
	}

	var matches [][2]int
	switch linker.algorithm {
	case MatchingAlgorithmHungarian:
		matches = linker.performHungarianMatching(detections)
	default:
		matches = linker.performGreedyMatching(detections)
	}

	ids := make([]TrackID, len(detections))
	matchedTracks := make(map[int]struct{}, len(matches))
	matchedDetections := make(map[int]struct{}, len(matches))
	for _, match := range matches {
		track := linker.tracks[match[0]]
		if err := track.Update(detections[match[1]]); err != nil {
			return nil, errors.Wrap(err, "can't link frame")
		}
		ids[match[1]] = track.id
		matchedTracks[match[0]] = struct{}{}
		matchedDetections[match[1]] = struct{}{}
	}

	alive := make([]*cornerTrack, 0, len(linker.tracks)+len(detections))
	for i, track := range linker.tracks {
		if _, ok := matchedTracks[i]; !ok {
			track.IncNoMatch()
			// Remove track if it was not found for a long time
			if track.noMatchTimes > linker.maxNoMatch {
				continue
			}
		}
		alive = append(alive, track)
	}
	for j, detection := range detections {
		if _, ok := matchedDetections[j]; ok {
			continue
		}
		track := newCornerTrack(linker.nextID, detection, 1.0)
		linker.nextID++
		ids[j] = track.id
		alive = append(alive, track)
	}
	linker.tracks = alive

	frame, err := NewFrameCorners(ids, detections)
	if err != nil {
		return nil, errors.Wrap(err, "can't link frame")
	}
	linker.frames = append(linker.frames, frame)
	return frame, nil
}

// TrackStore returns store over every linked frame
func (linker *CornerLinker) TrackStore() *MemoryTrackStore {
	return NewMemoryTrackStore(linker.frames)
}

// LinkCorners links detections of a whole clip
func LinkCorners(detections [][]r2.Point, linker *CornerLinker) (*MemoryTrackStore, error) {
	for i, frame := range detections {
		if _, err := linker.LinkFrame(frame); err != nil {
			return nil, errors.Wrapf(err, "frame %d", i)
		}
	}
	return linker.TrackStore(), nil
}

// performHungarianMatching returns (track index, detection index) pairs of optimal assignment under the distance gate
func (linker *CornerLinker) performHungarianMatching(detections []r2.Point) [][2]int {
	numTracks := len(linker.tracks)
	numDetections := len(detections)
	if numTracks == 0 || numDetections == 0 {
		return [][2]int{}
	}
	// Rectangular matrix is padded with zero scores
	size := maxInt(numTracks, numDetections)
	scores := make([][]float64, size)
	for i := range scores {
		scores[i] = make([]float64, size)
	}
	for i, track := range linker.tracks {
		for j, detection := range detections {
			dist := track.DistanceToPredicted(detection)
			if dist < linker.maxDistance {
				scores[i][j] = linker.maxDistance - dist
			}
		}
	}
	assignments := hungarian.SolveMax(scores)
	matches := make([][2]int, 0, minInt(numTracks, numDetections))
	for trackIdx, row := range assignments {
		for detIdx := range row {
			if trackIdx >= numTracks || detIdx >= numDetections {
				continue
			}
			if linker.tracks[trackIdx].DistanceToPredicted(detections[detIdx]) >= linker.maxDistance {
				continue
			}
			matches = append(matches, [2]int{trackIdx, detIdx})
		}
	}
	sort.Slice(matches, func(a, b int) bool { return matches[a][0] < matches[b][0] })
	return matches
}

// performGreedyMatching assigns closest (track, detection) pairs first
func (linker *CornerLinker) performGreedyMatching(detections []r2.Point) [][2]int {
	priorityQueue := make(distanceHeap, 0)
	for i, track := range linker.tracks {
		for j, detection := range detections {
			dist := track.DistanceToPredicted(detection)
			if dist < linker.maxDistance {
				priorityQueue.Push(&candidateMatch{trackIdx: i, detectionIdx: j, distance: dist})
			}
		}
	}
	// We need to prevent double assignment of tracks and detections
	reservedTracks := make(map[int]struct{})
	reservedDetections := make(map[int]struct{})
	matches := make([][2]int, 0)
	for priorityQueue.Len() > 0 {
		candidate := priorityQueue.Pop()
		if _, ok := reservedTracks[candidate.trackIdx]; ok {
			continue
		}
		if _, ok := reservedDetections[candidate.detectionIdx]; ok {
			continue
		}
		reservedTracks[candidate.trackIdx] = struct{}{}
		reservedDetections[candidate.detectionIdx] = struct{}{}
		matches = append(matches, [2]int{candidate.trackIdx, candidate.detectionIdx})
	}
	return matches
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
