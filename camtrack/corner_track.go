package camtrack

import (
	kalman_filter "github.com/LdDl/kalman-filter"
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
)

// cornerTrack is a live track of CornerLinker. Its position is predicted with 2D Kalman filter
type cornerTrack struct {
	id                    TrackID
	currentPosition       r2.Point
	predictedNextPosition r2.Point
	noMatchTimes          int
	tracker               *kalman_filter.Kalman2D
}

func newCornerTrack(id TrackID, position r2.Point, dt float64) *cornerTrack {
	/* Kalman filter props */
	ux := 0.0
	uy := 0.0
	stdDevA := 2.0
	stdDevMx := 0.1
	stdDevMy := 0.1
	kf := kalman_filter.NewKalman2D(dt, ux, uy, stdDevA, stdDevMx, stdDevMy, kalman_filter.WithState2D(position.X, position.Y))
	return &cornerTrack{
		id:                    id,
		currentPosition:       position,
		predictedNextPosition: position,
		noMatchTimes:          0,
		tracker:               kf,
	}
}

// PredictNextPosition execute Kalman filter's first step but without re-evaluating state vector based on Kalman gain
func (track *cornerTrack) PredictNextPosition() {
	track.tracker.Predict()
	stateX, stateY := track.tracker.GetState()
	track.predictedNextPosition.X = stateX
	track.predictedNextPosition.Y = stateY
}

// Update sets observed position and execute Kalman filter's second step (evalute state vector based on Kalman gain)
func (track *cornerTrack) Update(position r2.Point) error {
	track.currentPosition = position
	err := track.tracker.Update(position.X, position.Y)
	if err != nil {
		return errors.Wrapf(err, "Can't update corner track %d", track.id)
	}
	track.noMatchTimes = 0
	return nil
}

// DistanceToPredicted returns distance from predicted position to the point
func (track *cornerTrack) DistanceToPredicted(position r2.Point) float64 {
	return track.predictedNextPosition.Sub(position).Norm()
}

// IncNoMatch increases track's no match times
func (track *cornerTrack) IncNoMatch() {
	track.noMatchTimes++
}
