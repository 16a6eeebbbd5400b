package geo

import (
	"errors"
	"fmt"
	"math"

	"github.com/markerlens/tracker/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
)

// Regions are expressed in percent of the frame, so the frame itself is the
// square (0,0)-(100,100).
const FrameExtent = 100.0

// ErrInvalidRegion is returned when a region has non-finite or negative extents
var ErrInvalidRegion = errors.New("invalid region")

// ErrOffFrame is returned when a region has no area inside the frame
var ErrOffFrame = errors.New("region outside frame")

var frame = mustEnvelope(geom.XY{X: 0, Y: 0}, geom.XY{X: FrameExtent, Y: FrameExtent})

func mustEnvelope(a, b geom.XY) geom.Envelope {
	env, err := geom.NewEnvelope([]geom.XY{a, b})
	if err != nil {
		panic(fmt.Sprintf("geo: bad envelope %v-%v: %v", a, b, err))
	}
	return env
}

// Validate reports whether r can be placed on the frame.
func Validate(r core.Region) error {
	for _, v := range []float64{r.X, r.Y, r.Width, r.Height} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return ErrInvalidRegion
		}
	}
	if r.Width < 0 || r.Height < 0 {
		return ErrInvalidRegion
	}
	return nil
}

// Envelope returns the bounding envelope of r.
func Envelope(r core.Region) (geom.Envelope, error) {
	env, err := geom.NewEnvelope([]geom.XY{
		{X: r.X, Y: r.Y},
		{X: r.X + r.Width, Y: r.Y + r.Height},
	})
	if err != nil {
		return geom.Envelope{}, fmt.Errorf("%w: %v", ErrInvalidRegion, err)
	}
	return env, nil
}

// Clip intersects r with the frame and returns the visible part. A region
// that misses the frame, or only touches its edge, yields ErrOffFrame.
func Clip(r core.Region) (core.Region, error) {
	if err := Validate(r); err != nil {
		return core.Region{}, err
	}
	env, err := Envelope(r)
	if err != nil {
		return core.Region{}, err
	}
	if !frame.Intersects(env) {
		return core.Region{}, ErrOffFrame
	}

	lo, hi, _ := env.MinMaxXYs()
	clipped, err := Envelope(core.Region{
		X:      clamp(lo.X),
		Y:      clamp(lo.Y),
		Width:  clamp(hi.X) - clamp(lo.X),
		Height: clamp(hi.Y) - clamp(lo.Y),
	})
	if err != nil {
		return core.Region{}, err
	}
	if clipped.Area() == 0 {
		return core.Region{}, ErrOffFrame
	}

	lo, hi, _ = clipped.MinMaxXYs()
	return core.Region{X: lo.X, Y: lo.Y, Width: hi.X - lo.X, Height: hi.Y - lo.Y}, nil
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(FrameExtent, v))
}
