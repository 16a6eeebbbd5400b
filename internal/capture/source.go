// Package capture provides read-only frame sources for the sampler.
package capture

import (
	"errors"
	"image"
)

// ErrNotReady is returned by Frame when the source has no decodable frame yet.
var ErrNotReady = errors.New("capture source not ready")

// Source is a live video stream the sampler can read still frames from.
type Source interface {
	// Ready reports whether a decodable frame is available.
	Ready() bool
	// Frame returns the most recent frame.
	Frame() (image.Image, error)
	// Size returns the native pixel dimensions, zero before the first frame.
	Size() (width, height int)
	Close() error
}
