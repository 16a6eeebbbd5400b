// pkg/core/marker.go
package core

import (
	"fmt"
	"time"
)

// MarkerAsset is a catalog entry: a visual marker and the media bound to it.
type MarkerAsset struct {
	ID           string `json:"id"`
	MediaLocator string `json:"mediaLocator"`
	DisplayName  string `json:"name"`
}

// Status is the detection service's classification of a marker in a frame.
type Status string

const (
	StatusNew      Status = "new"
	StatusActive   Status = "active"
	StatusTracking Status = "tracking"
)

// ParseStatus maps a wire status string to a Status.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusNew, StatusActive, StatusTracking:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown detection status %q", s)
}

// Region is a rectangle expressed in percent of the frame (0-100).
type Region struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Detection is one marker reported for one sampled frame.
// HasRegion is false when the service omitted the geometry.
type Detection struct {
	MarkerID  string  `json:"id"`
	Status    Status  `json:"status"`
	Region    Region  `json:"region"`
	HasRegion bool    `json:"hasRegion"`
	Score     float64 `json:"score"`
}

// DetectionBatch holds every detection reported for a single frame.
type DetectionBatch struct {
	Seq        uint64      `json:"seq"`
	ReceivedAt time.Time   `json:"receivedAt"`
	Detections []Detection `json:"detections"`
}
