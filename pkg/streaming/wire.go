package streaming

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/markerlens/tracker/pkg/core"
)

// ErrMalformedBatch is returned when an inbound payload is not a JSON array
// of detection objects.
var ErrMalformedBatch = errors.New("malformed detection batch")

// wireDetection mirrors one element of the detection service's reply.
// Coordinates are pointers so that an omitted geometry can be told apart from
// a zero one. videoUrl and name are sent by some services and ignored here.
type wireDetection struct {
	ID       string   `json:"id"`
	Status   string   `json:"status"`
	X        *float64 `json:"x,omitempty"`
	Y        *float64 `json:"y,omitempty"`
	Width    *float64 `json:"width,omitempty"`
	Height   *float64 `json:"height,omitempty"`
	Score    float64  `json:"score"`
	VideoURL string   `json:"videoUrl,omitempty"`
	Name     string   `json:"name,omitempty"`
}

// EncodeFrame returns the outbound text frame for a JPEG image: plain base64,
// no envelope.
func EncodeFrame(jpeg []byte) []byte {
	out := make([]byte, base64.StdEncoding.EncodedLen(len(jpeg)))
	base64.StdEncoding.Encode(out, jpeg)
	return out
}

// DecodeFrame reverses EncodeFrame.
func DecodeFrame(frame []byte) ([]byte, error) {
	out := make([]byte, base64.StdEncoding.DecodedLen(len(frame)))
	n, err := base64.StdEncoding.Decode(out, frame)
	if err != nil {
		return nil, fmt.Errorf("invalid frame encoding: %w", err)
	}
	return out[:n], nil
}

// DecodeBatch parses one inbound message. Elements with an empty id or an
// unknown status are skipped; anything that is not a JSON array of objects
// yields ErrMalformedBatch.
func DecodeBatch(payload []byte) ([]core.Detection, error) {
	var items []wireDetection
	if err := json.Unmarshal(payload, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBatch, err)
	}
	if items == nil {
		// "null" unmarshals into a nil slice without error.
		return nil, fmt.Errorf("%w: not an array", ErrMalformedBatch)
	}

	out := make([]core.Detection, 0, len(items))
	for _, it := range items {
		if it.ID == "" {
			continue
		}
		status, err := core.ParseStatus(it.Status)
		if err != nil {
			continue
		}
		d := core.Detection{MarkerID: it.ID, Status: status, Score: it.Score}
		if it.X != nil && it.Y != nil && it.Width != nil && it.Height != nil {
			d.Region = core.Region{X: *it.X, Y: *it.Y, Width: *it.Width, Height: *it.Height}
			d.HasRegion = true
		}
		out = append(out, d)
	}
	return out, nil
}

// EncodeBatch produces the wire form of a batch. Used by the mock detection
// service and tests.
func EncodeBatch(ds []core.Detection) ([]byte, error) {
	items := make([]wireDetection, 0, len(ds))
	for _, d := range ds {
		w := wireDetection{ID: d.MarkerID, Status: string(d.Status), Score: d.Score}
		if d.HasRegion {
			r := d.Region
			w.X, w.Y, w.Width, w.Height = &r.X, &r.Y, &r.Width, &r.Height
		}
		items = append(items, w)
	}
	return json.Marshal(items)
}
