package streamer

import (
	"time"

	"github.com/markerlens/tracker/internal/detection"
	"github.com/markerlens/tracker/internal/sampler"
	"github.com/markerlens/tracker/pkg/core"
)

// Connectivity values shown to operators.
const (
	Connected    = "connected"
	Reconnecting = "reconnecting"
	Offline      = "offline"
)

// Status is a point-in-time view of a session.
type Status struct {
	SessionID    string                `json:"sessionId"`
	StartedAt    time.Time             `json:"startedAt"`
	Connection   core.ConnectionState  `json:"connection"`
	Connectivity string                `json:"connectivity"`
	Assets       int                   `json:"assets"`
	Overlays     []core.TrackedOverlay `json:"overlays"`
	Detections   []core.DebugEntry     `json:"detections"`
	Batches      uint64                `json:"batches"`
	Unknown      uint64                `json:"unknownDetections"`
	Sampler      sampler.Stats         `json:"sampler"`
	Channel      detection.Stats       `json:"channel"`
}

// Status returns the latest snapshot. Safe for concurrent use.
func (s *Session) Status() Status {
	var st Status
	if p := s.status.Load(); p != nil {
		st = *p
	}
	st.Connection = s.channel.State()
	st.Channel = s.channel.Stats()
	switch {
	case st.Connection == core.StateOpen:
		st.Connectivity = Connected
	case s.channel.Reconnecting():
		st.Connectivity = Reconnecting
	default:
		st.Connectivity = Offline
	}
	return st
}

// publish stores a fresh snapshot; called from the session goroutine.
func (s *Session) publish() {
	overlays := s.tracker.Overlays()
	s.live.Store(int64(len(overlays)))
	s.status.Store(&Status{
		SessionID:  s.id,
		StartedAt:  s.startedAt,
		Assets:     s.assets.Len(),
		Overlays:   overlays,
		Detections: append([]core.DebugEntry(nil), s.lastDebug...),
		Batches:    s.batches,
		Unknown:    s.tracker.UnknownDetections(),
		Sampler:    s.sampler.Stats(),
	})
}
