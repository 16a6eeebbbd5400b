// pkg/core/overlay.go
package core

import "time"

// Phase is the lifecycle position of a tracked overlay.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhasePlaying   Phase = "playing"
	PhaseLingering Phase = "lingering"
	// PhaseRemoved only appears in transitions; removed overlays have no record.
	PhaseRemoved Phase = "removed"
)

// Handle identifies the presentation slot pre-allocated for a marker.
type Handle int

// TrackedOverlay is the runtime state of one marker's overlay.
type TrackedOverlay struct {
	MarkerID   string    `json:"markerId"`
	Name       string    `json:"name"`
	Handle     Handle    `json:"handle"`
	Region     Region    `json:"region"`
	Score      float64   `json:"score"`
	StartedAt  time.Time `json:"startedAt"`
	LastSeenAt time.Time `json:"lastSeenAt"`
	Phase      Phase     `json:"phase"`
}

// PlaybackCommand is a one-shot instruction for a presentation slot.
type PlaybackCommand string

const (
	CommandNone PlaybackCommand = ""
	CommandPlay PlaybackCommand = "play"
	CommandHide PlaybackCommand = "hide"
)

// RenderInstruction tells the presentation layer how to draw one overlay.
type RenderInstruction struct {
	MarkerID     string          `json:"markerId"`
	Handle       Handle          `json:"handle"`
	MediaLocator string          `json:"mediaLocator,omitempty"`
	Visible      bool            `json:"visible"`
	Region       Region          `json:"region"`
	Command      PlaybackCommand `json:"playbackCommand,omitempty"`
}

// PlaybackReason is why a media playback stopped.
type PlaybackReason string

const (
	PlaybackEnded PlaybackReason = "ended"
	PlaybackError PlaybackReason = "error"
)

// PlaybackEvent is reported by the presentation layer when a clip stops.
type PlaybackEvent struct {
	MarkerID string         `json:"markerId"`
	Reason   PlaybackReason `json:"reason"`
}

// Transition records a phase change of one overlay.
type Transition struct {
	MarkerID string    `json:"markerId"`
	From     Phase     `json:"from"`
	To       Phase     `json:"to"`
	Reason   string    `json:"reason"`
	At       time.Time `json:"at"`
}

// ConnectionState is the lifecycle state of the detection channel.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateOpen         ConnectionState = "open"
	StateClosed       ConnectionState = "closed"
	StateErrored      ConnectionState = "errored"
)
