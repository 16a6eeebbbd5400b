// Package tracker keeps one overlay per recognized marker and turns detection
// batches and playback events into render instructions.
//
// A Tracker is not safe for concurrent use; the session loop owns it.
package tracker

import (
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/markerlens/tracker/internal/cache"
	"github.com/markerlens/tracker/internal/geo"
	"github.com/markerlens/tracker/pkg/core"
)

// Transition reasons.
const (
	ReasonDetected   = "detected"
	ReasonReacquired = "reacquired"
	ReasonLost       = "lost"
)

// Tracker is the per-marker overlay state machine.
type Tracker struct {
	assets   *cache.AssetIndex
	overlays map[string]*core.TrackedOverlay
	logger   *slog.Logger

	// one-shot commands staged for the next Render
	pendingPlay map[string]struct{}
	pendingHide []core.RenderInstruction

	unknown uint64
}

// New creates a tracker over a fixed set of assets.
func New(assets *cache.AssetIndex, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		assets:      assets,
		overlays:    make(map[string]*core.TrackedOverlay),
		logger:      logger,
		pendingPlay: make(map[string]struct{}),
	}
}

// Apply processes one detection batch and returns the phase transitions it
// caused, in the order they happened. A playing overlay missing from the
// batch moves to lingering; its visibility and region do not change.
func (t *Tracker) Apply(batch core.DetectionBatch) []core.Transition {
	at := batch.ReceivedAt
	if at.IsZero() {
		at = time.Now()
	}

	var transitions []core.Transition
	present := make(map[string]struct{}, len(batch.Detections))

	for _, d := range batch.Detections {
		entry, ok := t.assets.Get(d.MarkerID)
		if !ok {
			t.unknown++
			t.logger.Debug("Detection for marker not in catalog", "markerId", d.MarkerID, "status", d.Status)
			continue
		}

		ov, exists := t.overlays[d.MarkerID]

		switch d.Status {
		case core.StatusNew:
			if !exists {
				ov = &core.TrackedOverlay{
					MarkerID:   d.MarkerID,
					Name:       entry.Asset.DisplayName,
					Handle:     entry.Handle,
					Region:     t.regionOf(d, core.Region{}),
					Score:      d.Score,
					StartedAt:  at,
					LastSeenAt: at,
					Phase:      core.PhasePlaying,
				}
				t.overlays[d.MarkerID] = ov
				t.pendingPlay[d.MarkerID] = struct{}{}
				transitions = append(transitions, core.Transition{
					MarkerID: d.MarkerID, From: core.PhaseIdle, To: core.PhasePlaying, Reason: ReasonDetected, At: at,
				})
				t.logger.Debug("Overlay created", "markerId", d.MarkerID, "handle", entry.Handle, "score", d.Score)
			} else if tr, ok := t.markSeen(ov, d.Score, at); ok {
				// repeated NEW: no restart, no reposition
				transitions = append(transitions, tr)
			}

		case core.StatusActive, core.StatusTracking:
			if !exists {
				continue
			}
			ov.Region = t.regionOf(d, ov.Region)
			if tr, ok := t.markSeen(ov, d.Score, at); ok {
				transitions = append(transitions, tr)
			}

		default:
			continue
		}

		present[d.MarkerID] = struct{}{}
	}

	for _, id := range t.sortedIDs() {
		ov := t.overlays[id]
		if _, seen := present[id]; seen || ov.Phase != core.PhasePlaying {
			continue
		}
		ov.Phase = core.PhaseLingering
		transitions = append(transitions, core.Transition{
			MarkerID: id, From: core.PhasePlaying, To: core.PhaseLingering, Reason: ReasonLost, At: at,
		})
	}

	return transitions
}

// End removes the overlay for markerID after its playback stopped and stages
// a hide instruction. It reports false when no overlay exists.
func (t *Tracker) End(markerID string, reason core.PlaybackReason, at time.Time) (core.Transition, bool) {
	ov, ok := t.overlays[markerID]
	if !ok {
		return core.Transition{}, false
	}
	delete(t.overlays, markerID)
	delete(t.pendingPlay, markerID)

	t.pendingHide = append(t.pendingHide, core.RenderInstruction{
		MarkerID: markerID,
		Handle:   ov.Handle,
		Visible:  false,
		Region:   ov.Region,
		Command:  core.CommandHide,
	})

	if reason == "" {
		reason = core.PlaybackEnded
	}
	if at.IsZero() {
		at = time.Now()
	}
	return core.Transition{MarkerID: markerID, From: ov.Phase, To: core.PhaseRemoved, Reason: string(reason), At: at}, true
}

// Render returns the instruction set for the current state: hide
// instructions for overlays removed since the previous call, then one visible
// instruction per live overlay ordered by handle. Play and hide commands are
// reported exactly once.
func (t *Tracker) Render() []core.RenderInstruction {
	out := make([]core.RenderInstruction, 0, len(t.pendingHide)+len(t.overlays))
	out = append(out, t.pendingHide...)
	t.pendingHide = t.pendingHide[:0]

	for _, ov := range t.sortedOverlays() {
		in := core.RenderInstruction{
			MarkerID: ov.MarkerID,
			Handle:   ov.Handle,
			Visible:  true,
			Region:   ov.Region,
		}
		if entry, ok := t.assets.Get(ov.MarkerID); ok {
			in.MediaLocator = entry.Asset.MediaLocator
		}
		if _, play := t.pendingPlay[ov.MarkerID]; play {
			in.Command = core.CommandPlay
			delete(t.pendingPlay, ov.MarkerID)
		}
		out = append(out, in)
	}
	return out
}

// Overlays returns a copy of every live overlay ordered by handle.
func (t *Tracker) Overlays() []core.TrackedOverlay {
	ovs := t.sortedOverlays()
	out := make([]core.TrackedOverlay, len(ovs))
	for i, ov := range ovs {
		out[i] = *ov
	}
	return out
}

// Overlay returns the overlay for markerID.
func (t *Tracker) Overlay(markerID string) (core.TrackedOverlay, bool) {
	ov, ok := t.overlays[markerID]
	if !ok {
		return core.TrackedOverlay{}, false
	}
	return *ov, true
}

// Len returns the number of live overlays.
func (t *Tracker) Len() int {
	return len(t.overlays)
}

// UnknownDetections counts detections dropped for markers outside the catalog.
func (t *Tracker) UnknownDetections() uint64 {
	return t.unknown
}

// markSeen records presence of an existing overlay; a lingering overlay goes
// back to playing.
func (t *Tracker) markSeen(ov *core.TrackedOverlay, score float64, at time.Time) (core.Transition, bool) {
	ov.Score = score
	ov.LastSeenAt = at
	if ov.Phase == core.PhasePlaying {
		return core.Transition{}, false
	}
	from := ov.Phase
	ov.Phase = core.PhasePlaying
	return core.Transition{MarkerID: ov.MarkerID, From: from, To: core.PhasePlaying, Reason: ReasonReacquired, At: at}, true
}

// regionOf returns the clipped region of d, or fallback when d carries no
// usable geometry.
func (t *Tracker) regionOf(d core.Detection, fallback core.Region) core.Region {
	if !d.HasRegion {
		return fallback
	}
	r, err := geo.Clip(d.Region)
	if err != nil {
		if !errors.Is(err, geo.ErrOffFrame) {
			t.logger.Debug("Ignoring detection geometry", "markerId", d.MarkerID, "error", err)
		}
		return fallback
	}
	return r
}

func (t *Tracker) sortedIDs() []string {
	ids := make([]string, 0, len(t.overlays))
	for id := range t.overlays {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (t *Tracker) sortedOverlays() []*core.TrackedOverlay {
	ovs := make([]*core.TrackedOverlay, 0, len(t.overlays))
	for _, ov := range t.overlays {
		ovs = append(ovs, ov)
	}
	slices.SortFunc(ovs, func(a, b *core.TrackedOverlay) int { return int(a.Handle) - int(b.Handle) })
	return ovs
}
