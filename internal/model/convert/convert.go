package convert

import (
	"encoding/json"
	"fmt"

	"github.com/markerlens/tracker/internal/model"
	"github.com/markerlens/tracker/pkg/core"
)

// SessionToCore converts a GORM Session to session info.
func SessionToCore(s model.Session) core.SessionInfo {
	return core.SessionInfo{
		ID:           s.ID,
		StartedAt:    s.StartedAt,
		DetectionURL: s.DetectionURL,
		CatalogURL:   s.CatalogURL,
		Assets:       s.Assets,
	}
}

// DetectionBatchToCore converts a GORM DetectionBatch back to a batch.
func DetectionBatchToCore(b model.DetectionBatch) (core.DetectionBatch, error) {
	var ds []core.Detection
	if len(b.Detections) > 0 {
		if err := json.Unmarshal(b.Detections, &ds); err != nil {
			return core.DetectionBatch{}, fmt.Errorf("unmarshal detections of batch %d: %w", b.Seq, err)
		}
	}
	return core.DetectionBatch{
		Seq:        b.Seq,
		ReceivedAt: b.ReceivedAt,
		Detections: ds,
	}, nil
}

// OverlayTransitionToCore converts a GORM OverlayTransition to a transition.
func OverlayTransitionToCore(t model.OverlayTransition) core.Transition {
	return core.Transition{
		MarkerID: t.MarkerID,
		From:     core.Phase(t.FromPhase),
		To:       core.Phase(t.ToPhase),
		Reason:   t.Reason,
		At:       t.At,
	}
}
