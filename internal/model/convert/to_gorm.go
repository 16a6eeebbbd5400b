// Package convert provides functions to convert between GORM models and core models
package convert

import (
	"encoding/json"
	"fmt"

	"github.com/markerlens/tracker/internal/model"
	"github.com/markerlens/tracker/pkg/core"
	"gorm.io/datatypes"
)

// detectionsToJSON converts detections to datatypes.JSON for DB storage.
func detectionsToJSON(ds []core.Detection) (datatypes.JSON, error) {
	if len(ds) == 0 {
		return datatypes.JSON("[]"), nil
	}
	data, err := json.Marshal(ds)
	if err != nil {
		return nil, fmt.Errorf("marshal detections: %w", err)
	}
	return datatypes.JSON(data), nil
}

// CoreToSession converts session info to a GORM Session.
func CoreToSession(info core.SessionInfo) model.Session {
	return model.Session{
		ID:           info.ID,
		StartedAt:    info.StartedAt,
		DetectionURL: info.DetectionURL,
		CatalogURL:   info.CatalogURL,
		Assets:       info.Assets,
	}
}

// CoreToDetectionBatch converts a batch to a GORM DetectionBatch.
func CoreToDetectionBatch(sessionID string, b core.DetectionBatch) (model.DetectionBatch, error) {
	detections, err := detectionsToJSON(b.Detections)
	if err != nil {
		return model.DetectionBatch{}, err
	}
	return model.DetectionBatch{
		SessionID:  sessionID,
		Seq:        b.Seq,
		ReceivedAt: b.ReceivedAt,
		Count:      len(b.Detections),
		Detections: detections,
	}, nil
}

// CoreToOverlayTransition converts a transition to a GORM OverlayTransition.
func CoreToOverlayTransition(sessionID string, t core.Transition) model.OverlayTransition {
	return model.OverlayTransition{
		SessionID: sessionID,
		MarkerID:  t.MarkerID,
		FromPhase: string(t.From),
		ToPhase:   string(t.To),
		Reason:    t.Reason,
		At:        t.At,
	}
}
