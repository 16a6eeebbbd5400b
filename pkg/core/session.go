// pkg/core/session.go
package core

import "time"

// SessionInfo describes one tracking session.
type SessionInfo struct {
	ID           string    `json:"id"`
	StartedAt    time.Time `json:"startedAt"`
	DetectionURL string    `json:"detectionUrl"`
	CatalogURL   string    `json:"catalogUrl"`
	Assets       int       `json:"assets"`
}

// DebugEntry is one detection from the latest batch, as shown in debug views.
type DebugEntry struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Status Status  `json:"status"`
	Score  float64 `json:"score"`
}
