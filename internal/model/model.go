package model

import (
	"database/sql"
	"time"

	"gorm.io/datatypes"
)

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels lists every table of the session journal schema.
var DatabaseModels = []interface{}{
	&JournalInfo{},
	&Session{},
	&DetectionBatch{},
	&OverlayTransition{},
	&SessionStat{},
}

// JournalInfo identifies the journal schema in a database file.
type JournalInfo struct {
	ID            uint   `gorm:"primarykey"`
	SchemaVersion int    `json:"schemaVersion"`
	Application   string `json:"application" gorm:"size:64"`
}

func (*JournalInfo) TableName() string {
	return "journal_infos"
}

// Session is one run of the tracking client.
type Session struct {
	ID           string       `json:"id" gorm:"primaryKey;size:36"`
	StartedAt    time.Time    `json:"startedAt" gorm:"index:idx_session_started_at"`
	EndedAt      sql.NullTime `json:"endedAt"`
	DetectionURL string       `json:"detectionUrl" gorm:"size:255"`
	CatalogURL   string       `json:"catalogUrl" gorm:"size:255"`
	Assets       int          `json:"assets"`
}

func (*Session) TableName() string {
	return "sessions"
}

// DetectionBatch is one reply of the detection service. The detections are
// kept verbatim as JSON.
type DetectionBatch struct {
	ID         uint           `json:"id" gorm:"primarykey;autoIncrement"`
	SessionID  string         `json:"sessionId" gorm:"index:idx_batch_session_id;size:36"`
	Seq        uint64         `json:"seq"`
	ReceivedAt time.Time      `json:"receivedAt" gorm:"index:idx_batch_received_at"`
	Count      int            `json:"count"`
	Detections datatypes.JSON `json:"detections" gorm:"default:'[]'"`
}

func (*DetectionBatch) TableName() string {
	return "detection_batches"
}

// OverlayTransition is a phase change of one marker's overlay.
type OverlayTransition struct {
	ID        uint      `json:"id" gorm:"primarykey;autoIncrement"`
	SessionID string    `json:"sessionId" gorm:"index:idx_transition_session_id;size:36"`
	MarkerID  string    `json:"markerId" gorm:"index:idx_transition_marker_id;size:128"`
	FromPhase string    `json:"from" gorm:"size:16"`
	ToPhase   string    `json:"to" gorm:"size:16"`
	Reason    string    `json:"reason" gorm:"size:32"`
	At        time.Time `json:"at" gorm:"index:idx_transition_at"`
}

func (*OverlayTransition) TableName() string {
	return "overlay_transitions"
}

// SessionStat is a periodic snapshot of session counters.
type SessionStat struct {
	Time          time.Time `json:"time" gorm:"index:idx_stat_time"`
	SessionID     string    `json:"sessionId" gorm:"index:idx_stat_session_id;size:36"`
	Connection    string    `json:"connection" gorm:"size:16"`
	Overlays      int       `json:"overlays"`
	FramesSampled uint64    `json:"framesSampled"`
	FramesSent    uint64    `json:"framesSent"`
	FramesDropped uint64    `json:"framesDropped"`
	Batches       uint64    `json:"batches"`
	Malformed     uint64    `json:"malformed"`
	Reconnects    uint64    `json:"reconnects"`
}

func (*SessionStat) TableName() string {
	return "session_stats"
}
