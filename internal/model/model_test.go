package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTableNames(t *testing.T) {
	tests := []struct {
		name     string
		model    interface{ TableName() string }
		expected string
	}{
		{"JournalInfo", &JournalInfo{}, "journal_infos"},
		{"Session", &Session{}, "sessions"},
		{"DetectionBatch", &DetectionBatch{}, "detection_batches"},
		{"OverlayTransition", &OverlayTransition{}, "overlay_transitions"},
		{"SessionStat", &SessionStat{}, "session_stats"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.model.TableName())
		})
	}
}

func TestDatabaseModelsCoverEveryTable(t *testing.T) {
	assert.Len(t, DatabaseModels, 5)
	for _, m := range DatabaseModels {
		_, ok := m.(interface{ TableName() string })
		assert.True(t, ok, "%T has a table name", m)
	}
}
