package logging

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLogFilePath(t *testing.T) {
	sessionStart := time.Date(2026, 2, 12, 21, 38, 36, 0, time.UTC)

	tests := []struct {
		name    string
		logsDir string
		prefix  string
		want    string
	}{
		{
			name:    "basic path",
			logsDir: "logs",
			prefix:  "markerlens",
			want:    filepath.Join("logs", "markerlens.20260212_213836.log"),
		},
		{
			name:    "relative path with dot",
			logsDir: "./markerlens-logs",
			prefix:  "markerlens",
			want:    filepath.Join(".", "markerlens-logs", "markerlens.20260212_213836.log"),
		},
		{
			name:    "absolute path",
			logsDir: filepath.Join("/var", "log", "markerlens"),
			prefix:  "mockd",
			want:    filepath.Join("/var", "log", "markerlens", "mockd.20260212_213836.log"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LogFilePath(tt.logsDir, tt.prefix, sessionStart)
			assert.Equal(t, tt.want, got)
		})
	}
}
