package memory

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/markerlens/tracker/internal/model"
	"github.com/markerlens/tracker/pkg/core"
)

// SessionExport is the root JSON structure of an exported journal.
type SessionExport struct {
	Session  core.SessionInfo      `json:"session"`
	EndedAt  time.Time             `json:"endedAt"`
	Batches  []core.DetectionBatch `json:"batches"`
	Overlays []MarkerRecord        `json:"overlays"`
	Stats    []model.SessionStat   `json:"stats"`
}

// exportJSON writes the journal to a JSON file, gzipped when configured.
// Caller holds b.mu.
func (b *Backend) exportJSON() error {
	export := b.buildExport()

	timestamp := b.session.StartedAt.Format("20060102_150405")
	filename := fmt.Sprintf("session_%s_%s.json", timestamp, b.session.ID)
	if b.cfg.CompressOutput {
		filename += ".gz"
	}

	if err := os.MkdirAll(b.cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	outputPath := filepath.Join(b.cfg.OutputDir, filename)
	if err := writeExport(outputPath, export, b.cfg.CompressOutput); err != nil {
		return err
	}

	b.lastExportPath = outputPath
	return nil
}

func (b *Backend) buildExport() SessionExport {
	export := SessionExport{
		Session:  *b.session,
		EndedAt:  b.endedAt,
		Batches:  b.batches,
		Overlays: make([]MarkerRecord, 0, len(b.order)),
		Stats:    b.stats,
	}
	if export.Batches == nil {
		export.Batches = []core.DetectionBatch{}
	}
	if export.Stats == nil {
		export.Stats = []model.SessionStat{}
	}
	for _, id := range b.order {
		export.Overlays = append(export.Overlays, *b.markers[id])
	}
	return export
}

func writeExport(path string, data SessionExport, compress bool) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	var w io.Writer = f
	if compress {
		gzWriter := gzip.NewWriter(f)
		defer gzWriter.Close()
		w = gzWriter
	}

	return json.NewEncoder(w).Encode(data)
}

// ReadExport loads an exported journal, gzipped or plain.
func ReadExport(path string) (SessionExport, error) {
	var export SessionExport

	f, err := os.Open(path)
	if err != nil {
		return export, err
	}
	defer f.Close()

	var r io.Reader = f
	if filepath.Ext(path) == ".gz" {
		gzReader, err := gzip.NewReader(f)
		if err != nil {
			return export, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		defer gzReader.Close()
		r = gzReader
	}

	if err := json.NewDecoder(r).Decode(&export); err != nil {
		return export, fmt.Errorf("failed to decode export: %w", err)
	}
	return export, nil
}
