package memory

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/markerlens/tracker/internal/config"
	"github.com/markerlens/tracker/internal/journal"
	"github.com/markerlens/tracker/internal/model"
	"github.com/markerlens/tracker/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Verify Backend implements the journal interfaces
var (
	_ journal.Backend    = (*Backend)(nil)
	_ journal.Exportable = (*Backend)(nil)
)

var t0 = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func session() core.SessionInfo {
	return core.SessionInfo{ID: "abc", StartedAt: t0, DetectionURL: "ws://x", Assets: 3}
}

func record(t *testing.T, b *Backend) {
	t.Helper()
	require.NoError(t, b.StartSession(session()))
	require.NoError(t, b.RecordBatch(core.DetectionBatch{Seq: 1, ReceivedAt: t0, Detections: []core.Detection{{MarkerID: "m1", Status: core.StatusNew, Score: 0.8}}}))
	require.NoError(t, b.RecordBatch(core.DetectionBatch{Seq: 2, ReceivedAt: t0.Add(150 * time.Millisecond)}))
	require.NoError(t, b.RecordTransition(core.Transition{MarkerID: "m1", From: core.PhaseIdle, To: core.PhasePlaying, Reason: "detected", At: t0}))
	require.NoError(t, b.RecordTransition(core.Transition{MarkerID: "m1", From: core.PhasePlaying, To: core.PhaseLingering, Reason: "lost", At: t0.Add(time.Second)}))
	require.NoError(t, b.RecordTransition(core.Transition{MarkerID: "m2", From: core.PhaseIdle, To: core.PhasePlaying, Reason: "detected", At: t0}))
	require.NoError(t, b.RecordStat(model.SessionStat{Time: t0, Overlays: 2}))
}

func TestNew(t *testing.T) {
	b := New(config.MemoryConfig{OutputDir: "/tmp/test", CompressOutput: true})
	require.NotNil(t, b)
	assert.Equal(t, "/tmp/test", b.cfg.OutputDir)
	assert.NotNil(t, b.markers)
	assert.NoError(t, b.Init())
}

func TestRecording(t *testing.T) {
	b := New(config.MemoryConfig{})
	record(t, b)

	info, ok := b.Session()
	require.True(t, ok)
	assert.Equal(t, "abc", info.ID)

	batches := b.Batches()
	require.Len(t, batches, 2)
	assert.Equal(t, uint64(2), batches[1].Seq)

	m1, ok := b.Marker("m1")
	require.True(t, ok)
	require.Len(t, m1.Transitions, 2)
	assert.Equal(t, core.PhaseLingering, m1.Transitions[1].To)

	_, ok = b.Marker("missing")
	assert.False(t, ok)

	assert.Equal(t, "abc", b.stats[0].SessionID)
}

func TestStartSession_Resets(t *testing.T) {
	b := New(config.MemoryConfig{})
	record(t, b)

	require.NoError(t, b.StartSession(core.SessionInfo{ID: "next"}))
	assert.Empty(t, b.Batches())
	_, ok := b.Marker("m1")
	assert.False(t, ok)
}

func TestClose_NoOutputDir(t *testing.T) {
	b := New(config.MemoryConfig{})
	record(t, b)
	require.NoError(t, b.Close())
	assert.Empty(t, b.ExportedPath())
}

func TestClose_NoSession(t *testing.T) {
	dir := t.TempDir()
	b := New(config.MemoryConfig{OutputDir: dir})
	require.NoError(t, b.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestExport_Gzip(t *testing.T) {
	dir := t.TempDir()
	b := New(config.MemoryConfig{OutputDir: filepath.Join(dir, "sessions"), CompressOutput: true})
	record(t, b)
	require.NoError(t, b.Close())
	// second Close does not export again
	require.NoError(t, b.Close())

	path := b.ExportedPath()
	assert.True(t, strings.HasSuffix(path, "session_20260504_100000_abc.json.gz"), path)

	export, err := ReadExport(path)
	require.NoError(t, err)
	assert.Equal(t, "abc", export.Session.ID)
	assert.Len(t, export.Batches, 2)
	require.Len(t, export.Overlays, 2)
	assert.Equal(t, "m1", export.Overlays[0].MarkerID)
	assert.Equal(t, "m2", export.Overlays[1].MarkerID)
	assert.Len(t, export.Stats, 1)
	assert.False(t, export.EndedAt.IsZero())
}

func TestExport_Plain(t *testing.T) {
	dir := t.TempDir()
	b := New(config.MemoryConfig{OutputDir: dir})
	require.NoError(t, b.StartSession(session()))
	require.NoError(t, b.Close())

	path := b.ExportedPath()
	assert.Equal(t, filepath.Join(dir, "session_20260504_100000_abc.json"), path)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"batches":[]`)
	assert.Contains(t, string(raw), `"overlays":[]`)

	export, err := ReadExport(path)
	require.NoError(t, err)
	assert.Empty(t, export.Batches)
}

func TestReadExport_Errors(t *testing.T) {
	dir := t.TempDir()
	_, err := ReadExport(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.json.gz")
	require.NoError(t, os.WriteFile(bad, []byte("not gzip"), 0o644))
	_, err = ReadExport(bad)
	assert.Error(t, err)
}

func TestConcurrentRecording(t *testing.T) {
	b := New(config.MemoryConfig{})
	require.NoError(t, b.StartSession(session()))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = b.RecordBatch(core.DetectionBatch{Seq: uint64(i)})
			_ = b.RecordTransition(core.Transition{MarkerID: "m"})
		}(i)
	}
	wg.Wait()

	assert.Len(t, b.Batches(), 50)
	m, _ := b.Marker("m")
	assert.Len(t, m.Transitions, 50)
}
