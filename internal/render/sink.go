// Package render delivers overlay render instructions to the presentation
// layer.
package render

import (
	"bytes"
	"log/slog"

	"github.com/markerlens/tracker/internal/cache"
	"github.com/markerlens/tracker/pkg/core"
	"github.com/markerlens/tracker/pkg/streaming"
)

// Sink receives the instruction set on every session tick.
type Sink interface {
	Render(instructions []core.RenderInstruction) error
	Close() error
}

// frameFilter turns the per-tick instruction stream into numbered frames,
// skipping ticks that repeat the previous set without a playback command.
type frameFilter struct {
	last []byte
	seq  uint64
}

func (f *frameFilter) next(in []core.RenderInstruction) (streaming.RenderFrame, bool, error) {
	key, err := streaming.InstructionsKey(in)
	if err != nil {
		return streaming.RenderFrame{}, false, err
	}
	if f.seq > 0 && !hasCommand(in) && bytes.Equal(key, f.last) {
		return streaming.RenderFrame{}, false, nil
	}
	f.last = key
	f.seq++
	return streaming.NewRenderFrame(f.seq, in), true, nil
}

func hasCommand(in []core.RenderInstruction) bool {
	for _, i := range in {
		if i.Command != core.CommandNone {
			return true
		}
	}
	return false
}

func catalogMessage(entries []cache.AssetEntry) streaming.CatalogMessage {
	msg := streaming.CatalogMessage{Type: streaming.TypeCatalog, Assets: make([]streaming.CatalogEntry, 0, len(entries))}
	for _, e := range entries {
		msg.Assets = append(msg.Assets, streaming.CatalogEntry{
			Handle:       e.Handle,
			ID:           e.Asset.ID,
			MediaLocator: e.Asset.MediaLocator,
			Name:         e.Asset.DisplayName,
		})
	}
	return msg
}

// LogSink writes playback commands to a logger. Used for headless runs.
type LogSink struct {
	logger *slog.Logger
	filter frameFilter
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Render implements Sink.
func (s *LogSink) Render(in []core.RenderInstruction) error {
	frame, changed, err := s.filter.next(in)
	if err != nil || !changed {
		return err
	}
	for _, i := range frame.Instructions {
		switch i.Command {
		case core.CommandPlay:
			s.logger.Info("Overlay play", "marker", i.MarkerID, "handle", i.Handle, "media", i.MediaLocator, "region", i.Region)
		case core.CommandHide:
			s.logger.Info("Overlay hide", "marker", i.MarkerID, "handle", i.Handle)
		default:
			s.logger.Debug("Overlay placed", "marker", i.MarkerID, "handle", i.Handle, "region", i.Region)
		}
	}
	return nil
}

// PublishCatalog logs the assets bound to handles.
func (s *LogSink) PublishCatalog(entries []cache.AssetEntry) {
	for _, e := range entries {
		s.logger.Debug("Overlay slot", "handle", e.Handle, "marker", e.Asset.ID, "media", e.Asset.MediaLocator)
	}
}

// Close implements Sink.
func (s *LogSink) Close() error { return nil }
