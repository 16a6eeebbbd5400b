package streaming

import (
	"github.com/markerlens/tracker/pkg/core"
)

// Message type constants for the presentation protocol.
const (
	TypeRender   = "render"
	TypeCatalog  = "catalog"
	TypePlayback = "playback"
	TypeStatus   = "status"
)

// RenderFrame carries the full set of instructions for one presentation tick.
type RenderFrame struct {
	Type         string                   `json:"type" cbor:"type"`
	Seq          uint64                   `json:"seq" cbor:"seq"`
	Instructions []core.RenderInstruction `json:"instructions" cbor:"instructions"`
}

// CatalogMessage is sent to presentation clients when they connect so they
// can preload the media for every handle.
type CatalogMessage struct {
	Type   string         `json:"type" cbor:"type"`
	Assets []CatalogEntry `json:"assets" cbor:"assets"`
}

// CatalogEntry binds an asset to its presentation handle.
type CatalogEntry struct {
	Handle       core.Handle `json:"handle" cbor:"handle"`
	ID           string      `json:"id" cbor:"id"`
	MediaLocator string      `json:"mediaLocator" cbor:"mediaLocator"`
	Name         string      `json:"name" cbor:"name"`
}

// PlaybackMessage is sent by presentation clients when a clip stops.
type PlaybackMessage struct {
	Type  string `json:"type"`  // always "playback"
	Event string `json:"event"` // "ended" or "error"
	ID    string `json:"id"`
}

// NewRenderFrame wraps instructions in a render envelope.
func NewRenderFrame(seq uint64, in []core.RenderInstruction) RenderFrame {
	if in == nil {
		in = []core.RenderInstruction{}
	}
	return RenderFrame{Type: TypeRender, Seq: seq, Instructions: in}
}
