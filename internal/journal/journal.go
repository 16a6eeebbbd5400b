// Package journal records session history: the session itself, every
// detection batch and every overlay phase change.
package journal

import "github.com/markerlens/tracker/pkg/core"

// Backend is the interface all journal implementations must satisfy.
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	StartSession(info core.SessionInfo) error
	RecordBatch(batch core.DetectionBatch) error
	RecordTransition(t core.Transition) error
}

// Exportable is implemented by backends that write a file on Close.
type Exportable interface {
	ExportedPath() string
}

// Nop discards everything.
type Nop struct{}

func (Nop) Init() error                            { return nil }
func (Nop) Close() error                           { return nil }
func (Nop) StartSession(core.SessionInfo) error    { return nil }
func (Nop) RecordBatch(core.DetectionBatch) error  { return nil }
func (Nop) RecordTransition(core.Transition) error { return nil }
