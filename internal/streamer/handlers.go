package streamer

import (
	"fmt"

	"github.com/markerlens/tracker/internal/dispatcher"
	"github.com/markerlens/tracker/pkg/core"
)

// Dispatcher commands reported by presentation adapters. The first argument
// is the marker id.
const (
	CmdPlaybackEnded = "playback:ended"
	CmdPlaybackError = "playback:error"
)

const playbackQueueSize = 64

// RegisterHandlers routes playback commands from d into the session. Events
// are queued, so the dispatching goroutine never runs session code.
func (s *Session) RegisterHandlers(d *dispatcher.Dispatcher) {
	opts := []dispatcher.Option{dispatcher.Buffered(playbackQueueSize), dispatcher.MinArgs(1), dispatcher.Logged()}
	d.Register(CmdPlaybackEnded, s.playbackHandler(core.PlaybackEnded), opts...)
	d.Register(CmdPlaybackError, s.playbackHandler(core.PlaybackError), opts...)
}

func (s *Session) playbackHandler(reason core.PlaybackReason) dispatcher.HandlerFunc {
	return func(e dispatcher.Event) (any, error) {
		id := e.Arg(0)
		if id == "" {
			return nil, fmt.Errorf("%s: missing marker id", e.Command)
		}
		if !s.PlaybackEnded(id, reason) {
			return nil, fmt.Errorf("%s: session not accepting events", e.Command)
		}
		return "ok", nil
	}
}
