//go:build !zmq

package render

import (
	"errors"
	"log/slog"
)

// NewZMQSink reports that ZeroMQ support is not compiled in.
func NewZMQSink(_ string, _ *slog.Logger) (Sink, error) {
	return nil, errors.New("zmq render sink not enabled; build with -tags zmq")
}
