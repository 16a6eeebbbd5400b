//go:build zmq

package render

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/pebbe/zmq4"

	"github.com/markerlens/tracker/internal/cache"
	"github.com/markerlens/tracker/pkg/core"
	"github.com/markerlens/tracker/pkg/streaming"
)

// ZMQSink publishes CBOR render frames on a PUB socket. Catalog messages are
// re-sent on every change so late subscribers catch up at the next frame.
type ZMQSink struct {
	mu      sync.Mutex
	socket  *zmq4.Socket
	filter  frameFilter
	catalog []byte
	logger  *slog.Logger
	closed  bool
}

// NewZMQSink binds a PUB socket on endpoint.
func NewZMQSink(endpoint string, logger *slog.Logger) (Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	socket, err := zmq4.NewSocket(zmq4.PUB)
	if err != nil {
		return nil, fmt.Errorf("zmq socket: %w", err)
	}
	if err := socket.Bind(endpoint); err != nil {
		_ = socket.Close()
		return nil, fmt.Errorf("zmq bind %s: %w", endpoint, err)
	}
	logger.Info("ZMQ render sink bound", "endpoint", endpoint)
	return &ZMQSink{socket: socket, logger: logger}, nil
}

// Render implements Sink.
func (z *ZMQSink) Render(in []core.RenderInstruction) error {
	z.mu.Lock()
	defer z.mu.Unlock()
	if z.closed {
		return nil
	}
	frame, changed, err := z.filter.next(in)
	if err != nil || !changed {
		return err
	}
	data, err := streaming.MarshalCBOR(frame)
	if err != nil {
		return err
	}
	if z.catalog != nil {
		if _, err := z.socket.SendBytes(z.catalog, zmq4.DONTWAIT); err != nil {
			return fmt.Errorf("zmq send catalog: %w", err)
		}
	}
	if _, err := z.socket.SendBytes(data, zmq4.DONTWAIT); err != nil {
		return fmt.Errorf("zmq send frame: %w", err)
	}
	return nil
}

// PublishCatalog stores the encoded catalog for the next frame.
func (z *ZMQSink) PublishCatalog(entries []cache.AssetEntry) {
	data, err := streaming.MarshalCBOR(catalogMessage(entries))
	if err != nil {
		z.logger.Error("Failed to encode catalog", "error", err)
		return
	}
	z.mu.Lock()
	z.catalog = data
	z.mu.Unlock()
}

// Close implements Sink.
func (z *ZMQSink) Close() error {
	z.mu.Lock()
	defer z.mu.Unlock()
	if z.closed {
		return nil
	}
	z.closed = true
	return z.socket.Close()
}
