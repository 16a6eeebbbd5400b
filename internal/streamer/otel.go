package streamer

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/markerlens/tracker/internal/streamer"

type metrics struct {
	sampled     metric.Int64Counter
	sent        metric.Int64Counter
	dropped     metric.Int64Counter
	batches     metric.Int64Counter
	transitions metric.Int64Counter
	overlays    metric.Int64ObservableGauge
	reg         metric.Registration
}

func newMetrics(live *atomic.Int64) (*metrics, error) {
	m := otel.Meter(instrumentationName)
	out := &metrics{}

	var err error
	out.sampled, err = m.Int64Counter(
		"frames.sampled",
		metric.WithDescription("Frames handed to the encoder"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating sampled counter: %w", err)
	}

	out.sent, err = m.Int64Counter(
		"frames.sent",
		metric.WithDescription("Encoded frames queued on the detection channel"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating sent counter: %w", err)
	}

	out.dropped, err = m.Int64Counter(
		"frames.dropped",
		metric.WithDescription("Encoded frames dropped because the channel was not open"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dropped counter: %w", err)
	}

	out.batches, err = m.Int64Counter(
		"detection.batches",
		metric.WithDescription("Detection batches applied to the tracker"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating batches counter: %w", err)
	}

	out.transitions, err = m.Int64Counter(
		"overlay.transitions",
		metric.WithDescription("Overlay phase changes"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating transitions counter: %w", err)
	}

	out.overlays, err = m.Int64ObservableGauge(
		"overlay.live",
		metric.WithDescription("Overlays currently displayed"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating overlays gauge: %w", err)
	}

	out.reg, err = m.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			o.ObserveInt64(out.overlays, live.Load())
			return nil
		},
		out.overlays,
	)
	if err != nil {
		return nil, fmt.Errorf("registering overlays callback: %w", err)
	}

	return out, nil
}

func (m *metrics) transition(ctx context.Context, to string) {
	m.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("to", to)))
}

func (m *metrics) close() {
	if m.reg != nil {
		_ = m.reg.Unregister()
	}
}
