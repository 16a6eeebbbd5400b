//go:build zmq

package render

import (
	"testing"
	"time"

	"github.com/pebbe/zmq4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markerlens/tracker/pkg/streaming"
)

func TestZMQSink_PublishesCBORFrames(t *testing.T) {
	const endpoint = "inproc://render-test"
	sink, err := NewZMQSink(endpoint, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })

	sub, err := zmq4.NewSocket(zmq4.SUB)
	require.NoError(t, err)
	defer sub.Close()
	require.NoError(t, sub.Connect(endpoint))
	require.NoError(t, sub.SetSubscribe(""))
	require.NoError(t, sub.SetRcvtimeo(2*time.Second))

	// PUB drops messages until the subscription propagates
	var frame streaming.RenderFrame
	require.Eventually(t, func() bool {
		_ = sink.Render(playA())
		data, err := sub.RecvBytes(zmq4.DONTWAIT)
		if err != nil {
			return false
		}
		frame, err = streaming.UnmarshalRenderFrame(data)
		return err == nil
	}, 3*time.Second, 20*time.Millisecond)

	assert.Equal(t, streaming.TypeRender, frame.Type)
	require.Len(t, frame.Instructions, 1)
	assert.Equal(t, "A", frame.Instructions[0].MarkerID)

	require.NoError(t, sink.Close())
	assert.NoError(t, sink.Render(playA()))
}
