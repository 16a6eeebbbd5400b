package streaming

import (
	"testing"

	"github.com/markerlens/tracker/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderFrameCBOR(t *testing.T) {
	frame := NewRenderFrame(7, []core.RenderInstruction{
		{MarkerID: "a1", Handle: 2, MediaLocator: "http://cdn/a1.mp4", Visible: true,
			Region: core.Region{X: 10, Y: 20, Width: 30, Height: 40}, Command: core.CommandPlay},
		{MarkerID: "a2", Handle: 3, Command: core.CommandHide},
	})

	data, err := MarshalCBOR(frame)
	require.NoError(t, err)

	got, err := UnmarshalRenderFrame(data)
	require.NoError(t, err)
	assert.Equal(t, frame, got)
}

func TestUnmarshalRenderFrame_Garbage(t *testing.T) {
	_, err := UnmarshalRenderFrame([]byte{0xff, 0x00, 0x13})
	assert.Error(t, err)
}

func TestInstructionsKey(t *testing.T) {
	a := []core.RenderInstruction{{MarkerID: "a1", Handle: 1, Visible: true, Region: core.Region{X: 1}}}
	b := []core.RenderInstruction{{MarkerID: "a1", Handle: 1, Visible: true, Region: core.Region{X: 1}}}
	moved := []core.RenderInstruction{{MarkerID: "a1", Handle: 1, Visible: true, Region: core.Region{X: 2}}}

	ka, err := InstructionsKey(a)
	require.NoError(t, err)
	kb, err := InstructionsKey(b)
	require.NoError(t, err)
	km, err := InstructionsKey(moved)
	require.NoError(t, err)

	assert.Equal(t, ka, kb)
	assert.NotEqual(t, ka, km)
}
