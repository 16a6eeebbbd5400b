package streaming

import (
	"errors"
	"testing"

	"github.com/markerlens/tracker/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeBatch(t *testing.T) {
	payload := []byte(`[
		{"id":"a1","status":"new","x":10,"y":20,"width":30,"height":40,"score":0.91},
		{"id":"a2","status":"active","score":0.5,"videoUrl":"/v/a2.mp4","name":"Promo"},
		{"id":"a3","status":"tracking","x":0,"y":0,"width":5,"height":5,"score":0.7}
	]`)

	ds, err := DecodeBatch(payload)
	require.NoError(t, err)
	require.Len(t, ds, 3)

	assert.Equal(t, "a1", ds[0].MarkerID)
	assert.Equal(t, core.StatusNew, ds[0].Status)
	assert.True(t, ds[0].HasRegion)
	assert.Equal(t, core.Region{X: 10, Y: 20, Width: 30, Height: 40}, ds[0].Region)
	assert.InDelta(t, 0.91, ds[0].Score, 1e-9)

	assert.Equal(t, core.StatusActive, ds[1].Status)
	assert.False(t, ds[1].HasRegion, "active without coordinates carries no region")

	assert.True(t, ds[2].HasRegion, "zero coordinates are still a region")
}

func TestDecodeBatch_Empty(t *testing.T) {
	ds, err := DecodeBatch([]byte(`[]`))
	require.NoError(t, err)
	assert.Empty(t, ds)
}

func TestDecodeBatch_SkipsInvalidElements(t *testing.T) {
	ds, err := DecodeBatch([]byte(`[
		{"id":"","status":"new"},
		{"id":"b","status":"gone"},
		{"id":"c","status":"tracking","x":1,"y":1,"width":1,"height":1}
	]`))
	require.NoError(t, err)
	require.Len(t, ds, 1)
	assert.Equal(t, "c", ds[0].MarkerID)
}

func TestDecodeBatch_Malformed(t *testing.T) {
	for name, payload := range map[string]string{
		"not json":  `{{{`,
		"object":    `{"id":"a","status":"new"}`,
		"null":      `null`,
		"truncated": `[{"id":"a"`,
		"strings":   `["a","b"]`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeBatch([]byte(payload))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedBatch))
		})
	}
}

func TestEncodeFrame(t *testing.T) {
	jpeg := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10}
	frame := EncodeFrame(jpeg)
	assert.Equal(t, "/9j/4AAQ", string(frame))

	back, err := DecodeFrame(frame)
	require.NoError(t, err)
	assert.Equal(t, jpeg, back)
}

func TestEncodeBatch_OmitsMissingRegion(t *testing.T) {
	out, err := EncodeBatch([]core.Detection{
		{MarkerID: "a", Status: core.StatusActive, Score: 0.4},
	})
	require.NoError(t, err)
	assert.NotContains(t, string(out), `"x"`)

	ds, err := DecodeBatch(out)
	require.NoError(t, err)
	require.Len(t, ds, 1)
	assert.False(t, ds[0].HasRegion)
}
