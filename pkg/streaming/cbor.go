package streaming

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/markerlens/tracker/pkg/core"
)

// Deterministic encoding so equal instruction sets produce equal bytes.
var cborEnc cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("cbor enc mode: %v", err))
	}
	cborEnc = em
}

// MarshalCBOR encodes a presentation message for binary transports.
func MarshalCBOR(v any) ([]byte, error) {
	data, err := cborEnc.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("cbor encode: %w", err)
	}
	return data, nil
}

// UnmarshalRenderFrame decodes a CBOR render frame.
func UnmarshalRenderFrame(data []byte) (RenderFrame, error) {
	var f RenderFrame
	if err := cbor.Unmarshal(data, &f); err != nil {
		return RenderFrame{}, fmt.Errorf("cbor decode render frame: %w", err)
	}
	return f, nil
}

// InstructionsKey returns a canonical encoding of in, used to detect
// whether the instruction set changed between ticks.
func InstructionsKey(in []core.RenderInstruction) ([]byte, error) {
	return MarshalCBOR(in)
}
