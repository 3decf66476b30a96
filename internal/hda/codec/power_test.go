package codec

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hdacore/internal/hda/wire"
)

func TestPowerUp_CyclesD3D0TwiceAndEnablesEAPDOnOutputPins(t *testing.T) {
	var d0Count, d3Count int
	var eapdNode int = -1
	sender := fakeSenderFn(func(v wire.Verb) (wire.Response, error) {
		switch v.Command {
		case verbSetPowerState:
			switch v.Payload {
			case powerStateD0:
				d0Count++
			case powerStateD3:
				d3Count++
			}
		case verbSetEAPDBTLEnable:
			eapdNode = int(v.NodeID)
		}
		return wire.Response{}, nil
	})

	fg := &FunctionGroup{NodeID: 1, Widgets: map[int]*Widget{
		2: {NodeID: 2, Caps: WidgetCaps{Type: NodeAudioOutput}},
		3: {NodeID: 3, Caps: WidgetCaps{Type: NodePinComplex}, PinConfig: PinConfig{Device: PinSpeaker}},
		4: {NodeID: 4, Caps: WidgetCaps{Type: NodePinComplex}, PinConfig: PinConfig{Device: PinMicIn}},
	}}

	require.NoError(t, PowerUp(context.Background(), sender, 0, fg))
	assert.Equal(t, 2, d3Count)
	assert.Equal(t, 2+len(fg.Widgets), d0Count) // 2 FG cycles + one per widget
	assert.Equal(t, 3, eapdNode)
}
