package codec

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hdacore/internal/hda/wire"
)

type fakeSenderFn func(v wire.Verb) (wire.Response, error)

func (f fakeSenderFn) SendVerb(ctx context.Context, v wire.Verb) (wire.Response, error) {
	return f(v)
}

func TestDiscoverFunctionGroup_WalksWidgetsAndConnections(t *testing.T) {
	sender := fakeSenderFn(func(v wire.Verb) (wire.Response, error) {
		switch {
		case v.NodeID == 1 && v.Command == verbGetParameter && v.Payload == paramSubordinateNID:
			return wire.Response{Value: (2 << 16) | 2}, nil
		case v.NodeID == 2 && v.Command == verbGetParameter && v.Payload == paramAudioWidgetCap:
			return wire.Response{Value: uint32(awCapOutAmpBit)}, nil
		case v.NodeID == 2 && v.Command == verbGetParameter && v.Payload == paramOutAmpCaps:
			return wire.Response{Value: (10 << 8) | ampCapsMuteBit}, nil
		case v.NodeID == 2 && v.Command == verbGetParameter && (v.Payload == paramPCMSizeRates || v.Payload == paramStreamFormats):
			return wire.Response{Value: 0}, nil
		case v.NodeID == 2 && v.Command == verbGetParameter && v.Payload == paramConnListLen:
			return wire.Response{Value: 0}, nil
		case v.NodeID == 3 && v.Command == verbGetParameter && v.Payload == paramAudioWidgetCap:
			return wire.Response{Value: uint32(NodeAudioMixer) << awCapTypeShift}, nil
		case v.NodeID == 3 && v.Command == verbGetParameter && v.Payload == paramConnListLen:
			return wire.Response{Value: 1}, nil
		case v.NodeID == 3 && v.Command == verbGetConnectionList:
			return wire.Response{Value: 2}, nil
		default:
			t.Fatalf("unexpected verb: %+v", v)
			return wire.Response{}, nil
		}
	})

	fg, err := DiscoverFunctionGroup(context.Background(), sender, 0, 1)
	require.NoError(t, err)

	dac, ok := fg.Widget(2)
	require.True(t, ok)
	assert.Equal(t, NodeAudioOutput, dac.Caps.Type)
	assert.True(t, dac.Caps.OutAmpPresent)
	assert.EqualValues(t, 10, dac.AmpOut.NumSteps)
	assert.True(t, dac.AmpOut.CanMute)

	mixer, ok := fg.Widget(3)
	require.True(t, ok)
	assert.Equal(t, NodeAudioMixer, mixer.Caps.Type)
	assert.Equal(t, []int{2}, mixer.Connections)
}

func TestDecodeWidgetCaps_PinComplex(t *testing.T) {
	raw := uint32(NodePinComplex)<<awCapTypeShift | awCapStereoBit | awCapInAmpBit
	caps := DecodeWidgetCaps(raw)
	assert.Equal(t, NodePinComplex, caps.Type)
	assert.True(t, caps.StereoCap)
	assert.True(t, caps.InAmpPresent)
	assert.False(t, caps.OutAmpPresent)
}

func TestDecodePinConfig_DeviceAssociationSequence(t *testing.T) {
	raw := uint32(PinSpeaker)<<configDeviceShift | uint32(2)<<configAssocShift | uint32(5)
	cfg := DecodePinConfig(raw)
	assert.Equal(t, PinSpeaker, cfg.Device)
	assert.EqualValues(t, 2, cfg.Association)
	assert.EqualValues(t, 5, cfg.Sequence)
}

func TestSelectPrimary_OrdersByAssociationThenSequence(t *testing.T) {
	fg := &FunctionGroup{Widgets: map[int]*Widget{
		10: {NodeID: 10, Caps: WidgetCaps{Type: NodePinComplex}, PinConfig: PinConfig{Association: 2, Sequence: 0}},
		11: {NodeID: 11, Caps: WidgetCaps{Type: NodePinComplex}, PinConfig: PinConfig{Association: 1, Sequence: 3}},
	}}
	paths := [][]int{{5, 10}, {6, 11}}
	sorted := SelectPrimary(fg, paths)
	assert.Equal(t, []int{6, 11}, sorted[0])
	assert.Equal(t, []int{5, 10}, sorted[1])
}

func TestComputeGainMute_ZeroVolumeMutes(t *testing.T) {
	step, mute := ComputeGainMute(AmpCaps{NumSteps: 20}, 0)
	assert.True(t, mute)
	assert.EqualValues(t, 0, step)
}

func TestComputeGainMute_ScalesToNearestStep(t *testing.T) {
	step, mute := ComputeGainMute(AmpCaps{NumSteps: 20}, 50)
	assert.False(t, mute)
	assert.EqualValues(t, 10, step)
}

func TestComputeGainMute_FullVolumeReachesMaxStep(t *testing.T) {
	step, mute := ComputeGainMute(AmpCaps{NumSteps: 20}, 100)
	assert.False(t, mute)
	assert.EqualValues(t, 20, step)
}

func TestDiscoverCodec_SkipsNonAudioFunctionGroups(t *testing.T) {
	sender := fakeSenderFn(func(v wire.Verb) (wire.Response, error) {
		switch {
		case v.NodeID == 0 && v.Command == verbGetParameter && v.Payload == paramSubordinateNID:
			return wire.Response{Value: (1 << 16) | 2}, nil
		case v.NodeID == 1 && v.Command == verbGetParameter && v.Payload == paramFunctionGroupType:
			return wire.Response{Value: 0x02}, nil // modem FG
		case v.NodeID == 2 && v.Command == verbGetParameter && v.Payload == paramFunctionGroupType:
			return wire.Response{Value: fgTypeAudio}, nil
		case v.NodeID == 2 && v.Command == verbGetParameter && v.Payload == paramSubordinateNID:
			return wire.Response{Value: 0}, nil
		default:
			t.Fatalf("unexpected verb: %+v", v)
			return wire.Response{}, nil
		}
	})

	fg, err := DiscoverCodec(context.Background(), sender, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, fg.NodeID)
}

func TestDiscoverPaths_DACToOutput_RootsAtPinWalksToConverter(t *testing.T) {
	fg := &FunctionGroup{Widgets: map[int]*Widget{
		1: {NodeID: 1, Caps: WidgetCaps{Type: NodeAudioOutput}},
		2: {NodeID: 2, Caps: WidgetCaps{Type: NodeAudioMixer}, Connections: []int{1}},
		3: {NodeID: 3, Caps: WidgetCaps{Type: NodePinComplex}, PinConfig: PinConfig{Device: PinSpeaker}, Connections: []int{2}},
	}}
	paths := DiscoverPaths(fg, PathDACToOutput, 8)
	require.Len(t, paths, 1)
	assert.Equal(t, []int{1, 2, 3}, paths[0])
}

func TestDiscoverPaths_InputToOutputLoopback(t *testing.T) {
	fg := &FunctionGroup{Widgets: map[int]*Widget{
		1: {NodeID: 1, Caps: WidgetCaps{Type: NodePinComplex}, PinConfig: PinConfig{Device: PinMicIn}},
		2: {NodeID: 2, Caps: WidgetCaps{Type: NodePinComplex}, PinConfig: PinConfig{Device: PinSpeaker}, Connections: []int{1}},
	}}
	paths := DiscoverPaths(fg, PathInputToOutput, 8)
	require.Len(t, paths, 1)
	assert.Equal(t, []int{1, 2}, paths[0])
}

func TestDecodeConverterCaps_FormatsAndRates(t *testing.T) {
	caps := DecodeConverterCaps(pcmBitDepth16Bit|pcmBitDepth24Bit|(1<<5)|(1<<6), streamFormatFloat32Bit)
	assert.Equal(t, []uint32{44100, 48000}, caps.Rates)
	assert.NotZero(t, caps.Formats)
}

func TestProgramRoute_ProgramsSelectorPinAndConverter(t *testing.T) {
	var gotSelect, gotPinCtrl uint8
	var rootVerbs int
	sender := fakeSenderFn(func(v wire.Verb) (wire.Response, error) {
		switch v.NodeID {
		case 2:
			gotSelect = v.Payload
		case 3:
			gotPinCtrl = v.Payload
		case 1:
			rootVerbs++
		}
		return wire.Response{}, nil
	})

	fg := &FunctionGroup{Widgets: map[int]*Widget{
		1: {NodeID: 1, Caps: WidgetCaps{Type: NodeAudioOutput}},
		2: {NodeID: 2, Caps: WidgetCaps{Type: NodeAudioSelector}, Connections: []int{5, 1}},
		3: {NodeID: 3, Caps: WidgetCaps{Type: NodePinComplex}, PinConfig: PinConfig{Device: PinHPOut}},
	}}
	err := ProgramRoute(context.Background(), sender, 0, fg, []int{1, 2, 3}, 0x11, 4, 0, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 1, gotSelect)
	assert.NotZero(t, gotPinCtrl)
	// 3 barriers plus the converter format/stream-binding verbs all land on
	// the route's root (converter) node.
	assert.GreaterOrEqual(t, rootVerbs, 5)
}

func TestSetAmpGainMute_SendsEncodedVerb(t *testing.T) {
	var got wire.Verb
	sender := fakeSenderFn(func(v wire.Verb) (wire.Response, error) {
		got = v
		return wire.Response{}, nil
	})
	err := SetAmpGainMute(context.Background(), sender, 0x1, 5, true, true, 7, false)
	require.NoError(t, err)
	assert.EqualValues(t, 5, got.NodeID)
}
