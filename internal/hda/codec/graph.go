package codec

import (
	"context"
	"sort"

	"hdacore/internal/devtable"
	"hdacore/internal/hda/wire"
	"hdacore/internal/mathx"
	"hdacore/internal/scode"
)

// Verbs used by discovery. Parameter reads and simple get/set node state
// verbs use the short, 8-bit-payload encoding; amp gain/mute, converter
// format and the configuration-default read go through the long encoding
// (wire.EncodeLong).
const (
	verbGetParameter = 0xF00
	verbGetConnectionList = 0xF02
	verbSetConnectionSelect = 0x701
	verbGetAmpGainMute = 0xB
	verbSetAmpGainMute = 0x3
	verbSetPinWidgetControl = 0x707
	verbGetPinWidgetControl = 0xF07
	verbSetConverterFormat = 0x2
	verbSetChannelStreamID = 0x706
	verbSetConverterChannelCount = 0x72D

	paramVendorID = 0x00
	paramSubordinateNID = 0x04
	paramFunctionGroups = 0x04 // read from root, reused id with different node
	paramFunctionGroupType = 0x05
	paramAudioWidgetCap = 0x09
	paramPCMSizeRates = 0x0A
	paramStreamFormats = 0x0B
	paramConnListLen = 0x0E
	paramConfigDefault = 0x1C // read via GetConfigurationDefault verb, not GetParameter; kept here for documentation
	paramInAmpCaps = 0x12
	paramOutAmpCaps = 0x13

	fgTypeAudio = 0x01

	pinCtrlInEnable  uint8 = 1 << 5
	pinCtrlOutEnable uint8 = 1 << 6
	pinCtrlHPEnable  uint8 = 1 << 7
)

// Sender is the narrow subset of corb.Pair the graph walker needs,
// expressed as an interface so tests can substitute a fake codec without
// depending on the real CORB/RIRB hardware path.
type Sender interface {
	SendVerb(ctx context.Context, v wire.Verb) (wire.Response, error)
}

// DiscoverFunctionGroup walks one audio function group's widget list,
// decoding capabilities, connection lists, and pin configs.
func DiscoverFunctionGroup(ctx context.Context, s Sender, codecAddr uint8, fgNodeID int) (*FunctionGroup, error) {
	startResp, err := getParam(ctx, s, codecAddr, fgNodeID, paramSubordinateNID)
	if err != nil {
		return nil, err
	}
	start := int((startResp >> 16) & 0xFF)
	count := int(startResp & 0xFF)

	fg := &FunctionGroup{NodeID: fgNodeID, Widgets: make(map[int]*Widget, count)}
	for nid := start; nid < start+count; nid++ {
		w, err := discoverWidget(ctx, s, codecAddr, nid)
		if err != nil {
			return nil, err
		}
		fg.Widgets[nid] = w
	}
	return fg, nil
}

// DiscoverCodec walks codecAddr's root node to find its audio function
// group and returns the fully enumerated graph for it. Codecs that expose
// more than one function group (e.g. a modem function group alongside the
// audio one) have every non-audio group skipped.
func DiscoverCodec(ctx context.Context, s Sender, codecAddr uint8) (*FunctionGroup, error) {
	rootResp, err := getParam(ctx, s, codecAddr, 0, paramSubordinateNID)
	if err != nil {
		return nil, err
	}
	start := int((rootResp >> 16) & 0xFF)
	count := int(rootResp & 0xFF)

	for nid := start; nid < start+count; nid++ {
		typeRaw, err := getParam(ctx, s, codecAddr, nid, paramFunctionGroupType)
		if err != nil {
			return nil, err
		}
		if typeRaw&0xFF != fgTypeAudio {
			continue
		}
		return DiscoverFunctionGroup(ctx, s, codecAddr, nid)
	}
	return nil, scode.New(scode.NotFound, "DiscoverCodec", "no audio function group present")
}

func discoverWidget(ctx context.Context, s Sender, codecAddr uint8, nodeID int) (*Widget, error) {
	capsRaw, err := getParam(ctx, s, codecAddr, nodeID, paramAudioWidgetCap)
	if err != nil {
		return nil, err
	}
	w := &Widget{NodeID: nodeID, Caps: DecodeWidgetCaps(capsRaw)}

	if w.Caps.Type == NodePinComplex {
		cfgRaw, err := sendLong(ctx, s, codecAddr, nodeID, 0xF1C, 0)
		if err != nil {
			return nil, err
		}
		w.PinConfig = DecodePinConfig(cfgRaw)
	}

	if w.Caps.InAmpPresent {
		raw, err := getParam(ctx, s, codecAddr, nodeID, paramInAmpCaps)
		if err != nil {
			return nil, err
		}
		w.AmpIn = DecodeAmpCaps(raw)
	}
	if w.Caps.OutAmpPresent {
		raw, err := getParam(ctx, s, codecAddr, nodeID, paramOutAmpCaps)
		if err != nil {
			return nil, err
		}
		w.AmpOut = DecodeAmpCaps(raw)
	}

	if w.Caps.Type == NodeAudioOutput || w.Caps.Type == NodeAudioInput {
		rates, err := getParam(ctx, s, codecAddr, nodeID, paramPCMSizeRates)
		if err != nil {
			return nil, err
		}
		formats, err := getParam(ctx, s, codecAddr, nodeID, paramStreamFormats)
		if err != nil {
			return nil, err
		}
		w.Conv = DecodeConverterCaps(rates, formats)
	}

	lenRaw, err := getParam(ctx, s, codecAddr, nodeID, paramConnListLen)
	if err != nil {
		return nil, err
	}
	longForm := lenRaw&0x80000000 != 0
	entries := int(lenRaw & 0x7F)
	conns, err := readConnectionList(ctx, s, codecAddr, nodeID, entries, longForm)
	if err != nil {
		return nil, err
	}
	w.Connections = conns
	return w, nil
}

func readConnectionList(ctx context.Context, s Sender, codecAddr uint8, nodeID, entries int, longForm bool) ([]int, error) {
	perWord := 4
	if longForm {
		perWord = 2
	}
	var out []int
	for i := 0; i < entries; i += perWord {
		resp, err := s.SendVerb(ctx, wire.Verb{CodecAddress: codecAddr, NodeID: uint8(nodeID), Command: verbGetConnectionList, Payload: uint8(i)})
		if err != nil {
			return nil, err
		}
		if longForm {
			out = append(out, wire.ExpandLongForm(resp.Value)...)
		} else {
			out = append(out, wire.ExpandShortForm(resp.Value)...)
		}
	}
	if len(out) > entries {
		out = out[:entries]
	}
	return out, nil
}

func getParam(ctx context.Context, s Sender, codecAddr uint8, nodeID int, param uint8) (uint32, error) {
	resp, err := s.SendVerb(ctx, wire.Verb{CodecAddress: codecAddr, NodeID: uint8(nodeID), Command: verbGetParameter, Payload: param})
	if err != nil {
		return 0, err
	}
	return resp.Value, nil
}

func sendLong(ctx context.Context, s Sender, codecAddr uint8, nodeID int, command12 uint16, payload16 uint16) (uint32, error) {
	word := wire.EncodeLong(codecAddr, uint8(nodeID), command12, payload16)
	resp, err := s.SendVerb(ctx, wire.Verb{CodecAddress: codecAddr, NodeID: uint8(nodeID), Command: uint16(word>>8) & 0xFFF, Payload: uint8(word)})
	if err != nil {
		return 0, err
	}
	return resp.Value, nil
}

// pathKind selects the direction a DiscoverPaths search walks.
type pathKind int

const (
	PathADCFromInput pathKind = iota
	PathDACToOutput
	PathInputToOutput
)

// DiscoverPaths finds every widget chain of the requested kind with a
// depth-bounded DFS over Connections. A walk ends at the first widget that
// completes a chain of that kind: an input pin for PathADCFromInput and
// PathInputToOutput, a DAC for PathDACToOutput.
//
// Connections point from a sink toward its source (a mixer's Connections
// list the widgets feeding it, not the ones it feeds), so the walk always
// starts at the sink end of the chain it is looking for. For
// PathADCFromInput that sink is the ADC itself, and the natural walk order
// (converter first, pin last) already matches the order BuildDevice wants.
// PathDACToOutput and PathInputToOutput instead sink at the output pin
// complex, so their walk order comes out pin-first and is reversed before
// being returned.
func DiscoverPaths(fg *FunctionGroup, kind pathKind, maxDepth int) [][]int {
	var paths [][]int
	for nid, w := range fg.Widgets {
		if !isPathRoot(w, kind) {
			continue
		}
		var walk func(node int, depth int, path []int)
		walk = func(node int, depth int, path []int) {
			path = append(path, node)
			cur := fg.Widgets[node]
			if cur == nil || depth >= maxDepth {
				return
			}
			if isPathLeaf(cur, kind, len(path) > 1) {
				paths = append(paths, finishPath(path, kind))
				return
			}
			for _, next := range cur.Connections {
				walk(next, depth+1, path)
			}
		}
		walk(nid, 0, nil)
	}
	return paths
}

// finishPath copies path and, for the kinds that walk from the output pin
// backward to their source, reverses it so the converter (or, for a
// loopback path, the input pin) comes first and the terminal pin comes
// last, the order BuildDevice and SelectPrimary assume uniformly.
func finishPath(path []int, kind pathKind) []int {
	cp := append([]int(nil), path...)
	if kind == PathADCFromInput {
		return cp
	}
	for i, j := 0, len(cp)-1; i < j; i, j = i+1, j-1 {
		cp[i], cp[j] = cp[j], cp[i]
	}
	return cp
}

func isPathRoot(w *Widget, kind pathKind) bool {
	switch kind {
	case PathADCFromInput:
		return w.Caps.Type == NodeAudioInput
	default: // PathDACToOutput, PathInputToOutput
		return w.Caps.Type == NodePinComplex && !isInputPin(w.PinConfig.Device)
	}
}

func isPathLeaf(w *Widget, kind pathKind, pastRoot bool) bool {
	if !pastRoot {
		return false
	}
	switch kind {
	case PathADCFromInput:
		return w.Caps.Type == NodePinComplex && isInputPin(w.PinConfig.Device)
	case PathDACToOutput:
		return w.Caps.Type == NodeAudioOutput
	default: // PathInputToOutput
		return w.Caps.Type == NodePinComplex && isInputPin(w.PinConfig.Device)
	}
}

func isInputPin(d PinDevice) bool {
	switch d {
	case PinLineIn, PinAux, PinMicIn, PinSPDIFIn, PinDigitalIn, PinTelephony, PinModemLineSide, PinModemHandset:
		return true
	default:
		return false
	}
}

// RouteTypeOf maps a pin complex's default device field to a devtable
// RouteType.
func RouteTypeOf(d PinDevice) devtable.RouteType {
	switch d {
	case PinLineOut:
		return devtable.RouteLineOut
	case PinSpeaker:
		return devtable.RouteSpeaker
	case PinHPOut:
		return devtable.RouteHeadphone
	case PinCD:
		return devtable.RouteCD
	case PinSPDIFOut:
		return devtable.RouteSPDIFOut
	case PinDigitalOut:
		return devtable.RouteDigitalOut
	case PinLineIn:
		return devtable.RouteLineIn
	case PinAux:
		return devtable.RouteAux
	case PinMicIn:
		return devtable.RouteMic
	case PinSPDIFIn:
		return devtable.RouteSPDIFIn
	case PinDigitalIn:
		return devtable.RouteDigitalIn
	default:
		return devtable.RouteUnknown
	}
}

// SelectPrimary picks the lowest (association, sequence) pin terminating
// each path and returns the paths sorted so index 0 is the primary route.
func SelectPrimary(fg *FunctionGroup, paths [][]int) [][]int {
	sorted := append([][]int(nil), paths...)
	sort.SliceStable(sorted, func(i, j int) bool {
		pi := terminalPriority(fg, sorted[i])
		pj := terminalPriority(fg, sorted[j])
		return pi < pj
	})
	return sorted
}

func terminalPriority(fg *FunctionGroup, path []int) uint16 {
	if len(path) == 0 {
		return 0xFFFF
	}
	w := fg.Widgets[path[len(path)-1]]
	if w == nil {
		return 0xFFFF
	}
	return w.PinConfig.priority()
}

// ComputeGainMute translates a 0..100 volume request into the amp's native
// step count and mute bit: volume
// 0 always mutes; otherwise the step is the nearest integer scaling of
// volume across [0, NumSteps].
func ComputeGainMute(caps AmpCaps, volume int) (step uint8, mute bool) {
	if volume <= 0 {
		return 0, true
	}
	volume = mathx.Clamp(volume, 0, 100)
	scaled := (int(caps.NumSteps)*volume + 50) / 100
	return uint8(mathx.Clamp(scaled, 0, int(caps.NumSteps))), false
}

// SetAmpGainMute issues the verb programming one side (input or output,
// left or right) of a widget's amplifier.
func SetAmpGainMute(ctx context.Context, s Sender, codecAddr uint8, nodeID int, isOutput, isLeft bool, step uint8, mute bool) error {
	var sideBits uint16
	if isLeft {
		sideBits = 1 << 13
	} else {
		sideBits = 1 << 12
	}
	return sendAmpGainMute(ctx, s, codecAddr, nodeID, isOutput, sideBits, step, mute)
}

// SetAmpGainMuteBoth asserts both the left and right select bits in a
// single verb, the encoding real codecs accept when a path's left and
// right channel gains match and there is no reason to spend two commands
// setting the same value twice.
func SetAmpGainMuteBoth(ctx context.Context, s Sender, codecAddr uint8, nodeID int, isOutput bool, step uint8, mute bool) error {
	return sendAmpGainMute(ctx, s, codecAddr, nodeID, isOutput, 1<<13|1<<12, step, mute)
}

func sendAmpGainMute(ctx context.Context, s Sender, codecAddr uint8, nodeID int, isOutput bool, sideBits uint16, step uint8, mute bool) error {
	payload := uint16(step) & 0x7F
	if mute {
		payload |= 1 << 7
	}
	if isOutput {
		sideBits |= 1 << 15
	} else {
		sideBits |= 1 << 14
	}
	word := wire.EncodeLong(codecAddr, uint8(nodeID), verbSetAmpGainMute<<8|0, sideBits|payload)
	_, err := s.SendVerb(ctx, wire.Verb{CodecAddress: codecAddr, NodeID: uint8(nodeID), Command: uint16(word >> 8), Payload: uint8(word)})
	if err != nil {
		return scode.Wrap(scode.DeviceIoError, "SetAmpGainMute", err)
	}
	return nil
}

// standardRates maps each bit of a converter widget's (DAC or ADC) PCM
// size/rates parameter to the sample rate it represents.
var standardRates = [...]struct {
	bit uint32
	hz  uint32
}{
	{1 << 0, 8000}, {1 << 1, 11025}, {1 << 2, 16000}, {1 << 3, 22050},
	{1 << 4, 32000}, {1 << 5, 44100}, {1 << 6, 48000}, {1 << 7, 88200},
	{1 << 8, 96000}, {1 << 9, 176400}, {1 << 10, 192000},
}

const (
	pcmBitDepth8Bit  = 1 << 16
	pcmBitDepth16Bit = 1 << 17
	pcmBitDepth20Bit = 1 << 18
	pcmBitDepth24Bit = 1 << 19
	pcmBitDepth32Bit = 1 << 20

	streamFormatFloat32Bit = 1 << 1
	streamFormatAC3Bit     = 1 << 2
)

// ConverterCaps is a DAC or ADC's decoded supported wire formats and
// sample rates, used to populate the devtable.Device BuildDevice
// publishes for it instead of hardcoding format/rate literals.
type ConverterCaps struct {
	Formats devtable.FormatBits
	Rates   []uint32
}

// DecodeConverterCaps decodes the raw Supported PCM Size/Rates (param
// 0x0A) and Supported Stream Formats (param 0x0B) parameter words.
func DecodeConverterCaps(pcmSizeRates, streamFormats uint32) ConverterCaps {
	var formats devtable.FormatBits
	if pcmSizeRates&pcmBitDepth8Bit != 0 {
		formats |= devtable.Format8BitPCM
	}
	if pcmSizeRates&pcmBitDepth16Bit != 0 {
		formats |= devtable.Format16BitPCM
	}
	if pcmSizeRates&pcmBitDepth20Bit != 0 {
		formats |= devtable.Format20BitPCM
	}
	if pcmSizeRates&pcmBitDepth24Bit != 0 {
		formats |= devtable.Format24BitPCM
	}
	if pcmSizeRates&pcmBitDepth32Bit != 0 {
		formats |= devtable.Format32BitPCM
	}
	if streamFormats&streamFormatFloat32Bit != 0 {
		formats |= devtable.FormatFloat32
	}
	if streamFormats&streamFormatAC3Bit != 0 {
		formats |= devtable.FormatAC3
	}

	var rates []uint32
	for _, r := range standardRates {
		if pcmSizeRates&r.bit != 0 {
			rates = append(rates, r.hz)
		}
	}
	return ConverterCaps{Formats: formats, Rates: rates}
}

// ProgramRoute binds widgets (converter-first, terminal-pin-last, the
// order DiscoverPaths/BuildDevice produce) to streamNumber/channel at
// formatWord: it selects the active upstream connection on every selector
// along the chain, enables the terminal pin (plus its headphone-amp bit
// for a PinHPOut jack), and programs the converter's format, stream/
// channel binding, and channel count. Each stage ends with a barrier so a
// codec that serializes internal state transitions never sees the next
// stage's verbs before the previous stage has taken effect.
func ProgramRoute(ctx context.Context, s Sender, codecAddr uint8, fg *FunctionGroup, widgets []int, formatWord uint16, streamNumber, channel, numChannels int) error {
	if len(widgets) == 0 {
		return scode.New(scode.InvalidParameter, "ProgramRoute", "empty route")
	}
	root := widgets[0]

	for i := 1; i < len(widgets); i++ {
		w, ok := fg.Widget(widgets[i])
		if !ok || w.Caps.Type != NodeAudioSelector {
			continue
		}
		idx := connectionIndexOf(w, widgets[i-1])
		if idx < 0 {
			continue
		}
		if _, err := sendShort(ctx, s, codecAddr, widgets[i], verbSetConnectionSelect, uint8(idx)); err != nil {
			return scode.Wrap(scode.DeviceIoError, "ProgramRoute", err)
		}
	}
	if err := barrier(ctx, s, codecAddr, root); err != nil {
		return scode.Wrap(scode.DeviceIoError, "ProgramRoute", err)
	}

	if pin, ok := fg.Widget(widgets[len(widgets)-1]); ok && pin.Caps.Type == NodePinComplex {
		var ctrl uint8
		if isInputPin(pin.PinConfig.Device) {
			ctrl = pinCtrlInEnable
		} else {
			ctrl = pinCtrlOutEnable
			if pin.PinConfig.Device == PinHPOut {
				ctrl |= pinCtrlHPEnable
			}
		}
		if _, err := sendShort(ctx, s, codecAddr, pin.NodeID, verbSetPinWidgetControl, ctrl); err != nil {
			return scode.Wrap(scode.DeviceIoError, "ProgramRoute", err)
		}
	}
	if err := barrier(ctx, s, codecAddr, root); err != nil {
		return scode.Wrap(scode.DeviceIoError, "ProgramRoute", err)
	}

	if _, err := sendLong(ctx, s, codecAddr, root, verbSetConverterFormat<<8, formatWord); err != nil {
		return scode.Wrap(scode.DeviceIoError, "ProgramRoute", err)
	}
	streamChan := uint8((streamNumber&0xF)<<4 | (channel & 0xF))
	if _, err := sendShort(ctx, s, codecAddr, root, verbSetChannelStreamID, streamChan); err != nil {
		return scode.Wrap(scode.DeviceIoError, "ProgramRoute", err)
	}
	if numChannels > 2 {
		if _, err := sendShort(ctx, s, codecAddr, root, verbSetConverterChannelCount, uint8(numChannels-1)); err != nil {
			return scode.Wrap(scode.DeviceIoError, "ProgramRoute", err)
		}
	}
	if err := barrier(ctx, s, codecAddr, root); err != nil {
		return scode.Wrap(scode.DeviceIoError, "ProgramRoute", err)
	}
	return nil
}

func connectionIndexOf(w *Widget, target int) int {
	for i, c := range w.Connections {
		if c == target {
			return i
		}
	}
	return -1
}

func sendShort(ctx context.Context, s Sender, codecAddr uint8, nodeID int, command uint16, payload uint8) (uint32, error) {
	resp, err := s.SendVerb(ctx, wire.Verb{CodecAddress: codecAddr, NodeID: uint8(nodeID), Command: command, Payload: payload})
	if err != nil {
		return 0, err
	}
	return resp.Value, nil
}

// barrier issues a harmless GetParameter round trip and discards the
// result. SendVerb always waits for its matching response, so this forces
// every verb queued before it to have already been accepted by the codec
// before the caller moves on to the next programming stage.
func barrier(ctx context.Context, s Sender, codecAddr uint8, nodeID int) error {
	_, err := getParam(ctx, s, codecAddr, nodeID, paramVendorID)
	return err
}
