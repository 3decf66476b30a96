// Package codec enumerates an HD Audio codec's node graph (root -> function
// groups -> widgets), decodes widget/pin/amplifier capability words, and
// resolves the audio paths a devtable.Device's Route is
// built from.
//
// The register/bitfield constants below follow the named-constant-per-bit
// discipline of this codebase's battery-charger register map, rather than
// inline magic numbers at each call site.
package codec

// NodeType classifies a widget by its AW_TYPE capability field.
type NodeType int

const (
	NodeAudioOutput NodeType = iota // DAC
	NodeAudioInput // ADC
	NodeAudioMixer
	NodeAudioSelector
	NodePinComplex
	NodePowerWidget
	NodeVolumeKnob
	NodeBeepGenerator
	NodeVendorDefined
)

// WidgetCaps decodes the AW_CAP parameter word.
type WidgetCaps struct {
	Type NodeType
	StereoCap bool
	InAmpPresent bool
	OutAmpPresent bool
	DigitalOut bool
}

// AmpCaps decodes an amplifier capability parameter word (input or output
// amp, shared layout): offset/number-of-steps/step-size plus mute support.
type AmpCaps struct {
	Offset uint8 // 0..79, gain at which the amp is at 0 dB
	NumSteps uint8 // 0..79
	StepSize uint8 // 0.25 dB units per step, 0..3 bits packed value
	CanMute bool
}

const (
	ampCapsOffsetMask = 0x7F
	ampCapsNumStepsMask = 0x7F
	ampCapsStepSizeMask = 0x7F
	ampCapsMuteBit = 1 << 31
)

// DecodeAmpCaps decodes a raw 32-bit AMP_CAP parameter word.
func DecodeAmpCaps(raw uint32) AmpCaps {
	return AmpCaps{
		Offset: uint8(raw & ampCapsOffsetMask),
		NumSteps: uint8((raw >> 8) & ampCapsNumStepsMask),
		StepSize: uint8((raw >> 16) & ampCapsStepSizeMask),
		CanMute: raw&ampCapsMuteBit != 0,
	}
}

const (
	awCapTypeShift = 20
	awCapTypeMask = 0xF
	awCapStereoBit = 1 << 0
	awCapInAmpBit = 1 << 1
	awCapOutAmpBit = 1 << 2
	awCapDigitalBit = 1 << 8
)

// DecodeWidgetCaps decodes a raw AW_CAP parameter word.
func DecodeWidgetCaps(raw uint32) WidgetCaps {
	return WidgetCaps{
		Type: NodeType((raw >> awCapTypeShift) & awCapTypeMask),
		StereoCap: raw&awCapStereoBit != 0,
		InAmpPresent: raw&awCapInAmpBit != 0,
		OutAmpPresent: raw&awCapOutAmpBit != 0,
		DigitalOut: raw&awCapDigitalBit != 0,
	}
}

// PinDevice enumerates the PIN_CAP/CONFIG_DEFAULT device field: what kind
// of jack or internal connector the pin complex models.
type PinDevice int

const (
	PinLineOut PinDevice = iota
	PinSpeaker
	PinHPOut
	PinCD
	PinSPDIFOut
	PinDigitalOut
	PinModemLineSide
	PinModemHandset
	PinLineIn
	PinAux
	PinMicIn
	PinTelephony
	PinSPDIFIn
	PinDigitalIn
	PinBeep
	PinOther
)

// PinConfig decodes a pin complex's CONFIG_DEFAULT register: default
// device, association, sequence, and port connectivity, used to group
// pins into routes, pick each association's primary path, and decide
// whether a pin is wired to anything a caller should publish at all.
type PinConfig struct {
	Device PinDevice
	Association uint8 // 4 bits
	Sequence uint8 // 4 bits
	PortConn uint8 // 2 bits: 0 jack, 1 none, 2 fixed internal, 3 jack+internal
}

const (
	configDeviceShift = 20
	configDeviceMask = 0xF
	configAssocShift = 4
	configAssocMask = 0xF
	configSeqMask = 0xF
	configPortConnShift = 30
	configPortConnMask = 0x3

	portConnNone = 1
)

// DecodePinConfig decodes a raw CONFIG_DEFAULT parameter word.
func DecodePinConfig(raw uint32) PinConfig {
	return PinConfig{
		Device: PinDevice((raw >> configDeviceShift) & configDeviceMask),
		Association: uint8((raw >> configAssocShift) & configAssocMask),
		Sequence: uint8(raw & configSeqMask),
		PortConn: uint8((raw >> configPortConnShift) & configPortConnMask),
	}
}

// Accessible reports whether the pin has any physical connection (jack or
// fixed internal) worth publishing a device route for. The zero PinConfig
// (as built by hand in tests, or before CONFIG_DEFAULT has been read) is
// accessible by default.
func (c PinConfig) Accessible() bool {
	return c.PortConn != portConnNone
}

// priority packs (association, sequence) into a single sortable value per
// the primary-path selection rule: lower association wins, ties
// broken by lower sequence.
func (c PinConfig) priority() uint16 {
	return uint16(c.Association)<<4 | uint16(c.Sequence)
}

// Widget is one decoded node in the function group's graph.
type Widget struct {
	NodeID int
	Caps WidgetCaps
	PinConfig PinConfig // meaningful only when Caps.Type == NodePinComplex
	Connections []int // expanded connection list (node IDs),
	AmpIn AmpCaps
	AmpOut AmpCaps
	Conv ConverterCaps // meaningful only when Caps.Type is NodeAudioOutput/NodeAudioInput
}

// FunctionGroup is one audio function group and its flattened widget set,
// the unit codec discovery walks.
type FunctionGroup struct {
	NodeID int
	Widgets map[int]*Widget
}

// Widget looks up a node by ID within the group.
func (fg *FunctionGroup) Widget(nodeID int) (*Widget, bool) {
	w, ok := fg.Widgets[nodeID]
	return w, ok
}
