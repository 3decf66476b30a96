package codec

import (
	"context"

	"hdacore/internal/scode"
)

const (
	verbSetPowerState = 0x705
	verbGetPowerState = 0xF05
	verbSetEAPDBTLEnable = 0x70C
	verbGetEAPDBTLEnable = 0xF0C

	powerStateD0 = 0x0
	powerStateD3 = 0x3

	eapdEnableBit uint8 = 1 << 1
)

// PowerUp drives fg's function group node through a D3-then-D0 sequence,
// sets every widget in it to D0, and enables the external amp (EAPD) on
// every pin complex that is not an input pin.
//
// The function group's D3 -> D0 cycle runs twice: a codec that only latches power-well
// state on a falling-then-rising edge can leave some widgets parked at
// D1/D2 after a single transition, so one cycle alone isn't trusted to
// reach D0 reliably.
func PowerUp(ctx context.Context, s Sender, codecAddr uint8, fg *FunctionGroup) error {
	for i := 0; i < 2; i++ {
		if err := setPowerState(ctx, s, codecAddr, fg.NodeID, powerStateD3); err != nil {
			return scode.Wrap(scode.DeviceIoError, "PowerUp", err)
		}
		if err := setPowerState(ctx, s, codecAddr, fg.NodeID, powerStateD0); err != nil {
			return scode.Wrap(scode.DeviceIoError, "PowerUp", err)
		}
	}
	for nid, w := range fg.Widgets {
		if err := setPowerState(ctx, s, codecAddr, nid, powerStateD0); err != nil {
			return scode.Wrap(scode.DeviceIoError, "PowerUp", err)
		}
		if w.Caps.Type == NodePinComplex && !isInputPin(w.PinConfig.Device) {
			if _, err := sendShort(ctx, s, codecAddr, nid, verbSetEAPDBTLEnable, eapdEnableBit); err != nil {
				return scode.Wrap(scode.DeviceIoError, "PowerUp", err)
			}
		}
	}
	return nil
}

func setPowerState(ctx context.Context, s Sender, codecAddr uint8, nodeID int, state uint8) error {
	_, err := sendShort(ctx, s, codecAddr, nodeID, verbSetPowerState, state)
	return err
}
