package soundcore

import (
	"hdacore/internal/devtable"
	"hdacore/internal/hostops"
	"hdacore/internal/scode"
)

// Code enumerates the ioctl surface. Each one maps directly to a row of
// the device capability table; the wire encoding of the request/reply
// bytes is a file-system-shim concern, out of scope here.
type Code int

const (
	GetSupportedFormats Code = iota
	SetFormat
	SetChannelCount
	SetStereo
	SetSampleRate
	GetInputQueueSize
	GetOutputQueueSize
	SetBufferSizeHint
	StopInput
	StopOutput
	StopAll
	GetDeviceCapabilities
	EnableDevice
	SetVolume
	GetVolume
)

// Capabilities is the reply payload of GetDeviceCapabilities.
type Capabilities struct {
	Type        devtable.DeviceType
	Formats     devtable.FormatBits
	MinChannels int
	MaxChannels int
	Rates       []uint32
	Capability  devtable.Capability
}

// Ioctl dispatches one request against the handle. Most codes only read or
// mutate Negotiation under the handle lock; StopInput/StopOutput/StopAll
// additionally drive the state machine back to Uninitialized, and
// EnableDevice both flips the device's enable bit and, if the matching
// direction is already Initialized, attempts Start.
func (h *Handle) Ioctl(code Code, req any) (reply any, err error) {
	if h.dev == nil {
		return nil, scode.New(scode.NotSupported, "Ioctl", "not supported against the root handle")
	}
	d := h.dev

	switch code {
	case GetSupportedFormats:
		return d.SupportedFormats, nil

	case SetFormat:
		want, _ := req.(devtable.FormatBits)
		var result devtable.FormatBits
		err = h.WithLock(func(_ State, neg devtable.Negotiation) (devtable.Negotiation, error) {
			result = devtable.SetFormat(d.SupportedFormats, neg.Format, want)
			neg.Format = result
			return neg, nil
		})
		return result, err

	case SetChannelCount:
		want, _ := req.(int)
		var result int
		err = h.WithLock(func(_ State, neg devtable.Negotiation) (devtable.Negotiation, error) {
			result = devtable.SetChannelCount(d.MaxChannels, want)
			neg.Channels = result
			return neg, nil
		})
		return result, err

	case SetStereo:
		want, _ := req.(int)
		var channels int
		var stereo bool
		err = h.WithLock(func(_ State, neg devtable.Negotiation) (devtable.Negotiation, error) {
			channels, stereo = devtable.SetStereo(d.MaxChannels, want)
			neg.Channels = channels
			return neg, nil
		})
		return stereo, err

	case SetSampleRate:
		want, _ := req.(uint32)
		var result uint32
		err = h.WithLock(func(_ State, neg devtable.Negotiation) (devtable.Negotiation, error) {
			result = devtable.SetSampleRate(d.Rates, want)
			neg.RateHz = result
			return neg, nil
		})
		return result, err

	case GetInputQueueSize, GetOutputQueueSize:
		return h.queueSize()

	case SetBufferSizeHint:
		hint, _ := req.(devtable.BufferSizeHint)
		return nil, h.WithLock(func(state State, neg devtable.Negotiation) (devtable.Negotiation, error) {
			if state != Uninitialized {
				return neg, scode.New(scode.ResourceInUse, "SetBufferSizeHint", "handle already initialized")
			}
			fragSize, fragCount, err := devtable.ResolveBufferSizeHint(h.ctrl.Limits, hint)
			if err != nil {
				return neg, err
			}
			neg.FragSize, neg.FragCount = fragSize, fragCount
			return neg, nil
		})

	case StopInput, StopOutput, StopAll:
		return nil, h.Reset()

	case GetDeviceCapabilities:
		return Capabilities{
			Type:        d.Type,
			Formats:     d.SupportedFormats,
			MinChannels: d.MinChannels,
			MaxChannels: d.MaxChannels,
			Rates:       d.Rates,
			Capability:  d.Capability,
		}, nil

	case EnableDevice:
		on, _ := req.(bool)
		d.Flags.SetEnable(d.Type, on)
		if on {
			h.mu.Lock()
			var startErr error
			if h.state == Initialized {
				startErr = h.tryStartLocked()
			}
			h.mu.Unlock()
			if startErr != nil {
				return nil, startErr
			}
		}
		in, out := d.Flags.EnabledMask()
		return [2]bool{in, out}, nil

	case SetVolume:
		vol, _ := req.(devtable.Volume)
		h.mu.Lock()
		h.neg.Vol = vol
		h.mu.Unlock()
		if err := hostops.SetVolume(h.ctrl.Ops, h.ctrl.Ctx, d.DriverCtx, vol.Left, vol.Right); err != nil {
			return nil, scode.Wrap(scode.DeviceIoError, "SetVolume", err)
		}
		return vol, nil

	case GetVolume:
		return h.Negotiation().Vol, nil
	}

	return nil, scode.New(scode.NotSupported, "Ioctl", "unrecognized ioctl code")
}

// queueSize computes GetInputQueueSize/GetOutputQueueSize's reply: bytes
// and whole fragments currently available to the caller's side of the
// ring, zero for an Uninitialized handle.
func (h *Handle) queueSize() (devtable.QueueSize, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	q := devtable.QueueSize{FragmentSize: h.neg.FragSize, FragmentCount: h.neg.FragCount}
	if h.ring == nil {
		return q, nil
	}
	q.BytesAvailable = h.ring.Occupancy()
	q.FragmentsAvailable = q.BytesAvailable / h.neg.FragSize
	return q, nil
}
