package controller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hdacore/internal/devtable"
	"hdacore/internal/hda/codec"
	"hdacore/internal/hda/corb"
	"hdacore/internal/hda/stream"
	"hdacore/internal/hda/wire"
	"hdacore/internal/hostops"
	"hdacore/internal/ring"
)

func noopCorbHost() corb.HostRing {
	return corb.HostRing{
		CORBWrite:        func(index int, verb uint32) {},
		CORBReadPointer:  func() int { return 0 },
		RIRBRead:         func(index int) (uint32, uint32) { return 0, 0 },
		RIRBWritePointer: func() int { return 0 },
	}
}

func TestBringUp_RunsSequenceAndReturnsCodecs(t *testing.T) {
	var reset, enabledCorb, enabledInt bool
	var corbBase, rirbBase uint64
	regs := HostRegs{
		GlobalReset:      func() error { reset = true; return nil },
		SetCORBBase:      func(a uint64) { corbBase = a },
		SetRIRBBase:      func(a uint64) { rirbBase = a },
		EnableCORBRIRB:   func(e bool) { enabledCorb = e },
		EnableInterrupts: func(e bool) { enabledInt = e },
		CodecsPresent:    func() []uint8 { return []uint8{0, 2} },
	}
	c := New(regs, noopCorbHost(), map[stream.Region]int{stream.RegionOutput: 2})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	addrs, err := c.BringUp(ctx, 0x1000, 0x2000)
	require.NoError(t, err)
	assert.True(t, reset)
	assert.True(t, enabledCorb)
	assert.True(t, enabledInt)
	assert.Equal(t, uint64(0x1000), corbBase)
	assert.Equal(t, uint64(0x2000), rirbBase)
	assert.Equal(t, []uint8{0, 2}, addrs)
}

func TestAllocateAndReleaseStream(t *testing.T) {
	c := New(HostRegs{}, noopCorbHost(), map[stream.Region]int{stream.RegionOutput: 1})
	rt, err := c.AllocateStream(stream.RegionOutput, stream.HostRegs{}, nil, 512)
	require.NoError(t, err)

	_, err = c.AllocateStream(stream.RegionOutput, stream.HostRegs{}, nil, 512)
	assert.Error(t, err)

	c.ReleaseStream(rt)
	_, err = c.AllocateStream(stream.RegionOutput, stream.HostRegs{}, nil, 512)
	assert.NoError(t, err)
}

func TestRun_DispatchesFragmentCompleteToOwningRuntime(t *testing.T) {
	c := New(HostRegs{}, noopCorbHost(), map[stream.Region]int{stream.RegionOutput: 1})

	r, err := ring.New(make([]byte, 2048), 512, 4, ring.Output, ring.NewWaitObject())
	require.NoError(t, err)

	regs := stream.HostRegs{LinkPosition: func(n int) uint32 { return 512 }}
	rt, err := c.AllocateStream(stream.RegionOutput, regs, r, 512)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	c.Notify(Interrupt{StreamNumber: rt.Descriptor().Number})

	require.Eventually(t, func() bool {
		return r.HardwareOffset() == 512
	}, time.Second, 5*time.Millisecond)
}

func TestBuildDevice_AssignsRouteAndDriverCtx(t *testing.T) {
	fg := &codec.FunctionGroup{Widgets: map[int]*codec.Widget{
		1: {NodeID: 1, Caps: codec.WidgetCaps{Type: codec.NodeAudioOutput, StereoCap: true}},
		2: {NodeID: 2, Caps: codec.WidgetCaps{Type: codec.NodePinComplex}, PinConfig: codec.PinConfig{Device: codec.PinSpeaker}, Connections: []int{1}},
	}}
	d := BuildDevice(fg, 0x2, devtable.Output)
	require.NotNil(t, d)
	require.Len(t, d.Routes, 1)
	assert.Equal(t, devtable.RouteSpeaker, d.Routes[0].Type)
	assert.Equal(t, []int{1, 2}, d.Routes[0].Widgets)
	assert.Equal(t, 2, d.MaxChannels)
	rc, ok := d.DriverCtx.(*routeContext)
	require.True(t, ok)
	assert.Same(t, fg, rc.fg)
	assert.EqualValues(t, 0x2, rc.codecAddr)
}

func TestBuildDevice_SkipsInaccessiblePin(t *testing.T) {
	fg := &codec.FunctionGroup{Widgets: map[int]*codec.Widget{
		1: {NodeID: 1, Caps: codec.WidgetCaps{Type: codec.NodeAudioOutput}},
		2: {NodeID: 2, Caps: codec.WidgetCaps{Type: codec.NodePinComplex}, PinConfig: codec.PinConfig{Device: codec.PinSpeaker, PortConn: 1}, Connections: []int{1}},
	}}
	assert.Nil(t, BuildDevice(fg, 0x2, devtable.Output))
}

func TestBuildDevice_Input_AppendsNoLoopbackRoutes(t *testing.T) {
	fg := &codec.FunctionGroup{Widgets: map[int]*codec.Widget{
		1: {NodeID: 1, Caps: codec.WidgetCaps{Type: codec.NodeAudioInput}, Connections: []int{2}},
		2: {NodeID: 2, Caps: codec.WidgetCaps{Type: codec.NodePinComplex}, PinConfig: codec.PinConfig{Device: codec.PinMicIn}},
	}}
	d := BuildDevice(fg, 0x2, devtable.Input)
	require.NotNil(t, d)
	assert.Len(t, d.Routes, 1)
}

type fakeSenderFn func(v wire.Verb) (wire.Response, error)

func (f fakeSenderFn) SendVerb(ctx context.Context, v wire.Verb) (wire.Response, error) {
	return f(v)
}

func TestDiscoverDevices_BuildsOutputFromRealDiscovery(t *testing.T) {
	sender := fakeSenderFn(func(v wire.Verb) (wire.Response, error) {
		switch {
		case v.NodeID == 0 && v.Command == 0xF00 && v.Payload == 0x04: // root subordinate
			return wire.Response{Value: (1 << 16) | 1}, nil
		case v.NodeID == 1 && v.Command == 0xF00 && v.Payload == 0x05: // FG type
			return wire.Response{Value: 0x01}, nil
		case v.NodeID == 1 && v.Command == 0xF00 && v.Payload == 0x04: // FG subordinate
			return wire.Response{Value: (2 << 16) | 2}, nil
		case v.NodeID == 2 && v.Command == 0xF00 && v.Payload == 0x09: // widget caps
			return wire.Response{Value: uint32(codec.NodeAudioOutput) << 20}, nil
		case v.NodeID == 2 && v.Command == 0xF00 && v.Payload == 0x0E: // conn list len
			return wire.Response{Value: 0}, nil
		case v.NodeID == 3 && v.Command == 0xF00 && v.Payload == 0x09:
			return wire.Response{Value: uint32(codec.NodePinComplex) << 20}, nil
		case v.NodeID == 3 && v.Command == 0xF1C: // config default
			return wire.Response{Value: 0}, nil // PinLineOut, accessible
		case v.NodeID == 3 && v.Command == 0xF00 && v.Payload == 0x0E: // one short-form entry
			return wire.Response{Value: 1}, nil
		case v.NodeID == 3 && v.Command == 0xF02: // pin fed by the DAC
			return wire.Response{Value: 2}, nil
		default:
			return wire.Response{}, nil
		}
	})

	c := New(HostRegs{}, noopCorbHost(), nil)
	devices := c.DiscoverDevices(context.Background(), sender, []uint8{0})
	require.Len(t, devices, 1)
	assert.Equal(t, devtable.Output, devices[0].Type)
}

// echoHW is a minimal corb.HostRing that immediately acks every CORB write
// as a RIRB entry for the same codec address, letting SendVerb's round
// trip complete without caring what the verb actually means. Grounded on
// the equivalent fake in internal/hda/corb's own tests.
type echoHW struct {
	mu         sync.Mutex
	corbRead   int
	rirbWrite  int
	rirbValues [256]uint32
	rirbStatus [256]uint32
	pair       *corb.Pair
}

func (h *echoHW) ring() corb.HostRing {
	return corb.HostRing{
		CORBWrite: func(index int, verb uint32) {
			h.mu.Lock()
			h.corbRead = index
			codecAddr := (verb >> 28) & 0xF
			h.rirbWrite = (h.rirbWrite + 1) % len(h.rirbValues)
			h.rirbValues[h.rirbWrite] = verb
			h.rirbStatus[h.rirbWrite] = codecAddr
			h.mu.Unlock()
			h.pair.PumpRIRB()
		},
		CORBReadPointer: func() int {
			h.mu.Lock()
			defer h.mu.Unlock()
			return h.corbRead
		},
		RIRBRead: func(index int) (uint32, uint32) {
			h.mu.Lock()
			defer h.mu.Unlock()
			return h.rirbValues[index], h.rirbStatus[index]
		},
		RIRBWritePointer: func() int {
			h.mu.Lock()
			defer h.mu.Unlock()
			return h.rirbWrite
		},
	}
}

func TestOps_KindVolume_ProgramsAmplifiers(t *testing.T) {
	hw := &echoHW{}
	c := New(HostRegs{}, hw.ring(), map[stream.Region]int{stream.RegionOutput: 1})
	hw.pair = c.corb

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.corb.Run(ctx)

	ops := c.Ops(nil, nil)
	fg := &codec.FunctionGroup{Widgets: map[int]*codec.Widget{
		1: {NodeID: 1, Caps: codec.WidgetCaps{Type: codec.NodeAudioOutput, OutAmpPresent: true}, AmpOut: codec.AmpCaps{NumSteps: 20}},
		2: {NodeID: 2, Caps: codec.WidgetCaps{Type: codec.NodePinComplex}, PinConfig: codec.PinConfig{Device: codec.PinSpeaker}},
	}}
	dev := &devtable.Device{
		Routes:    []devtable.Route{{Widgets: []int{1, 2}}},
		DriverCtx: &routeContext{fg: fg, codecAddr: 0x3},
	}

	require.NoError(t, ops.GetSetInfo(nil, dev, hostops.KindVolume, [2]int{60, 40}, true))
}

func TestOps_FullLifecycleInitializedRunningUninitialized(t *testing.T) {
	c := New(HostRegs{}, noopCorbHost(), map[stream.Region]int{stream.RegionOutput: 1})

	var started, stopped bool
	ops := c.Ops(
		func(d *devtable.Device) stream.Region { return stream.RegionOutput },
		func(d *devtable.Device, desc *stream.Descriptor) stream.HostRegs {
			return stream.HostRegs{
				Reset:  func(n int) {},
				SetBDL: func(n int, e []stream.BDLEntry) {},
				Run: func(n int, enable bool) {
					if enable {
						started = true
					} else {
						stopped = true
					}
				},
			}
		},
	)

	dev := &devtable.Device{}
	buf := &hostops.Buffer{Bytes: make([]byte, 2048)}
	r, err := ring.New(buf.Bytes, 512, 4, ring.Output, ring.NewWaitObject())
	require.NoError(t, err)

	require.NoError(t, ops.GetSetInfo(nil, dev, hostops.KindState, hostops.StatePayload{
		State: hostops.StateInitialized, Buffer: buf, Ring: r, FragSize: 512,
	}, true))

	require.NoError(t, ops.GetSetInfo(nil, dev, hostops.KindState, hostops.StatePayload{State: hostops.StateRunning}, true))
	assert.True(t, started)

	require.NoError(t, ops.GetSetInfo(nil, dev, hostops.KindState, hostops.StatePayload{State: hostops.StateUninitialized}, true))
	assert.True(t, stopped)
}
