// Package controller performs host controller bring-up: global hardware
// reset, CORB/RIRB programming, codec discovery, and the single dispatch
// loop that fans fragment-complete and unsolicited-response interrupts out
// to the owning stream runtimes and CORB pair.
//
// The single-goroutine select-based dispatch loop mirrors an event-loop
// shape used elsewhere in this codebase: one goroutine owns all mutable
// controller state and only ever communicates with the outside world
// through channels, so nothing here needs a lock broader than the narrow
// per-component ones internal/ring and internal/devtable already define.
package controller

import (
	"context"
	"sync"

	"hdacore/internal/devtable"
	"hdacore/internal/hda/codec"
	"hdacore/internal/hda/corb"
	"hdacore/internal/hda/stream"
	"hdacore/internal/hostops"
	"hdacore/internal/logx"
	"hdacore/internal/ring"
	"hdacore/internal/scode"
)

// HostRegs is the global register operation table a concrete backend
// (real MMIO, or a fake for testing) implements.
type HostRegs struct {
	GlobalReset      func() error
	SetCORBBase      func(physAddr uint64)
	SetRIRBBase      func(physAddr uint64)
	EnableCORBRIRB   func(enable bool)
	EnableInterrupts func(enable bool)
	CodecsPresent    func() []uint8 // STATESTS: codec addresses that responded to reset
}

// Interrupt is one event the controller's dispatch loop reacts to:
// either a fragment-complete on a specific stream descriptor, or a
// codec-address RIRB notification.
type Interrupt struct {
	StreamNumber int  // >0 for a stream fragment-complete interrupt
	RIRB         bool // true for a RIRB (command-response or unsolicited) interrupt
}

// Controller owns one HD Audio host controller's bring-up state: the CORB/
// RIRB pair, the stream descriptor pool, and the per-stream runtimes
// backing each devtable.Device.
type Controller struct {
	log  *logx.Logger
	regs HostRegs
	corb *corb.Pair
	pool *stream.Pool

	mu       sync.Mutex
	runtimes map[int]*stream.Runtime // streamNumber -> runtime

	interrupts chan Interrupt
	stopped    chan struct{}
}

// New constructs a Controller bound to regs and a CORB/RIRB HostRing built
// from corbHost, with the given stream descriptor region sizes.
func New(regs HostRegs, corbHost corb.HostRing, regions map[stream.Region]int) *Controller {
	return &Controller{
		log:        logx.New("hda.controller"),
		regs:       regs,
		corb:       corb.New(corbHost),
		pool:       stream.NewPool(regions),
		runtimes:   make(map[int]*stream.Runtime),
		interrupts: make(chan Interrupt, 16),
		stopped:    make(chan struct{}),
	}
}

// BringUp performs the sequence: assert global reset, program CORB/RIRB
// base addresses, enable the rings and interrupts, and start the CORB
// pair's dispatch goroutine. It returns the codec addresses STATESTS
// reports present; callers feed that list into DiscoverDevices (using
// c.CORB() as the codec.Sender) to actually walk each codec's function
// group and populate a devtable.Controller's Devices.
func (c *Controller) BringUp(ctx context.Context, corbPhys, rirbPhys uint64) ([]uint8, error) {
	if c.regs.GlobalReset == nil {
		return nil, scode.New(scode.InvalidConfiguration, "BringUp", "host did not register GlobalReset")
	}
	if err := c.regs.GlobalReset(); err != nil {
		return nil, scode.Wrap(scode.DeviceIoError, "BringUp", err)
	}
	if c.regs.SetCORBBase != nil {
		c.regs.SetCORBBase(corbPhys)
	}
	if c.regs.SetRIRBBase != nil {
		c.regs.SetRIRBBase(rirbPhys)
	}
	if c.regs.EnableCORBRIRB != nil {
		c.regs.EnableCORBRIRB(true)
	}
	if c.regs.EnableInterrupts != nil {
		c.regs.EnableInterrupts(true)
	}
	go c.corb.Run(ctx)

	var addrs []uint8
	if c.regs.CodecsPresent != nil {
		addrs = c.regs.CodecsPresent()
	}
	c.log.Infof("bring-up complete, %d codec(s) present", len(addrs))
	return addrs, nil
}

// Run drains interrupt events until ctx is cancelled, dispatching each to
// the CORB pair's PumpRIRB or the owning stream runtime's
// OnFragmentComplete.
func (c *Controller) Run(ctx context.Context) {
	defer close(c.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-c.interrupts:
			if ev.RIRB {
				c.corb.PumpRIRB()
				continue
			}
			c.mu.Lock()
			rt := c.runtimes[ev.StreamNumber]
			c.mu.Unlock()
			if rt != nil {
				rt.OnFragmentComplete()
			}
		}
	}
}

// Notify is the interrupt-context entry point: it must not
// block and must not touch Controller state beyond a non-blocking channel
// send, the same contract internal/hda/corb.PumpRIRB and this codebase's
// GPIO ISR handler both hold to.
func (c *Controller) Notify(ev Interrupt) {
	select {
	case c.interrupts <- ev:
	default:
		c.log.Warnf("interrupt queue full, dropping event")
	}
}

// AllocateStream acquires a descriptor from region, builds its runtime
// bound to r, and registers it for dispatch. Callers (hostops.Ops.GetSetInfo
// on the Initialize transition) call this once per Handle initialization.
func (c *Controller) AllocateStream(region stream.Region, regs stream.HostRegs, r *ring.Ring, fragSize uint32) (*stream.Runtime, error) {
	desc, err := c.pool.Acquire(region)
	if err != nil {
		return nil, err
	}
	rt := stream.NewRuntime(desc, regs, r, fragSize)
	c.mu.Lock()
	c.runtimes[desc.Number] = rt
	c.mu.Unlock()
	return rt, nil
}

// ReleaseStream stops rt, deregisters it, and returns its descriptor to
// the pool.
func (c *Controller) ReleaseStream(rt *stream.Runtime) {
	rt.Stop()
	c.mu.Lock()
	delete(c.runtimes, rt.Descriptor().Number)
	c.mu.Unlock()
	c.pool.Release(rt.Descriptor())
}

// CORB exposes the command ring for codec graph discovery
// (internal/hda/codec) and amp programming.
func (c *Controller) CORB() *corb.Pair { return c.corb }

// routeContext is the opaque per-device driver context BuildDevice installs
// in Device.DriverCtx: the function group and codec address Ops needs to
// re-issue verbs (converter format/stream binding on Initialize, amplifier
// gain/mute on a KindVolume call) against the widgets a Route names.
type routeContext struct {
	fg        *codec.FunctionGroup
	codecAddr uint8
}

// DiscoverDevices walks every address in addrs (as returned by BringUp)
// over s, power cycles each codec's function group to D0, and builds an
// Output and (when the function group has one) an Input devtable.Device
// for it. A codec address that fails discovery is logged and skipped
// rather than aborting the rest of the bring-up.
func (c *Controller) DiscoverDevices(ctx context.Context, s codec.Sender, addrs []uint8) []*devtable.Device {
	var devices []*devtable.Device
	for _, addr := range addrs {
		fg, err := codec.DiscoverCodec(ctx, s, addr)
		if err != nil {
			c.log.Warnf("codec discovery failed for address %d: %v", addr, err)
			continue
		}
		if err := codec.PowerUp(ctx, s, addr, fg); err != nil {
			c.log.Warnf("power-up failed for codec %d: %v", addr, err)
		}
		if d := BuildDevice(fg, addr, devtable.Output); d != nil {
			devices = append(devices, d)
		}
		if d := BuildDevice(fg, addr, devtable.Input); d != nil {
			devices = append(devices, d)
		}
	}
	return devices
}

// BuildDevice discovers codecAddr's already-enumerated function group fg
// for typ (Output -> DAC-to-pin paths, Input -> pin-to-ADC paths), derives
// the device's supported formats/rates/channels from the primary route's
// converter capabilities, and returns nil if every discovered path
// terminates on a pin with no physical connection (nothing to publish). An
// Output device additionally picks up any input-to-output loopback
// (karaoke) path whose output pin matches its primary jack, published as
// extra Routes after the primary one.
func BuildDevice(fg *codec.FunctionGroup, codecAddr uint8, typ devtable.DeviceType) *devtable.Device {
	kind := codec.PathDACToOutput
	if typ == devtable.Input {
		kind = codec.PathADCFromInput
	}
	primary := accessiblePaths(fg, codec.SelectPrimary(fg, codec.DiscoverPaths(fg, kind, 8)))
	if len(primary) == 0 {
		return nil
	}

	conv := converterOf(fg, primary[0])
	maxChannels := 1
	var convCaps codec.ConverterCaps
	if conv != nil {
		convCaps = conv.Conv
		if conv.Caps.StereoCap {
			maxChannels = 2
		}
	}
	capability := devtable.CapMono
	if maxChannels >= 2 {
		capability = devtable.CapStereo
	}

	d := &devtable.Device{
		Type:             typ,
		SupportedFormats: convCaps.Formats,
		MinChannels:      1,
		MaxChannels:      maxChannels,
		Rates:            convCaps.Rates,
		Capability:       capability,
	}
	for _, p := range primary {
		d.Routes = append(d.Routes, routeFor(fg, p))
	}
	if typ == devtable.Output {
		jack := primary[0][len(primary[0])-1]
		for _, p := range accessiblePaths(fg, codec.SelectPrimary(fg, codec.DiscoverPaths(fg, codec.PathInputToOutput, 8))) {
			if p[len(p)-1] != jack {
				continue
			}
			d.Routes = append(d.Routes, routeFor(fg, p))
		}
	}
	d.DriverCtx = &routeContext{fg: fg, codecAddr: codecAddr}
	return d
}

func accessiblePaths(fg *codec.FunctionGroup, paths [][]int) [][]int {
	var out [][]int
	for _, p := range paths {
		if len(p) == 0 {
			continue
		}
		w, ok := fg.Widget(p[len(p)-1])
		if !ok || !w.PinConfig.Accessible() {
			continue
		}
		out = append(out, p)
	}
	return out
}

func converterOf(fg *codec.FunctionGroup, path []int) *codec.Widget {
	for _, nid := range path {
		if w, ok := fg.Widget(nid); ok && (w.Caps.Type == codec.NodeAudioOutput || w.Caps.Type == codec.NodeAudioInput) {
			return w
		}
	}
	return nil
}

func routeFor(fg *codec.FunctionGroup, p []int) devtable.Route {
	rt := devtable.RouteUnknown
	if w, ok := fg.Widget(p[len(p)-1]); ok {
		rt = codec.RouteTypeOf(w.PinConfig.Device)
	}
	widgets := append([]int(nil), p...)
	if len(widgets) > 10 {
		widgets = widgets[:10]
	}
	return devtable.Route{Type: rt, Widgets: widgets, Primary: p}
}

// programVolume walks route's widgets and reprograms every amplifier found
// along it to left/right, using a single both-sides verb when the two
// channels match and independent per-side verbs when they don't.
func programVolume(ctx context.Context, s codec.Sender, rc *routeContext, route devtable.Route, left, right int) error {
	for _, nid := range route.Widgets {
		w, ok := rc.fg.Widget(nid)
		if !ok {
			continue
		}
		var caps codec.AmpCaps
		var isOutput bool
		switch {
		case w.Caps.OutAmpPresent:
			caps, isOutput = w.AmpOut, true
		case w.Caps.InAmpPresent:
			caps, isOutput = w.AmpIn, false
		default:
			continue
		}
		stepL, muteL := codec.ComputeGainMute(caps, left)
		stepR, muteR := codec.ComputeGainMute(caps, right)
		if stepL == stepR && muteL == muteR {
			if err := codec.SetAmpGainMuteBoth(ctx, s, rc.codecAddr, nid, isOutput, stepL, muteL); err != nil {
				return err
			}
			continue
		}
		if err := codec.SetAmpGainMute(ctx, s, rc.codecAddr, nid, isOutput, true, stepL, muteL); err != nil {
			return err
		}
		if err := codec.SetAmpGainMute(ctx, s, rc.codecAddr, nid, isOutput, false, stepR, muteR); err != nil {
			return err
		}
	}
	return nil
}

// Ops builds the hostops.Ops vtable this controller registers with the
// devtable.Controller it backs. streamRegionFor maps a
// devtable.Device to the stream region its descriptors should be acquired
// from, and regsFor builds the stream.HostRegs for a freshly acquired
// descriptor.
func (c *Controller) Ops(streamRegionFor func(*devtable.Device) stream.Region, regsFor func(*devtable.Device, *stream.Descriptor) stream.HostRegs) *hostops.Ops {
	type streamState struct {
		rt  *stream.Runtime
		neg hostops.StatePayload
	}
	var mu sync.Mutex
	states := make(map[any]*streamState)

	return &hostops.Ops{
		GetSetInfo: func(ctrlCtx, devCtx any, kind hostops.InfoKind, data any, isSet bool) error {
			dev, _ := devCtx.(*devtable.Device)

			if kind == hostops.KindVolume {
				if !isSet {
					return nil
				}
				lr, ok := data.([2]int)
				if !ok {
					return scode.New(scode.InvalidParameter, "GetSetInfo", "volume payload must be [2]int")
				}
				if dev == nil {
					return scode.New(scode.InvalidParameter, "GetSetInfo", "missing device")
				}
				route, hasRoute := dev.PrimaryRoute()
				if !hasRoute {
					return scode.New(scode.InvalidConfiguration, "GetSetInfo", "device has no primary route")
				}
				rc, ok := dev.DriverCtx.(*routeContext)
				if !ok {
					return scode.New(scode.InvalidConfiguration, "GetSetInfo", "device has no codec route context")
				}
				return programVolume(context.Background(), c.corb, rc, route, lr[0], lr[1])
			}
			if kind != hostops.KindState || !isSet {
				return nil
			}
			payload, _ := data.(hostops.StatePayload)

			switch payload.State {
			case hostops.StateInitialized:
				if dev == nil || payload.Buffer == nil {
					return scode.New(scode.InvalidParameter, "GetSetInfo", "missing device or buffer")
				}
				region := stream.RegionOutput
				if streamRegionFor != nil {
					region = streamRegionFor(dev)
				}
				desc, err := c.pool.Acquire(region)
				if err != nil {
					return err
				}
				var regs stream.HostRegs
				if regsFor != nil {
					regs = regsFor(dev, desc)
				}
				fragSize := payload.FragSize
				fragCount := uint32(1)
				if fragSize > 0 {
					fragCount = uint32(len(payload.Buffer.Bytes)) / fragSize
				}
				rt := stream.NewRuntime(desc, regs, payload.Ring, fragSize)
				mu.Lock()
				states[devCtx] = &streamState{rt: rt, neg: payload}
				mu.Unlock()
				entries, err := stream.BuildBDL(payload.Buffer.PhysAddr, fragSize, fragCount)
				if err != nil {
					c.pool.Release(desc)
					return err
				}
				if rc, ok := dev.DriverCtx.(*routeContext); ok {
					if route, hasRoute := dev.PrimaryRoute(); hasRoute {
						if err := codec.ProgramRoute(context.Background(), c.corb, rc.codecAddr, rc.fg, route.Widgets, uint16(payload.Format), desc.Number, 0, payload.Channels); err != nil {
							c.pool.Release(desc)
							return err
						}
					}
				}
				c.mu.Lock()
				c.runtimes[desc.Number] = rt
				c.mu.Unlock()
				return rt.Initialize(entries, uint16(payload.Format))

			case hostops.StateRunning:
				mu.Lock()
				st := states[devCtx]
				mu.Unlock()
				if st == nil {
					return scode.New(scode.InvalidConfiguration, "GetSetInfo", "stream not initialized")
				}
				return st.rt.Start()

			case hostops.StateUninitialized:
				mu.Lock()
				st := states[devCtx]
				delete(states, devCtx)
				mu.Unlock()
				if st == nil {
					return nil
				}
				c.ReleaseStream(st.rt)
				return nil
			}
			return nil
		},
	}
}
