package stream

import (
	"sync"
	"sync/atomic"

	"hdacore/internal/ring"
	"hdacore/internal/scode"
)

// HostRegs is the narrow operation table a controller's register block
// implements to drive one stream descriptor's hardware state. Expressed as
// a struct of funcs rather than an interface the runtime type-asserts
// against, following the same no-downcasting discipline as
// internal/hostops and internal/hda/corb.
type HostRegs struct {
	Reset        func(streamNumber int)
	SetBDL       func(streamNumber int, entries []BDLEntry)
	SetFormat    func(streamNumber int, formatWord uint16)
	SetStreamTag func(streamNumber int, tag int)
	Run          func(streamNumber int, enable bool)
	LinkPosition func(streamNumber int) uint32 // hardware link-position register, bytes
}

// Runtime drives one stream descriptor's reset/initialize/start/stop
// sequence and bridges its interrupt-time fragment-complete notification
// into the sound-core ring's hardware offset.
type Runtime struct {
	desc *Descriptor
	regs HostRegs
	ring *ring.Ring

	fragSize uint32
	running  atomic.Bool

	mu sync.Mutex
}

// NewRuntime binds desc to regs and r. r is the same ring.Ring the
// sound-core Handle's I/O path reads/writes; the runtime's only job is to
// keep r's hardware_offset in step with what the DMA engine has actually
// consumed/produced.
func NewRuntime(desc *Descriptor, regs HostRegs, r *ring.Ring, fragSize uint32) *Runtime {
	return &Runtime{desc: desc, regs: regs, ring: r, fragSize: fragSize}
}

// Initialize resets the descriptor, programs its BDL, tag, and format, and
// leaves it stopped.
func (rt *Runtime) Initialize(entries []BDLEntry, formatWord uint16) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.regs.Reset == nil || rt.regs.SetBDL == nil {
		return scode.New(scode.InvalidConfiguration, "Initialize", "host did not register stream register operations")
	}
	rt.regs.Reset(rt.desc.Number)
	rt.regs.SetBDL(rt.desc.Number, entries)
	if rt.regs.SetStreamTag != nil {
		rt.regs.SetStreamTag(rt.desc.Number, rt.desc.Number)
	}
	if rt.regs.SetFormat != nil {
		rt.regs.SetFormat(rt.desc.Number, formatWord)
	}
	return nil
}

// Start enables DMA.
func (rt *Runtime) Start() error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.regs.Run == nil {
		return scode.New(scode.InvalidConfiguration, "Start", "host did not register Run")
	}
	rt.regs.Run(rt.desc.Number, true)
	rt.running.Store(true)
	return nil
}

// Stop disables DMA. Safe to call when already stopped.
func (rt *Runtime) Stop() error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if !rt.running.Load() {
		return nil
	}
	if rt.regs.Run != nil {
		rt.regs.Run(rt.desc.Number, false)
	}
	rt.running.Store(false)
	return nil
}

// OnFragmentComplete is the interrupt-time (or DPC-time) hook a
// controller's dispatch loop calls when this descriptor's IOC fires. It
// reads the hardware link position register and publishes the
// fragment-aligned offset into the ring, which in turn wakes any blocked
// Handle.Read/Write.
func (rt *Runtime) OnFragmentComplete() {
	if rt.regs.LinkPosition == nil || rt.ring == nil {
		return
	}
	pos := rt.regs.LinkPosition(rt.desc.Number)
	aligned := FragmentForOffset(pos, rt.fragSize) * rt.fragSize
	rt.ring.PublishHardwareOffset(aligned)
}

// Descriptor returns the underlying descriptor (for pool bookkeeping by
// the owning controller).
func (rt *Runtime) Descriptor() *Descriptor { return rt.desc }
