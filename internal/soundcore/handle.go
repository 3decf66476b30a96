// Package soundcore implements the per-open Handle state machine and the
// blocking/non-blocking I/O path against the ring buffer. It is the
// library that mediates between the file-like surface and the host
// controller's operation table (internal/hostops), never reaching into
// hda-package internals directly.
//
// The lock discipline (a short-lived per-resource mutex that is never held
// across a channel wait) is the same one this codebase's GPIO IRQ worker
// and pub/sub bus use: mutate shared state under the lock, release it, then
// block on a channel.
package soundcore

import (
	"context"
	"sync"
	"time"

	"hdacore/internal/devtable"
	"hdacore/internal/hostops"
	"hdacore/internal/ring"
	"hdacore/internal/scode"
)

// State is the per-Handle lifecycle state.
type State int

const (
	Uninitialized State = iota
	Initialized
	Running
)

// Handle is a per-open object.
type Handle struct {
	ctrl *devtable.Controller
	dev  *devtable.Device // nil when opened against the root directory

	mu    sync.Mutex
	state State
	neg   devtable.Negotiation
	ring  *ring.Ring
	buf   *hostops.Buffer

	dirOffset int // cursor for root directory reads
}

// Open resolves name against ctrl and returns a Handle.
// Opening a specific device atomically claims BUSY; opening a generic name
// scans declaration order for the first free device of that type; opening
// the root never fails for resource and binds no device.
func Open(ctrl *devtable.Controller, name string) (*Handle, error) {
	if name == "" || name == "." {
		ctrl.AddRef()
		return &Handle{ctrl: ctrl, state: Uninitialized}, nil
	}

	if isGeneric(name) {
		typ := devtable.Output
		if name == "input" {
			typ = devtable.Input
		}
		for _, d := range ctrl.DevicesOfType(typ) {
			if d.Flags.TryAcquireBusy() {
				return newBoundHandle(ctrl, d), nil
			}
		}
		return nil, scode.New(scode.ResourceInUse, "Open", "no free device of type "+typ.String())
	}

	dev, isRoot, err := ctrl.Lookup(name)
	if err != nil {
		return nil, err
	}
	if isRoot {
		ctrl.AddRef()
		return &Handle{ctrl: ctrl, state: Uninitialized}, nil
	}
	if !dev.Flags.TryAcquireBusy() {
		return nil, scode.New(scode.ResourceInUse, "Open", "device already open: "+name)
	}
	return newBoundHandle(ctrl, dev), nil
}

func isGeneric(name string) bool { return name == "input" || name == "output" }

func newBoundHandle(ctrl *devtable.Controller, dev *devtable.Device) *Handle {
	ctrl.AddRef()
	h := &Handle{ctrl: ctrl, dev: dev, state: Uninitialized}
	h.neg = devtable.DefaultNegotiation(dev)
	// Auto-enable the matching direction so the first read/write auto-starts.
	dev.Flags.SetEnable(dev.Type, true)
	return h
}

// IsRoot reports whether this Handle is bound to the controller directory
// rather than a specific device.
func (h *Handle) IsRoot() bool { return h.dev == nil }

func (h *Handle) Device() *devtable.Device { return h.dev }
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Close tears the handle down (equivalent to Reset) and releases BUSY plus
// the controller reference.
func (h *Handle) Close() error {
	err := h.Reset()
	if h.dev != nil {
		h.dev.Flags.ReleaseBusy()
	}
	h.ctrl.Release()
	return err
}

// ensureInitialized performs the Uninitialized -> Initialized transition:
// lazily allocate the ring buffer, place initial offsets, and invoke host
// set_info(Initialize). On any failure the handle remains Uninitialized;
// an allocation failure is returned wrapped as InsufficientResources, a
// host set_info failure wrapped as InvalidConfiguration, and a ring
// construction error as it is.
func (h *Handle) ensureInitialized() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ensureInitializedLocked()
}

func (h *Handle) ensureInitializedLocked() error {
	if h.state != Uninitialized {
		return nil
	}
	if h.dev == nil {
		return scode.New(scode.NotSupported, "ensureInitialized", "no device bound")
	}

	dir := ring.Output
	if h.dev.Type == devtable.Input {
		dir = ring.Input
	}

	buf, err := hostops.AllocOrFallback(h.ctrl.Ops, h.ctrl.Ctx, h.dev.DriverCtx,
		h.neg.FragSize, h.neg.FragCount, h.ctrl.Limits.NonCachedDMA)
	if err != nil {
		return scode.Wrap(scode.InsufficientResources, "ensureInitialized", err)
	}

	wait := ring.NewWaitObject()
	r, err := ring.New(buf.Bytes, h.neg.FragSize, h.neg.FragCount, dir, wait)
	if err != nil {
		hostops.FreeOrFallback(h.ctrl.Ops, h.ctrl.Ctx, h.dev.DriverCtx, buf)
		return err
	}

	payload := hostops.StatePayload{
		State:    hostops.StateInitialized,
		Buffer:   buf,
		Ring:     r,
		FragSize: h.neg.FragSize,
		Format:   uint32(h.neg.Format),
		Channels: h.neg.Channels,
		RateHz:   h.neg.RateHz,
		VolLeft:  h.neg.Vol.Left,
		VolRight: h.neg.Vol.Right,
	}
	if h.ctrl.Ops != nil && h.ctrl.Ops.GetSetInfo != nil {
		if err := h.ctrl.Ops.GetSetInfo(h.ctrl.Ctx, h.dev.DriverCtx, hostops.KindState, payload, true); err != nil {
			hostops.FreeOrFallback(h.ctrl.Ops, h.ctrl.Ctx, h.dev.DriverCtx, buf)
			return scode.Wrap(scode.InvalidConfiguration, "ensureInitialized", err)
		}
	}

	h.buf = buf
	h.ring = r
	h.state = Initialized
	return nil
}

// tryStart performs the Initialized -> Running transition. If the device's
// per-direction enable bit is clear the request succeeds as a no-op without
// changing state. Start is idempotent.
func (h *Handle) tryStart() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tryStartLocked()
}

func (h *Handle) tryStartLocked() error {
	switch h.state {
	case Running:
		return nil
	case Uninitialized:
		return scode.New(scode.InvalidConfiguration, "tryStart", "handle not initialized")
	}
	if h.dev == nil || !h.dev.Flags.Enabled(h.dev.Type) {
		return nil // no-op
	}
	if err := hostops.SetState(h.ctrl.Ops, h.ctrl.Ctx, h.dev.DriverCtx, hostops.StateRunning); err != nil {
		return scode.Wrap(scode.DeviceIoError, "tryStart", err)
	}
	h.state = Running
	return nil
}

// Reset tears down any in-flight DMA and restores defaults. Safe to call
// from any state, including Uninitialized (a no-op host call still runs to
// let the host release any straggling stream claim).
func (h *Handle) Reset() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.resetLocked()
}

func (h *Handle) resetLocked() error {
	if h.dev != nil {
		_ = hostops.SetState(h.ctrl.Ops, h.ctrl.Ctx, h.dev.DriverCtx, hostops.StateUninitialized)
	}
	if h.ring != nil {
		if h.buf != nil {
			hostops.FreeOrFallback(h.ctrl.Ops, h.ctrl.Ctx, h.dev.DriverCtx, h.buf)
		}
		h.ring.Reset()
		h.ring = nil
		h.buf = nil
	}
	if h.dev != nil {
		h.neg = devtable.DefaultNegotiation(h.dev)
	}
	h.state = Uninitialized
	return nil
}

// Negotiation returns a copy of the handle's current negotiated state.
func (h *Handle) Negotiation() devtable.Negotiation {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.neg
}

// MutateNegotiation applies fn to the negotiated state under the handle
// lock and returns its result; used by the ioctl layer.
func (h *Handle) MutateNegotiation(fn func(cur devtable.Negotiation) devtable.Negotiation) devtable.Negotiation {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.neg = fn(h.neg)
	return h.neg
}

// WithLock exposes the current state and negotiation for ioctl policy
// decisions that must read them under the same lock as a following
// mutation (e.g. SetBufferSizeHint is only accepted while Uninitialized).
func (h *Handle) WithLock(fn func(s State, neg devtable.Negotiation) (devtable.Negotiation, error)) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	next, err := fn(h.state, h.neg)
	if err != nil {
		return err
	}
	h.neg = next
	return nil
}

// waitTimeout blocks on the ring's wait object honoring timeoutMs: a zero
// timeout polls once, negative means indefinite.
func waitTimeout(ctx context.Context, w *ring.WaitObject, timeoutMs int) error {
	if timeoutMs == 0 {
		select {
		case <-w.Chan():
		default:
		}
		return nil
	}
	var timer *time.Timer
	var timeoutCh <-chan time.Time
	if timeoutMs > 0 {
		timer = time.NewTimer(time.Duration(timeoutMs) * time.Millisecond)
		defer timer.Stop()
		timeoutCh = timer.C
	}
	select {
	case <-ctx.Done():
		return scode.New(scode.Cancelled, "waitTimeout", "context cancelled")
	case <-w.Chan():
		return nil
	case <-timeoutCh:
		return scode.New(scode.Timeout, "waitTimeout", "I/O wait exceeded its budget")
	}
}
