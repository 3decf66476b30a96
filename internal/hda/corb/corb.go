// Package corb implements the HD Audio command/response ring pair: CORB
// (the controller-to-codec command outbox) and RIRB (the codec-to-
// controller response inbox), plus the verb/response round-trip API
// hda/codec and hda/controller drive codec graph enumeration and amp
// programming through.
//
// The top-half/bottom-half split follows this codebase's GPIO IRQ worker:
// the interrupt handler (CORB/RIRB's hardware side, simulated here by
// PumpRIRB) only ever does a non-blocking channel send; a single goroutine
// drains that channel and does the RIRB reads and the decode/dispatch work,
// so nothing interrupt-context ever blocks on a mutex.
package corb

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"hdacore/internal/hda/wire"
	"hdacore/internal/scode"
)

// HostRing is the narrow interface the controller's register block
// implements for CORB/RIRB to drive the hardware rings.
type HostRing struct {
	// CORBWrite stores verb at CORB slot index and advances the hardware
	// write pointer register to index.
	CORBWrite func(index int, verb uint32)
	// CORBReadPointer returns the hardware CORB read pointer (the slot the
	// codec has most recently consumed up to).
	CORBReadPointer func() int
	// RIRBRead returns the (response, status) pair at RIRB slot index.
	RIRBRead func(index int) (value, status uint32)
	// RIRBWritePointer returns the hardware RIRB write pointer (the slot
	// most recently filled by the codec).
	RIRBWritePointer func() int
}

const (
	corbSize = 256 // entries; matches the largest HD Audio CORB size class
	rirbSize = 256
)

type pending struct {
	mu       sync.Mutex
	waiters  []chan wire.Response
	lastResp wire.Response
	haveLast atomic.Bool
}

// Pair owns one controller's CORB write side and RIRB read side, plus the
// per-codec-address pending-response bookkeeping unsolicited responses and
// ordinary verb replies are dispatched through.
type Pair struct {
	host HostRing

	mu           sync.Mutex // serializes CORB writes only; never held across a wait
	corbWritePtr int

	rirbReadPtr int
	notify      chan struct{} // top-half -> bottom-half, capacity 1 (edge-coalesced)
	stopped     chan struct{}

	codecs [16]*pending // indexed by 4-bit codec address
}

// New constructs a Pair bound to host. Callers must call Run in a
// goroutine before issuing verbs.
func New(host HostRing) *Pair {
	p := &Pair{host: host, notify: make(chan struct{}, 1), stopped: make(chan struct{})}
	for i := range p.codecs {
		p.codecs[i] = &pending{}
	}
	return p
}

// Run drains RIRB entries until ctx is cancelled. It is the bottom half of
// the split: PumpRIRB (the top half / interrupt stub) only ever signals
// notify; all decode and waiter dispatch work happens here, off the
// interrupt path.
func (p *Pair) Run(ctx context.Context) {
	defer close(p.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.notify:
			p.drainRIRB()
		}
	}
}

// PumpRIRB is the interrupt-context entry point: it must not block. It
// does nothing but coalesce a wakeup for Run; all actual RIRB reads happen
// in drainRIRB on the Run goroutine.
func (p *Pair) PumpRIRB() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

func (p *Pair) drainRIRB() {
	hw := p.host.RIRBWritePointer()
	for p.rirbReadPtr != hw {
		p.rirbReadPtr = (p.rirbReadPtr + 1) % rirbSize
		value, status := p.host.RIRBRead(p.rirbReadPtr)
		resp := wire.DecodeResponse(value, status)
		p.dispatch(resp)
		hw = p.host.RIRBWritePointer()
	}
}

func (p *Pair) dispatch(resp wire.Response) {
	pc := p.codecs[resp.CodecAddress&0xF]
	pc.mu.Lock()
	if resp.Unsolicited {
		pc.lastResp = resp
		pc.haveLast.Store(true)
		pc.mu.Unlock()
		return
	}
	var w chan wire.Response
	if len(pc.waiters) > 0 {
		w = pc.waiters[0]
		pc.waiters = pc.waiters[1:]
	}
	pc.mu.Unlock()
	if w != nil {
		w <- resp
	}
}

// SendVerb writes v to the next CORB slot and blocks for the matching
// response on the verb's codec address.
func (p *Pair) SendVerb(ctx context.Context, v wire.Verb) (wire.Response, error) {
	pc := p.codecs[v.CodecAddress&0xF]
	ch := make(chan wire.Response, 1)
	pc.mu.Lock()
	pc.waiters = append(pc.waiters, ch)
	pc.mu.Unlock()

	if err := p.writeCORB(wire.Encode(v)); err != nil {
		return wire.Response{}, err
	}

	select {
	case <-ctx.Done():
		return wire.Response{}, scode.New(scode.Cancelled, "SendVerb", "context cancelled waiting for codec response")
	case resp := <-ch:
		return resp, nil
	}
}

// writeCORB busy-polls the hardware read pointer when the ring is full.
func (p *Pair) writeCORB(word uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	next := (p.corbWritePtr + 1) % corbSize
	for next == p.host.CORBReadPointer()%corbSize {
		// Ring full: the codec has not yet drained far enough. A real
		// controller bounds this with a retry count; this loop yields to
		// the runtime scheduler between polls.
		runtime.Gosched()
	}
	p.corbWritePtr = next
	p.host.CORBWrite(p.corbWritePtr, word)
	return nil
}

// LastUnsolicited returns the most recent unsolicited response latched for
// codecAddress, if any.
func (p *Pair) LastUnsolicited(codecAddress uint8) (wire.Response, bool) {
	pc := p.codecs[codecAddress&0xF]
	if !pc.haveLast.Load() {
		return wire.Response{}, false
	}
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.lastResp, pc.lastResp.Unsolicited
}
