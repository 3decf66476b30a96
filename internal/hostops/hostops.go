// Package hostops defines the narrow vtable a host controller implements
// for the sound-core library to drive DMA buffer allocation and device
// lifecycle/volume programming. It is expressed as an
// explicit struct of function values, the same "no dynamic
// dispatch/downcasting" discipline this codebase's device/bus registries
// use (an explicit interface or struct-of-funcs, never a type-switch on a
// concrete implementation).
package hostops

import (
	"hdacore/internal/ring"
	"hdacore/internal/scode"
)

// InfoKind selects which get_set_info payload kind is being exchanged.
type InfoKind int

const (
	KindState InfoKind = iota
	KindVolume
)

// DeviceState mirrors the sound-core state machine states a host's
// get_set_info(State,...) calls drive or observe.
type DeviceState int

const (
	StateUninitialized DeviceState = iota
	StateInitialized
	StateRunning
)

// Buffer is the DMA-backed allocation returned by AllocDMABuffer: the byte
// slice the sound core treats as the ring's backing store, plus whatever
// physical-address bookkeeping the host needs to later build BDL entries.
type Buffer struct {
	Bytes []byte
	PhysAddr uint64 // 0 if not meaningful to this host (e.g. test fakes)
	NonCached bool
}

// StatePayload is the payload of get_set_info(State,...): the target
// state, plus (only meaningful when State == StateInitialized) the bits a
// host needs to program its DMA engine for a newly allocated ring.
type StatePayload struct {
	State DeviceState
	Buffer *Buffer
	Ring *ring.Ring // the ring this Buffer backs; nil unless State == StateInitialized
	FragSize uint32
	Format uint32
	Channels int
	RateHz uint32
	VolLeft int
	VolRight int
}

// Ops is the operation table a host controller registers.
// AllocDMABuffer/FreeDMABuffer are optional (nil means "use the generic
// allocator"); GetSetInfo is required.
type Ops struct {
	// AllocDMABuffer requests frag_size*frag_count bytes of (possibly
	// DMA-aligned, physically contiguous, non-cached) memory for devCtx.
	// May be nil, in which case callers fall back to a plain byte slice.
	AllocDMABuffer func(ctrlCtx, devCtx any, fragSize, fragCount uint32) (*Buffer, error)

	// FreeDMABuffer releases a Buffer. FreeOrFallback calls it whenever it
	// is set, including for a fallback buffer when AllocDMABuffer is nil.
	FreeDMABuffer func(ctrlCtx, devCtx any, buf *Buffer)

	// GetSetInfo handles KindState (drives Uninitialized/Initialized/
	// Running transitions) and KindVolume (per-path amplifier
	// programming). is_set distinguishes a write (is_set) from a read.
	GetSetInfo func(ctrlCtx, devCtx any, kind InfoKind, data any, isSet bool) error
}

// AllocOrFallback calls ops.AllocDMABuffer if present, otherwise allocates
// a plain byte slice of the requested size. The fallback has no real
// physical contiguity guarantee, so it only ever reports NonCached based on
// the controller's stated requirement.
func AllocOrFallback(ops *Ops, ctrlCtx, devCtx any, fragSize, fragCount uint32, nonCachedRequired bool) (*Buffer, error) {
	if ops != nil && ops.AllocDMABuffer != nil {
		return ops.AllocDMABuffer(ctrlCtx, devCtx, fragSize, fragCount)
	}
	size := fragSize * fragCount
	if size == 0 {
		return nil, scode.New(scode.InsufficientResources, "AllocOrFallback", "zero-sized allocation requested")
	}
	return &Buffer{Bytes: make([]byte, size), NonCached: nonCachedRequired}, nil
}

func FreeOrFallback(ops *Ops, ctrlCtx, devCtx any, buf *Buffer) {
	if ops != nil && ops.FreeDMABuffer != nil {
		ops.FreeDMABuffer(ctrlCtx, devCtx, buf)
	}
	// Fallback allocation is garbage-collected; nothing else to release.
}

// SetState is a small convenience wrapper around GetSetInfo(KindState,...).
func SetState(ops *Ops, ctrlCtx, devCtx any, s DeviceState) error {
	if ops == nil || ops.GetSetInfo == nil {
		return scode.New(scode.InvalidConfiguration, "SetState", "host controller did not register GetSetInfo")
	}
	return ops.GetSetInfo(ctrlCtx, devCtx, KindState, StatePayload{State: s}, true)
}

// SetVolume is a convenience wrapper around GetSetInfo(KindVolume,...).
func SetVolume(ops *Ops, ctrlCtx, devCtx any, left, right int) error {
	if ops == nil || ops.GetSetInfo == nil {
		return scode.New(scode.InvalidConfiguration, "SetVolume", "host controller did not register GetSetInfo")
	}
	return ops.GetSetInfo(ctrlCtx, devCtx, KindVolume, [2]int{left, right}, true)
}
