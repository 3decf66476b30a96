package stream

import "hdacore/internal/scode"

// BDLEntry is one Buffer Descriptor List entry: a physically contiguous
// span of the ring's backing buffer, plus whether its completion should
// raise an interrupt.
type BDLEntry struct {
	PhysAddr uint64
	Length uint32
	IOC bool // interrupt-on-completion
}

// BuildBDL lays out one entry per fragment covering the ring's backing
// buffer. basePhysAddr is the buffer's physical base
// address (0 for backends without real DMA addressing, e.g. test fakes);
// every entry sets IOC so the controller's interrupt handler can call
// ring.PublishHardwareOffset on each fragment boundary.
func BuildBDL(basePhysAddr uint64, fragSize, fragCount uint32) ([]BDLEntry, error) {
	if fragCount == 0 || fragSize == 0 {
		return nil, scode.New(scode.InvalidParameter, "BuildBDL", "fragment size and count must be non-zero")
	}
	entries := make([]BDLEntry, fragCount)
	for i := uint32(0); i < fragCount; i++ {
		entries[i] = BDLEntry{
			PhysAddr: basePhysAddr + uint64(i)*uint64(fragSize),
			Length: fragSize,
			IOC: true,
		}
	}
	return entries, nil
}

// FragmentForOffset returns the index of the fragment containing byte
// offset off within a ring of the given fragSize.
func FragmentForOffset(off, fragSize uint32) uint32 {
	if fragSize == 0 {
		return 0
	}
	return off / fragSize
}
