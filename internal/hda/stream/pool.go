// Package stream implements the HD Audio stream descriptor pool and the
// per-descriptor runtime that drives a descriptor through
// reset/initialize/start/stop and reports fragment-complete positions back
// into the sound-core ring buffer.
//
// First-clear-bit allocation over a small fixed-size bitmap is the same
// shape this codebase's stream/region allocators use elsewhere; a plain
// slice scan is fine at the descriptor counts HD Audio controllers expose
// (4-16 per direction).
package stream

import (
	"sync"

	"hdacore/internal/scode"
)

// Region identifies which hardware descriptor group a stream is allocated
// from: input, output, or bidirectional controllers expose
// a single shared region.
type Region int

const (
	RegionInput Region = iota
	RegionOutput
	RegionBidirectional
)

// Descriptor is one hardware stream descriptor's allocation state.
type Descriptor struct {
	Number int // 1-based hardware stream tag (0 means unassigned/disabled)
	Region Region
	inUse  bool
}

// Pool tracks descriptor allocation across one or more regions: a
// controller may expose a combined pool or split input/output pools; Pool
// is built once at bring-up with whichever shape the controller reports.
type Pool struct {
	mu    sync.Mutex
	descs []*Descriptor
}

// NewPool builds a pool with count descriptors in each of the given
// regions, numbered 1..count within each region (stream tag 0 is reserved
// and never allocated, per the HD Audio spec).
func NewPool(regions map[Region]int) *Pool {
	p := &Pool{}
	for region, count := range regions {
		for n := 1; n <= count; n++ {
			p.descs = append(p.descs, &Descriptor{Number: n, Region: region})
		}
	}
	return p
}

// Acquire returns the first free descriptor in region, preferring lower
// stream numbers. RegionBidirectional descriptors are eligible for either input or
// output requests when no dedicated descriptor is free.
func (p *Pool) Acquire(region Region) (*Descriptor, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, d := range p.descs {
		if !d.inUse && d.Region == region {
			d.inUse = true
			return d, nil
		}
	}
	for _, d := range p.descs {
		if !d.inUse && d.Region == RegionBidirectional {
			d.inUse = true
			return d, nil
		}
	}
	return nil, scode.New(scode.InsufficientResources, "Acquire", "no free stream descriptor in region")
}

// Release returns d to the pool.
func (p *Pool) Release(d *Descriptor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	d.inUse = false
}
