package main

import (
	"sync"
	"time"

	"hdacore/internal/config"
	"hdacore/internal/devtable"
	"hdacore/internal/hostops"
)

// newFakeController builds a devtable.Controller over an in-memory
// simulated codec: no real hardware, no internal/hda wiring, just enough
// of hostops.Ops to let Handle.Write/Read exercise the ring buffer and
// state machine end to end. cmd/soundtool's bench controller works the
// same way but paces its hardware-offset updates from the negotiated
// sample rate; this one exists purely so the operator console has
// something to talk to.
func newFakeController(profile config.Profile) *devtable.Controller {
	devices := []*devtable.Device{
		{
			Type:             devtable.Output,
			SupportedFormats: devtable.Format16BitPCM | devtable.Format32BitPCM,
			MinChannels:      1,
			MaxChannels:      2,
			Rates:            []uint32{44100, 48000, 96000},
			Capability:       devtable.CapStereo,
			Routes:           []devtable.Route{{Type: devtable.RouteSpeaker}},
		},
		{
			Type:             devtable.Input,
			SupportedFormats: devtable.Format16BitPCM,
			MinChannels:      1,
			MaxChannels:      2,
			Rates:            []uint32{44100, 48000},
			Capability:       devtable.CapStereo,
			Routes:           []devtable.Route{{Type: devtable.RouteMic}},
		},
	}

	limits := devtable.Limits{
		MinFragSize:   profile.Limits.MinFragSize,
		MaxFragSize:   profile.Limits.MaxFragSize,
		MaxFragCount:  profile.Limits.MaxFragCount,
		MaxBufferSize: profile.Limits.MaxBufferSize,
		MinFragCount:  profile.Limits.MinFragCount,
		NonCachedDMA:  profile.Limits.NonCachedDMA,
	}
	ctrl := devtable.NewController(devices, limits)
	ctrl.Ops = newFakeOps()
	return ctrl
}

// fakeOps simulates a DMA engine for the console tool: once a stream goes
// Running it advances the ring's hardware offset by one fragment every
// tick, standing in for the fragment-complete interrupt internal/hda/
// stream.Runtime.OnFragmentComplete would otherwise deliver.
type fakeOps struct {
	mu    sync.Mutex
	stops map[any]chan struct{}
}

func newFakeOps() *hostops.Ops {
	fo := &fakeOps{stops: map[any]chan struct{}{}}
	inits := map[any]hostops.StatePayload{}
	return &hostops.Ops{
		GetSetInfo: func(ctrlCtx, devCtx any, kind hostops.InfoKind, data any, isSet bool) error {
			if kind != hostops.KindState || !isSet {
				return nil
			}
			payload, _ := data.(hostops.StatePayload)
			switch payload.State {
			case hostops.StateInitialized:
				fo.mu.Lock()
				inits[devCtx] = payload
				fo.mu.Unlock()
			case hostops.StateRunning:
				fo.mu.Lock()
				initPayload := inits[devCtx]
				fo.mu.Unlock()
				fo.startDrain(devCtx, initPayload)
			case hostops.StateUninitialized:
				fo.stopDrain(devCtx)
			}
			return nil
		},
	}
}

func (fo *fakeOps) startDrain(devCtx any, payload hostops.StatePayload) {
	if payload.Ring == nil || payload.FragSize == 0 {
		return
	}
	fo.mu.Lock()
	if _, already := fo.stops[devCtx]; already {
		fo.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	fo.stops[devCtx] = stop
	fo.mu.Unlock()

	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				next := (payload.Ring.HardwareOffset() + payload.FragSize) % payload.Ring.Size()
				payload.Ring.PublishHardwareOffset(next)
			}
		}
	}()
}

func (fo *fakeOps) stopDrain(devCtx any) {
	fo.mu.Lock()
	stop, ok := fo.stops[devCtx]
	delete(fo.stops, devCtx)
	fo.mu.Unlock()
	if ok {
		close(stop)
	}
}
