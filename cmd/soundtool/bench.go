package main

import (
	"sync"
	"time"

	"hdacore/internal/devtable"
	"hdacore/internal/hostops"
)

// newBenchController builds a devtable.Controller whose output/input
// devices are backed by a simulated DMA engine that advances the ring's
// hardware offset once per fragment period, at a rate derived from the
// negotiated sample rate and frame size rather than a fixed tick (unlike
// cmd/hdactl's simpler always-20ms fake), so scenario timings are
// reasonably representative of real playback/capture pacing.
func newBenchController() *devtable.Controller {
	devices := []*devtable.Device{
		{
			Type:             devtable.Output,
			SupportedFormats: devtable.Format16BitPCM | devtable.Format32BitPCM | devtable.FormatFloat32,
			MinChannels:      1,
			MaxChannels:      2,
			Rates:            []uint32{44100, 48000, 96000},
			Capability:       devtable.CapStereo | devtable.CapMmap,
			Routes:           []devtable.Route{{Type: devtable.RouteSpeaker}, {Type: devtable.RouteLineOut}},
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
		MinFragSize:   128,
		MaxFragSize:   1 << 20,
		MaxFragCount:  64,
		MaxBufferSize: 1 << 24,
		MinFragCount:  2,
	}
	ctrl := devtable.NewController(devices, limits)
	ctrl.Ops = newBenchOps()
	return ctrl
}

type benchOps struct {
	mu    sync.Mutex
	stops map[any]chan struct{}
}

func newBenchOps() *hostops.Ops {
	bo := &benchOps{stops: map[any]chan struct{}{}}
	inits := map[any]hostops.StatePayload{}
	return &hostops.Ops{
		GetSetInfo: func(ctrlCtx, devCtx any, kind hostops.InfoKind, data any, isSet bool) error {
			if kind != hostops.KindState || !isSet {
				return nil
			}
			payload, _ := data.(hostops.StatePayload)
			switch payload.State {
			case hostops.StateInitialized:
				bo.mu.Lock()
				inits[devCtx] = payload
				bo.mu.Unlock()
			case hostops.StateRunning:
				bo.mu.Lock()
				initPayload := inits[devCtx]
				bo.mu.Unlock()
				bo.startDrain(devCtx, initPayload)
			case hostops.StateUninitialized:
				bo.stopDrain(devCtx)
			}
			return nil
		},
	}
}

// bytesPerFrame assumes 16-bit samples when Format doesn't resolve to a
// known width; this is a bench approximation, not codec-accurate pacing.
func bytesPerFrame(payload hostops.StatePayload) int {
	channels := payload.Channels
	if channels <= 0 {
		channels = 1
	}
	width := 2
	switch devtable.FormatBits(payload.Format) {
	case devtable.Format8BitPCM:
		width = 1
	case devtable.Format32BitPCM, devtable.FormatFloat32:
		width = 4
	}
	return channels * width
}

func (bo *benchOps) startDrain(devCtx any, payload hostops.StatePayload) {
	if payload.Ring == nil || payload.FragSize == 0 || payload.RateHz == 0 {
		return
	}
	bo.mu.Lock()
	if _, already := bo.stops[devCtx]; already {
		bo.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	bo.stops[devCtx] = stop
	bo.mu.Unlock()

	frameBytes := bytesPerFrame(payload)
	framesPerFrag := int(payload.FragSize) / frameBytes
	if framesPerFrag <= 0 {
		framesPerFrag = 1
	}
	period := time.Duration(framesPerFrag) * time.Second / time.Duration(payload.RateHz)
	if period <= 0 {
		period = time.Millisecond
	}

	go func() {
		ticker := time.NewTicker(period)
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

func (bo *benchOps) stopDrain(devCtx any) {
	bo.mu.Lock()
	stop, ok := bo.stops[devCtx]
	delete(bo.stops, devCtx)
	bo.mu.Unlock()
	if ok {
		close(stop)
	}
}
