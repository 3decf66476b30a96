// Package devtable models the sound-core device table: the ordered list of
// SoundDevices a Controller publishes, their capability/format/rate
// metadata, and the atomic BUSY/ENABLE_INPUT/ENABLE_OUTPUT flag word each
// one carries.
//
// The lookup-by-declaration-order and atomic-flag-claim patterns are
// generalized from this codebase's device/capability registry, which keeps
// a dynamic map[string]Device keyed by (domain,kind,name); here the set of
// devices is fixed once codec-graph enumeration (hda/codec) completes, so
// the table is a plain slice walked in declaration order rather than a map.
package devtable

import (
	"sync/atomic"
	"time"

	"hdacore/internal/hostops"
	"hdacore/internal/scode"
)

// DeviceType distinguishes playable (Output) from recordable (Input)
// endpoints.
type DeviceType int

const (
	Output DeviceType = iota
	Input
)

func (t DeviceType) String() string {
	if t == Input {
		return "input"
	}
	return "output"
}

// FormatBits is a bitmask of supported wire sample formats.
type FormatBits uint32

const (
	Format8BitPCM FormatBits = 1 << iota
	Format16BitPCM
	Format20BitPCM
	Format24BitPCM
	Format32BitPCM
	FormatFloat32
	FormatAC3
)

// Capability is the device capability bitmask.
type Capability uint32

const (
	CapMmap Capability = 1 << iota
	CapManualEnable
	CapAnalogInterface
	CapDigitalInterface
	CapMono
	CapStereo
	CapMulti
)

// RouteType enumerates the widget-chain purposes a Device's Route can serve.
type RouteType int

const (
	RouteLineOut RouteType = iota
	RouteSpeaker
	RouteHeadphone
	RouteCD
	RouteSPDIFOut
	RouteDigitalOut
	RouteLineIn
	RouteAux
	RouteMic
	RouteSPDIFIn
	RouteDigitalIn
	RouteUnknown
)

// Route is a typed widget chain plus the opaque primary-path descriptor the
// stream runtime (hda/stream) needs to re-program the path on Initialize.
type Route struct {
	Type    RouteType
	Widgets []int // indices into the owning FunctionGroup, length <= 10
	Primary any   // opaque path descriptor consumed by hda/stream
}

// flagWord bits.
const (
	flagBusy uint32 = 1 << iota
	flagEnableInput
	flagEnableOutput
)

// Flags is the atomic word guarding exclusive access and per-direction
// auto-start policy.
type Flags struct {
	bits atomic.Uint32
}

// TryAcquireBusy atomically ORs BUSY in, returning false if it was already
// set.
func (f *Flags) TryAcquireBusy() bool {
	for {
		cur := f.bits.Load()
		if cur&flagBusy != 0 {
			return false
		}
		if f.bits.CompareAndSwap(cur, cur|flagBusy) {
			return true
		}
	}
}

// ReleaseBusy clears BUSY.
func (f *Flags) ReleaseBusy() {
	for {
		cur := f.bits.Load()
		if f.bits.CompareAndSwap(cur, cur&^flagBusy) {
			return
		}
	}
}

func (f *Flags) IsBusy() bool { return f.bits.Load()&flagBusy != 0 }

func enableBit(t DeviceType) uint32 {
	if t == Input {
		return flagEnableInput
	}
	return flagEnableOutput
}

// SetEnable ORs or clears the direction's enable bit, returning the bit's
// new value.
func (f *Flags) SetEnable(t DeviceType, on bool) bool {
	bit := enableBit(t)
	for {
		cur := f.bits.Load()
		var next uint32
		if on {
			next = cur | bit
		} else {
			next = cur &^ bit
		}
		if f.bits.CompareAndSwap(cur, next) {
			return next&bit != 0
		}
	}
}

func (f *Flags) Enabled(t DeviceType) bool {
	return f.bits.Load()&enableBit(t) != 0
}

// EnabledMask returns which of ENABLE_INPUT/ENABLE_OUTPUT are currently set,
// for the EnableDevice ioctl's reply.
func (f *Flags) EnabledMask() (input, output bool) {
	cur := f.bits.Load()
	return cur&flagEnableInput != 0, cur&flagEnableOutput != 0
}

// Device is one playable or recordable endpoint.
type Device struct {
	Type             DeviceType
	SupportedFormats FormatBits
	MinChannels      int
	MaxChannels      int
	Rates            []uint32 // sorted ascending
	Capability       Capability
	Routes           []Route // Routes[0] is primary
	DriverCtx        any     // opaque driver context (hda codec/path handle)
	Flags            Flags
}

// PrimaryRoute returns the device's default route, or the zero Route and
// false if none was published (should not happen for an accessible
// converter; codec enumeration always seeds Routes[0]).
func (d *Device) PrimaryRoute() (Route, bool) {
	if len(d.Routes) == 0 {
		return Route{}, false
	}
	return d.Routes[0], true
}

// Controller owns an ordered array of SoundDevices, a reference count, a
// creation timestamp, and a host operation table. The concrete HostOps
// implementation is supplied by hda/controller at bring-up; devtable only
// depends on the narrow interface in internal/hostops to avoid a cycle
// back into the HDA-specific package.
type Controller struct {
	Devices   []*Device
	CreatedAt time.Time
	Limits    Limits
	Ops       *hostops.Ops
	Ctx       any // opaque controller context passed back into Ops calls

	refCount atomic.Int32
}

// Limits mirrors the registration-time constants a host controller
// supplies: fragment-size bounds, fragment-count bound, total buffer bound,
// and whether DMA buffers must be non-cached.
type Limits struct {
	MinFragSize   uint32
	MaxFragSize   uint32
	MaxFragCount  uint32
	MaxBufferSize uint32
	MinFragCount  uint32
	NonCachedDMA  bool
}

func NewController(devices []*Device, limits Limits) *Controller {
	return &Controller{Devices: devices, CreatedAt: time.Now(), Limits: limits}
}

// AddRef increments the controller's reference count (an open adds one).
func (c *Controller) AddRef() { c.refCount.Add(1) }

// Release decrements the reference count, returning the count after the
// release. Destruction is the caller's responsibility once it hits zero.
func (c *Controller) Release() int32 { return c.refCount.Add(-1) }

func (c *Controller) RefCount() int32 { return c.refCount.Load() }

// Lookup resolves a path: "input"/"output" bind to the first free device of
// that type at open time (so Lookup alone does not acquire BUSY — callers
// call Device.Flags.TryAcquireBusy separately, since "any device of that
// type" needs a retry loop across declaration order), "input%d"/"output%d"
// resolve to the Nth device of that type in declaration order, and the
// empty name resolves to the controller root (no device, never fails for
// resource).
func (c *Controller) Lookup(name string) (dev *Device, isRoot bool, err error) {
	if name == "" || name == "." {
		return nil, true, nil
	}
	typ, idx, generic, ok := parseName(name)
	if !ok {
		return nil, false, scode.New(scode.NotFound, "Lookup", "no matching name: "+name)
	}
	if generic {
		// Caller must scan+acquire; Lookup returns the first device of the
		// type so callers without special acquisition logic still get a
		// sensible default, but Open (in soundcore) redoes the scan under
		// the acquire attempt per device.
		for _, d := range c.Devices {
			if d.Type == typ {
				return d, false, nil
			}
		}
		return nil, false, scode.New(scode.NotFound, "Lookup", "no device of type: "+typ.String())
	}
	n := -1
	for _, d := range c.Devices {
		if d.Type != typ {
			continue
		}
		n++
		if n == idx {
			return d, false, nil
		}
	}
	return nil, false, scode.New(scode.NotFound, "Lookup", "index out of range: "+name)
}

// DevicesOfType returns the subset of Devices matching t, in declaration
// order, used both by Open's generic-name scan and directory listing.
func (c *Controller) DevicesOfType(t DeviceType) []*Device {
	var out []*Device
	for _, d := range c.Devices {
		if d.Type == t {
			out = append(out, d)
		}
	}
	return out
}

// ListNames returns the directory entries in the stable order
// input0..inputN-1, output0..outputM-1, input, output.
func (c *Controller) ListNames() []string {
	var names []string
	for i := range c.DevicesOfType(Input) {
		names = append(names, "input"+itoa(i))
	}
	for i := range c.DevicesOfType(Output) {
		names = append(names, "output"+itoa(i))
	}
	names = append(names, "input", "output")
	return names
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

func parseName(name string) (typ DeviceType, idx int, generic bool, ok bool) {
	switch name {
	case "input":
		return Input, 0, true, true
	case "output":
		return Output, 0, true, true
	}
	for _, cand := range [...]DeviceType{Input, Output} {
		prefix := cand.String()
		if len(name) > len(prefix) && name[:len(prefix)] == prefix {
			rest := name[len(prefix):]
			n, ok := parseUint(rest)
			if ok {
				return cand, n, false, true
			}
		}
	}
	return 0, 0, false, false
}

func parseUint(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}
