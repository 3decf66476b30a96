package devtable

import (
	"hdacore/internal/mathx"
	"hdacore/internal/scode"
)

// DefaultFragSize and DefaultFragCount are the per-handle negotiation
// defaults set on open.
const (
	DefaultFragSize uint32 = 2048 // 2 KiB
	DefaultFragCount uint32 = 2
	DefaultRateHz uint32 = 48000
	DefaultVolume int = 75
)

// Volume packs independent left/right gains, each 0..100.
type Volume struct {
	Left, Right int
}

// Negotiation is the per-Handle negotiated state of : format,
// channel count, sample rate, volume, and buffer shape. It is a plain
// struct (not atomic) because it is only ever touched under the owning
// Handle's serialization lock.
type Negotiation struct {
	FragSize uint32
	FragCount uint32
	Format FormatBits
	Channels int
	RateHz uint32
	Vol Volume
}

// DefaultNegotiation computes the defaults applied on open:
// 2 KiB / 2 fragments, lowest supported format bit, device max channels,
// nearest rate to 48 kHz, 75/75 volume.
func DefaultNegotiation(d *Device) Negotiation {
	return Negotiation{
		FragSize: DefaultFragSize,
		FragCount: DefaultFragCount,
		Format: lowestBit(d.SupportedFormats),
		Channels: d.MaxChannels,
		RateHz: NearestRate(d.Rates, DefaultRateHz),
		Vol: Volume{Left: DefaultVolume, Right: DefaultVolume},
	}
}

func lowestBit(mask FormatBits) FormatBits {
	if mask == 0 {
		return 0
	}
	return mask & (^mask + 1)
}

// NearestRate implements the tie-break rule: the rate minimizing
// |r-desired|, preferring the lower rate when both candidates are
// equidistant.
func NearestRate(supported []uint32, desired uint32) uint32 {
	return mathx.NearestUint32(supported, desired)
}

// SetFormat picks the lowest set bit of (request & supported); if none
// match, the format is left unchanged. Returns the (possibly unchanged)
// chosen value — idempotent
func SetFormat(supported, current, request FormatBits) FormatBits {
	masked := request & supported
	if masked == 0 {
		return current
	}
	return lowestBit(masked)
}

// SetChannelCount clamps request to the device's maximum.
func SetChannelCount(maxChannels, request int) int {
	if request < 1 {
		request = 1
	}
	return mathx.Clamp(request, 1, maxChannels)
}

// SetStereo returns (channels, stereo) non-zero request
// plus device support for >=2 channels selects stereo, otherwise mono.
func SetStereo(maxChannels int, request int) (channels int, stereo bool) {
	if request != 0 && maxChannels >= 2 {
		return 2, true
	}
	return 1, false
}

// SetSampleRate snaps request to the nearest supported rate.
func SetSampleRate(supported []uint32, request uint32) uint32 {
	return NearestRate(supported, request)
}

// QueueSize is the payload of GetInputQueueSize/GetOutputQueueSize.
type QueueSize struct {
	BytesAvailable uint32
	FragmentsAvailable uint32
	FragmentSize uint32
	FragmentCount uint32
}

// BufferSizeHint decodes SetBufferSizeHint's request:
// fragment_count and fragment_size = 1 << exponent.
type BufferSizeHint struct {
	FragCount uint32
	FragSizeExp uint32
}

// ResolveBufferSizeHint clamps a hint against controller limits and
// verifies the resulting total is below MaxBufferSize. It does not mutate
// Negotiation directly; callers apply the result only while the handle is
// Uninitialized.
func ResolveBufferSizeHint(lim Limits, hint BufferSizeHint) (fragSize, fragCount uint32, err error) {
	fragSize = uint32(1) << hint.FragSizeExp
	minFrag := lim.MinFragSize
	if minFrag == 0 {
		minFrag = 128
	}
	maxFrag := lim.MaxFragSize
	if maxFrag == 0 {
		maxFrag = 1 << 20
	}
	fragSize = mathx.ClampU32(fragSize, minFrag, maxFrag)
	fragSize = nextPowerOfTwo(fragSize)

	minCount := lim.MinFragCount
	if minCount == 0 {
		minCount = 2
	}
	maxCount := lim.MaxFragCount
	if maxCount == 0 {
		maxCount = 64
	}
	fragCount = mathx.ClampU32(hint.FragCount, minCount, maxCount)

	total := fragSize * fragCount
	maxBuf := lim.MaxBufferSize
	if maxBuf == 0 {
		maxBuf = 1 << 24
	}
	if total >= maxBuf {
		return 0, 0, scode.New(scode.InvalidParameter, "ResolveBufferSizeHint", "total buffer size exceeds controller maximum")
	}
	return fragSize, fragCount, nil
}

func nextPowerOfTwo(v uint32) uint32 {
	if v == 0 {
		return 1
	}
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v++
	return v
}
