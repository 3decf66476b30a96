package devtable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultNegotiation_PicksLowestFormatBit(t *testing.T) {
	d := &Device{
		SupportedFormats: Format16BitPCM | Format24BitPCM,
		MaxChannels: 2,
		Rates: []uint32{44100, 48000},
	}
	neg := DefaultNegotiation(d)
	assert.Equal(t, Format16BitPCM, neg.Format)
	assert.Equal(t, 2, neg.Channels)
	assert.Equal(t, uint32(48000), neg.RateHz)
	assert.Equal(t, DefaultVolume, neg.Vol.Left)
}

func TestSetFormat_RejectsUnsupportedLeavesUnchanged(t *testing.T) {
	got := SetFormat(Format16BitPCM, Format16BitPCM, Format24BitPCM)
	assert.Equal(t, Format16BitPCM, got)
}

func TestSetFormat_PicksLowestMatchingBit(t *testing.T) {
	got := SetFormat(Format16BitPCM|Format24BitPCM, Format16BitPCM, Format16BitPCM|Format24BitPCM)
	assert.Equal(t, Format16BitPCM, got)
}

func TestSetStereo(t *testing.T) {
	channels, stereo := SetStereo(2, 1)
	assert.Equal(t, 2, channels)
	assert.True(t, stereo)

	channels, stereo = SetStereo(1, 1)
	assert.Equal(t, 1, channels)
	assert.False(t, stereo)
}

func TestResolveBufferSizeHint_ClampsAndPowersOfTwo(t *testing.T) {
	lim := Limits{MinFragSize: 128, MaxFragSize: 4096, MinFragCount: 2, MaxFragCount: 8, MaxBufferSize: 1 << 20}
	fragSize, fragCount, err := ResolveBufferSizeHint(lim, BufferSizeHint{FragCount: 3, FragSizeExp: 9})
	require.NoError(t, err)
	assert.Equal(t, uint32(512), fragSize)
	assert.Equal(t, uint32(3), fragCount)
}

func TestResolveBufferSizeHint_RejectsOverMaxBuffer(t *testing.T) {
	lim := Limits{MinFragSize: 128, MaxFragSize: 1 << 20, MinFragCount: 2, MaxFragCount: 64, MaxBufferSize: 1024}
	_, _, err := ResolveBufferSizeHint(lim, BufferSizeHint{FragCount: 64, FragSizeExp: 16})
	assert.Error(t, err)
}
