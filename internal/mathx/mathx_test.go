package mathx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestClamp(t *testing.T) {
	assert.Equal(t, 5, Clamp(5, 0, 10))
	assert.Equal(t, 0, Clamp(-3, 0, 10))
	assert.Equal(t, 10, Clamp(30, 0, 10))
}

func TestNearestUint32_TiesPreferLower(t *testing.T) {
	assert.Equal(t, uint32(44100), NearestUint32([]uint32{44100, 48000}, 46050))
}

func TestNearestUint32_EmptyReturnsDesired(t *testing.T) {
	assert.Equal(t, uint32(12345), NearestUint32(nil, 12345))
}

func TestIsPowerOfTwo(t *testing.T) {
	assert.True(t, IsPowerOfTwo(1))
	assert.True(t, IsPowerOfTwo(2048))
	assert.False(t, IsPowerOfTwo(0))
	assert.False(t, IsPowerOfTwo(3))
}

// TestNearestUint32_AlwaysPicksAMember checks, across random sorted rate
// lists and desired values, that NearestUint32 never returns a value not
// present in the candidate set.
func TestNearestUint32_AlwaysPicksAMember(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		rates := rapid.SliceOfDistinct(rapid.Uint32Range(1, 200000), func(v uint32) uint32 { return v }).Draw(rt, "rates")
		if len(rates) == 0 {
			return
		}
		desired := rapid.Uint32Range(0, 200000).Draw(rt, "desired")
		got := NearestUint32(rates, desired)
		assert.Contains(rt, rates, got)
	})
}
