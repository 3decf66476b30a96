package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_ParsesAllFields(t *testing.T) {
	raw := []byte(`{
		"name": "bench",
		"limits": {"min_frag_size": 64, "max_frag_size": 4096, "max_frag_count": 8, "max_buffer_size": 65536, "min_frag_count": 2, "non_cached_dma": true},
		"stream_regions": {"input": 1, "output": 3, "bidirectional": 0},
		"debug_bus_depth": 8,
		"log_level": "debug"
	}`)
	p, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, "bench", p.Name)
	assert.Equal(t, uint32(64), p.Limits.MinFragSize)
	assert.Equal(t, uint32(4096), p.Limits.MaxFragSize)
	assert.True(t, p.Limits.NonCachedDMA)
	assert.Equal(t, 3, p.StreamRegions.Output)
	assert.Equal(t, 8, p.DebugBusDepth)
	assert.Equal(t, "debug", p.LogLevel)
}

func TestDecode_RejectsEmptyInput(t *testing.T) {
	_, err := Decode(nil)
	assert.Error(t, err)
}

func TestDecode_RejectsNonObjectTopLevel(t *testing.T) {
	_, err := Decode([]byte(`[1,2,3]`))
	assert.Error(t, err)
}

func TestLoad_EmbeddedProfiles(t *testing.T) {
	p, err := Load("generic")
	require.NoError(t, err)
	assert.Equal(t, "generic", p.Name)
	assert.Equal(t, uint32(128), p.Limits.MinFragSize)

	_, err = Load("does-not-exist")
	assert.Error(t, err)
}

func TestLoad_RespectsEmbeddedLookupOverride(t *testing.T) {
	orig := EmbeddedLookup
	defer func() { EmbeddedLookup = orig }()

	EmbeddedLookup = func(name string) ([]byte, bool) {
		if name == "custom" {
			return []byte(`{"name": "custom", "debug_bus_depth": 1}`), true
		}
		return nil, false
	}

	p, err := Load("custom")
	require.NoError(t, err)
	assert.Equal(t, "custom", p.Name)
}
