// Package config decodes the controller bring-up profile: fragment-size
// bounds, stream descriptor counts per region, default negotiation
// targets, and the debug bus buffer depth.
//
// Profiles are embedded JSON, decoded with tinyjson the same way this
// codebase's config service resolves per-device embedded configs rather
// than parsing a config file off a filesystem the kernel-mode driver
// doesn't have.
package config

import (
	"errors"

	"github.com/andreyvit/tinyjson"
)

// Limits mirrors devtable.Limits without importing it, so config stays
// leaf-level in the dependency graph; cmd/hdactl's newFakeController
// converts this into a devtable.Limits value.
type Limits struct {
	MinFragSize uint32 `json:"min_frag_size"`
	MaxFragSize uint32 `json:"max_frag_size"`
	MaxFragCount uint32 `json:"max_frag_count"`
	MaxBufferSize uint32 `json:"max_buffer_size"`
	MinFragCount uint32 `json:"min_frag_count"`
	NonCachedDMA bool `json:"non_cached_dma"`
}

// StreamRegions is the stream descriptor count per region.
type StreamRegions struct {
	Input int `json:"input"`
	Output int `json:"output"`
	Bidirectional int `json:"bidirectional"`
}

// Profile is one controller's full bring-up configuration.
type Profile struct {
	Name string `json:"name"`
	Limits Limits `json:"limits"`
	StreamRegions StreamRegions `json:"stream_regions"`
	DebugBusDepth int `json:"debug_bus_depth"`
	LogLevel string `json:"log_level"`
}

// Decode parses raw JSON bytes into a Profile using tinyjson's relaxed
// decoder.
func Decode(raw []byte) (Profile, error) {
	if len(raw) == 0 {
		return Profile{}, errors.New("config: empty profile")
	}
	r := tinyjson.Raw(raw)
	val := r.Value()
	if err := r.EnsureEOF(); err != nil {
		return Profile{}, err
	}
	m, ok := val.(map[string]any)
	if !ok {
		return Profile{}, errors.New("config: profile is not a JSON object")
	}
	return decodeProfile(m)
}

func decodeProfile(m map[string]any) (Profile, error) {
	p := Profile{}
	p.Name, _ = m["name"].(string)
	p.LogLevel, _ = m["log_level"].(string)
	p.DebugBusDepth = intField(m, "debug_bus_depth")

	if lim, ok := m["limits"].(map[string]any); ok {
		p.Limits = Limits{
			MinFragSize: uint32(intField(lim, "min_frag_size")),
			MaxFragSize: uint32(intField(lim, "max_frag_size")),
			MaxFragCount: uint32(intField(lim, "max_frag_count")),
			MaxBufferSize: uint32(intField(lim, "max_buffer_size")),
			MinFragCount: uint32(intField(lim, "min_frag_count")),
		}
		p.Limits.NonCachedDMA, _ = lim["non_cached_dma"].(bool)
	}
	if sr, ok := m["stream_regions"].(map[string]any); ok {
		p.StreamRegions = StreamRegions{
			Input: intField(sr, "input"),
			Output: intField(sr, "output"),
			Bidirectional: intField(sr, "bidirectional"),
		}
	}
	return p, nil
}

func intField(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
