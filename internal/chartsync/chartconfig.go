package chartsync

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"
)

// strippedConfigKeys are environment-specific top-level fields that must be
// ignored when deciding whether two configs are the same configuration.
var strippedConfigKeys = []string{
	"id",
	"isPublished",
	"bakedGrapherURL",
	"adminBaseUrl",
	"dataApiUrl",
	"version",
}

// ParseConfig decodes a persisted chart config document.
func ParseConfig(raw []byte) (map[string]any, error) {
	var cfg map[string]any
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parsing chart config: %w", err)
	}
	return cfg, nil
}

// StripConfig returns a normalized deep copy of cfg without
// environment-specific fields: the stripped top-level keys, plus variable
// id references (dimension bindings and the map tab), since variable ids
// are assigned independently per environment. The input is not modified.
func StripConfig(cfg map[string]any) map[string]any {
	out := CloneConfig(cfg)
	for _, k := range strippedConfigKeys {
		delete(out, k)
	}
	if dims, ok := out["dimensions"].([]any); ok {
		for _, d := range dims {
			if dim, ok := d.(map[string]any); ok {
				delete(dim, "variableId")
			}
		}
	}
	if mapTab, ok := out["map"].(map[string]any); ok {
		delete(mapTab, "variableId")
	}
	return out
}

// ConfigsEqual reports whether two configs are structurally equal after
// stripping environment-specific fields. A nil config is only equal to nil.
func ConfigsEqual(a, b map[string]any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return reflect.DeepEqual(StripConfig(a), StripConfig(b))
}

// HashConfig returns a content hash of the full persisted config
// representation. Go's JSON encoder writes map keys in sorted order, so the
// hash is canonical regardless of how the config was produced.
func HashConfig(cfg map[string]any) string {
	raw, err := json.Marshal(cfg)
	if err != nil {
		// Configs come from json.Unmarshal, so they always re-marshal.
		panic(fmt.Sprintf("chart config not marshalable: %v", err))
	}
	h := sha256.Sum256(raw)
	return hex.EncodeToString(h[:])
}

// CloneConfig deep-copies a config through a JSON round trip. The copy uses
// uniform JSON types (float64 numbers, []any arrays), which also makes two
// clones comparable with reflect.DeepEqual.
func CloneConfig(cfg map[string]any) map[string]any {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{}
	}
	return out
}
