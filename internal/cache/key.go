package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/dyluth/reelforge/pkg/blackboard"
)

// GenerationParams is the typed parameter set that produced an artifact.
// Unknown adapter-specific options go in Extra; they take part in the key.
type GenerationParams struct {
	Modality        blackboard.ArtifactType `json:"modality"`
	ModelID         string                  `json:"model_id,omitempty"`
	Prompt          string                  `json:"prompt,omitempty"`
	NegativePrompt  string                  `json:"negative_prompt,omitempty"`
	Seed            *int64                  `json:"seed,omitempty"`
	Width           int                     `json:"width,omitempty"`
	Height          int                     `json:"height,omitempty"`
	DurationSeconds float64                 `json:"duration_seconds,omitempty"`
	Style           string                  `json:"style,omitempty"`
	Extra           map[string]any          `json:"extra,omitempty"`
}

// ToMap returns the params as an open map with normalized values, the form
// persisted in artifacts.generation_params.
func (p GenerationParams) ToMap() (map[string]any, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode generation params: %w", err)
	}
	return decodeMap(data)
}

// ComputeCacheKey returns the SHA-256 hex digest of the canonical encoding of p.
func ComputeCacheKey(p GenerationParams) (string, error) {
	m, err := p.ToMap()
	if err != nil {
		return "", err
	}
	return ComputeKeyForMap(m)
}

// ComputeKeyForMap hashes an arbitrary parameter map. Semantically equal
// maps yield the same key regardless of insertion order or nesting.
func ComputeKeyForMap(params map[string]any) (string, error) {
	canonical, err := Canonicalize(params)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Canonicalize renders v as compact JSON with map keys sorted at every
// depth. Numbers are normalized so 1, 1.0 and json.Number("1") agree.
func Canonicalize(v any) ([]byte, error) {
	// Round trip first so structs, typed maps and slices collapse into the
	// generic JSON tree; encoding/json then emits map keys in sorted order.
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize params: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("failed to canonicalize params: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalizeNumbers(tree)); err != nil {
		return nil, fmt.Errorf("failed to canonicalize params: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// normalizeNumbers rewrites integral json.Numbers without exponent or
// fraction so 2 and 2.0 hash identically. Non-integral values keep the
// shortest float64 representation.
func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			t[k] = normalizeNumbers(val)
		}
		return t
	case []any:
		for i, val := range t {
			t[i] = normalizeNumbers(val)
		}
		return t
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return json.Number(fmt.Sprintf("%d", i))
		}
		if f, err := t.Float64(); err == nil {
			if f > -(1<<63) && f < 1<<63 && f == float64(int64(f)) {
				return json.Number(fmt.Sprintf("%d", int64(f)))
			}
			return f
		}
		return t
	default:
		return v
	}
}

func decodeMap(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to decode generation params: %w", err)
	}
	return m, nil
}
