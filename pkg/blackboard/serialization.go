package blackboard

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Serialization helpers for converting between Go structs and Redis hashes
//
// Redis stores data as string-to-string maps (hashes). Nested fields are
// JSON-encoded into single hash fields, keeping version and status readable
// with HGET while the aggregate stays lossless.

// ProjectToHash converts a Project to the Redis hash format used by the read cache.
func ProjectToHash(p *Project) (map[string]interface{}, error) {
	specJSON, err := json.Marshal(p.GlobalSpec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal global_spec: %w", err)
	}
	budgetJSON, err := json.Marshal(p.Budget)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal budget: %w", err)
	}
	registryJSON, err := json.Marshal(p.AssetRegistry)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal asset_registry: %w", err)
	}
	episodes := p.Episodes
	if episodes == nil {
		episodes = []Episode{}
	}
	episodesJSON, err := json.Marshal(episodes)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal episodes: %w", err)
	}

	return map[string]interface{}{
		"project_id":     p.ProjectID,
		"version":        p.Version,
		"status":         string(p.Status),
		"global_spec":    string(specJSON),
		"budget":         string(budgetJSON),
		"asset_registry": string(registryJSON),
		"episodes":       string(episodesJSON),
		"created_at_ms":  p.CreatedAt.UnixMilli(),
		"updated_at_ms":  p.UpdatedAt.UnixMilli(),
	}, nil
}

// HashToProject converts a Redis hash back to a Project.
func HashToProject(hash map[string]string) (*Project, error) {
	version, err := strconv.Atoi(hash["version"])
	if err != nil {
		return nil, fmt.Errorf("invalid version field: %w", err)
	}

	p := &Project{
		ProjectID: hash["project_id"],
		Version:   version,
		Status:    ProjectStatus(hash["status"]),
	}

	if err := json.Unmarshal([]byte(hash["global_spec"]), &p.GlobalSpec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal global_spec: %w", err)
	}
	if err := json.Unmarshal([]byte(hash["budget"]), &p.Budget); err != nil {
		return nil, fmt.Errorf("failed to unmarshal budget: %w", err)
	}
	if raw := hash["asset_registry"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &p.AssetRegistry); err != nil {
			return nil, fmt.Errorf("failed to unmarshal asset_registry: %w", err)
		}
	}
	p.AssetRegistry.ensureMaps()
	if raw := hash["episodes"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &p.Episodes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal episodes: %w", err)
		}
	}
	if p.Episodes == nil {
		p.Episodes = []Episode{}
	}

	createdMs, _ := strconv.ParseInt(hash["created_at_ms"], 10, 64)
	updatedMs, _ := strconv.ParseInt(hash["updated_at_ms"], 10, 64)
	p.CreatedAt = time.UnixMilli(createdMs).UTC()
	p.UpdatedAt = time.UnixMilli(updatedMs).UTC()

	return p, nil
}

// MarshalRegistry encodes an asset registry for the registry cache key.
func MarshalRegistry(r AssetRegistry) (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("failed to marshal asset registry: %w", err)
	}
	return string(data), nil
}

// UnmarshalRegistry decodes an asset registry, always returning initialized maps.
func UnmarshalRegistry(raw string) (AssetRegistry, error) {
	var r AssetRegistry
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return AssetRegistry{}, fmt.Errorf("failed to unmarshal asset registry: %w", err)
	}
	r.ensureMaps()
	return r, nil
}

// CloneProject returns a deep copy so mutators never alias cached state.
func CloneProject(p *Project) (*Project, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to clone project: %w", err)
	}
	var out Project
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to clone project: %w", err)
	}
	out.AssetRegistry.ensureMaps()
	return &out, nil
}
