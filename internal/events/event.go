// Package events carries generation events between agents over Redis Streams.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dyluth/reelforge/pkg/blackboard"
)

// Type discriminates the event union.
type Type string

const (
	TypeImageGenerated       Type = "image_generated"
	TypeVideoGenerated       Type = "video_generated"
	TypeVoiceGenerated       Type = "voice_generated"
	TypeMusicGenerated       Type = "music_generated"
	TypeTextGenerated        Type = "text_generated"
	TypeShotCompleted        Type = "shot_completed"
	TypeProjectStatusChanged Type = "project_status_changed"
)

// Validate checks if the Type is a known event type.
func (t Type) Validate() error {
	switch t {
	case TypeImageGenerated, TypeVideoGenerated, TypeVoiceGenerated, TypeMusicGenerated,
		TypeTextGenerated, TypeShotCompleted, TypeProjectStatusChanged:
		return nil
	default:
		return fmt.Errorf("unknown event type: %q", t)
	}
}

// IsGeneration reports whether events of this type consume budget.
func (t Type) IsGeneration() bool {
	switch t {
	case TypeImageGenerated, TypeVideoGenerated, TypeVoiceGenerated, TypeMusicGenerated, TypeTextGenerated:
		return true
	default:
		return false
	}
}

// Event is one message on the generation stream. Fields not used by a
// given Type are left zero; anything else a producer wants to carry goes
// in Extra. Producers that charge the board themselves set Charged so the
// chef does not bill the same generation twice.
type Event struct {
	ID              string            `json:"-"` // stream entry ID, set on consume
	Type            Type              `json:"type"`
	ProjectID       string            `json:"project_id"`
	ArtifactID      string            `json:"artifact_id,omitempty"`
	ShotID          string            `json:"shot_id,omitempty"`
	ModelID         string            `json:"model_id,omitempty"`
	Cost            *blackboard.Money `json:"cost,omitempty"`
	DurationSeconds float64           `json:"duration_seconds,omitempty"`
	Count           int               `json:"count,omitempty"`
	CacheHit        bool              `json:"cache_hit,omitempty"`
	Charged         bool              `json:"charged,omitempty"` // cost already recorded on the board
	Status          string            `json:"status,omitempty"`
	Timestamp       time.Time         `json:"timestamp"`
	Extra           map[string]string `json:"extra,omitempty"`
}

// Validate checks if the Event has valid field values.
func (e Event) Validate() error {
	if err := e.Type.Validate(); err != nil {
		return err
	}
	if e.ProjectID == "" {
		return fmt.Errorf("project_id cannot be empty")
	}
	if e.Cost != nil && e.Cost.Amount < 0 {
		return fmt.Errorf("cost must be >= 0, got %v", e.Cost.Amount)
	}
	return nil
}

// encode renders the stream entry fields.
func (e Event) encode() (map[string]interface{}, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return map[string]interface{}{
		"type":       string(e.Type),
		"project_id": e.ProjectID,
		"payload":    string(payload),
	}, nil
}

// Decode parses a stream entry written by Publish.
func Decode(id string, values map[string]interface{}) (Event, error) {
	raw, ok := values["payload"].(string)
	if !ok {
		return Event{}, fmt.Errorf("stream entry %s has no payload", id)
	}
	var e Event
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return Event{}, fmt.Errorf("failed to unmarshal event %s: %w", id, err)
	}
	e.ID = id
	return e, nil
}
