package blackboard

import (
	"fmt"
	"math"
	"time"
)

// ProjectStatus is the lifecycle state of a project.
// Projects are never hard-deleted; they end in COMPLETED or FAILED.
type ProjectStatus string

const (
	ProjectStatusCreated    ProjectStatus = "CREATED"
	ProjectStatusInProgress ProjectStatus = "IN_PROGRESS"
	ProjectStatusCompleted  ProjectStatus = "COMPLETED"
	ProjectStatusFailed     ProjectStatus = "FAILED"
)

// Validate checks if the ProjectStatus is a valid enum value.
func (s ProjectStatus) Validate() error {
	switch s {
	case ProjectStatusCreated, ProjectStatusInProgress, ProjectStatusCompleted, ProjectStatusFailed:
		return nil
	default:
		return fmt.Errorf("unknown project status: %q", s)
	}
}

// QualityTier is the ordinal degradation ladder: high > balanced > fast.
type QualityTier string

const (
	QualityHigh     QualityTier = "high"
	QualityBalanced QualityTier = "balanced"
	QualityFast     QualityTier = "fast"
)

// Rank orders tiers for comparison. Unknown tiers rank 0.
func (q QualityTier) Rank() int {
	switch q {
	case QualityHigh:
		return 3
	case QualityBalanced:
		return 2
	case QualityFast:
		return 1
	default:
		return 0
	}
}

// Validate checks if the QualityTier is a valid enum value.
func (q QualityTier) Validate() error {
	if q.Rank() == 0 {
		return fmt.Errorf("unknown quality tier: %q", q)
	}
	return nil
}

// QualityTiers lists every tier from highest to lowest.
func QualityTiers() []QualityTier {
	return []QualityTier{QualityHigh, QualityBalanced, QualityFast}
}

// Money is an amount in a fixed currency. A project's currency never changes.
type Money struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

// NewMoney builds a Money value.
func NewMoney(amount float64, currency string) Money {
	return Money{Amount: amount, Currency: currency}
}

func (m Money) String() string {
	return fmt.Sprintf("%.2f %s", m.Amount, m.Currency)
}

// Budget tracks spend against an allocated total.
// Invariant: EstimatedRemaining == Total - Spent after every update.
type Budget struct {
	Total              Money `json:"total"`
	Spent              Money `json:"spent"`
	EstimatedRemaining Money `json:"estimated_remaining"`
}

// NewBudget returns a fresh budget with nothing spent.
func NewBudget(total Money) Budget {
	return Budget{
		Total:              total,
		Spent:              Money{Amount: 0, Currency: total.Currency},
		EstimatedRemaining: total,
	}
}

// Usage returns spent/total. A zero total yields +Inf so callers treat it as exceeded.
func (b Budget) Usage() float64 {
	if b.Total.Amount == 0 {
		return math.Inf(1)
	}
	return b.Spent.Amount / b.Total.Amount
}

// Validate checks the budget's money fields share one currency and that
// the remaining estimate is consistent.
func (b Budget) Validate() error {
	if b.Spent.Currency != b.Total.Currency || b.EstimatedRemaining.Currency != b.Total.Currency {
		return fmt.Errorf("budget currencies differ: total=%s spent=%s remaining=%s",
			b.Total.Currency, b.Spent.Currency, b.EstimatedRemaining.Currency)
	}
	if b.Spent.Amount < 0 {
		return fmt.Errorf("budget spent must be >= 0, got %v", b.Spent.Amount)
	}
	return nil
}

// GlobalSpec holds project-wide generation settings. The core only interprets
// QualityTier and SeriesID; the rest is carried for agents.
type GlobalSpec struct {
	QualityTier     QualityTier       `json:"quality_tier"`
	AspectRatio     string            `json:"aspect_ratio,omitempty"`
	DurationSeconds float64           `json:"duration_seconds"`
	Style           string            `json:"style,omitempty"`
	SeriesID        string            `json:"series_id,omitempty"`
	Extra           map[string]string `json:"extra,omitempty"`
}

// ShotStatus tracks a shot through the pipeline.
type ShotStatus string

const (
	ShotStatusPlanned    ShotStatus = "planned"
	ShotStatusGenerating ShotStatus = "generating"
	ShotStatusReused     ShotStatus = "reused"
	ShotStatusCompleted  ShotStatus = "completed"
	ShotStatusFailed     ShotStatus = "failed"
)

// Shot is one storyboard unit within an episode.
type Shot struct {
	ShotID      string     `json:"shot_id"`
	EpisodeID   string     `json:"episode_id"`
	Sequence    int        `json:"sequence"`
	Description string     `json:"description,omitempty"`
	Status      ShotStatus `json:"status"`
	ArtifactIDs []string   `json:"artifact_ids,omitempty"`
}

// Episode groups ordered shots.
type Episode struct {
	EpisodeID string `json:"episode_id"`
	Number    int    `json:"number"`
	Title     string `json:"title,omitempty"`
	Shots     []Shot `json:"shots"`
}

// CharacterDNA is a reusable fingerprint for a character of a series.
// Once Locked, the character must be reused rather than regenerated.
type CharacterDNA struct {
	SeriesID      string            `json:"series_id"`
	CharacterID   string            `json:"character_id"`
	ProjectID     string            `json:"project_id,omitempty"`
	FaceEmbedding []float32         `json:"face_embedding"`
	Attributes    map[string]string `json:"attributes,omitempty"`
	Locked        bool              `json:"locked"`
	CreatedAt     time.Time         `json:"created_at"`
}

// SceneDNA is a reusable fingerprint for a location or set.
type SceneDNA struct {
	SeriesID    string            `json:"series_id"`
	SceneID     string            `json:"scene_id"`
	ProjectID   string            `json:"project_id,omitempty"`
	Descriptors map[string]string `json:"descriptors,omitempty"`
	Layout      string            `json:"layout,omitempty"`
	Locked      bool              `json:"locked"`
	CreatedAt   time.Time         `json:"created_at"`
}

// ShotDNA carries the categorical features used for shot-reuse matching.
// Only Locked entries are eligible candidates.
type ShotDNA struct {
	SeriesID   string    `json:"series_id"`
	ShotID     string    `json:"shot_id"`
	ProjectID  string    `json:"project_id,omitempty"`
	Action     string    `json:"action,omitempty"`
	Location   string    `json:"location,omitempty"`
	TimeOfDay  string    `json:"time_of_day,omitempty"`
	ShotType   string    `json:"shot_type,omitempty"`
	Characters []string  `json:"characters,omitempty"`
	ArtifactID string    `json:"artifact_id,omitempty"`
	Locked     bool      `json:"locked"`
	CreatedAt  time.Time `json:"created_at"`
}

// AssetRegistry maps entity IDs to the DNA a project has registered.
type AssetRegistry struct {
	Characters map[string]CharacterDNA `json:"characters"`
	Scenes     map[string]SceneDNA     `json:"scenes"`
	Shots      map[string]ShotDNA      `json:"shots"`
}

// NewAssetRegistry returns an empty registry with initialized maps.
func NewAssetRegistry() AssetRegistry {
	return AssetRegistry{
		Characters: map[string]CharacterDNA{},
		Scenes:     map[string]SceneDNA{},
		Shots:      map[string]ShotDNA{},
	}
}

// ensureMaps guards against registries decoded from sparse JSON.
func (r *AssetRegistry) ensureMaps() {
	if r.Characters == nil {
		r.Characters = map[string]CharacterDNA{}
	}
	if r.Scenes == nil {
		r.Scenes = map[string]SceneDNA{}
	}
	if r.Shots == nil {
		r.Shots = map[string]ShotDNA{}
	}
}

// Project is the root aggregate owned by the blackboard.
// Version increases by exactly one on every persisted mutation.
type Project struct {
	ProjectID     string        `json:"project_id"`
	Version       int           `json:"version"`
	Status        ProjectStatus `json:"status"`
	GlobalSpec    GlobalSpec    `json:"global_spec"`
	Budget        Budget        `json:"budget"`
	AssetRegistry AssetRegistry `json:"asset_registry"`
	Episodes      []Episode     `json:"episodes"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Validate checks if the Project has valid field values.
func (p *Project) Validate() error {
	if p.ProjectID == "" {
		return fmt.Errorf("project_id cannot be empty")
	}
	if p.Version < 1 {
		return fmt.Errorf("invalid version: must be >= 1, got %d", p.Version)
	}
	if err := p.Status.Validate(); err != nil {
		return fmt.Errorf("invalid status: %w", err)
	}
	if err := p.GlobalSpec.QualityTier.Validate(); err != nil {
		return fmt.Errorf("invalid global spec: %w", err)
	}
	if err := p.Budget.Validate(); err != nil {
		return fmt.Errorf("invalid budget: %w", err)
	}
	return nil
}

// FindShot returns the shot with the given ID from any episode.
func (p *Project) FindShot(shotID string) (*Shot, bool) {
	for i := range p.Episodes {
		for j := range p.Episodes[i].Shots {
			if p.Episodes[i].Shots[j].ShotID == shotID {
				return &p.Episodes[i].Shots[j], true
			}
		}
	}
	return nil, false
}

// ArtifactType is the modality of a generated unit.
type ArtifactType string

const (
	ArtifactTypeImage ArtifactType = "image"
	ArtifactTypeVideo ArtifactType = "video"
	ArtifactTypeAudio ArtifactType = "audio"
	ArtifactTypeText  ArtifactType = "text"
)

// Validate checks if the ArtifactType is a valid enum value.
func (t ArtifactType) Validate() error {
	switch t {
	case ArtifactTypeImage, ArtifactTypeVideo, ArtifactTypeAudio, ArtifactTypeText:
		return nil
	default:
		return fmt.Errorf("unknown artifact type: %q", t)
	}
}

// ArtifactStatus is the storage lifecycle of an artifact.
type ArtifactStatus string

const (
	ArtifactStatusUploading  ArtifactStatus = "UPLOADING"
	ArtifactStatusAvailable  ArtifactStatus = "AVAILABLE"
	ArtifactStatusProcessing ArtifactStatus = "PROCESSING"
	ArtifactStatusExpired    ArtifactStatus = "EXPIRED"
	ArtifactStatusDeleted    ArtifactStatus = "DELETED"
)

// Artifact is a generated unit. CacheKey is a pure function of GenerationParams.
type Artifact struct {
	ArtifactID       string         `json:"artifact_id"`
	ProjectID        string         `json:"project_id"`
	Type             ArtifactType   `json:"type"`
	Status           ArtifactStatus `json:"status"`
	StorageURL       string         `json:"storage_url"`
	Checksum         string         `json:"checksum,omitempty"`
	GenerationParams map[string]any `json:"generation_params"`
	CacheKey         string         `json:"cache_key"`
	AccessCount      int64          `json:"access_count"`
	LastAccessedAt   *time.Time     `json:"last_accessed_at,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// AuditEntry records one persisted mutation of a project.
type AuditEntry struct {
	ProjectID         string    `json:"project_id"`
	Version           int       `json:"version"`
	ChangeDescription string    `json:"change_description"`
	Timestamp         time.Time `json:"timestamp"`
}

// GateStatus is the lifecycle of a human intervention request.
type GateStatus string

const (
	GateStatusPending  GateStatus = "PENDING"
	GateStatusResolved GateStatus = "RESOLVED"
	GateStatusExpired  GateStatus = "EXPIRED"
)

// HumanGateRequest asks an operator to approve, revise or reject.
type HumanGateRequest struct {
	RequestID      string            `json:"request_id"`
	ProjectID      string            `json:"project_id"`
	Reason         string            `json:"reason"`
	Context        map[string]string `json:"context,omitempty"`
	Status         GateStatus        `json:"status"`
	CreatedAt      time.Time         `json:"created_at"`
	TimeoutMinutes int               `json:"timeout_minutes"`
	Resolution     string            `json:"resolution,omitempty"`
	ResolvedAt     *time.Time        `json:"resolved_at,omitempty"`
}
