package blackboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/dyluth/reelforge/internal/lock"
	"github.com/dyluth/reelforge/internal/logging"
	"github.com/redis/go-redis/v9"
)

// ProjectStore is the durable source of truth behind the blackboard.
// Implementations return ErrProjectNotFound, ErrProjectExists and
// ErrVersionConflict (possibly wrapped) for the matching conditions.
type ProjectStore interface {
	InsertProject(ctx context.Context, p *Project, description string) error
	LoadProject(ctx context.Context, projectID string) (*Project, error)
	// SaveProject persists p and appends an audit entry atomically, but only
	// if the stored version still equals expectedVersion.
	SaveProject(ctx context.Context, p *Project, expectedVersion int, description string) error
	AuditLog(ctx context.Context, projectID string) ([]AuditEntry, error)
	Ping(ctx context.Context) error
}

// Options configures a Board.
type Options struct {
	Namespace   string
	LockTTL     time.Duration
	LockTimeout time.Duration
	CacheTTL    time.Duration
	Logger      *slog.Logger
}

// Board is the shared, versioned project store.
// Reads are cache-first and unlocked; every write is serialized per project
// through a distributed lock. Board is safe for concurrent use.
type Board struct {
	rdb         *redis.Client
	store       ProjectStore
	namespace   string
	lockOpts    lock.Options
	lockTimeout time.Duration
	cacheTTL    time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

// NewBoard creates a blackboard over a Redis client and a durable store.
// Returns an error if the namespace is empty.
func NewBoard(rdb *redis.Client, store ProjectStore, opts Options) (*Board, error) {
	if opts.Namespace == "" {
		return nil, fmt.Errorf("namespace cannot be empty")
	}
	if rdb == nil || store == nil {
		return nil, fmt.Errorf("redis client and project store are required")
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = 10 * time.Second
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}

	return &Board{
		rdb:         rdb,
		store:       store,
		namespace:   opts.Namespace,
		lockOpts:    lock.Options{TTL: opts.LockTTL},
		lockTimeout: opts.LockTimeout,
		cacheTTL:    opts.CacheTTL,
		logger:      logging.Component(opts.Logger, "blackboard"),
		now:         time.Now,
	}, nil
}

// Namespace returns the key namespace of this board.
func (b *Board) Namespace() string {
	return b.namespace
}

// Ping verifies both Redis and the durable store are reachable.
func (b *Board) Ping(ctx context.Context) error {
	if err := b.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	if err := b.store.Ping(ctx); err != nil {
		return fmt.Errorf("store ping failed: %w", err)
	}
	return nil
}

func (b *Board) timestamp() time.Time {
	return b.now().UTC().Truncate(time.Millisecond)
}

// CreateProject persists a new project at version 1 with status CREATED.
// Returns ErrProjectExists if the ID is taken.
func (b *Board) CreateProject(ctx context.Context, projectID string, spec GlobalSpec, budget Budget) (*Project, error) {
	now := b.timestamp()
	p := &Project{
		ProjectID:     projectID,
		Version:       1,
		Status:        ProjectStatusCreated,
		GlobalSpec:    spec,
		Budget:        budget,
		AssetRegistry: NewAssetRegistry(),
		Episodes:      []Episode{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid project: %w", err)
	}

	err := lock.WithLock(ctx, b.rdb, ProjectLockKey(b.namespace, projectID), b.lockOpts, b.lockTimeout, func(ctx context.Context) error {
		if err := b.store.InsertProject(ctx, p, "project created"); err != nil {
			return err
		}
		return b.invalidate(ctx, projectID)
	})
	if err != nil {
		if errors.Is(err, ErrProjectExists) {
			return nil, fmt.Errorf("project %s: %w", projectID, ErrProjectExists)
		}
		return nil, fmt.Errorf("failed to create project %s: %w", projectID, err)
	}

	logging.Event(b.logger, "project_created",
		"project_id", projectID,
		"quality_tier", string(spec.QualityTier),
		"budget_total", budget.Total.Amount)
	return p, nil
}

// GetProject returns the project, consulting the read cache first.
// The snapshot may be stale relative to an in-flight write; use
// GetProjectFresh after a known write.
func (b *Board) GetProject(ctx context.Context, projectID string) (*Project, error) {
	key := ProjectCacheKey(b.namespace, projectID)

	hash, err := b.rdb.HGetAll(ctx, key).Result()
	switch {
	case err != nil:
		b.logger.Warn("cache read failed, falling back to store", "project_id", projectID, "error", err)
	case len(hash) > 0:
		p, decodeErr := HashToProject(hash)
		if decodeErr == nil {
			return p, nil
		}
		b.logger.Warn("discarding undecodable cache entry", "project_id", projectID, "error", decodeErr)
	}

	p, err := b.GetProjectFresh(ctx, projectID)
	if err != nil {
		return nil, err
	}
	b.populate(ctx, p)
	return p, nil
}

// GetProjectFresh reads the project from the durable store, bypassing the cache.
func (b *Board) GetProjectFresh(ctx context.Context, projectID string) (*Project, error) {
	p, err := b.store.LoadProject(ctx, projectID)
	if err != nil {
		if errors.Is(err, ErrProjectNotFound) {
			return nil, projectNotFound(projectID)
		}
		return nil, fmt.Errorf("failed to load project %s: %w", projectID, err)
	}
	return p, nil
}

// populate writes a project snapshot into the cache. Failures are logged;
// the cache is an optimization only.
func (b *Board) populate(ctx context.Context, p *Project) {
	hash, err := ProjectToHash(p)
	if err != nil {
		b.logger.Warn("failed to encode project for cache", "project_id", p.ProjectID, "error", err)
		return
	}
	key := ProjectCacheKey(b.namespace, p.ProjectID)
	pipe := b.rdb.TxPipeline()
	pipe.HSet(ctx, key, hash)
	pipe.Expire(ctx, key, b.cacheTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		b.logger.Warn("failed to populate project cache", "project_id", p.ProjectID, "error", err)
	}
}

// invalidate deletes every cache key derived from the project.
func (b *Board) invalidate(ctx context.Context, projectID string) error {
	if err := b.rdb.Del(ctx, ProjectCacheKeys(b.namespace, projectID)...).Err(); err != nil {
		return fmt.Errorf("failed to invalidate cache for project %s: %w", projectID, err)
	}
	return nil
}

// errUnchanged, returned by a change function, ends a mutation without
// writing a new version.
var errUnchanged = errors.New("project unchanged")

// mutate applies fn as a change with a fixed audit description.
func (b *Board) mutate(ctx context.Context, projectID, description string, fn func(p *Project) error) (*Project, error) {
	p, _, err := b.apply(ctx, projectID, func(p *Project) (string, error) {
		return description, fn(p)
	})
	return p, err
}

// apply is the single write path. Under the project lock it loads the
// durable row, lets fn change a copy and name the change, bumps the version
// by one, persists the row with its audit entry, and invalidates the cache
// before the lock is released. If fn or persistence fails, nothing is
// written and the version is unchanged. If fn returns errUnchanged the
// current project is returned with changed=false.
func (b *Board) apply(ctx context.Context, projectID string, fn func(p *Project) (string, error)) (*Project, bool, error) {
	var (
		result      *Project
		changed     bool
		description string
	)

	err := lock.WithLock(ctx, b.rdb, ProjectLockKey(b.namespace, projectID), b.lockOpts, b.lockTimeout, func(ctx context.Context) error {
		current, err := b.GetProjectFresh(ctx, projectID)
		if err != nil {
			return err
		}

		next, err := CloneProject(current)
		if err != nil {
			return err
		}
		description, err = fn(next)
		if errors.Is(err, errUnchanged) {
			result = current
			return nil
		}
		if err != nil {
			return err
		}
		next.Version = current.Version + 1
		next.UpdatedAt = b.timestamp()
		if err := next.Validate(); err != nil {
			return fmt.Errorf("invalid project after mutation: %w", err)
		}

		// Invalidate before and after the write: a concurrent unlocked reader
		// may repopulate the cache from the old row in between.
		if err := b.invalidate(ctx, projectID); err != nil {
			return err
		}
		if err := b.store.SaveProject(ctx, next, current.Version, description); err != nil {
			return fmt.Errorf("failed to persist project %s: %w", projectID, err)
		}
		if err := b.invalidate(ctx, projectID); err != nil {
			return fmt.Errorf("project %s persisted at version %d: %w", projectID, next.Version, err)
		}

		result, changed = next, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if changed {
		logging.Event(b.logger, "project_mutated",
			"project_id", projectID,
			"version", result.Version,
			"change", description)
	}
	return result, changed, nil
}

// UpdateBudget replaces the project's budget.
func (b *Board) UpdateBudget(ctx context.Context, projectID string, budget Budget, description string) (*Project, error) {
	if err := budget.Validate(); err != nil {
		return nil, fmt.Errorf("invalid budget: %w", err)
	}
	if description == "" {
		description = "budget updated"
	}
	return b.mutate(ctx, projectID, description, func(p *Project) error {
		if budget.Total.Currency != p.Budget.Total.Currency {
			return fmt.Errorf("%w: project uses %s, got %s", ErrCurrencyMismatch, p.Budget.Total.Currency, budget.Total.Currency)
		}
		if budget.Spent.Amount < p.Budget.Spent.Amount {
			return fmt.Errorf("spent cannot decrease: %v -> %v", p.Budget.Spent.Amount, budget.Spent.Amount)
		}
		budget.EstimatedRemaining = NewMoney(budget.Total.Amount-budget.Spent.Amount, budget.Total.Currency)
		p.Budget = budget
		return nil
	})
}

// AddCost records spend against the project budget. This is the canonical
// entry point by which generation events become budget consumption.
func (b *Board) AddCost(ctx context.Context, projectID string, cost Money, description string) (*Project, error) {
	if cost.Amount < 0 {
		return nil, fmt.Errorf("cost must be >= 0, got %v", cost.Amount)
	}
	change := fmt.Sprintf("cost added: %s", cost)
	if description != "" {
		change = fmt.Sprintf("%s (%s)", change, description)
	}
	return b.mutate(ctx, projectID, change, func(p *Project) error {
		if cost.Currency != p.Budget.Total.Currency {
			return fmt.Errorf("%w: project uses %s, got %s", ErrCurrencyMismatch, p.Budget.Total.Currency, cost.Currency)
		}
		p.Budget.Spent.Amount += cost.Amount
		p.Budget.EstimatedRemaining.Amount = p.Budget.Total.Amount - p.Budget.Spent.Amount
		return nil
	})
}

// UpdateStatus transitions the project lifecycle state.
func (b *Board) UpdateStatus(ctx context.Context, projectID string, status ProjectStatus, description string) (*Project, error) {
	if err := status.Validate(); err != nil {
		return nil, err
	}
	if description == "" {
		description = fmt.Sprintf("status -> %s", status)
	}
	return b.mutate(ctx, projectID, description, func(p *Project) error {
		p.Status = status
		return nil
	})
}

// UpdateGlobalSpec replaces the project's global spec, e.g. after a strategy downgrade.
func (b *Board) UpdateGlobalSpec(ctx context.Context, projectID string, spec GlobalSpec, description string) (*Project, error) {
	if err := spec.QualityTier.Validate(); err != nil {
		return nil, err
	}
	if description == "" {
		description = "global spec updated"
	}
	return b.mutate(ctx, projectID, description, func(p *Project) error {
		p.GlobalSpec = spec
		return nil
	})
}

// LowerQualityTier moves the project to a lower quality tier. choose runs
// under the project lock on the current project and returns the target tier
// and the audit description. A target that does not rank below the current
// tier writes nothing and the current project is returned with
// lowered=false, so the tier never goes up through this path.
func (b *Board) LowerQualityTier(ctx context.Context, projectID string, choose func(p *Project) (QualityTier, string)) (*Project, bool, error) {
	return b.apply(ctx, projectID, func(p *Project) (string, error) {
		target, description := choose(p)
		if target.Validate() != nil || target.Rank() >= p.GlobalSpec.QualityTier.Rank() {
			return "", errUnchanged
		}
		if description == "" {
			description = fmt.Sprintf("quality %s -> %s", p.GlobalSpec.QualityTier, target)
		}
		p.GlobalSpec.QualityTier = target
		return description, nil
	})
}

// UpsertEpisode inserts or replaces an episode, keeping episodes ordered by number.
func (b *Board) UpsertEpisode(ctx context.Context, projectID string, ep Episode) (*Project, error) {
	if ep.EpisodeID == "" {
		return nil, fmt.Errorf("episode_id cannot be empty")
	}
	return b.mutate(ctx, projectID, fmt.Sprintf("episode %s upserted", ep.EpisodeID), func(p *Project) error {
		if ep.Shots == nil {
			ep.Shots = []Shot{}
		}
		for i := range p.Episodes {
			if p.Episodes[i].EpisodeID == ep.EpisodeID {
				p.Episodes[i] = ep
				return nil
			}
		}
		p.Episodes = append(p.Episodes, ep)
		sort.SliceStable(p.Episodes, func(i, j int) bool { return p.Episodes[i].Number < p.Episodes[j].Number })
		return nil
	})
}

// UpsertShot inserts or replaces a shot within its episode, keeping shots ordered by sequence.
func (b *Board) UpsertShot(ctx context.Context, projectID string, shot Shot) (*Project, error) {
	if shot.ShotID == "" || shot.EpisodeID == "" {
		return nil, fmt.Errorf("shot_id and episode_id are required")
	}
	if shot.Status == "" {
		shot.Status = ShotStatusPlanned
	}
	return b.mutate(ctx, projectID, fmt.Sprintf("shot %s upserted", shot.ShotID), func(p *Project) error {
		for i := range p.Episodes {
			ep := &p.Episodes[i]
			if ep.EpisodeID != shot.EpisodeID {
				continue
			}
			for j := range ep.Shots {
				if ep.Shots[j].ShotID == shot.ShotID {
					ep.Shots[j] = shot
					return nil
				}
			}
			ep.Shots = append(ep.Shots, shot)
			sort.SliceStable(ep.Shots, func(a, c int) bool { return ep.Shots[a].Sequence < ep.Shots[c].Sequence })
			return nil
		}
		return fmt.Errorf("episode %s not found in project %s", shot.EpisodeID, projectID)
	})
}

// GetShot returns a shot by ID. Returns a NotFoundError matching ErrShotNotFound if absent.
func (b *Board) GetShot(ctx context.Context, projectID, shotID string) (*Shot, error) {
	p, err := b.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	shot, ok := p.FindShot(shotID)
	if !ok {
		return nil, shotNotFound(shotID)
	}
	return shot, nil
}

// GetAssetRegistry returns the project's registered DNA, cache-first.
func (b *Board) GetAssetRegistry(ctx context.Context, projectID string) (AssetRegistry, error) {
	key := RegistryCacheKey(b.namespace, projectID)
	raw, err := b.rdb.Get(ctx, key).Result()
	if err == nil {
		if reg, decodeErr := UnmarshalRegistry(raw); decodeErr == nil {
			return reg, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		b.logger.Warn("registry cache read failed", "project_id", projectID, "error", err)
	}

	p, err := b.GetProject(ctx, projectID)
	if err != nil {
		return AssetRegistry{}, err
	}
	if encoded, encErr := MarshalRegistry(p.AssetRegistry); encErr == nil {
		if setErr := b.rdb.Set(ctx, key, encoded, b.cacheTTL).Err(); setErr != nil {
			b.logger.Warn("failed to populate registry cache", "project_id", projectID, "error", setErr)
		}
	}
	return p.AssetRegistry, nil
}

// RegisterCharacterDNA records (or replaces) character DNA in the project registry.
func (b *Board) RegisterCharacterDNA(ctx context.Context, projectID string, dna CharacterDNA) (*Project, error) {
	if dna.CharacterID == "" {
		return nil, fmt.Errorf("character_id cannot be empty")
	}
	return b.mutate(ctx, projectID, fmt.Sprintf("character dna %s registered", dna.CharacterID), func(p *Project) error {
		p.AssetRegistry.Characters[dna.CharacterID] = dna
		return nil
	})
}

// RegisterSceneDNA records (or replaces) scene DNA in the project registry.
func (b *Board) RegisterSceneDNA(ctx context.Context, projectID string, dna SceneDNA) (*Project, error) {
	if dna.SceneID == "" {
		return nil, fmt.Errorf("scene_id cannot be empty")
	}
	return b.mutate(ctx, projectID, fmt.Sprintf("scene dna %s registered", dna.SceneID), func(p *Project) error {
		p.AssetRegistry.Scenes[dna.SceneID] = dna
		return nil
	})
}

// RegisterShotDNA records (or replaces) shot DNA in the project registry.
func (b *Board) RegisterShotDNA(ctx context.Context, projectID string, dna ShotDNA) (*Project, error) {
	if dna.ShotID == "" {
		return nil, fmt.Errorf("shot_id cannot be empty")
	}
	return b.mutate(ctx, projectID, fmt.Sprintf("shot dna %s registered", dna.ShotID), func(p *Project) error {
		p.AssetRegistry.Shots[dna.ShotID] = dna
		return nil
	})
}

// AuditLog returns the project's mutation history in version order.
func (b *Board) AuditLog(ctx context.Context, projectID string) ([]AuditEntry, error) {
	entries, err := b.store.AuditLog(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to read audit log for %s: %w", projectID, err)
	}
	return entries, nil
}
