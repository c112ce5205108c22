package commands

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/dyluth/reelforge/internal/cache"
	"github.com/dyluth/reelforge/internal/chef"
	"github.com/dyluth/reelforge/internal/config"
	"github.com/dyluth/reelforge/internal/dna"
	"github.com/dyluth/reelforge/internal/events"
	"github.com/dyluth/reelforge/internal/logging"
	"github.com/dyluth/reelforge/internal/models"
	"github.com/dyluth/reelforge/internal/printer"
	"github.com/dyluth/reelforge/internal/store"
	"github.com/dyluth/reelforge/internal/vector"
	"github.com/dyluth/reelforge/pkg/blackboard"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
)

const defaultConfigPath = "reelforge.yml"

// loadConfig reads the YAML file, layers flag and REELFORGE_* overrides on
// top, then applies defaults and validates.
func loadConfig() (*config.Config, error) {
	path := viper.GetString("config")
	explicit := path != ""
	if !explicit {
		path = defaultConfigPath
	}

	cfg := &config.Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if cfg, err = config.Decode(data); err != nil {
			return nil, err
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if v := viper.GetString("redis-url"); v != "" {
		cfg.Redis.URL = v
	}
	if v := viper.GetString("database"); v != "" {
		cfg.Database.Path = v
	}
	if v := viper.GetString("namespace"); v != "" {
		cfg.Namespace = v
	}
	if v := viper.GetString("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if err := cfg.Finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// app holds the process-wide connections of one command invocation.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	rdb    *redis.Client
	store  *store.Store
	board  *blackboard.Board
}

func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, configError(err)
	}
	logger := logging.New(os.Stderr, cfg.Log.Level)

	opts, err := cfg.RedisOptions()
	if err != nil {
		return nil, configError(err)
	}
	rdb := redis.NewClient(opts)

	s, err := store.Open(ctx, cfg.Database.Path, cfg.Database.QueryTimeout)
	if err != nil {
		rdb.Close()
		return nil, printer.ErrorWithContext("Failed to open database", err.Error(),
			map[string]string{"Path": cfg.Database.Path}, nil)
	}

	board, err := blackboard.NewBoard(rdb, s, blackboard.Options{
		Namespace:   cfg.Namespace,
		LockTTL:     cfg.Blackboard.LockTTL,
		LockTimeout: cfg.Blackboard.LockTimeout,
		CacheTTL:    cfg.Blackboard.CacheTTL,
		Logger:      logger,
	})
	if err != nil {
		s.Close()
		rdb.Close()
		return nil, err
	}
	return &app{cfg: cfg, logger: logger, rdb: rdb, store: s, board: board}, nil
}

func (a *app) Close() {
	a.store.Close()
	a.rdb.Close()
}

func (a *app) budgetManager() *chef.BudgetManager {
	return chef.NewBudgetManager(a.cfg.Budget)
}

func (a *app) gate() *chef.HumanGate {
	return chef.NewHumanGate(a.store, a.board, a.cfg.HumanGate.TimeoutMinutes, a.logger)
}

func (a *app) cache() *cache.Manager {
	return cache.NewManager(a.store, a.logger)
}

func (a *app) bus() (*events.Bus, error) {
	return events.NewBus(a.rdb, events.Options{
		Namespace:     a.cfg.Namespace,
		Stream:        a.cfg.EventBus.Stream,
		ConsumerGroup: a.cfg.EventBus.ConsumerGroup,
		BatchSize:     a.cfg.EventBus.BatchSize,
		BlockTimeout:  a.cfg.EventBus.BlockTimeout,
		MaxLen:        a.cfg.EventBus.MaxLen,
		ClaimMinIdle:  a.cfg.EventBus.ClaimMinIdle,
		Logger:        a.logger,
	})
}

func (a *app) dna() *dna.Manager {
	return dna.NewManager(a.store, dna.Options{
		Index:         vector.NewRedisIndex(a.rdb, a.cfg.Namespace),
		Registry:      a.board,
		MinSimilarity: a.cfg.DNA.MinSimilarity,
		EmbeddingDim:  a.cfg.DNA.EmbeddingDim,
		Logger:        a.logger,
	})
}

func configError(err error) error {
	return printer.Error("Invalid configuration", err.Error(), []string{
		"Set redis.url and database.path in reelforge.yml",
		"Pass --redis-url and --database (or REELFORGE_REDIS_URL / REELFORGE_DATABASE)",
	})
}

// modelRegistry builds the registry from configuration only; it needs no
// connections.
func modelRegistry() (*models.Registry, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, configError(err)
	}
	return models.NewRegistryFromConfig(cfg.Models)
}
