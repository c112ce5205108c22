// Package testutil provides in-process backends for package tests: a
// miniredis server, a SQLite store in a temp dir and a board over both.
package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/reelforge/internal/store"
	"github.com/dyluth/reelforge/pkg/blackboard"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// Namespace is the board namespace used by NewBackends.
const Namespace = "test"

// Backends bundles the shared test infrastructure. Everything is closed
// through t.Cleanup.
type Backends struct {
	Redis  *miniredis.Miniredis
	Client *redis.Client
	Store  *store.Store
	Board  *blackboard.Board
}

// NewBackends starts miniredis, opens a fresh store and builds a board in
// Namespace. opts may override board options; Namespace is always set.
func NewBackends(t *testing.T, opts ...blackboard.Options) *Backends {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	s, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "reelforge.db"), 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	o := blackboard.Options{LockTimeout: 5 * time.Second}
	if len(opts) > 0 {
		o = opts[0]
	}
	o.Namespace = Namespace
	board, err := blackboard.NewBoard(rdb, s, o)
	require.NoError(t, err)

	return &Backends{Redis: mr, Client: rdb, Store: s, Board: board}
}

// CreateProject puts a project with the given total budget (USD) and tier
// on the board.
func (b *Backends) CreateProject(t *testing.T, id string, total float64, tier blackboard.QualityTier) *blackboard.Project {
	t.Helper()
	p, err := b.Board.CreateProject(context.Background(), id,
		blackboard.GlobalSpec{QualityTier: tier},
		blackboard.NewBudget(blackboard.NewMoney(total, "USD")))
	require.NoError(t, err)
	return p
}
