package testutil

import (
	"context"
	"testing"

	"github.com/dyluth/reelforge/pkg/blackboard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBackends(t *testing.T) {
	b := NewBackends(t)
	require.NoError(t, b.Board.Ping(context.Background()))

	p := b.CreateProject(t, "p1", 50, blackboard.QualityBalanced)
	assert.Equal(t, 1, p.Version)

	got, err := b.Store.LoadProject(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, blackboard.QualityBalanced, got.GlobalSpec.QualityTier)
	assert.InDelta(t, 50.0, got.Budget.Total.Amount, 1e-9)
}
