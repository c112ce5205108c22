package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/reelforge/internal/cache"
	"github.com/dyluth/reelforge/internal/chef"
	"github.com/dyluth/reelforge/internal/config"
	"github.com/dyluth/reelforge/internal/events"
	"github.com/dyluth/reelforge/internal/printer"
	"github.com/dyluth/reelforge/internal/store"
	"github.com/dyluth/reelforge/pkg/blackboard"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cli struct {
	mr   *miniredis.Miniredis
	db   string
	base []string
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	mr := miniredis.RunT(t)
	db := filepath.Join(t.TempDir(), "cli.db")
	return &cli{mr: mr, db: db, base: []string{
		"--config=",
		"--redis-url=redis://" + mr.Addr(),
		"--database=" + db,
		"--namespace=cli-test",
		"--json=false",
	}}
}

// run executes the root command and returns what it printed. Flags are
// package state in cobra, so every run resets the shared ones first and
// args given later win.
func (c *cli) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	prevOut, prevErr := printer.Out, printer.Err
	printer.Out, printer.Err = &out, &errOut
	defer func() { printer.Out, printer.Err = prevOut, prevErr }()

	rootCmd.SetArgs(append(append([]string{}, c.base...), args...))
	err := Execute()
	return out.String(), err
}

func TestBudgetAllocate(t *testing.T) {
	c := newCLI(t)
	out, err := c.run(t, "budget", "allocate", "--duration", "30", "--tier", "high", "--json")
	require.NoError(t, err)

	var got map[string]struct {
		Total struct {
			Amount   float64 `json:"amount"`
			Currency string  `json:"currency"`
		} `json:"total"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.InDelta(t, 135.0, got["high"].Total.Amount, 1e-9)
	assert.Equal(t, "USD", got["high"].Total.Currency)
}

func TestProjectLifecycle(t *testing.T) {
	c := newCLI(t)

	out, err := c.run(t, "project", "create", "film-1", "--duration", "30", "--tier", "high")
	require.NoError(t, err)
	assert.Contains(t, out, "Created project film-1")

	_, err = c.run(t, "project", "create", "film-1", "--duration", "30", "--tier", "high")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	out, err = c.run(t, "project", "add-cost", "film-1", "--amount", "110", "--description", "render", "--json")
	require.NoError(t, err)
	var added struct {
		Project struct {
			Version int `json:"version"`
		} `json:"project"`
		Decision struct {
			Action     string `json:"action"`
			TargetTier string `json:"target_tier"`
		} `json:"decision"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &added))
	assert.Equal(t, 2, added.Project.Version)
	assert.Equal(t, "REDUCE_QUALITY", added.Decision.Action)
	assert.Equal(t, "balanced", added.Decision.TargetTier)

	out, err = c.run(t, "project", "show", "film-1", "--audit", "--json")
	require.NoError(t, err)
	var shown struct {
		Version int `json:"version"`
		Audit   []struct {
			ChangeDescription string `json:"change_description"`
		} `json:"audit"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &shown))
	assert.Equal(t, 2, shown.Version)
	require.Len(t, shown.Audit, 2)
	assert.Equal(t, "cost added: 110.00 USD (render)", shown.Audit[1].ChangeDescription)

	_, err = c.run(t, "project", "show", "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestCacheKey(t *testing.T) {
	c := newCLI(t)
	path := filepath.Join(t.TempDir(), "params.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"prompt":"fox","seed":42,"size":{"w":1024,"h":768}}`), 0o644))

	out, err := c.run(t, "cache", "key", path)
	require.NoError(t, err)

	want, err := cache.ComputeKeyForMap(map[string]any{"seed": 42, "size": map[string]any{"h": 768, "w": 1024}, "prompt": "fox"})
	require.NoError(t, err)
	assert.Equal(t, want+"\n", out)
}

func TestGateListEmpty(t *testing.T) {
	c := newCLI(t)
	out, err := c.run(t, "gate", "list", "--status", "pending")
	require.NoError(t, err)
	assert.Contains(t, out, "No gate requests")
}

func TestExplicitConfigMustExist(t *testing.T) {
	c := newCLI(t)
	_, err := c.run(t, "budget", "allocate", "--duration", "1", "--config", filepath.Join(t.TempDir(), "missing.yml"))
	require.Error(t, err)
	assert.Equal(t, "Invalid configuration", err.Error())
}

func TestGateListTimeRange(t *testing.T) {
	c := newCLI(t)
	_, err := c.run(t, "gate", "list", "--status", "", "--since", "1h", "--until", "2h")
	require.Error(t, err)
	assert.Equal(t, "invalid time range", err.Error())

	out, err := c.run(t, "gate", "list", "--status", "", "--since", "1h", "--until", "")
	require.NoError(t, err)
	assert.Contains(t, out, "No gate requests")
}

func TestGateWaitTimesOut(t *testing.T) {
	c := newCLI(t)
	_, err := c.run(t, "gate", "wait", "film-1", "--timeout", "250ms")
	require.Error(t, err)
	assert.Equal(t, "No gate request opened", err.Error())
}

func TestWatchReplay(t *testing.T) {
	c := newCLI(t)
	rdb := redis.NewClient(&redis.Options{Addr: c.mr.Addr()})
	defer rdb.Close()
	bus, err := events.NewBus(rdb, events.Options{Namespace: "cli-test", Stream: "generation_events", ConsumerGroup: "chef"})
	require.NoError(t, err)
	cost := blackboard.NewMoney(0.04, "USD")
	for _, p := range []string{"film-1", "film-2", "film-1"} {
		_, err := bus.Publish(context.Background(), events.Event{Type: events.TypeImageGenerated, ProjectID: p, Cost: &cost})
		require.NoError(t, err)
	}

	out, err := c.run(t, "watch", "--follow=false", "--project", "film-1", "--since", "1h", "--until", "", "--output", "default")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "image_generated project=film-1 cost=0.04 USD")

	_, err = c.run(t, "watch", "--follow=false", "--project", "", "--since", "", "--output", "xml")
	require.Error(t, err)
	assert.Equal(t, "invalid output format", err.Error())
}

func TestGateWaitAndDecideByPrefix(t *testing.T) {
	c := newCLI(t)
	_, err := c.run(t, "project", "create", "film-1", "--duration", "10", "--tier", "fast")
	require.NoError(t, err)

	s, err := store.Open(context.Background(), c.db, 5*time.Second)
	require.NoError(t, err)
	defer s.Close()
	req, err := chef.NewHumanGate(s, nil, 60, nil).TriggerHumanIntervention(context.Background(), "film-1", "budget exceeded", nil)
	require.NoError(t, err)

	out, err := c.run(t, "gate", "wait", "film-1", "--timeout", "2s", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, req.RequestID)

	_, err = c.run(t, "gate", "decide", req.RequestID[:4], "reject", "--json=false")
	require.Error(t, err)
	assert.Equal(t, "Invalid ID", err.Error())

	out, err = c.run(t, "gate", "decide", req.RequestID[:8], "reject", "--reason", "too expensive")
	require.NoError(t, err)
	assert.Contains(t, out, "resolved")

	out, err = c.run(t, "project", "show", "film-1", "--audit=false", "--since", "", "--until", "", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"status": "FAILED"`)
}

func TestArtifactsListEmpty(t *testing.T) {
	c := newCLI(t)
	out, err := c.run(t, "artifacts", "list", "film-1", "-o", "default", "--type", "", "--status", "", "--since", "", "--until", "")
	require.NoError(t, err)
	assert.Equal(t, "No artifacts found for project 'film-1'\n", out)

	_, err = c.run(t, "artifacts", "show", "abcdef")
	require.Error(t, err)
	assert.Equal(t, "Not found", err.Error())
}

func TestInitWritesLoadableConfig(t *testing.T) {
	c := newCLI(t)
	dir := filepath.Join(t.TempDir(), "studio")
	out, err := c.run(t, "init", "--dir", dir, "--force=false")
	require.NoError(t, err)
	assert.Contains(t, out, "reelforge.yml")

	cfg, err := config.Load(filepath.Join(dir, "reelforge.yml"))
	require.NoError(t, err)
	assert.Equal(t, "cli-test", cfg.Namespace)
	assert.Equal(t, c.db, cfg.Database.Path)

	_, err = c.run(t, "init", "--dir", dir, "--force=false")
	require.Error(t, err)
	assert.Equal(t, "initialization failed", err.Error())

	_, err = c.run(t, "init", "--dir", dir, "--force")
	require.NoError(t, err)
}
