package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dyluth/reelforge/internal/cache"
	"github.com/dyluth/reelforge/internal/chef"
	"github.com/dyluth/reelforge/internal/testutil"
	"github.com/dyluth/reelforge/pkg/blackboard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	handler http.Handler
	board   *blackboard.Board
	gate    *chef.HumanGate
}

func setupServer(t *testing.T) *testEnv {
	t.Helper()
	b := testutil.NewBackends(t)
	gate := chef.NewHumanGate(b.Store, b.Board, 60, nil)

	h := New(Config{Projects: b.Board, Gate: gate, Cache: cache.NewManager(b.Store, nil)})
	return &testEnv{handler: h, board: b.Board, gate: gate}
}

func (e *testEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	env := setupServer(t)
	w := env.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "healthy", resp.Status)

	t.Run("method not allowed", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/healthz", "")
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})
}

type downProjects struct{ Projects }

func (downProjects) Ping(context.Context) error { return errors.New("redis down") }

func TestHealthz_Unhealthy(t *testing.T) {
	h := New(Config{Projects: downProjects{}})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var resp HealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "unhealthy", resp.Status)
	assert.Equal(t, "redis down", resp.Error)
}

func TestGetProject(t *testing.T) {
	env := setupServer(t)
	_, err := env.board.CreateProject(context.Background(), "p1",
		blackboard.GlobalSpec{QualityTier: blackboard.QualityHigh},
		blackboard.NewBudget(blackboard.NewMoney(50, "USD")))
	require.NoError(t, err)

	w := env.do(t, http.MethodGet, "/projects/p1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var p blackboard.Project
	require.NoError(t, json.NewDecoder(w.Body).Decode(&p))
	assert.Equal(t, "p1", p.ProjectID)
	assert.Equal(t, 1, p.Version)

	w = env.do(t, http.MethodGet, "/projects/p1/audit", "")
	require.Equal(t, http.StatusOK, w.Code)
	var audit []blackboard.AuditEntry
	require.NoError(t, json.NewDecoder(w.Body).Decode(&audit))
	assert.Len(t, audit, 1)

	w = env.do(t, http.MethodGet, "/projects/p1/cache", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/projects/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	var env404 errorEnvelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&env404))
	assert.Equal(t, "not_found", env404.Error.Code)
}

func TestGates(t *testing.T) {
	env := setupServer(t)
	ctx := context.Background()
	_, err := env.board.CreateProject(ctx, "p1",
		blackboard.GlobalSpec{QualityTier: blackboard.QualityFast},
		blackboard.NewBudget(blackboard.NewMoney(10, "USD")))
	require.NoError(t, err)
	req, err := env.gate.TriggerHumanIntervention(ctx, "p1", "budget", nil)
	require.NoError(t, err)

	w := env.do(t, http.MethodGet, "/gates?status=PENDING", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list []blackboard.HumanGateRequest
	require.NoError(t, json.NewDecoder(w.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, req.RequestID, list[0].RequestID)

	w = env.do(t, http.MethodGet, "/gates?status=BOGUS", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/gates/"+req.RequestID+"/decision", `{"action":"reject","reason":"too costly"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var out chef.GateOutcome
	require.NoError(t, json.NewDecoder(w.Body).Decode(&out))
	assert.Equal(t, chef.GateMarkFailed, out.Action)
	assert.Equal(t, "too costly", out.Reason)

	p, err := env.board.GetProject(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, blackboard.ProjectStatusFailed, p.Status)

	w = env.do(t, http.MethodPost, "/gates/"+req.RequestID+"/decision", `{"action":"approve"}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, http.MethodPost, "/gates/nope/decision", `{"action":"approve"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodPost, "/gates/"+req.RequestID+"/decision", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, "/gates", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, blackboard.GateStatusResolved, list[0].Status)
}
