// Package storetest is a conformance suite run against every store backend.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vicaadrn/web-scanner-project/internal/model"
	"github.com/Vicaadrn/web-scanner-project/internal/store"
)

// Factory returns an empty store for one subtest.
type Factory func(t *testing.T) store.Store

// NewSession builds a valid anonymous-owned session created at createdAt.
func NewSession(anonymousID string, createdAt time.Time) *model.ScanSession {
	id := uuid.NewString()
	return &model.ScanSession{
		ID:          id,
		AnonymousID: anonymousID,
		Target:      "https://example.com",
		Tier:        model.TierQuick,
		Wordlist:    model.TierQuick.DefaultWordlist(),
		SourceIP:    "203.0.113.7",
		CreatedAt:   createdAt,
		ScanState:   model.NewPendingState("job-"+id, createdAt),
	}
}

// Run exercises the store.Store contract.
func Run(t *testing.T, newStore Factory) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, newStore(t)) })
	t.Run("OwnerExclusivity", func(t *testing.T) { testOwnerExclusivity(t, newStore(t)) })
	t.Run("DuplicateJobID", func(t *testing.T) { testDuplicateJobID(t, newStore(t)) })
	t.Run("CountWindow", func(t *testing.T) { testCountWindow(t, newStore(t)) })
	t.Run("UpdateStateLatch", func(t *testing.T) { testUpdateStateLatch(t, newStore(t)) })
	t.Run("LateResult", func(t *testing.T) { testLateResult(t, newStore(t)) })
	t.Run("ListActiveAndOwner", func(t *testing.T) { testListActiveAndOwner(t, newStore(t)) })
	t.Run("Principals", func(t *testing.T) { testPrincipals(t, newStore(t)) })
}

func testCreateAndGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	sess := NewSession("anon-1", now)

	require.NoError(t, s.CreateSession(ctx, sess))

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.JobID, got.JobID)
	assert.Equal(t, "anon-1", got.AnonymousID)
	assert.Empty(t, got.PrincipalID)
	assert.Equal(t, model.PhasePending, got.Phase)
	assert.Equal(t, model.TierQuick, got.Tier)
	assert.Equal(t, "common.txt", got.Wordlist)
	assert.Equal(t, "203.0.113.7", got.SourceIP)
	assert.True(t, now.Equal(got.CreatedAt), "created_at %v != %v", got.CreatedAt, now)
	assert.Nil(t, got.Result)

	byJob, err := s.GetSessionByJobID(ctx, sess.JobID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, byJob.ID)

	_, err = s.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrSessionNotFound)
}

func testOwnerExclusivity(t *testing.T, s store.Store) {
	ctx := context.Background()
	both := NewSession("anon-1", time.Now())
	both.PrincipalID = "p1"
	assert.ErrorIs(t, s.CreateSession(ctx, both), model.ErrOwnerConflict)

	neither := NewSession("", time.Now())
	assert.ErrorIs(t, s.CreateSession(ctx, neither), model.ErrOwnerConflict)
}

func testDuplicateJobID(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := NewSession("anon-1", time.Now())
	require.NoError(t, s.CreateSession(ctx, a))

	b := NewSession("anon-2", time.Now())
	b.JobID = a.JobID
	assert.ErrorIs(t, s.CreateSession(ctx, b), store.ErrDuplicateKey)
}

func testCountWindow(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := time.Now().UTC()
	for _, age := range []time.Duration{time.Minute, 2 * time.Hour, 23 * time.Hour, 25 * time.Hour, 72 * time.Hour} {
		require.NoError(t, s.CreateSession(ctx, NewSession("anon-1", now.Add(-age))))
	}
	require.NoError(t, s.CreateSession(ctx, NewSession("anon-2", now)))

	n, err := s.CountAnonymousSince(ctx, "anon-1", now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = s.CountAnonymousSince(ctx, "nobody", now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testUpdateStateLatch(t *testing.T, s store.Store) {
	ctx := context.Background()
	sess := NewSession("anon-1", time.Now())
	require.NoError(t, s.CreateSession(ctx, sess))

	st := sess.ScanState
	st.Phase = model.PhaseAnalyzing
	st.Progress = 60
	st.Discovered = 12
	require.NoError(t, s.UpdateState(ctx, sess.ID, st))

	st.Phase = model.PhaseErrored
	st.Error = "engine crashed"
	st.Reason = model.ReasonEngine
	require.NoError(t, s.UpdateState(ctx, sess.ID, st))

	stale := sess.ScanState
	stale.Phase = model.PhaseDiscovering
	stale.Progress = 10
	require.NoError(t, s.UpdateState(ctx, sess.ID, stale))

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseErrored, got.Phase)
	assert.Equal(t, 60, got.Progress)
	assert.Equal(t, 12, got.Discovered)
	assert.Equal(t, "engine crashed", got.Error)
	assert.Equal(t, model.ReasonEngine, got.Reason)

	err = s.UpdateState(ctx, "missing", st)
	assert.True(t, errors.Is(err, model.ErrSessionNotFound), "got %v", err)
}

func testLateResult(t *testing.T, s store.Store) {
	ctx := context.Background()
	sess := NewSession("anon-1", time.Now())
	require.NoError(t, s.CreateSession(ctx, sess))

	st := sess.ScanState
	st.Phase = model.PhaseFinished
	st.Progress = 100
	require.NoError(t, s.UpdateState(ctx, sess.ID, st))

	st.RawResult = []byte(`{"matches":[{"path":"admin"}]}`)
	st.Result = &model.NormalizedResult{
		Endpoints:       []model.Endpoint{{Path: "admin", Status: 301, Duration: 12 * time.Millisecond}},
		Vulnerabilities: []model.Vulnerability{{Name: "X", Severity: model.SeverityHigh}},
		Counts:          model.SeverityCounts{High: 1},
	}
	require.NoError(t, s.UpdateState(ctx, sess.ID, st))

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Result)
	assert.Equal(t, *st.Result, *got.Result)
	assert.JSONEq(t, string(st.RawResult), string(got.RawResult))

	replaced := st
	replaced.Result = &model.NormalizedResult{Endpoints: []model.Endpoint{}, Vulnerabilities: []model.Vulnerability{}}
	require.NoError(t, s.UpdateState(ctx, sess.ID, replaced))
	got, err = s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, got.Result.Endpoints, 1, "a stored result is never replaced once terminal")
}

func testListActiveAndOwner(t *testing.T, s store.Store) {
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, s.UpsertPrincipal(ctx, model.Principal{ID: "p1", Email: "p1@example.com"}))

	var ids []string
	for i := 0; i < 3; i++ {
		sess := NewSession("anon-1", base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, s.CreateSession(ctx, sess))
		ids = append(ids, sess.ID)
	}
	owned := NewSession("", base.Add(10*time.Minute))
	owned.PrincipalID = "p1"
	require.NoError(t, s.CreateSession(ctx, owned))

	done, err := s.GetSession(ctx, ids[0])
	require.NoError(t, err)
	fin := done.ScanState
	fin.Phase = model.PhaseFinished
	require.NoError(t, s.UpdateState(ctx, done.ID, fin))

	active, err := s.ListActive(ctx)
	require.NoError(t, err)
	var activeIDs []string
	for _, a := range active {
		activeIDs = append(activeIDs, a.ID)
	}
	assert.ElementsMatch(t, []string{ids[1], ids[2], owned.ID}, activeIDs)

	anon, err := s.ListByOwner(ctx, model.AnonymousIdentity("anon-1"), 2)
	require.NoError(t, err)
	require.Len(t, anon, 2)
	assert.Equal(t, ids[2], anon[0].ID, "newest first")
	assert.Equal(t, ids[1], anon[1].ID)

	mine, err := s.ListByOwner(ctx, model.AuthenticatedIdentity(model.Principal{ID: "p1"}), 0)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, owned.ID, mine[0].ID)
}

func testPrincipals(t *testing.T, s store.Store) {
	ctx := context.Background()
	_, err := s.GetPrincipal(ctx, "p1")
	assert.ErrorIs(t, err, model.ErrPrincipalNotFound)

	require.NoError(t, s.UpsertPrincipal(ctx, model.Principal{ID: "p1", Email: "old@example.com", CreatedAt: 100}))
	require.NoError(t, s.UpsertPrincipal(ctx, model.Principal{ID: "p1", Email: "new@example.com"}))

	p, err := s.GetPrincipal(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", p.Email)
	assert.Equal(t, int64(100), p.CreatedAt)

	err = s.UpsertPrincipal(ctx, model.Principal{ID: "p2", Email: "new@example.com"})
	assert.ErrorIs(t, err, store.ErrDuplicateKey)
}
