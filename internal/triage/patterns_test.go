package triage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"athena/internal/logging"
)

func newTestPatternStore(t *testing.T) *PatternStore {
	t.Helper()
	s, err := NewPatternStore("", nil, logging.Nop())
	require.NoError(t, err)
	return s
}

func TestNormalizeQuery(t *testing.T) {
	assert.Equal(t, "restart nginx", NormalizeQuery("  Restart   NGINX "))
	assert.Equal(t, "", NormalizeQuery("   "))
}

func TestPatternLearnAndLookup(t *testing.T) {
	s := newTestPatternStore(t)
	ctx := context.Background()
	result := Result{Intent: IntentAction, Priority: P1}

	require.NoError(t, s.Learn(ctx, "alice", "Restart   nginx", result))

	p := s.Lookup(ctx, "alice", "restart nginx")
	require.NotNil(t, p, "normalized phrasings share one pattern")
	assert.Equal(t, IntentAction, p.Intent)
	assert.Equal(t, P1, p.Priority)
	assert.InDelta(t, 0.5, p.Confidence, 1e-9)
	assert.Equal(t, 1, p.UseCount)

	// A repeat capture only bumps use_count.
	require.NoError(t, s.Learn(ctx, "alice", "restart nginx", Result{Intent: IntentQuery, Priority: P3}))
	p = s.Lookup(ctx, "alice", "restart nginx")
	require.NotNil(t, p)
	assert.Equal(t, 2, p.UseCount)
	assert.Equal(t, IntentAction, p.Intent, "first capture wins until explicit feedback")
	assert.InDelta(t, 0.5, p.Confidence, 1e-9)

	assert.Nil(t, s.Lookup(ctx, "bob", "restart nginx"), "patterns are per user")
	assert.Nil(t, s.Lookup(ctx, "alice", "stop nginx"))
}

func TestPatternImplicitValidationLadder(t *testing.T) {
	s := newTestPatternStore(t)
	ctx := context.Background()
	require.NoError(t, s.Learn(ctx, "alice", "restart nginx", Result{Intent: IntentAction, Priority: P2}))

	want := []float64{0.6, 0.7, 0.8, 0.8}
	for _, expected := range want {
		require.NoError(t, s.Validate(ctx, "alice", "restart nginx"))
		p := s.Lookup(ctx, "alice", "restart nginx")
		require.NotNil(t, p)
		assert.InDelta(t, expected, p.Confidence, 1e-9, "implicit validation caps at 0.8")
	}

	// Validating a pattern nobody stored is a no-op.
	require.NoError(t, s.Validate(ctx, "alice", "unseen query"))
	assert.Nil(t, s.Lookup(ctx, "alice", "unseen query"))
}

func TestPatternExplicitConfirmation(t *testing.T) {
	s := newTestPatternStore(t)
	ctx := context.Background()
	require.NoError(t, s.Learn(ctx, "alice", "restart nginx", Result{Intent: IntentAction, Priority: P2}))

	require.NoError(t, s.Confirm(ctx, "alice", "restart nginx", IntentAction, P1))
	p := s.Lookup(ctx, "alice", "restart nginx")
	require.NotNil(t, p)
	assert.InDelta(t, 1.0, p.Confidence, 1e-9)
	assert.Equal(t, P1, p.Priority)

	// Implicit validation never lowers explicit feedback.
	require.NoError(t, s.Validate(ctx, "alice", "restart nginx"))
	p = s.Lookup(ctx, "alice", "restart nginx")
	assert.InDelta(t, 1.0, p.Confidence, 1e-9)

	// Confirm also creates the pattern when none was captured.
	require.NoError(t, s.Confirm(ctx, "alice", "drain the pool", IntentAction, P2))
	p = s.Lookup(ctx, "alice", "drain the pool")
	require.NotNil(t, p)
	assert.InDelta(t, 1.0, p.Confidence, 1e-9)
}

func TestClassifyForUserCapturesAndShortCircuits(t *testing.T) {
	s := newTestPatternStore(t)
	c := NewClassifier(s, logging.Nop())
	ctx := context.Background()

	got := c.ClassifyForUser(ctx, "alice", "show hosts in staging", nil)
	assert.Equal(t, IntentQuery, got.Intent)

	p := s.Lookup(ctx, "alice", "show hosts in staging")
	require.NotNil(t, p, "fresh outcomes are captured")
	assert.InDelta(t, 0.5, p.Confidence, 1e-9)

	// 0.5 then 0.6: still below the short-circuit threshold, so the
	// classifier keeps computing fresh results.
	require.NoError(t, s.Validate(ctx, "alice", "show hosts in staging"))
	got = c.ClassifyForUser(ctx, "alice", "show hosts in staging", nil)
	assert.NotContains(t, got.Signals, "learned pattern")

	// Explicit feedback pins P2/analysis, which then short-circuits.
	require.NoError(t, s.Confirm(ctx, "alice", "show hosts in staging", IntentAnalysis, P2))
	got = c.ClassifyForUser(ctx, "alice", "Show   Hosts in staging", nil)
	assert.Equal(t, P2, got.Priority)
	assert.Equal(t, IntentAnalysis, got.Intent)
	assert.InDelta(t, 1.0, got.Confidence, 1e-9)
	assert.Contains(t, got.Signals, "learned pattern")
}

func TestPatternStorePersistsToDisk(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := NewPatternStore(dir, nil, logging.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Learn(ctx, "alice", "restart nginx", Result{Intent: IntentAction, Priority: P1}))

	reopened, err := NewPatternStore(dir, nil, logging.Nop())
	require.NoError(t, err)
	p := reopened.Lookup(ctx, "alice", "restart nginx")
	require.NotNil(t, p)
	assert.Equal(t, P1, p.Priority)
}
