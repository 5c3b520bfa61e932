package triage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"athena/internal/llm"
	"athena/internal/logging"
)

func TestAnalyzeKeywordTier(t *testing.T) {
	a := NewAnalyzer(nil, logging.Nop())

	tests := []struct {
		name       string
		errText    string
		wantKind   ErrorKind
		wantNeeds  bool
		minConf    float64
	}{
		{"publickey beats bare permission", "Permission denied (publickey,password).", KindCredential, true, 0.8},
		{"bare permission denied", "rm: cannot remove '/etc/x': Permission denied", KindPermission, false, 0.8},
		{"command not found", "bash: restrt: command not found", KindNotFound, false, 0.8},
		{"connection refused", "ssh: connect to host db-01 port 22: Connection refused", KindConnection, false, 0.8},
		{"disk full", "write /var/log/app.log: no space left on device", KindResource, false, 0.8},
		{"timeout", "Error: context deadline exceeded", KindTimeout, false, 0.7},
		{"config syntax", "nginx: [emerg] syntax error in /etc/nginx/nginx.conf:12", KindConfiguration, false, 0.7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := a.Analyze(context.Background(), tt.errText)
			assert.Equal(t, tt.wantKind, got.Kind)
			assert.Equal(t, tt.wantNeeds, got.NeedsCredentials)
			assert.GreaterOrEqual(t, got.Confidence, tt.minConf)
			assert.LessOrEqual(t, got.Confidence, 0.9)
			assert.NotEmpty(t, got.SuggestedAction)
			assert.NotEmpty(t, got.MatchedPattern)
		})
	}
}

func TestAnalyzeUnknownAndEmpty(t *testing.T) {
	a := NewAnalyzer(nil, logging.Nop())

	got := a.Analyze(context.Background(), "zxqv flrb")
	assert.Equal(t, KindUnknown, got.Kind)
	assert.InDelta(t, 0.3, got.Confidence, 1e-9)

	got = a.Analyze(context.Background(), "   ")
	assert.Equal(t, KindUnknown, got.Kind)
	assert.Zero(t, got.Confidence)
}

func TestAnalyzeKeywordConfidenceFormula(t *testing.T) {
	a := NewAnalyzer(nil, logging.Nop())

	// "timeout" is 7 chars: 0.7 + 7/100.
	got := a.Analyze(context.Background(), "operation timeout")
	assert.Equal(t, KindTimeout, got.Kind)
	assert.InDelta(t, 0.77, got.Confidence, 1e-9)

	// Long patterns cap at 0.9.
	got = a.Analyze(context.Background(), "Permission denied (publickey).")
	assert.InDelta(t, 0.9, got.Confidence, 1e-9)
}

func TestAnalyzeSemanticTier(t *testing.T) {
	a := NewAnalyzer(llm.NewHashEmbedder(), logging.Nop())

	// A verbatim reference phrase scores cosine 1.0 against itself.
	got := a.Analyze(context.Background(), "the password was rejected")
	assert.Equal(t, KindCredential, got.Kind)
	assert.True(t, got.NeedsCredentials)
	assert.GreaterOrEqual(t, got.Confidence, semanticThreshold)

	// Too short for a single trigram: zero vector, keyword tier takes over.
	got = a.Analyze(context.Background(), "xy")
	assert.Equal(t, KindUnknown, got.Kind)
	assert.InDelta(t, 0.3, got.Confidence, 1e-9)
}

func TestShouldRetryMatrix(t *testing.T) {
	tests := []struct {
		name     string
		analysis Analysis
		exitCode int
		want     bool
	}{
		{"permission retries", Analysis{Kind: KindPermission, Confidence: 0.85}, 1, true},
		{"not_found retries", Analysis{Kind: KindNotFound, Confidence: 0.87}, 127, true},
		{"configuration retries", Analysis{Kind: KindConfiguration, Confidence: 0.8}, 2, true},
		{"connection never retries", Analysis{Kind: KindConnection, Confidence: 0.88}, 1, false},
		{"timeout never retries", Analysis{Kind: KindTimeout, Confidence: 0.77}, 1, false},
		{"credential never retries", Analysis{Kind: KindCredential, Confidence: 0.9}, 1, false},
		{"resource never retries", Analysis{Kind: KindResource, Confidence: 0.9}, 1, false},
		{"unknown exit 1 retries", Analysis{Kind: KindUnknown, Confidence: 0.3}, 1, true},
		{"unknown exit 126 retries", Analysis{Kind: KindUnknown, Confidence: 0.3}, 126, true},
		{"unknown exit 2 does not", Analysis{Kind: KindUnknown, Confidence: 0.3}, 2, false},
		{"low confidence falls back to exit code", Analysis{Kind: KindConnection, Confidence: 0.4}, 127, true},
		{"low confidence, unlisted exit", Analysis{Kind: KindPermission, Confidence: 0.4}, 3, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldRetry(tt.analysis, tt.exitCode))
		})
	}
}

func TestAnalyzerSingletonPerPair(t *testing.T) {
	t.Cleanup(ResetInstances)
	ResetInstances()

	a1 := AnalyzerFor("db1", "alice", nil, logging.Nop())
	a2 := AnalyzerFor("db1", "alice", nil, logging.Nop())
	b := AnalyzerFor("db1", "bob", nil, logging.Nop())
	require.Same(t, a1, a2)
	require.NotSame(t, a1, b)

	ResetInstances()
	require.NotSame(t, a1, AnalyzerFor("db1", "alice", nil, logging.Nop()))
}
