package presenter

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"athena/internal/executor"
	"athena/internal/triage"
)

func failedResult() executor.Result {
	return executor.Result{
		Target:   "db-01",
		Command:  "systemctl status mongod",
		ExitCode: 1,
		Stderr:   "Permission denied",
		ErrorAnalysis: &triage.Analysis{
			Kind:       triage.KindPermission,
			Confidence: 0.87,
		},
	}
}

func TestRenderFailureEnglish(t *testing.T) {
	got := New("en").RenderFailure(failedResult())

	assert.Contains(t, got, "Command failed")
	assert.Contains(t, got, "db-01")
	assert.Contains(t, got, "Exit code: 1")
	assert.Contains(t, got, "Permission denied")
	assert.Contains(t, got, "sudoers")
	assert.GreaterOrEqual(t, strings.Count(got, "  - "), 3, "at least three suggestions")
}

func TestRenderFailureFrench(t *testing.T) {
	got := New("fr").RenderFailure(failedResult())

	assert.Contains(t, got, "Échec de la commande")
	assert.Contains(t, got, "Code de sortie: 1")
	assert.Contains(t, got, "sudoers")
}

func TestRenderFailureTruncatesStderr(t *testing.T) {
	result := failedResult()
	result.Stderr = strings.Repeat("e", 500)
	got := New("en").RenderFailure(result)

	assert.Contains(t, got, strings.Repeat("e", 200))
	assert.NotContains(t, got, strings.Repeat("e", 201))
}

func TestRenderFailureUnknownKind(t *testing.T) {
	result := failedResult()
	result.ErrorAnalysis = nil
	got := New("en").RenderFailure(result)
	assert.Contains(t, got, "inspect the full error output")
}

func TestUnknownLanguageFallsBackToEnglish(t *testing.T) {
	got := New("de").RenderFailure(failedResult())
	assert.Contains(t, got, "Command failed")
}

func TestRenderTriage(t *testing.T) {
	got := New("en").RenderTriage(triage.Result{
		Priority:            triage.P0,
		Intent:              triage.IntentAction,
		Confidence:          0.9,
		EnvironmentDetected: "prod",
		ServiceDetected:     "mongodb",
		HostDetected:        "prod-db-01",
		EscalationRequired:  true,
	})

	assert.Contains(t, got, "P0")
	assert.Contains(t, got, "action")
	assert.Contains(t, got, "prod-db-01")
	assert.Contains(t, got, "Escalation required")
}
