// Package llm defines the language-model boundary consumed by the rest of
// Athena. The network client itself is an external collaborator; components
// depend only on the Client interface here.
package llm

import "context"

// Task hints let a router pick a cheaper model for mechanical work.
type Task string

const (
	TaskChat           Task = "chat"
	TaskTriage         Task = "triage"
	TaskExtraction     Task = "extraction"
	TaskCorrection     Task = "correction"
	TaskSummarization  Task = "summarization"
	TaskClassification Task = "classification"
)

// Request carries one generation call.
type Request struct {
	Prompt string
	System string
	Model  string
	Task   Task
}

// Client represents any LLM provider. Generate is a blocking synchronous
// boundary; callers enforce deadlines with WithDeadline.
type Client interface {
	// Generate sends a prompt and returns the model's text.
	Generate(ctx context.Context, req Request) (string, error)

	// Model returns the default model identifier.
	Model() string
}

// Embedder produces embedding vectors for semantic tiers. Optional: every
// consumer must degrade to keyword behavior when no Embedder is configured.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
