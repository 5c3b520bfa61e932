// Package conversation manages the current conversation's lifecycle on top
// of the inventory store: message accounting, token pressure, compaction.
package conversation

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"athena/internal/config"
	"athena/internal/inventory/store"
	"athena/internal/llm"
	"athena/internal/logging"
	"athena/internal/metrics"
	"athena/internal/token"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// summaryMarker opens the synthesized first message of a continuation.
const summaryMarker = "[SUMMARY OF PREVIOUS CONVERSATION]"

// Summarizer condenses a finished conversation. The deterministic built-in
// is used when none is provided.
type Summarizer interface {
	Summarize(ctx context.Context, conv *store.Conversation, messages []*store.Message) (string, error)
}

// Manager owns conversation state for one user session.
type Manager struct {
	cfg    *config.Config
	store  *store.Store
	logger logging.Logger
}

// NewManager builds a Manager over an open store.
func NewManager(cfg *config.Config, st *store.Store, logger logging.Logger) *Manager {
	return &Manager{cfg: cfg, store: st, logger: logging.OrNop(logger)}
}

// Current returns the active conversation, starting one when none exists.
func (m *Manager) Current(ctx context.Context) (*store.Conversation, error) {
	conv, err := m.store.CurrentConversation(ctx)
	if err != nil {
		return nil, err
	}
	if conv != nil {
		return conv, nil
	}
	return m.store.StartConversation(ctx, fmt.Sprintf("Conversation %s", time.Now().Format("2006-01-02 15:04")))
}

// Append stores one message on the current conversation, charging its
// token estimate to the running count.
func (m *Manager) Append(ctx context.Context, role, content string) (*store.Conversation, error) {
	conv, err := m.Current(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := m.store.AppendMessage(ctx, conv.ID, role, content, token.Estimate(content)); err != nil {
		return nil, err
	}
	return m.store.GetConversation(ctx, conv.ID)
}

// ShouldCompact reports whether the conversation crossed the soft token
// threshold (default 80% of the limit).
func (m *Manager) ShouldCompact(conv *store.Conversation) bool {
	limit := float64(m.cfg.Conversation.TokenLimit)
	return float64(conv.TokenCount) >= m.cfg.Conversation.CompactThreshold*limit
}

// MustCompact reports whether the hard token limit was reached.
func (m *Manager) MustCompact(conv *store.Conversation) bool {
	return conv.TokenCount >= m.cfg.Conversation.TokenLimit
}

// Compact archives the current conversation and starts a continuation
// seeded with a summary as its first assistant message. summarizer may be
// nil; the deterministic summary is used then, and also whenever the
// provided summarizer fails.
func (m *Manager) Compact(ctx context.Context, summarizer Summarizer) (*store.Conversation, error) {
	old, err := m.Current(ctx)
	if err != nil {
		return nil, err
	}
	messages, err := m.store.ConversationMessages(ctx, old.ID, 0)
	if err != nil {
		return nil, err
	}

	summary := ""
	if summarizer != nil {
		summary, err = summarizer.Summarize(ctx, old, messages)
		if err != nil {
			m.logger.Warn("conversation: summarizer failed, using deterministic summary: %v", err)
			summary = ""
		}
	}
	if strings.TrimSpace(summary) == "" {
		summary = deterministicSummary(old, messages)
	}

	next, err := m.store.StartConversation(ctx, fmt.Sprintf("Continuation of %d", old.ID))
	if err != nil {
		return nil, err
	}
	seeded := summaryMarker + "\n" + summary
	if _, err := m.store.AppendMessage(ctx, next.ID, RoleAssistant, seeded, token.Estimate(seeded)); err != nil {
		return nil, err
	}
	if err := m.store.MarkCompacted(ctx, old.ID); err != nil {
		return nil, err
	}

	metrics.ConversationCompactionsTotal.Inc()
	m.logger.Info("conversation: compacted %d (%d tokens) into %d", old.ID, old.TokenCount, next.ID)
	return m.store.GetConversation(ctx, next.ID)
}

// History returns the most recent messages in chronological order.
func (m *Manager) History(ctx context.Context, limit int) ([]*store.Message, error) {
	conv, err := m.Current(ctx)
	if err != nil {
		return nil, err
	}
	return m.store.ConversationMessages(ctx, conv.ID, limit)
}

// Infrastructure words surfaced in deterministic summaries.
var infraKeywords = []string{
	"disk", "memory", "cpu", "network", "restart", "deploy", "backup",
	"database", "nginx", "docker", "kubernetes", "ssh", "dns", "firewall",
	"certificate", "log", "service", "mongodb", "postgres", "redis",
}

const (
	summaryInteractions     = 3
	summaryInteractionChars = 100
	summaryKeywordCount     = 5
)

// deterministicSummary condenses a conversation without an LLM: message
// counts, token total, duration, dominant infrastructure keywords and the
// tail of the exchange.
func deterministicSummary(conv *store.Conversation, messages []*store.Message) string {
	var users, assistants int
	counts := map[string]int{}
	for _, msg := range messages {
		switch msg.Role {
		case RoleUser:
			users++
		case RoleAssistant:
			assistants++
		}
		lowered := strings.ToLower(msg.Content)
		for _, kw := range infraKeywords {
			if strings.Contains(lowered, kw) {
				counts[kw]++
			}
		}
	}

	var top []string
	for kw := range counts {
		top = append(top, kw)
	}
	sort.Slice(top, func(i, j int) bool {
		if counts[top[i]] != counts[top[j]] {
			return counts[top[i]] > counts[top[j]]
		}
		return top[i] < top[j]
	})
	if len(top) > summaryKeywordCount {
		top = top[:summaryKeywordCount]
	}

	duration := conv.UpdatedAt.Sub(conv.CreatedAt).Round(time.Second)

	var b strings.Builder
	fmt.Fprintf(&b, "Messages: %d user, %d assistant. Tokens: %d. Duration: %s.\n",
		users, assistants, conv.TokenCount, duration)
	if len(top) > 0 {
		fmt.Fprintf(&b, "Topics: %s.\n", strings.Join(top, ", "))
	}
	tail := messages
	if len(tail) > summaryInteractions {
		tail = tail[len(tail)-summaryInteractions:]
	}
	for _, msg := range tail {
		content := strings.Join(strings.Fields(msg.Content), " ")
		if runes := []rune(content); len(runes) > summaryInteractionChars {
			content = string(runes[:summaryInteractionChars])
		}
		fmt.Fprintf(&b, "%s: %s\n", msg.Role, content)
	}
	return strings.TrimRight(b.String(), "\n")
}

// LLMSummarizer condenses conversations with a model call; Compact falls
// back to the deterministic summary when it errors.
type LLMSummarizer struct {
	client llm.Client
}

// NewLLMSummarizer wraps a client; timeout handling is the client's.
func NewLLMSummarizer(client llm.Client) *LLMSummarizer {
	return &LLMSummarizer{client: client}
}

const summarySystemPrompt = `You summarize infrastructure support conversations. Keep hostnames, services, commands run and outcomes. Reply with a compact plain-text summary under 200 words.`

func (s *LLMSummarizer) Summarize(ctx context.Context, conv *store.Conversation, messages []*store.Message) (string, error) {
	var b strings.Builder
	for _, msg := range messages {
		fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
	}
	return s.client.Generate(ctx, llm.Request{
		System: summarySystemPrompt,
		Prompt: b.String(),
		Task:   llm.TaskSummarization,
	})
}
