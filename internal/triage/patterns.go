package triage

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"

	atherrors "athena/internal/errors"
	"athena/internal/llm"
	"athena/internal/logging"
)

const (
	patternCollection    = "triage_patterns"
	patternShortCircuit  = 0.7
	patternInitialConf   = 0.5
	patternImplicitCeil  = 0.8
	patternImplicitStep  = 0.1
	patternExplicitConf  = 1.0
)

// Pattern is one learned triage outcome for a user's query.
type Pattern struct {
	UserID     string
	Query      string
	Intent     Intent
	Priority   Priority
	Confidence float64
	UseCount   int
	CreatedAt  time.Time
}

// PatternStore persists learned triage patterns in a vector collection,
// keyed by user and normalized query. Confidence follows a fixed ladder:
// 0.5 on capture, +0.1 per implicit validation up to 0.8, and 1.0 only on
// explicit user confirmation. An automatically collected pattern can
// therefore never outrank explicit feedback.
type PatternStore struct {
	mu         sync.Mutex
	collection *chromem.Collection
	logger     logging.Logger
}

// NewPatternStore opens the pattern collection. path "" keeps it in memory;
// embedder nil falls back to the deterministic hash embedder.
func NewPatternStore(path string, embedder llm.Embedder, logger logging.Logger) (*PatternStore, error) {
	logger = logging.OrNop(logger)
	if embedder == nil {
		embedder = llm.NewHashEmbedder()
	}
	embed := func(ctx context.Context, text string) ([]float32, error) {
		return embedder.Embed(ctx, text)
	}

	var (
		db  *chromem.DB
		err error
	)
	if path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, &atherrors.PersistenceError{Operation: "open_patterns", Reason: "cannot open pattern store", Err: err}
		}
	}
	collection, err := db.GetOrCreateCollection(patternCollection, nil, embed)
	if err != nil {
		return nil, &atherrors.PersistenceError{Operation: "open_patterns", Reason: "cannot open pattern collection", Err: err}
	}
	return &PatternStore{collection: collection, logger: logger}, nil
}

// NormalizeQuery lowercases and collapses whitespace so trivially different
// phrasings share one pattern.
func NormalizeQuery(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

func patternID(userID, normalized string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(userID+"\x00"+normalized)).String()
}

// Lookup returns the stored pattern for (userID, query), or nil when none
// exists. Store errors degrade to a miss; triage must not fail on them.
func (s *PatternStore) Lookup(ctx context.Context, userID, query string) *Pattern {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookupLocked(ctx, userID, NormalizeQuery(query))
}

func (s *PatternStore) lookupLocked(ctx context.Context, userID, normalized string) *Pattern {
	if s.collection.Count() == 0 {
		return nil
	}
	results, err := s.collection.Query(ctx, normalized, 1,
		map[string]string{"user_id": userID, "query": normalized}, nil)
	if err != nil || len(results) == 0 {
		return nil
	}
	return patternFromMetadata(results[0].Metadata)
}

// Learn records a classification outcome. First capture stores the pattern
// at confidence 0.5; a repeat only bumps use_count.
func (s *PatternStore) Learn(ctx context.Context, userID, query string, result Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	normalized := NormalizeQuery(query)
	if existing := s.lookupLocked(ctx, userID, normalized); existing != nil {
		existing.UseCount++
		return s.putLocked(ctx, existing)
	}
	return s.putLocked(ctx, &Pattern{
		UserID:     userID,
		Query:      normalized,
		Intent:     result.Intent,
		Priority:   result.Priority,
		Confidence: patternInitialConf,
		UseCount:   1,
		CreatedAt:  time.Now().UTC(),
	})
}

// Validate applies implicit validation: the pattern was used and the user
// did not correct it. Confidence climbs by 0.1 but never past 0.8, and an
// explicitly confirmed pattern is left untouched.
func (s *PatternStore) Validate(ctx context.Context, userID, query string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pattern := s.lookupLocked(ctx, userID, NormalizeQuery(query))
	if pattern == nil {
		return nil
	}
	pattern.UseCount++
	if pattern.Confidence < patternImplicitCeil {
		pattern.Confidence += patternImplicitStep
		if pattern.Confidence > patternImplicitCeil {
			pattern.Confidence = patternImplicitCeil
		}
	}
	return s.putLocked(ctx, pattern)
}

// Confirm applies explicit user feedback, pinning the pattern at full
// confidence with the corrected intent and priority.
func (s *PatternStore) Confirm(ctx context.Context, userID, query string, intent Intent, priority Priority) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	normalized := NormalizeQuery(query)
	pattern := s.lookupLocked(ctx, userID, normalized)
	if pattern == nil {
		pattern = &Pattern{UserID: userID, Query: normalized, UseCount: 1, CreatedAt: time.Now().UTC()}
	}
	pattern.Intent = intent
	pattern.Priority = priority
	pattern.Confidence = patternExplicitConf
	return s.putLocked(ctx, pattern)
}

func (s *PatternStore) putLocked(ctx context.Context, p *Pattern) error {
	err := s.collection.AddDocument(ctx, chromem.Document{
		ID:      patternID(p.UserID, p.Query),
		Content: p.Query,
		Metadata: map[string]string{
			"user_id":    p.UserID,
			"query":      p.Query,
			"intent":     string(p.Intent),
			"priority":   p.Priority.String(),
			"confidence": strconv.FormatFloat(p.Confidence, 'f', 2, 64),
			"use_count":  strconv.Itoa(p.UseCount),
			"created_at": p.CreatedAt.Format(time.RFC3339),
		},
	})
	if err != nil {
		return &atherrors.PersistenceError{Operation: "put_pattern", Reason: "cannot store pattern", Err: err}
	}
	return nil
}

func patternFromMetadata(meta map[string]string) *Pattern {
	confidence, _ := strconv.ParseFloat(meta["confidence"], 64)
	useCount, _ := strconv.Atoi(meta["use_count"])
	createdAt, _ := time.Parse(time.RFC3339, meta["created_at"])
	return &Pattern{
		UserID:     meta["user_id"],
		Query:      meta["query"],
		Intent:     Intent(meta["intent"]),
		Priority:   parsePriority(meta["priority"]),
		Confidence: confidence,
		UseCount:   useCount,
		CreatedAt:  createdAt,
	}
}

func parsePriority(s string) Priority {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "P0", "0":
		return P0
	case "P1", "1":
		return P1
	case "P2", "2":
		return P2
	default:
		return P3
	}
}

// ClassifyForUser triages a request with the pattern store in the loop. A
// learned pattern at confidence 0.7 or higher short-circuits classification;
// otherwise the fresh outcome is captured for next time.
func (c *Classifier) ClassifyForUser(ctx context.Context, userID, query string, state *SystemState) Result {
	if c.patterns == nil {
		return c.Classify(query, state)
	}

	if pattern := c.patterns.Lookup(ctx, userID, query); pattern != nil && pattern.Confidence >= patternShortCircuit {
		c.logger.Debug("triage: learned pattern hit for user %s (confidence %.2f)", userID, pattern.Confidence)
		return Result{
			Priority:           pattern.Priority,
			Intent:             pattern.Intent,
			Confidence:         pattern.Confidence,
			Signals:            []string{"learned pattern"},
			Reasoning:          "matched a learned pattern for this user",
			EscalationRequired: pattern.Priority == P0,
		}
	}

	result := c.Classify(query, state)
	if err := c.patterns.Learn(ctx, userID, query, result); err != nil {
		c.logger.Warn("triage: pattern capture failed: %v", err)
	}
	return result
}
