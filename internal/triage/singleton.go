package triage

import (
	"sync"

	"athena/internal/llm"
	"athena/internal/logging"
)

// Process-wide instances, one per (store, user) pair. Components receive
// them as explicit dependencies; the registry only guarantees that repeated
// construction for the same pair yields the same object.
var (
	instanceMu  sync.Mutex
	classifiers = map[instanceKey]*Classifier{}
	analyzers   = map[instanceKey]*Analyzer{}
)

type instanceKey struct {
	storeID string
	userID  string
}

// ClassifierFor returns the shared classifier for a (storeID, userID) pair,
// constructing it on first use.
func ClassifierFor(storeID, userID string, patterns *PatternStore, logger logging.Logger) *Classifier {
	instanceMu.Lock()
	defer instanceMu.Unlock()

	key := instanceKey{storeID: storeID, userID: userID}
	if c, ok := classifiers[key]; ok {
		return c
	}
	c := NewClassifier(patterns, logger)
	classifiers[key] = c
	return c
}

// AnalyzerFor returns the shared error analyzer for a (storeID, userID)
// pair, constructing it on first use.
func AnalyzerFor(storeID, userID string, embedder llm.Embedder, logger logging.Logger) *Analyzer {
	instanceMu.Lock()
	defer instanceMu.Unlock()

	key := instanceKey{storeID: storeID, userID: userID}
	if a, ok := analyzers[key]; ok {
		return a
	}
	a := NewAnalyzer(embedder, logger)
	analyzers[key] = a
	return a
}

// ResetInstances drops every cached classifier and analyzer. Tests use it
// to swap store paths between cases.
func ResetInstances() {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	classifiers = map[instanceKey]*Classifier{}
	analyzers = map[instanceKey]*Analyzer{}
}
