package relations

import (
	"sync"

	"athena/internal/config"
	"athena/internal/llm"
	"athena/internal/logging"
)

var (
	instanceMu sync.Mutex
	instances  = map[instanceKey]*Classifier{}
)

type instanceKey struct {
	storeID string
	userID  string
}

// InstanceFor returns the shared relation classifier for a (storeID, userID)
// pair, constructing it on first use.
func InstanceFor(storeID, userID string, cfg *config.Config, client llm.Client, logger logging.Logger) *Classifier {
	instanceMu.Lock()
	defer instanceMu.Unlock()

	key := instanceKey{storeID: storeID, userID: userID}
	if c, ok := instances[key]; ok {
		return c
	}
	c := New(cfg, client, logger)
	instances[key] = c
	return c
}

// ResetInstances drops every cached classifier so tests can swap stores.
func ResetInstances() {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	instances = map[instanceKey]*Classifier{}
}
