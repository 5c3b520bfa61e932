// Package scanner captures a structured picture of the local machine and
// persists it as the store's local context. Snapshots age out after the
// configured TTL; callers check Stale before trusting one.
package scanner

import (
	"context"
	"strings"
	"time"

	"athena/internal/config"
	"athena/internal/executor"
	"athena/internal/inventory/store"
	"athena/internal/logging"
)

// Snapshot is one structured observation of the local machine, grouped by
// category the way the local-context table stores it.
type Snapshot struct {
	Categories map[string][]store.ContextEntry `json:"categories"`
	ScannedAt  time.Time                       `json:"scanned_at"`
	TTL        time.Duration                   `json:"ttl"`
}

// Stale reports whether the snapshot is older than its TTL.
func (s *Snapshot) Stale(now time.Time) bool {
	if s.ScannedAt.IsZero() {
		return true
	}
	return now.Sub(s.ScannedAt) >= s.TTL
}

// probe is one read-only observation command.
type probe struct {
	category string
	key      string
	command  string
}

// All probes are read-only; none require confirmation.
var probes = []probe{
	{"system", "hostname", "hostname"},
	{"system", "kernel", "uname -r"},
	{"system", "os", "uname -s"},
	{"system", "uptime", "uptime"},
	{"resources", "disk", "df -h /"},
	{"resources", "memory", "free -m"},
	{"processes", "top_processes", "ps aux --sort=-%mem | head -n 8"},
}

// Scanner runs local probes through the executor and persists the result.
type Scanner struct {
	cfg    *config.Config
	store  *store.Store
	exec   *executor.Executor
	logger logging.Logger
}

// New builds a Scanner.
func New(cfg *config.Config, st *store.Store, exec *executor.Executor, logger logging.Logger) *Scanner {
	return &Scanner{cfg: cfg, store: st, exec: exec, logger: logging.OrNop(logger)}
}

// Scan probes the local machine and atomically replaces the stored
// context. Failed probes are skipped, not fatal.
func (s *Scanner) Scan(ctx context.Context) (*Snapshot, error) {
	var entries []store.ContextEntry
	for _, p := range probes {
		result := s.exec.Execute(ctx, "local", p.command, executor.Options{})
		if !result.Success {
			s.logger.Debug("scanner: probe %s/%s failed: %s", p.category, p.key, result.Error)
			continue
		}
		entries = append(entries, store.ContextEntry{
			Category: p.category,
			Key:      p.key,
			Value:    strings.TrimSpace(result.Stdout),
		})
	}

	if err := s.store.SaveLocalContext(ctx, entries); err != nil {
		return nil, err
	}
	return s.Load(ctx)
}

// Load returns the stored snapshot without scanning.
func (s *Scanner) Load(ctx context.Context) (*Snapshot, error) {
	categories, scannedAt, err := s.store.GetLocalContext(ctx)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		Categories: categories,
		ScannedAt:  scannedAt,
		TTL:        s.cfg.ScannerTTL(),
	}, nil
}

// Current returns a fresh snapshot, rescanning only when the stored one is
// stale.
func (s *Scanner) Current(ctx context.Context) (*Snapshot, error) {
	snapshot, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	if !snapshot.Stale(time.Now()) {
		return snapshot, nil
	}
	return s.Scan(ctx)
}
