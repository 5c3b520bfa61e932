// Package knowledge is the long-term memory: past incidents and operator
// skills stored in vector collections, searchable by similarity.
package knowledge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"

	atherrors "athena/internal/errors"
	"athena/internal/llm"
	"athena/internal/logging"
)

const (
	incidentCollection = "incidents"
	skillCollection    = "skills"

	// Matches below this similarity are noise, not answers.
	suggestionThreshold = 0.3
)

// Incident is one recorded problem with its resolution.
type Incident struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Service     string    `json:"service,omitempty"`
	Host        string    `json:"host,omitempty"`
	Resolution  string    `json:"resolution"`
	CreatedAt   time.Time `json:"created_at"`
}

// Skill is a named, reusable procedure.
type Skill struct {
	Name      string    `json:"name"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// SearchResult is one similarity hit across both collections.
type SearchResult struct {
	Kind       string            `json:"kind"` // incident | skill
	ID         string            `json:"id"`
	Content    string            `json:"content"`
	Similarity float64           `json:"similarity"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Stats summarizes the store.
type Stats struct {
	Incidents int `json:"incidents"`
	Skills    int `json:"skills"`
}

// Store wraps the two vector collections.
type Store struct {
	incidents *chromem.Collection
	skills    *chromem.Collection
	logger    logging.Logger
}

// Open loads the knowledge store. dir "" keeps it in memory; embedder nil
// uses the deterministic hash embedder.
func Open(dir string, embedder llm.Embedder, logger logging.Logger) (*Store, error) {
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
	if dir == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(dir, false)
		if err != nil {
			return nil, atherrors.NewPersistence("open_knowledge", "cannot open knowledge store", err)
		}
	}
	incidents, err := db.GetOrCreateCollection(incidentCollection, nil, embed)
	if err != nil {
		return nil, atherrors.NewPersistence("open_knowledge", "cannot open incidents", err)
	}
	skills, err := db.GetOrCreateCollection(skillCollection, nil, embed)
	if err != nil {
		return nil, atherrors.NewPersistence("open_knowledge", "cannot open skills", err)
	}
	return &Store{incidents: incidents, skills: skills, logger: logger}, nil
}

// RecordIncident stores an incident and returns its id.
func (s *Store) RecordIncident(ctx context.Context, incident Incident) (string, error) {
	if strings.TrimSpace(incident.Title) == "" {
		return "", fmt.Errorf("incident title is required")
	}
	if incident.ID == "" {
		incident.ID = uuid.NewString()
	}
	if incident.CreatedAt.IsZero() {
		incident.CreatedAt = time.Now().UTC()
	}

	content := incident.Title + "\n" + incident.Description + "\nResolution: " + incident.Resolution
	err := s.incidents.AddDocument(ctx, chromem.Document{
		ID:      incident.ID,
		Content: content,
		Metadata: map[string]string{
			"title":      incident.Title,
			"service":    incident.Service,
			"host":       incident.Host,
			"resolution": incident.Resolution,
			"created_at": incident.CreatedAt.Format(time.RFC3339),
		},
	})
	if err != nil {
		return "", atherrors.NewPersistence("record_incident", "cannot store incident", err)
	}
	return incident.ID, nil
}

// RememberSkill stores or replaces a named procedure.
func (s *Store) RememberSkill(ctx context.Context, name, content string) error {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return fmt.Errorf("skill name is required")
	}
	err := s.skills.AddDocument(ctx, chromem.Document{
		ID:      uuid.NewSHA1(uuid.NameSpaceOID, []byte("skill:"+name)).String(),
		Content: name + "\n" + content,
		Metadata: map[string]string{
			"name":       name,
			"content":    content,
			"created_at": time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return atherrors.NewPersistence("remember_skill", "cannot store skill", err)
	}
	return nil
}

// RecallSkill fetches a skill by exact name.
func (s *Store) RecallSkill(ctx context.Context, name string) (*Skill, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if s.skills.Count() == 0 {
		return nil, nil
	}
	results, err := s.skills.Query(ctx, name, 1, map[string]string{"name": name}, nil)
	if err != nil || len(results) == 0 {
		return nil, nil
	}
	meta := results[0].Metadata
	createdAt, _ := time.Parse(time.RFC3339, meta["created_at"])
	return &Skill{Name: meta["name"], Content: meta["content"], CreatedAt: createdAt}, nil
}

// SearchKnowledge queries both collections and merges hits by similarity.
func (s *Store) SearchKnowledge(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 5
	}
	var out []SearchResult
	out = append(out, s.queryCollection(ctx, s.incidents, "incident", query, limit)...)
	out = append(out, s.queryCollection(ctx, s.skills, "skill", query, limit)...)

	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Similarity > out[j-1].Similarity; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) queryCollection(ctx context.Context, c *chromem.Collection, kind, query string, limit int) []SearchResult {
	count := c.Count()
	if count == 0 {
		return nil
	}
	if limit > count {
		limit = count
	}
	results, err := c.Query(ctx, query, limit, nil, nil)
	if err != nil {
		s.logger.Warn("knowledge: %s query failed: %v", kind, err)
		return nil
	}
	out := make([]SearchResult, 0, len(results))
	for _, r := range results {
		out = append(out, SearchResult{
			Kind:       kind,
			ID:         r.ID,
			Content:    r.Content,
			Similarity: float64(r.Similarity),
			Metadata:   r.Metadata,
		})
	}
	return out
}

// GetSolutionSuggestion returns the closest past resolution or skill for a
// problem description, empty when nothing is similar enough.
func (s *Store) GetSolutionSuggestion(ctx context.Context, problem string) (string, error) {
	hits, err := s.SearchKnowledge(ctx, problem, 3)
	if err != nil {
		return "", err
	}
	for _, hit := range hits {
		if hit.Similarity < suggestionThreshold {
			continue
		}
		switch hit.Kind {
		case "incident":
			if resolution := hit.Metadata["resolution"]; resolution != "" {
				return fmt.Sprintf("A similar incident (%s) was resolved by: %s",
					hit.Metadata["title"], resolution), nil
			}
		case "skill":
			return fmt.Sprintf("Known procedure %q may apply: %s",
				hit.Metadata["name"], hit.Metadata["content"]), nil
		}
	}
	return "", nil
}

// GraphStats counts stored knowledge.
func (s *Store) GraphStats() Stats {
	return Stats{Incidents: s.incidents.Count(), Skills: s.skills.Count()}
}
