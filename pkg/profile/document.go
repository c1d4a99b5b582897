package profile

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/chatmem/persona/pkg/topics"
)

// Persisted document shape, keyed by user id in the durable store.
// Timestamps are RFC 3339 so the document stays portable across stores.
type document struct {
	QuickFacts    []string              `json:"quick_facts"`
	Interests     map[string][]entryDoc `json:"interests"`
	TypicalTopics []string              `json:"typical_topics,omitempty"`
	CreatedAt     string                `json:"created_at"`
	UpdatedAt     string                `json:"updated_at"`
}

type entryDoc struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	AddedAt string `json:"added_at"`
	Current bool   `json:"current"`
}

// MarshalDocument renders the graph into its persisted document form.
func (g *Graph) MarshalDocument() ([]byte, error) {
	doc := document{
		QuickFacts:    g.QuickFacts,
		Interests:     make(map[string][]entryDoc, len(g.Interests)),
		TypicalTopics: g.TypicalTopics,
		CreatedAt:     g.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:     g.UpdatedAt.Format(time.RFC3339Nano),
	}
	for cat, entries := range g.Interests {
		list := make([]entryDoc, 0, len(entries))
		for _, e := range entries {
			list = append(list, entryDoc{
				Name:    e.Name,
				Status:  string(e.Status),
				AddedAt: e.AddedAt.Format(time.RFC3339Nano),
				Current: e.Current,
			})
		}
		doc.Interests[string(cat)] = list
	}
	return json.Marshal(doc)
}

// FromDocument reconstructs a graph from its persisted form. The raw
// payload must be a JSON object; anything else is reported as corrupt so
// the caller can discard it and start fresh. Entries under unknown
// categories or with unknown statuses are skipped, keeping the interest
// mapping closed over the enumerated category set.
func FromDocument(userID, username string, raw []byte) (*Graph, error) {
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode profile document: %w", err)
	}

	g := NewGraph(userID, username)
	g.QuickFacts = doc.QuickFacts
	g.TypicalTopics = doc.TypicalTopics

	for rawCat, entries := range doc.Interests {
		cat, ok := topics.Parse(rawCat)
		if !ok {
			continue
		}
		list := make([]InterestEntry, 0, len(entries))
		for _, e := range entries {
			status, ok := ParseStatus(e.Status)
			if !ok {
				continue
			}
			addedAt, err := time.Parse(time.RFC3339Nano, e.AddedAt)
			if err != nil {
				continue
			}
			list = append(list, InterestEntry{
				Name:    e.Name,
				Status:  status,
				AddedAt: addedAt,
				Current: e.Current,
			})
		}
		if len(list) > 0 {
			g.Interests[cat] = list
		}
	}

	if t, err := time.Parse(time.RFC3339Nano, doc.CreatedAt); err == nil {
		g.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, doc.UpdatedAt); err == nil {
		g.UpdatedAt = t
	}
	return g, nil
}
