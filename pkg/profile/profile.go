// Package profile holds the per-user knowledge profile: capacity-bounded
// quick facts plus a versioned interest graph with like/dislike status and
// full change history.
package profile

import (
	"sort"
	"strings"
	"time"

	"github.com/chatmem/persona/pkg/topics"
)

// Status is the sentiment attached to an interest entry.
type Status string

const (
	Likes    Status = "likes"
	Dislikes Status = "dislikes"
)

// ParseStatus validates a raw status string.
func ParseStatus(s string) (Status, bool) {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case Likes:
		return Likes, true
	case Dislikes:
		return Dislikes, true
	}
	return "", false
}

// InterestEntry is one version of a user's standing on an interest.
// Entries are never removed; a change of mind flips Current on the old
// entry and appends a new one.
type InterestEntry struct {
	Name    string
	Status  Status
	AddedAt time.Time
	Current bool
}

const (
	maxQuickFacts    = 10
	maxContextFacts  = 5
	maxContextTopics = 3
	maxTypicalTopics = 3
)

// Graph is the knowledge profile of a single user. It is owned by the
// knowledge manager; a single writer per user is assumed.
type Graph struct {
	UserID   string
	Username string

	QuickFacts    []string
	Interests     map[topics.Category][]InterestEntry
	TypicalTopics []string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewGraph constructs an empty profile for a never-seen user.
func NewGraph(userID, username string) *Graph {
	now := time.Now()
	return &Graph{
		UserID:    userID,
		Username:  username,
		Interests: make(map[topics.Category][]InterestEntry),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// AddInterest records a (category, name, status) observation.
//
// Three outcomes, keyed on the current entry for the case-insensitive name:
//   - no current entry: a new current entry is appended;
//   - same status: the existing entry's timestamp is refreshed in place
//     ("still true" is the single exception to append-only);
//   - different status: the existing entry is flipped to non-current and a
//     new current entry is appended, preserving the full history.
func (g *Graph) AddInterest(category topics.Category, name string, status Status) {
	entries := g.Interests[category]

	idx := -1
	for i := range entries {
		if entries[i].Current && strings.EqualFold(entries[i].Name, name) {
			idx = i
			break
		}
	}

	switch {
	case idx >= 0 && entries[idx].Status == status:
		entries[idx].AddedAt = time.Now()
	case idx >= 0:
		entries[idx].Current = false
		entries = append(entries, InterestEntry{Name: name, Status: status, AddedAt: time.Now(), Current: true})
	default:
		entries = append(entries, InterestEntry{Name: name, Status: status, AddedAt: time.Now(), Current: true})
	}
	g.Interests[category] = entries
}

// CurrentInterests returns only current entries, preserving insertion
// order within each category. With a filter, only that category is
// returned; categories with no current entries are omitted entirely.
func (g *Graph) CurrentInterests(filter ...topics.Category) map[topics.Category][]InterestEntry {
	out := make(map[topics.Category][]InterestEntry)

	pick := func(cat topics.Category) {
		var current []InterestEntry
		for _, e := range g.Interests[cat] {
			if e.Current {
				current = append(current, e)
			}
		}
		if len(current) > 0 {
			out[cat] = current
		}
	}

	if len(filter) > 0 {
		for _, cat := range filter {
			pick(cat)
		}
		return out
	}
	for cat := range g.Interests {
		pick(cat)
	}
	return out
}

// InterestHistory returns every version of the named interest across all
// categories, oldest first.
func (g *Graph) InterestHistory(name string) []InterestEntry {
	var history []InterestEntry
	for _, entries := range g.Interests {
		for _, e := range entries {
			if strings.EqualFold(e.Name, name) {
				history = append(history, e)
			}
		}
	}
	sort.SliceStable(history, func(i, j int) bool {
		return history[i].AddedAt.Before(history[j].AddedAt)
	})
	return history
}

// AddFact appends a quick fact unless an equal fact (case-insensitive)
// is already present, then truncates to the newest entries. Returns true
// when the fact was newly added.
func (g *Graph) AddFact(fact string) bool {
	fact = strings.TrimSpace(fact)
	if fact == "" {
		return false
	}
	for _, existing := range g.QuickFacts {
		if strings.EqualFold(existing, fact) {
			return false
		}
	}
	g.QuickFacts = append(g.QuickFacts, fact)
	if len(g.QuickFacts) > maxQuickFacts {
		g.QuickFacts = g.QuickFacts[len(g.QuickFacts)-maxQuickFacts:]
	}
	return true
}

// SetTypicalTopics replaces the typical-topics summary, keeping the head.
func (g *Graph) SetTypicalTopics(names []string) {
	if len(names) > maxTypicalTopics {
		names = names[:maxTypicalTopics]
	}
	g.TypicalTopics = append([]string(nil), names...)
}

// RelevantContext renders the parts of the profile relevant to the
// detected topics as a compact natural-language summary. An empty string
// means no personalization is available, not an error.
func (g *Graph) RelevantContext(detected map[topics.Category]struct{}) string {
	var parts []string

	if len(g.QuickFacts) > 0 {
		facts := g.QuickFacts
		if len(facts) > maxContextFacts {
			facts = facts[:maxContextFacts]
		}
		parts = append(parts, "Факты о "+g.Username+": "+strings.Join(facts, ", "))
	}

	// Stable output order: iterate the enumeration, not the set.
	for _, cat := range topics.All() {
		if _, ok := detected[cat]; !ok {
			continue
		}
		current := g.CurrentInterests(cat)[cat]
		if len(current) == 0 {
			continue
		}
		names := make([]string, 0, len(current))
		for _, e := range current {
			verdict := "нравится"
			if e.Status == Dislikes {
				verdict = "не нравится"
			}
			names = append(names, e.Name+" ("+verdict+")")
		}
		parts = append(parts, g.Username+" ("+string(cat)+"): "+strings.Join(names, ", "))
	}

	if _, ok := detected[topics.General]; ok && len(g.TypicalTopics) > 0 {
		summary := g.TypicalTopics
		if len(summary) > maxContextTopics {
			summary = summary[:maxContextTopics]
		}
		parts = append(parts, "Обычные темы "+g.Username+": "+strings.Join(summary, ", "))
	}

	return strings.Join(parts, "\n")
}
