package profile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatmem/persona/pkg/topics"
)

// The stored document layout is a contract with whatever wrote the data
// before this process: keys and value shapes must stay stable.
func TestMarshalDocument_Layout(t *testing.T) {
	g := NewGraph("u1", "alice")
	g.CreatedAt = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	g.UpdatedAt = g.CreatedAt
	g.AddFact("любит кофе")
	g.Interests[topics.Music] = []InterestEntry{{
		Name:    "джаз",
		Status:  Likes,
		AddedAt: time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC),
		Current: true,
	}}
	g.SetTypicalTopics([]string{"music"})

	raw, err := g.MarshalDocument()
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"quick_facts": ["любит кофе"],
		"interests": {
			"music": [
				{"name": "джаз", "status": "likes", "added_at": "2026-03-10T10:00:00Z", "current": true}
			]
		},
		"typical_topics": ["music"],
		"created_at": "2026-03-10T09:00:00Z",
		"updated_at": "2026-03-10T09:00:00Z"
	}`, string(raw))
}

func TestFromDocument_IgnoresUnknownKeys(t *testing.T) {
	raw := []byte(`{
		"quick_facts": ["любит кофе"],
		"interests": {},
		"created_at": "2026-03-10T09:00:00Z",
		"updated_at": "2026-03-10T09:00:00Z",
		"legacy_field": {"anything": true}
	}`)

	g, err := FromDocument("u1", "alice", raw)
	require.NoError(t, err)
	assert.Equal(t, []string{"любит кофе"}, g.QuickFacts)
}
