// Package enrich is the external enrichment boundary: it turns a day's
// transcript for one user into structured facts and interests.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/chatmem/persona/pkg/memory"
	"github.com/chatmem/persona/pkg/topics"
)

// Payload is the structured result of analyzing one user's transcript.
// The category mapping is closed over the known category set; keys the
// analyzer emitted outside it are collected in SkippedCategories so the
// caller can log them.
type Payload struct {
	Facts     []string
	Interests map[topics.Category][]string

	// Dislikes carries explicit negative sentiment when the analyzer
	// emits it. The current prompt only reports presence, so this is
	// usually empty; the merge path still honors it.
	Dislikes map[topics.Category][]string

	SkippedCategories []string
}

// Analyzer is the network-bound enrichment call. Fallible and slow;
// callers treat a failure as a per-user skip.
type Analyzer interface {
	Analyze(ctx context.Context, userID, username string, transcript []memory.Message) (Payload, error)
}

type payloadDoc struct {
	Facts     []string            `json:"facts"`
	Interests map[string][]string `json:"interests"`
	Dislikes  map[string][]string `json:"dislikes"`
}

// ParsePayload decodes a raw analyzer response into a typed Payload.
// The raw text may be wrapped in a markdown code fence. Anything that
// does not decode as the expected object shape is an error; unknown
// category keys are skipped, not fatal.
func ParsePayload(raw string) (Payload, error) {
	cleaned := stripFences(raw)
	if cleaned == "" {
		return Payload{}, fmt.Errorf("empty analyzer response")
	}

	var doc payloadDoc
	dec := json.NewDecoder(strings.NewReader(cleaned))
	if err := dec.Decode(&doc); err != nil {
		return Payload{}, fmt.Errorf("decode analyzer response: %w", err)
	}

	p := Payload{Facts: doc.Facts}
	p.Interests, p.SkippedCategories = mapCategories(doc.Interests, nil)
	p.Dislikes, p.SkippedCategories = mapCategories(doc.Dislikes, p.SkippedCategories)
	return p, nil
}

func mapCategories(in map[string][]string, skipped []string) (map[topics.Category][]string, []string) {
	if len(in) == 0 {
		return nil, skipped
	}
	out := make(map[topics.Category][]string, len(in))
	for key, names := range in {
		if len(names) == 0 {
			continue
		}
		cat, ok := topics.Parse(key)
		if !ok {
			skipped = append(skipped, key)
			continue
		}
		out[cat] = append(out[cat], names...)
	}
	if len(out) == 0 {
		out = nil
	}
	return out, skipped
}

// FormatTranscript renders messages the way the analyzer prompt expects:
// one "[HH:MM] username: text" line per message, oldest first.
func FormatTranscript(msgs []memory.Message) string {
	var b strings.Builder
	for i, msg := range msgs {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "[%s] %s: %s", msg.Timestamp.Format("15:04"), msg.Username, msg.Text)
	}
	return b.String()
}

func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	s = strings.TrimPrefix(s, "json")
	return strings.TrimSpace(s)
}
