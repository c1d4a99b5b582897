// Package analysis runs the nightly pipeline: collect a day's messages,
// enrich each user's transcript, merge the results into their interest
// graphs, persist, invalidate the live cache and prune the daily log.
package analysis

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chatmem/persona/pkg/enrich"
	"github.com/chatmem/persona/pkg/memory"
	"github.com/chatmem/persona/pkg/profile"
	"github.com/chatmem/persona/pkg/store"
	"github.com/chatmem/persona/pkg/topics"
)

const defaultParallelism = 3

// MessageSource is the durable side of collection.
type MessageSource interface {
	MessagesOn(ctx context.Context, day time.Time) ([]memory.Message, error)
	RecordAnalysisRun(ctx context.Context, run store.AnalysisRun) error
}

// DailyLog is the in-process fallback when storage is unavailable, and
// the prune target at the end of a run.
type DailyLog interface {
	DailyLog() []memory.Message
	PruneDailyLog()
}

// Graphs is the knowledge-manager surface the pipeline needs. Merges
// run on detached instances so the cached graphs live chat reads are
// never mutated mid-render; Invalidate exposes the merged state.
type Graphs interface {
	LoadDetached(ctx context.Context, userID, username string) *profile.Graph
	Save(ctx context.Context, g *profile.Graph) bool
	Invalidate()
}

// UserResult is one user's outcome within a run.
type UserResult struct {
	UserID   string
	Username string
	NewFacts []string
	Merged   int // interest entries merged
	Err      string
}

// Report summarizes one run for operator visibility. The per-user fact
// delta is computed during merge, not re-derived from storage.
type Report struct {
	Day       time.Time
	StartedAt time.Time
	Users     []UserResult
}

// NewFactCount totals the newly learned facts across all users.
func (r Report) NewFactCount() int {
	n := 0
	for _, u := range r.Users {
		n += len(u.NewFacts)
	}
	return n
}

// Pipeline is safe to trigger from the scheduler or an operator command.
// Per-user enrichment runs under a bounded parallelism limit; no lock is
// held across the network call, so a live read interleaving between load
// and save may observe a stale graph.
type Pipeline struct {
	source   MessageSource
	daily    DailyLog
	graphs   Graphs
	analyzer enrich.Analyzer
	log      *zap.Logger

	parallelism int
	now         func() time.Time
}

// Option tweaks pipeline construction.
type Option func(*Pipeline)

// WithParallelism bounds concurrent per-user enrichment calls.
func WithParallelism(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.parallelism = n
		}
	}
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// New builds a pipeline. source may be nil; collection then uses the
// daily log only.
func New(source MessageSource, daily DailyLog, graphs Graphs, analyzer enrich.Analyzer, log *zap.Logger, opts ...Option) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Pipeline{
		source:      source,
		daily:       daily,
		graphs:      graphs,
		analyzer:    analyzer,
		log:         log,
		parallelism: defaultParallelism,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RunYesterday runs the pipeline over the previous calendar day.
func (p *Pipeline) RunYesterday(ctx context.Context) Report {
	return p.Run(ctx, p.now().AddDate(0, 0, -1))
}

// Run processes one calendar day. A single user's failure never aborts
// the rest of the batch; the cache is invalidated once after all merges
// and the daily log pruned at the end.
func (p *Pipeline) Run(ctx context.Context, day time.Time) Report {
	started := p.now()
	report := Report{Day: day, StartedAt: started}

	byUser, selfContext := p.collect(ctx, day)
	if len(byUser) == 0 {
		p.log.Info("no messages to analyze", zap.String("day", day.Format("2006-01-02")))
		p.finish(ctx, &report, started)
		return report
	}

	userIDs := make([]string, 0, len(byUser))
	for id := range byUser {
		userIDs = append(userIDs, id)
	}
	sort.Strings(userIDs)

	results := make([]UserResult, len(userIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.parallelism)
	for i, userID := range userIDs {
		i, userID := i, userID
		g.Go(func() error {
			results[i] = p.analyzeUser(gctx, userID, byUser[userID], selfContext)
			return nil
		})
	}
	_ = g.Wait()
	report.Users = results

	// One cache sweep after the whole batch, never per user.
	p.graphs.Invalidate()
	p.finish(ctx, &report, started)
	return report
}

// collect fetches the day's messages grouped by user. Durable storage
// is preferred; only when it is absent or the fetch fails does the
// in-process daily log serve as fallback, filtered to the day's bounds.
// A successful query with zero rows is a real answer, not a fallback
// trigger. Self messages are split out as shared conversational context.
func (p *Pipeline) collect(ctx context.Context, day time.Time) (map[string][]memory.Message, []memory.Message) {
	var msgs []memory.Message
	fetched := false
	if p.source != nil {
		stored, err := p.source.MessagesOn(ctx, day)
		if err != nil {
			p.log.Warn("durable message fetch failed, using daily log", zap.Error(err))
		} else {
			msgs = stored
			fetched = true
		}
	}
	if !fetched && p.daily != nil {
		for _, msg := range p.daily.DailyLog() {
			if sameDay(msg.Timestamp, day) {
				msgs = append(msgs, msg)
			}
		}
	}

	byUser := make(map[string][]memory.Message)
	var selfContext []memory.Message
	for _, msg := range msgs {
		if msg.IsSelf() {
			selfContext = append(selfContext, msg)
			continue
		}
		byUser[msg.UserID] = append(byUser[msg.UserID], msg)
	}
	return byUser, selfContext
}

// analyzeUser runs enrich, merge and persist for one user. The graph is
// loaded only after enrichment returns so no lock spans the network
// call, and it is a detached instance so concurrent chat reads of the
// cached copy see stale but consistent state until the invalidation.
func (p *Pipeline) analyzeUser(ctx context.Context, userID string, msgs []memory.Message, selfContext []memory.Message) UserResult {
	username := msgs[len(msgs)-1].Username
	result := UserResult{UserID: userID, Username: username}

	transcript := buildTranscript(msgs, selfContext)
	payload, err := p.analyzer.Analyze(ctx, userID, username, transcript)
	if err != nil {
		p.log.Error("enrichment failed, skipping user",
			zap.String("user_id", userID), zap.Error(err))
		result.Err = err.Error()
		return result
	}
	for _, key := range payload.SkippedCategories {
		p.log.Warn("unknown interest category in payload",
			zap.String("user_id", userID), zap.String("category", key))
	}

	g := p.graphs.LoadDetached(ctx, userID, username)
	result.NewFacts, result.Merged = merge(g, payload)
	g.SetTypicalTopics(typicalTopics(msgs))

	if !p.graphs.Save(ctx, g) {
		p.log.Warn("graph persist failed after merge", zap.String("user_id", userID))
	}

	p.log.Info("user analyzed",
		zap.String("user_id", userID),
		zap.Int("new_facts", len(result.NewFacts)),
		zap.Int("merged_interests", result.Merged))
	return result
}

// merge applies one payload to a graph and returns the newly added
// facts plus the number of interest entries merged. Enrichment reports
// presence, not sentiment, so interests default to likes; an explicit
// dislikes section overrides that per name.
func merge(g *profile.Graph, payload enrich.Payload) (newFacts []string, merged int) {
	for _, fact := range payload.Facts {
		if g.AddFact(fact) {
			newFacts = append(newFacts, fact)
		}
	}
	for cat, names := range payload.Interests {
		for _, name := range names {
			g.AddInterest(cat, name, profile.Likes)
			merged++
		}
	}
	for cat, names := range payload.Dislikes {
		for _, name := range names {
			g.AddInterest(cat, name, profile.Dislikes)
			merged++
		}
	}
	return newFacts, merged
}

// buildTranscript interleaves the user's messages with the agent's own
// replies, ordered by time, so enrichment sees the conversation flow.
func buildTranscript(msgs, selfContext []memory.Message) []memory.Message {
	out := make([]memory.Message, 0, len(msgs)+len(selfContext))
	out = append(out, msgs...)
	out = append(out, selfContext...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// typicalTopics ranks the categories detected across the day's messages.
func typicalTopics(msgs []memory.Message) []string {
	counts := make(map[topics.Category]int)
	for _, msg := range msgs {
		for cat := range topics.Detect(msg.Text) {
			if cat == topics.General {
				continue
			}
			counts[cat]++
		}
	}
	if len(counts) == 0 {
		return nil
	}
	ranked := make([]topics.Category, 0, len(counts))
	for cat := range counts {
		ranked = append(ranked, cat)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if counts[ranked[i]] != counts[ranked[j]] {
			return counts[ranked[i]] > counts[ranked[j]]
		}
		return ranked[i] < ranked[j]
	})
	out := make([]string, 0, len(ranked))
	for _, cat := range ranked {
		out = append(out, string(cat))
	}
	return out
}

func (p *Pipeline) finish(ctx context.Context, report *Report, started time.Time) {
	if p.daily != nil {
		p.daily.PruneDailyLog()
	}
	if p.source != nil {
		failures := 0
		for _, u := range report.Users {
			if u.Err != "" {
				failures++
			}
		}
		run := store.AnalysisRun{
			StartedAt:   started,
			CompletedAt: p.now(),
			Users:       len(report.Users),
			NewFacts:    report.NewFactCount(),
		}
		if failures > 0 {
			run.Error = fmt.Sprintf("partial: %d user(s) failed", failures)
		}
		if err := p.source.RecordAnalysisRun(ctx, run); err != nil {
			p.log.Warn("analysis run record failed", zap.Error(err))
		}
	}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
