// Package memory is the tiered message memory: a fixed-capacity recent
// ring for context building, an unbounded same-day log consumed by the
// nightly pipeline, and a write-through link to durable storage.
package memory

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SelfUserID is the reserved sentinel marking the agent's own replies.
// Self messages stay visible to context building but are never persisted.
const SelfUserID = "__self__"

// SelfUsername is the display name attached to self messages.
const SelfUsername = "persona"

// Message is one chat turn. Immutable once created.
type Message struct {
	UserID    string
	Username  string
	Text      string
	MessageID string
	Timestamp time.Time
}

// IsSelf reports whether the message is one of the agent's own replies.
func (m Message) IsSelf() bool { return m.UserID == SelfUserID }

// Store is the durable sink for chat turns. Unavailability degrades the
// memory to its in-process tiers; it never fails an append.
type Store interface {
	SaveMessage(ctx context.Context, msg Message) error
	UpsertUser(ctx context.Context, userID, username string, lastSeen time.Time) error
}

const defaultShortTermLimit = 30

// Memory holds the in-process tiers. Safe for concurrent use.
type Memory struct {
	mu        sync.RWMutex
	shortTerm []Message
	dailyLog  []Message

	limit int
	store Store // may be nil: short-term/daily-log-only operation
	log   *zap.Logger
	now   func() time.Time
}

// Option tweaks Memory construction.
type Option func(*Memory)

// WithShortTermLimit overrides the recent-ring capacity.
func WithShortTermLimit(n int) Option {
	return func(m *Memory) {
		if n > 0 {
			m.limit = n
		}
	}
}

// WithClock injects the time source. Tests use it to cross midnight.
func WithClock(now func() time.Time) Option {
	return func(m *Memory) {
		if now != nil {
			m.now = now
		}
	}
}

// New builds a Memory over the given durable store. A nil store is
// allowed and leaves only the in-process tiers active.
func New(store Store, log *zap.Logger, opts ...Option) *Memory {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Memory{
		limit: defaultShortTermLimit,
		store: store,
		log:   log,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Append records an incoming chat turn with the current timestamp,
// forwards it to the durable store and upserts the sender's last-seen
// record. Durable-write failures are logged and absorbed; the in-memory
// append never fails.
func (m *Memory) Append(ctx context.Context, userID, username, text, messageID string) Message {
	msg := Message{
		UserID:    userID,
		Username:  username,
		Text:      text,
		MessageID: messageID,
		Timestamp: m.now(),
	}
	m.push(msg)

	if m.store != nil {
		if err := m.store.SaveMessage(ctx, msg); err != nil {
			m.log.Warn("durable message write failed, continuing in-memory",
				zap.String("user_id", userID), zap.Error(err))
		}
		// Last-seen tracking stands on its own; a failed message write
		// must not also lose the sighting.
		if err := m.store.UpsertUser(ctx, userID, username, msg.Timestamp); err != nil {
			m.log.Warn("last-seen upsert failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return msg
}

// AppendOwnResponse records one of the agent's own replies under the
// sentinel id. Self messages are kept out of durable storage so the
// persisted logs carry only real user activity.
func (m *Memory) AppendOwnResponse(text string) Message {
	msg := Message{
		UserID:    SelfUserID,
		Username:  SelfUsername,
		Text:      text,
		Timestamp: m.now(),
	}
	m.push(msg)
	return msg
}

// Restore warms the in-process tiers from previously persisted messages,
// typically on process start. Messages are assumed oldest-first. Entries
// whose date is not today never reach the daily log, so day-boundary
// counts survive a restart.
func (m *Memory) Restore(msgs []Message) {
	for _, msg := range msgs {
		m.push(msg)
	}
}

func (m *Memory) push(msg Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.shortTerm = append(m.shortTerm, msg)
	if len(m.shortTerm) > m.limit {
		m.shortTerm = m.shortTerm[len(m.shortTerm)-m.limit:]
	}

	if sameDay(msg.Timestamp, m.now()) {
		m.dailyLog = append(m.dailyLog, msg)
	}
}

// RecentWindow returns the last n short-term messages, oldest first.
func (m *Memory) RecentWindow(n int) []Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if n <= 0 || len(m.shortTerm) == 0 {
		return nil
	}
	if n > len(m.shortTerm) {
		n = len(m.shortTerm)
	}
	out := make([]Message, n)
	copy(out, m.shortTerm[len(m.shortTerm)-n:])
	return out
}

// RespondedRecently reports whether any of the last n short-term
// messages is one of the agent's own replies. Supports implicit
// conversational continuation without an explicit address.
func (m *Memory) RespondedRecently(n int) bool {
	for _, msg := range m.RecentWindow(n) {
		if msg.IsSelf() {
			return true
		}
	}
	return false
}

// DailyLog returns the full unbounded log for the current day.
func (m *Memory) DailyLog() []Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Message, len(m.dailyLog))
	copy(out, m.dailyLog)
	return out
}

// PruneDailyLog drops every daily-log entry older than local midnight of
// the call time. Idempotent; safe to call whether or not an analysis ran.
func (m *Memory) PruneDailyLog() {
	midnight := startOfDay(m.now())

	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.dailyLog[:0]
	for _, msg := range m.dailyLog {
		if !msg.Timestamp.Before(midnight) {
			kept = append(kept, msg)
		}
	}
	m.dailyLog = kept
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
