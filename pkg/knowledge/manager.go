// Package knowledge manages per-user interest graphs: a per-process
// cache in front of durable storage plus the personalization context
// call the chat layer consumes.
package knowledge

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chatmem/persona/pkg/profile"
	"github.com/chatmem/persona/pkg/store"
	"github.com/chatmem/persona/pkg/topics"
)

// GraphStore is the durable side of the manager.
type GraphStore interface {
	LoadGraphDocument(ctx context.Context, userID string) (username string, document []byte, err error)
	SaveGraphDocument(ctx context.Context, userID, username string, document []byte) error
}

// Manager caches graphs per process. Safe for concurrent use. Cached
// graphs may go stale while an analysis run rewrites storage; the run
// calls Invalidate once at the end to force live reads to reload.
type Manager struct {
	mu    sync.Mutex
	cache map[string]*profile.Graph

	store GraphStore
	log   *zap.Logger
}

// NewManager builds a manager over the given store.
func NewManager(gs GraphStore, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		cache: make(map[string]*profile.Graph),
		store: gs,
		log:   log,
	}
}

// GetOrCreate returns the user's graph, loading it from storage on a
// cache miss. Corrupt stored documents are discarded and replaced with
// a fresh graph. Storage unavailability degrades to a fresh graph too;
// both paths log and never fail the caller.
func (m *Manager) GetOrCreate(ctx context.Context, userID, username string) *profile.Graph {
	m.mu.Lock()
	defer m.mu.Unlock()

	if g, ok := m.cache[userID]; ok {
		return g
	}

	g := m.load(ctx, userID, username)
	m.cache[userID] = g
	return g
}

func (m *Manager) load(ctx context.Context, userID, username string) *profile.Graph {
	if m.store == nil {
		return profile.NewGraph(userID, username)
	}

	storedName, doc, err := m.store.LoadGraphDocument(ctx, userID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return profile.NewGraph(userID, username)
	case err != nil:
		m.log.Warn("graph load failed, starting fresh",
			zap.String("user_id", userID), zap.Error(err))
		return profile.NewGraph(userID, username)
	}

	if username == "" {
		username = storedName
	}
	g, err := profile.FromDocument(userID, username, doc)
	if err != nil {
		m.log.Warn("discarding corrupt graph document",
			zap.String("user_id", userID), zap.Error(err))
		return profile.NewGraph(userID, username)
	}
	return g
}

// LoadDetached loads a private instance of the user's graph straight
// from storage, never touching the cache. The nightly merge mutates its
// result freely while live reads keep serving the cached copy; the
// end-of-run Invalidate exposes the merged state.
func (m *Manager) LoadDetached(ctx context.Context, userID, username string) *profile.Graph {
	return m.load(ctx, userID, username)
}

// Save stamps the graph and writes it to durable storage. Failure is
// logged and reported as false, never raised.
func (m *Manager) Save(ctx context.Context, g *profile.Graph) bool {
	g.UpdatedAt = time.Now()

	if m.store == nil {
		return false
	}
	doc, err := g.MarshalDocument()
	if err != nil {
		m.log.Error("graph marshal failed", zap.String("user_id", g.UserID), zap.Error(err))
		return false
	}
	if err := m.store.SaveGraphDocument(ctx, g.UserID, g.Username, doc); err != nil {
		m.log.Warn("graph save failed", zap.String("user_id", g.UserID), zap.Error(err))
		return false
	}
	return true
}

// ContextFor is the one call the chat layer needs: detect the topics of
// the incoming text and render the user's relevant profile context.
func (m *Manager) ContextFor(ctx context.Context, userID, text, username string) string {
	detected := topics.Detect(text)
	g := m.GetOrCreate(ctx, userID, username)
	return g.RelevantContext(detected)
}

// Invalidate drops the whole cache. Called once after a nightly run so
// the next live read reloads post-merge state.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache = make(map[string]*profile.Graph)
}
