// Package chat handles live turns: it decides whether a message
// deserves a reply, builds the personalization context and calls an
// opaque response generator.
package chat

import (
	"context"
	"math/rand"
	"strings"

	"go.uber.org/zap"

	"github.com/chatmem/persona/pkg/bus"
	"github.com/chatmem/persona/pkg/memory"
)

// Generator produces the reply text for one turn. The profile context
// may be empty. Opaque to this package; the wiring decides what model
// or template sits behind it.
type Generator func(ctx context.Context, text, profileContext string) (string, error)

// Personalizer is the knowledge-manager surface the chat layer needs.
type Personalizer interface {
	ContextFor(ctx context.Context, userID, text, username string) string
}

const recentReplyWindow = 5

// Loop drives live chat turns off the message bus.
type Loop struct {
	mem   *memory.Memory
	prof  Personalizer
	gen   Generator
	log   *zap.Logger
	names []string

	replyProbability float64
	roll             func() float64
}

// Option tweaks loop construction.
type Option func(*Loop)

// WithNameVariations sets the lowercase name forms that always trigger
// a reply when mentioned.
func WithNameVariations(names []string) Option {
	return func(l *Loop) {
		l.names = l.names[:0]
		for _, n := range names {
			if n = strings.ToLower(strings.TrimSpace(n)); n != "" {
				l.names = append(l.names, n)
			}
		}
	}
}

// WithReplyProbability sets the chance of replying to a message that
// matched no other trigger.
func WithReplyProbability(p float64) Option {
	return func(l *Loop) {
		if p >= 0 && p <= 1 {
			l.replyProbability = p
		}
	}
}

func withRoll(roll func() float64) Option {
	return func(l *Loop) { l.roll = roll }
}

// New builds a chat loop.
func New(mem *memory.Memory, prof Personalizer, gen Generator, log *zap.Logger, opts ...Option) *Loop {
	if log == nil {
		log = zap.NewNop()
	}
	l := &Loop{
		mem:              mem,
		prof:             prof,
		gen:              gen,
		log:              log,
		names:            []string{strings.ToLower(memory.SelfUsername)},
		replyProbability: 0.05,
		roll:             rand.Float64,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ShouldReply decides whether a message deserves a response. Triggers,
// in priority order: a name mention, a question, an ongoing exchange
// the agent already replied in, and finally a random chance.
func (l *Loop) ShouldReply(text string) bool {
	lower := strings.ToLower(text)
	for _, name := range l.names {
		if strings.Contains(lower, name) {
			return true
		}
	}
	if strings.Contains(text, "?") {
		return true
	}
	if l.mem != nil && l.mem.RespondedRecently(recentReplyWindow) {
		return true
	}
	return l.roll() < l.replyProbability
}

// HandleTurn records the incoming message, decides on a reply and
// generates it. The returned bool reports whether a reply was produced.
// Generator failures are logged and absorbed; the turn never errors.
func (l *Loop) HandleTurn(ctx context.Context, in bus.InboundMessage) (string, bool) {
	l.mem.Append(ctx, in.UserID, in.Username, in.Text, in.MessageID)

	if !l.ShouldReply(in.Text) {
		return "", false
	}

	var profileContext string
	if l.prof != nil {
		profileContext = l.prof.ContextFor(ctx, in.UserID, in.Text, in.Username)
	}

	reply, err := l.gen(ctx, in.Text, profileContext)
	if err != nil {
		l.log.Warn("response generation failed",
			zap.String("user_id", in.UserID), zap.Error(err))
		return "", false
	}
	if strings.TrimSpace(reply) == "" {
		return "", false
	}

	l.mem.AppendOwnResponse(reply)
	return reply, true
}

// Run consumes inbound messages until the context is canceled,
// publishing replies on the outbound side.
func (l *Loop) Run(ctx context.Context, mb *bus.MessageBus) {
	for {
		in, ok := mb.ConsumeInbound(ctx)
		if !ok {
			return
		}
		if reply, ok := l.HandleTurn(ctx, in); ok {
			mb.PublishOutbound(bus.OutboundMessage{UserID: in.UserID, Text: reply})
		}
	}
}
