package mentions

import (
	"context"

	"github.com/sipeed/stripmentions/pkg/bus"
	"github.com/sipeed/stripmentions/pkg/logger"
	"github.com/sipeed/stripmentions/pkg/pipeline"
)

// OutputMode selects where the stripped text goes.
type OutputMode string

const (
	// OutputEntity appends a strippedText entity and leaves Content alone.
	OutputEntity OutputMode = "entity"
	// OutputOverwrite replaces Content and records the previous text in an
	// originalText entity.
	OutputOverwrite OutputMode = "overwrite"
)

func (m OutputMode) Valid() bool {
	return m == OutputEntity || m == OutputOverwrite
}

type Options struct {
	BotBehavior  RemoveBehavior
	UserBehavior RemoveBehavior
	Output       OutputMode
}

func DefaultOptions() Options {
	return Options{
		BotBehavior:  RemoveFull,
		UserBehavior: RemoveTags,
		Output:       OutputEntity,
	}
}

// withDefaults fills unset or invalid fields from DefaultOptions.
func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if !o.BotBehavior.Valid() {
		o.BotBehavior = def.BotBehavior
	}
	if !o.UserBehavior.Valid() {
		o.UserBehavior = def.UserBehavior
	}
	if !o.Output.Valid() {
		o.Output = def.Output
	}
	return o
}

// Middleware is the pipeline step that strips mentions from inbound
// messages. It is immutable after construction.
type Middleware struct {
	opts Options
}

var _ pipeline.Middleware = (*Middleware)(nil)

func NewMiddleware(opts Options) *Middleware {
	return &Middleware{opts: opts.withDefaults()}
}

func (mw *Middleware) Options() Options {
	return mw.opts
}

// ReceiveMessage strips mentions and then calls next exactly once. Messages
// without text or without a known bot pass through untouched. The error from
// next is returned as is.
func (mw *Middleware) ReceiveMessage(ctx context.Context, msg *bus.InboundMessage, next pipeline.NextFunc) error {
	if msg == nil || msg.Content == "" || msg.BotID() == "" {
		return next(ctx)
	}

	original := msg.Content
	mentions := FromEntities(msg.Entities)
	stripped, planned := mw.StripText(original, mentions, msg.BotID())

	switch mw.opts.Output {
	case OutputOverwrite:
		msg.Content = stripped
		msg.Entities = append(msg.Entities, bus.Entity{Type: bus.EntityOriginalText, Text: original})
	default:
		msg.Entities = append(msg.Entities, bus.Entity{Type: bus.EntityStrippedText, Text: stripped})
	}

	logger.DebugCF("mentions", "Stripped mentions", map[string]any{
		"message_id": msg.ID,
		"mentions":   len(mentions),
		"planned":    planned,
		"changed":    stripped != original,
		"output":     string(mw.opts.Output),
	})

	return next(ctx)
}

// StripText classifies mentions against botID and applies the bot behavior
// followed by the user behavior. When every active mention carries a valid
// span the edits are applied in one pass and planned is true; otherwise the
// literal replacement of Strip is used.
func (mw *Middleware) StripText(text string, mentions []Mention, botID string) (stripped string, planned bool) {
	bot, other := Classify(mentions, botID)

	if out, ok := Plan(text,
		Class{Mentions: bot, Behavior: mw.opts.BotBehavior},
		Class{Mentions: other, Behavior: mw.opts.UserBehavior},
	); ok {
		return out, true
	}

	out := text
	if mw.opts.BotBehavior != RemoveNone {
		out = Strip(out, bot, mw.opts.BotBehavior)
	}
	if mw.opts.UserBehavior != RemoveNone {
		out = Strip(out, other, mw.opts.UserBehavior)
	}
	return out, false
}

// StrippedText returns the post-strip text of a processed message. It is
// false when the message never went through the middleware.
func StrippedText(msg *bus.InboundMessage) (string, bool) {
	if msg == nil {
		return "", false
	}
	if e, ok := msg.LastEntity(bus.EntityStrippedText); ok {
		return e.Text, true
	}
	if _, ok := msg.LastEntity(bus.EntityOriginalText); ok {
		return msg.Content, true
	}
	return "", false
}

// OriginalText returns the message text as it was before any stripping.
func OriginalText(msg *bus.InboundMessage) string {
	if msg == nil {
		return ""
	}
	for _, e := range msg.Entities {
		if e.Type == bus.EntityOriginalText {
			return e.Text
		}
	}
	return msg.Content
}
