package channels

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/sipeed/stripmentions/pkg/bus"
	"github.com/sipeed/stripmentions/pkg/logger"
)

// Channel is a chat platform adapter that publishes inbound messages to the
// bus between Start and Stop.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	IsRunning() bool
}

// BaseChannel holds what every platform adapter shares: its name, the bus it
// publishes to and an optional sender allowlist.
type BaseChannel struct {
	name      string
	bus       *bus.MessageBus
	allowList []string
	running   atomic.Bool
}

func NewBaseChannel(name string, messageBus *bus.MessageBus, allowList []string) *BaseChannel {
	return &BaseChannel{
		name:      name,
		bus:       messageBus,
		allowList: allowList,
	}
}

func (c *BaseChannel) Name() string {
	return c.name
}

func (c *BaseChannel) IsRunning() bool {
	return c.running.Load()
}

func (c *BaseChannel) setRunning(running bool) {
	c.running.Store(running)
}

// IsAllowed matches senderID against the allowlist. Sender IDs may be
// compound "id|username" values; either half matches, and allowlist entries
// may carry a leading "@".
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowList) == 0 {
		return true
	}

	idPart, userPart := splitCompound(senderID)
	for _, allowed := range c.allowList {
		trimmed := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(allowed), "@"))
		if trimmed == "" {
			continue
		}
		allowedID, allowedUser := splitCompound(trimmed)
		if senderID == trimmed || idPart == allowedID {
			return true
		}
		if userPart != "" && (userPart == trimmed || userPart == allowedUser) {
			return true
		}
	}
	return false
}

func splitCompound(s string) (id, user string) {
	if idx := strings.Index(s, "|"); idx > 0 {
		return s[:idx], s[idx+1:]
	}
	return s, ""
}

// Publish stamps the channel name on msg and queues it for the pipeline.
// Senders outside the allowlist are dropped silently.
func (c *BaseChannel) Publish(ctx context.Context, msg bus.InboundMessage) error {
	if !c.IsAllowed(msg.SenderID) {
		logger.DebugCF(c.name, "Message rejected by allowlist", map[string]any{
			"sender_id": msg.SenderID,
		})
		return nil
	}
	if c.bus == nil {
		return fmt.Errorf("%s channel has no message bus", c.name)
	}
	msg.Channel = c.name
	return c.bus.PublishInbound(ctx, msg)
}

// mentionEntity builds a mention entity for markup that starts at offset in
// the rewritten content.
func mentionEntity(id, name string, offset int) (string, bus.Entity) {
	name = mentionName(id, name)
	markup := "<at>" + name + "</at>"
	return markup, bus.Entity{
		Type:      bus.EntityMention,
		Text:      markup,
		Mentioned: &bus.Participant{ID: id, Name: name},
		Offset:    offset,
		Length:    len(markup),
	}
}

// mentionName drops angle brackets from display names so a name can never
// open or close <at> markup of its own. An empty result falls back to id.
func mentionName(id, name string) string {
	name = strings.TrimSpace(strings.Map(func(r rune) rune {
		if r == '<' || r == '>' {
			return -1
		}
		return r
	}, name))
	if name == "" {
		return id
	}
	return name
}
