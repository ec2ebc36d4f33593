package bus

import "github.com/google/uuid"

// Entity types carried on InboundMessage.Entities.
const (
	EntityMention      = "mention"
	EntityStrippedText = "strippedText"
	EntityOriginalText = "originalText"
)

// Participant identifies a user or bot inside a conversation.
type Participant struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Entity is an annotation attached to a message. Which fields are set depends
// on Type: mentions use Text, Mentioned and optionally Offset/Length; derived
// text entities only use Text.
type Entity struct {
	Type      string       `json:"type"`
	Text      string       `json:"text,omitempty"`
	Mentioned *Participant `json:"mentioned,omitempty"`
	// Offset and Length are byte positions in Content. Length == 0 means the
	// producer did not supply a span.
	Offset int `json:"offset,omitempty"`
	Length int `json:"length,omitempty"`
}

type InboundMessage struct {
	ID         string            `json:"id"`
	Channel    string            `json:"channel"`
	SenderID   string            `json:"sender_id"`
	ChatID     string            `json:"chat_id"`
	Content    string            `json:"content"`
	Media      []string          `json:"media,omitempty"`
	SessionKey string            `json:"session_key,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Entities   []Entity          `json:"entities,omitempty"`
	// Bot is the bot participant of the conversation, nil when unknown.
	Bot *Participant `json:"bot,omitempty"`
}

// BotID returns the conversation bot's ID or "" when it is unknown.
func (m *InboundMessage) BotID() string {
	if m == nil || m.Bot == nil {
		return ""
	}
	return m.Bot.ID
}

// EntitiesOfType returns the entities with the given type in message order.
func (m *InboundMessage) EntitiesOfType(typ string) []Entity {
	if m == nil {
		return nil
	}
	var out []Entity
	for _, e := range m.Entities {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

// LastEntity returns the most recently appended entity of the given type.
func (m *InboundMessage) LastEntity(typ string) (Entity, bool) {
	if m == nil {
		return Entity{}, false
	}
	for i := len(m.Entities) - 1; i >= 0; i-- {
		if m.Entities[i].Type == typ {
			return m.Entities[i], true
		}
	}
	return Entity{}, false
}

func NewMessageID() string {
	return uuid.NewString()
}
