package mentions

import "github.com/sipeed/stripmentions/pkg/bus"

// Mention is a located reference to a participant inside message text.
type Mention struct {
	// Text is the exact markup as it appears in the message.
	Text       string
	TargetID   string
	TargetName string
	// Offset/Length locate Text in the original message in bytes. Length == 0
	// means no span is known.
	Offset int
	Length int
}

func (m Mention) hasSpan() bool {
	return m.Length > 0
}

// FromEntities converts the "mention" entities of a message, preserving order.
// Entities of other types are ignored.
func FromEntities(entities []bus.Entity) []Mention {
	out := make([]Mention, 0, len(entities))
	for _, e := range entities {
		if e.Type != bus.EntityMention {
			continue
		}
		m := Mention{
			Text:   e.Text,
			Offset: e.Offset,
			Length: e.Length,
		}
		if e.Mentioned != nil {
			m.TargetID = e.Mentioned.ID
			m.TargetName = e.Mentioned.Name
		}
		out = append(out, m)
	}
	return out
}

// Classify splits mentions into those targeting botID and all others. Order
// within each group is preserved. An empty botID puts everything in other.
func Classify(mentions []Mention, botID string) (bot, other []Mention) {
	for _, m := range mentions {
		if botID != "" && m.TargetID == botID {
			bot = append(bot, m)
		} else {
			other = append(other, m)
		}
	}
	return bot, other
}
