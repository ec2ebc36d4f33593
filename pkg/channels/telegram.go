package channels

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/mymmrac/telego"

	"github.com/sipeed/stripmentions/pkg/bus"
	"github.com/sipeed/stripmentions/pkg/logger"
)

const (
	telegramEntityMention     = "mention"
	telegramEntityTextMention = "text_mention"
)

const telegramPollTimeout = 30

// TelegramChannel long-polls the Bot API and publishes text and caption
// messages to the bus.
type TelegramChannel struct {
	*BaseChannel
	bot     *telego.Bot
	botUser *telego.User
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewTelegramChannel(token string, messageBus *bus.MessageBus, allowFrom []string) (*TelegramChannel, error) {
	bot, err := telego.NewBot(strings.TrimSpace(token), telego.WithDiscardLogger())
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return &TelegramChannel{
		BaseChannel: NewBaseChannel("telegram", messageBus, allowFrom),
		bot:         bot,
		ctx:         context.Background(),
	}, nil
}

func (c *TelegramChannel) Start(ctx context.Context) error {
	logger.InfoC("telegram", "Starting Telegram bot")

	me, err := c.bot.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("failed to get bot user: %w", err)
	}
	c.botUser = me

	pollCtx, cancel := context.WithCancel(ctx)
	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{Timeout: telegramPollTimeout})
	if err != nil {
		cancel()
		return fmt.Errorf("long polling failed: %w", err)
	}
	c.ctx, c.cancel = pollCtx, cancel
	c.done = make(chan struct{})
	go c.consume(updates)
	c.setRunning(true)

	logger.InfoCF("telegram", "Telegram bot connected", map[string]any{
		"username": me.Username,
		"user_id":  me.ID,
	})
	return nil
}

func (c *TelegramChannel) Stop(ctx context.Context) error {
	logger.InfoC("telegram", "Stopping Telegram bot")
	c.setRunning(false)
	if c.cancel == nil {
		return nil
	}
	c.cancel()
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *TelegramChannel) consume(updates <-chan telego.Update) {
	defer close(c.done)
	for u := range updates {
		c.handleUpdate(u)
	}
}

func (c *TelegramChannel) handleUpdate(u telego.Update) {
	m := u.Message
	if m == nil {
		return
	}
	if m.From != nil && (m.From.IsBot || (c.botUser != nil && m.From.ID == c.botUser.ID)) {
		return
	}
	if m.Text == "" && m.Caption == "" {
		return
	}

	msg := FromTelegram(m, c.botUser)
	if err := c.Publish(c.ctx, msg); err != nil {
		logger.WarnCF("telegram", "Failed to publish inbound message", map[string]any{
			"message_id": m.MessageID,
			"error":      err.Error(),
		})
	}
}

// FromTelegram converts a Telegram message into a bus message. "mention"
// (@username) and "text_mention" entities become <at>Name</at> markup. A nil
// bot leaves the message without a bot participant.
func FromTelegram(m *telego.Message, bot *telego.User) bus.InboundMessage {
	text, tgEntities := m.Text, m.Entities
	if text == "" {
		text, tgEntities = m.Caption, m.CaptionEntities
	}

	botID := ""
	if bot != nil {
		botID = strconv.FormatInt(bot.ID, 10)
	}

	spans := make([]telego.MessageEntity, 0, len(tgEntities))
	for _, e := range tgEntities {
		if e.Type == telegramEntityMention || e.Type == telegramEntityTextMention {
			spans = append(spans, e)
		}
	}
	sort.SliceStable(spans, func(i, j int) bool { return spans[i].Offset < spans[j].Offset })

	byteAt := utf16ByteOffsets(text)
	var (
		b         strings.Builder
		entities  []bus.Entity
		prev      int
		isMention = m.Chat.Type == "private"
	)
	for _, e := range spans {
		if e.Offset < 0 || e.Length <= 0 || e.Offset+e.Length >= len(byteAt) {
			continue
		}
		start, end := byteAt[e.Offset], byteAt[e.Offset+e.Length]
		if start < prev || start < 0 || end < 0 {
			continue
		}

		literal := text[start:end]
		id, name := telegramTarget(e, literal, bot)
		if botID != "" && id == botID {
			isMention = true
		}

		b.WriteString(text[prev:start])
		markup, entity := mentionEntity(id, name, b.Len())
		b.WriteString(markup)
		entities = append(entities, entity)
		prev = end
	}
	b.WriteString(text[prev:])

	msg := bus.InboundMessage{
		ID:       strconv.Itoa(m.MessageID),
		Channel:  "telegram",
		ChatID:   strconv.FormatInt(m.Chat.ID, 10),
		Content:  b.String(),
		Entities: entities,
		Metadata: map[string]string{
			"message_id": strconv.Itoa(m.MessageID),
			"is_dm":      fmt.Sprintf("%t", m.Chat.Type == "private"),
			"is_mention": fmt.Sprintf("%t", isMention),
		},
	}
	if m.From != nil {
		msg.SenderID = strconv.FormatInt(m.From.ID, 10)
		if m.From.Username != "" {
			msg.SenderID += "|" + m.From.Username
		}
	}
	if bot != nil {
		msg.Bot = &bus.Participant{ID: botID, Name: bot.FirstName}
	}
	return msg
}

func telegramTarget(e telego.MessageEntity, literal string, bot *telego.User) (id, name string) {
	if e.Type == telegramEntityTextMention && e.User != nil {
		return strconv.FormatInt(e.User.ID, 10), literal
	}
	username := strings.TrimPrefix(literal, "@")
	if bot != nil && strings.EqualFold(username, bot.Username) {
		return strconv.FormatInt(bot.ID, 10), username
	}
	// Plain @username mentions carry no numeric ID.
	return "@" + username, username
}

// utf16ByteOffsets maps every UTF-16 code unit index of s (plus the end) to
// its byte offset. Indexes inside a surrogate pair map to -1.
func utf16ByteOffsets(s string) []int {
	offsets := make([]int, 0, len(s)+1)
	for i, r := range s {
		offsets = append(offsets, i)
		if r >= 0x10000 && r <= utf8.MaxRune {
			offsets = append(offsets, -1)
		}
	}
	return append(offsets, len(s))
}
