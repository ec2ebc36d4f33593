package channels

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"

	"github.com/sipeed/stripmentions/pkg/bus"
	"github.com/sipeed/stripmentions/pkg/logger"
)

var discordUserMention = regexp.MustCompile(`<@!?(\d+)>`)

type DiscordChannel struct {
	*BaseChannel
	session   *discordgo.Session
	ctx       context.Context
	botUserID atomic.Value // string
}

func NewDiscordChannel(token string, messageBus *bus.MessageBus, allowFrom []string) (*DiscordChannel, error) {
	session, err := discordgo.New("Bot " + NormalizeDiscordBotToken(token))
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	// Mention markup is only delivered with the message content intent.
	session.Identify.Intents = discordgo.IntentsAllWithoutPrivileged | discordgo.IntentsMessageContent

	return &DiscordChannel{
		BaseChannel: NewBaseChannel("discord", messageBus, allowFrom),
		session:     session,
		ctx:         context.Background(),
	}, nil
}

// NormalizeDiscordBotToken strips quotes and an optional "Bot " prefix.
func NormalizeDiscordBotToken(token string) string {
	t := strings.TrimSpace(strings.Trim(strings.TrimSpace(token), "\"'"))
	fields := strings.Fields(t)
	if len(fields) >= 2 && strings.EqualFold(fields[0], "bot") {
		return strings.Join(fields[1:], "")
	}
	return t
}

func (c *DiscordChannel) Start(ctx context.Context) error {
	logger.InfoC("discord", "Starting Discord bot")

	// The bot identity must be known before the first MESSAGE_CREATE arrives.
	botUser, err := c.session.User("@me")
	if err != nil {
		return fmt.Errorf("failed to get bot user: %w", err)
	}
	c.setBotUserID(botUser.ID)

	c.ctx = ctx
	c.session.AddHandler(c.handleMessage)
	if err := c.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}
	c.setRunning(true)

	logger.InfoCF("discord", "Discord bot connected", map[string]any{
		"username": botUser.Username,
		"user_id":  botUser.ID,
	})
	return nil
}

func (c *DiscordChannel) setBotUserID(id string) {
	c.botUserID.Store(id)
}

// BotUserID returns the bot's own user ID, or "" before Start.
func (c *DiscordChannel) BotUserID() string {
	id, _ := c.botUserID.Load().(string)
	return id
}

func (c *DiscordChannel) Stop(ctx context.Context) error {
	logger.InfoC("discord", "Stopping Discord bot")
	c.setRunning(false)
	if c.session == nil {
		return nil
	}
	if err := c.session.Close(); err != nil {
		return fmt.Errorf("failed to close discord session: %w", err)
	}
	return nil
}

func (c *DiscordChannel) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m == nil || m.Message == nil || m.Author == nil {
		return
	}
	botUserID := c.BotUserID()
	if s != nil && s.State != nil && s.State.User != nil {
		if m.Author.ID == s.State.User.ID {
			return
		}
		if botUserID == "" {
			botUserID = s.State.User.ID
		}
	}

	msg := FromDiscord(m.Message, botUserID)
	if err := c.Publish(c.ctx, msg); err != nil {
		logger.WarnCF("discord", "Failed to publish inbound message", map[string]any{
			"message_id": m.ID,
			"error":      err.Error(),
		})
	}
}

// FromDiscord converts a Discord message into a bus message. User mention
// markup (<@id> and <@!id>) is rewritten to <at>Name</at> and every
// occurrence becomes a mention entity with its byte span in the new content.
func FromDiscord(m *discordgo.Message, botUserID string) bus.InboundMessage {
	names := make(map[string]string, len(m.Mentions))
	for _, u := range m.Mentions {
		if u != nil {
			names[u.ID] = discordDisplayName(u)
		}
	}

	var (
		b        strings.Builder
		entities []bus.Entity
		prev     int
	)
	isMention := m.GuildID == ""
	for _, loc := range discordUserMention.FindAllStringSubmatchIndex(m.Content, -1) {
		id := m.Content[loc[2]:loc[3]]
		name, ok := names[id]
		if !ok {
			name = id
		}
		if id == botUserID {
			isMention = true
		}

		b.WriteString(m.Content[prev:loc[0]])
		markup, entity := mentionEntity(id, name, b.Len())
		b.WriteString(markup)
		entities = append(entities, entity)
		prev = loc[1]
	}
	b.WriteString(m.Content[prev:])

	msg := bus.InboundMessage{
		ID:       m.ID,
		Channel:  "discord",
		ChatID:   m.ChannelID,
		Content:  b.String(),
		Entities: entities,
		Metadata: map[string]string{
			"message_id": m.ID,
			"guild_id":   m.GuildID,
			"channel_id": m.ChannelID,
			"is_dm":      fmt.Sprintf("%t", m.GuildID == ""),
			"is_mention": fmt.Sprintf("%t", isMention),
		},
	}
	if m.Author != nil {
		msg.SenderID = m.Author.ID
		msg.Metadata["username"] = m.Author.Username
	}
	if botUserID != "" {
		msg.Bot = &bus.Participant{ID: botUserID, Name: names[botUserID]}
	}
	for _, a := range m.Attachments {
		if a != nil {
			msg.Media = append(msg.Media, a.URL)
		}
	}
	return msg
}

func discordDisplayName(u *discordgo.User) string {
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}
