package channels

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"github.com/sipeed/stripmentions/pkg/bus"
	"github.com/sipeed/stripmentions/pkg/logger"
)

const (
	SlackEventsPath     = "/slack/events"
	maxSlackEventBytes  = 1 << 20
	slackReadHeaderWait = 10 * time.Second
)

// Matches <@U123> and <@U123|label>. Slack escapes "<", ">" and "&" inside
// message text, so a label never contains a raw ">".
var slackUserMention = regexp.MustCompile(`<@([UW][A-Z0-9]+)(?:\|([^>]*))?>`)

var slackUnescaper = strings.NewReplacer("&lt;", "<", "&gt;", ">", "&amp;", "&")

// FromSlack converts a Slack message event into a bus message, rewriting user
// mention markup to <at>Name</at>. Names come from the inline label, then
// names (user ID to display name), then the raw user ID.
func FromSlack(ev *slackevents.MessageEvent, botUserID string, names map[string]string) bus.InboundMessage {
	var (
		b        strings.Builder
		entities []bus.Entity
		prev     int
	)
	isMention := ev.ChannelType == "im"
	for _, loc := range slackUserMention.FindAllStringSubmatchIndex(ev.Text, -1) {
		id := ev.Text[loc[2]:loc[3]]
		name := ""
		if loc[4] >= 0 {
			name = strings.TrimSpace(slackUnescaper.Replace(ev.Text[loc[4]:loc[5]]))
		}
		if name == "" {
			name = names[id]
		}
		if name == "" {
			name = id
		}
		if id == botUserID {
			isMention = true
		}

		b.WriteString(ev.Text[prev:loc[0]])
		markup, entity := mentionEntity(id, name, b.Len())
		b.WriteString(markup)
		entities = append(entities, entity)
		prev = loc[1]
	}
	b.WriteString(ev.Text[prev:])

	msg := bus.InboundMessage{
		ID:       ev.TimeStamp,
		Channel:  "slack",
		SenderID: ev.User,
		ChatID:   ev.Channel,
		Content:  b.String(),
		Entities: entities,
		Metadata: map[string]string{
			"ts":         ev.TimeStamp,
			"thread_ts":  ev.ThreadTimeStamp,
			"is_dm":      fmt.Sprintf("%t", ev.ChannelType == "im"),
			"is_mention": fmt.Sprintf("%t", isMention),
		},
	}
	if botUserID != "" {
		msg.Bot = &bus.Participant{ID: botUserID, Name: names[botUserID]}
	}
	return msg
}

// SlackChannel receives Events API callbacks over HTTP and publishes message
// events to the bus.
type SlackChannel struct {
	*BaseChannel
	api           *slack.Client
	signingSecret string
	listenAddr    string
	server        *http.Server
	ctx           context.Context
	botUserID     string
	botName       string
}

func NewSlackChannel(botToken, signingSecret, listenAddr string, messageBus *bus.MessageBus, allowFrom []string) *SlackChannel {
	return &SlackChannel{
		BaseChannel:   NewBaseChannel("slack", messageBus, allowFrom),
		api:           slack.New(botToken),
		signingSecret: signingSecret,
		listenAddr:    listenAddr,
		ctx:           context.Background(),
	}
}

// Start resolves the bot identity with auth.test, then serves the events
// endpoint on the listen address.
func (c *SlackChannel) Start(ctx context.Context) error {
	logger.InfoC("slack", "Starting Slack events endpoint")

	auth, err := c.api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth test failed: %w", err)
	}
	c.botUserID, c.botName = auth.UserID, auth.User
	c.ctx = ctx

	ln, err := net.Listen("tcp", c.listenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", c.listenAddr, err)
	}
	c.server = &http.Server{Handler: c.Router(), ReadHeaderTimeout: slackReadHeaderWait}
	go func() {
		if err := c.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorCF("slack", "Events endpoint stopped", map[string]any{
				"error": err.Error(),
			})
		}
	}()
	c.setRunning(true)

	logger.InfoCF("slack", "Slack bot connected", map[string]any{
		"user_id": c.botUserID,
		"user":    c.botName,
		"addr":    ln.Addr().String(),
		"path":    SlackEventsPath,
	})
	return nil
}

func (c *SlackChannel) Stop(ctx context.Context) error {
	logger.InfoC("slack", "Stopping Slack events endpoint")
	c.setRunning(false)
	if c.server == nil {
		return nil
	}
	if err := c.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to stop slack endpoint: %w", err)
	}
	return nil
}

func (c *SlackChannel) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc(SlackEventsPath, c.handleEvents).Methods(http.MethodPost)
	return router
}

func (c *SlackChannel) handleEvents(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSlackEventBytes))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	verifier, err := slack.NewSecretsVerifier(r.Header, c.signingSecret)
	if err != nil {
		logger.WarnCF("slack", "Rejected event without valid signature headers", map[string]any{
			"error": err.Error(),
		})
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if _, err := verifier.Write(body); err != nil {
		http.Error(w, "failed to verify body", http.StatusInternalServerError)
		return
	}
	if err := verifier.Ensure(); err != nil {
		logger.WarnCF("slack", "Slack signature verification failed", map[string]any{
			"error": err.Error(),
		})
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	event, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		http.Error(w, "failed to parse event", http.StatusBadRequest)
		return
	}

	switch event.Type {
	case slackevents.URLVerification:
		var challenge slackevents.ChallengeResponse
		if err := json.Unmarshal(body, &challenge); err != nil {
			http.Error(w, "challenge not found", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(challenge.Challenge))
		return
	case slackevents.CallbackEvent:
		if ev, ok := event.InnerEvent.Data.(*slackevents.MessageEvent); ok {
			c.handleMessage(ev)
		}
	}
	w.WriteHeader(http.StatusOK)
}

func (c *SlackChannel) handleMessage(ev *slackevents.MessageEvent) {
	// Edits, deletions and bot posts carry no human sender.
	if ev.User == "" || ev.BotID != "" || ev.User == c.botUserID {
		return
	}

	var names map[string]string
	if c.botUserID != "" {
		names = map[string]string{c.botUserID: c.botName}
	}
	msg := FromSlack(ev, c.botUserID, names)
	if err := c.Publish(c.ctx, msg); err != nil {
		logger.WarnCF("slack", "Failed to publish inbound message", map[string]any{
			"ts":    ev.TimeStamp,
			"error": err.Error(),
		})
	}
}
