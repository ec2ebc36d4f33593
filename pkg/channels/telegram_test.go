package channels

import (
	"context"
	"testing"
	"time"

	"github.com/mymmrac/telego"

	"github.com/sipeed/stripmentions/pkg/bus"
	"github.com/sipeed/stripmentions/pkg/mentions"
)

func TestFromTelegram(t *testing.T) {
	bot := &telego.User{ID: 100, IsBot: true, FirstName: "SciClaw", Username: "sciclaw_bot"}
	// "🦀" is two UTF-16 code units and four bytes.
	m := &telego.Message{
		MessageID: 5,
		From:      &telego.User{ID: 1, Username: "carol"},
		Chat:      telego.Chat{ID: -200, Type: "group"},
		Text:      "🦀 @sciclaw_bot ask Alice",
		Entities: []telego.MessageEntity{
			{Type: "text_mention", Offset: 20, Length: 5, User: &telego.User{ID: 2, FirstName: "Alice"}},
			{Type: "mention", Offset: 3, Length: 12},
			{Type: "bold", Offset: 16, Length: 3},
		},
	}

	msg := FromTelegram(m, bot)

	if msg.Content != "🦀 <at>sciclaw_bot</at> ask <at>Alice</at>" {
		t.Fatalf("Content = %q", msg.Content)
	}
	if msg.BotID() != "100" || msg.SenderID != "1|carol" || msg.ChatID != "-200" {
		t.Fatalf("unexpected routing fields: %+v", msg)
	}
	if msg.Metadata["is_mention"] != "true" {
		t.Fatalf("is_mention = %q", msg.Metadata["is_mention"])
	}
	if len(msg.Entities) != 2 || msg.Entities[0].Mentioned.ID != "100" || msg.Entities[1].Mentioned.ID != "2" {
		t.Fatalf("entities = %+v", msg.Entities)
	}

	mw := mentions.NewMiddleware(mentions.DefaultOptions())
	stripped, planned := mw.StripText(msg.Content, mentions.FromEntities(msg.Entities), msg.BotID())
	if !planned || stripped != "🦀  ask Alice" {
		t.Fatalf("stripped = %q, planned = %v", stripped, planned)
	}
}

func TestFromTelegramCaptionAndBadSpans(t *testing.T) {
	m := &telego.Message{
		MessageID: 6,
		Chat:      telego.Chat{ID: 1, Type: "private"},
		Caption:   "@dave look",
		CaptionEntities: []telego.MessageEntity{
			{Type: "mention", Offset: 0, Length: 5},
			{Type: "mention", Offset: 8, Length: 40},
		},
	}

	msg := FromTelegram(m, nil)
	if msg.Content != "<at>dave</at> look" {
		t.Fatalf("Content = %q", msg.Content)
	}
	if msg.Bot != nil {
		t.Fatalf("expected nil bot, got %+v", msg.Bot)
	}
	if len(msg.Entities) != 1 || msg.Entities[0].Mentioned.ID != "@dave" {
		t.Fatalf("entities = %+v", msg.Entities)
	}
	if msg.Metadata["is_dm"] != "true" || msg.Metadata["is_mention"] != "true" {
		t.Fatalf("metadata = %+v", msg.Metadata)
	}
}

func TestUTF16ByteOffsets(t *testing.T) {
	got := utf16ByteOffsets("a🦀b")
	want := []int{0, 1, -1, 5, 6}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestTelegramHandleUpdate(t *testing.T) {
	mb := bus.NewMessageBus()
	defer mb.Close()

	ch := &TelegramChannel{
		BaseChannel: NewBaseChannel("telegram", mb, []string{"@carol"}),
		botUser:     &telego.User{ID: 100, IsBot: true, FirstName: "SciClaw", Username: "sciclaw_bot"},
		ctx:         context.Background(),
	}
	chat := telego.Chat{ID: -200, Type: "group"}

	ch.handleUpdate(telego.Update{})
	ch.handleUpdate(telego.Update{Message: &telego.Message{MessageID: 1, Chat: chat, From: &telego.User{ID: 100, IsBot: true}, Text: "echo"}})
	ch.handleUpdate(telego.Update{Message: &telego.Message{MessageID: 2, Chat: chat, From: &telego.User{ID: 3, Username: "mallory"}, Text: "@sciclaw_bot hi"}})
	ch.handleUpdate(telego.Update{Message: &telego.Message{MessageID: 3, Chat: chat, From: &telego.User{ID: 1, Username: "carol"}}})
	ch.handleUpdate(telego.Update{Message: &telego.Message{
		MessageID: 4,
		Chat:      chat,
		From:      &telego.User{ID: 1, Username: "carol"},
		Text:      "@sciclaw_bot hi",
		Entities:  []telego.MessageEntity{{Type: "mention", Offset: 0, Length: 12}},
	}})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got, ok := mb.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("expected a published message")
	}
	if got.ID != "4" || got.Channel != "telegram" || got.Content != "<at>sciclaw_bot</at> hi" {
		t.Fatalf("unexpected message: %+v", got)
	}

	shortCtx, shortCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer shortCancel()
	if extra, ok := mb.ConsumeInbound(shortCtx); ok {
		t.Fatalf("only the allowed text message should be published, got %+v", extra)
	}
}

func TestTelegramStopBeforeStart(t *testing.T) {
	ch := &TelegramChannel{BaseChannel: NewBaseChannel("telegram", nil, nil)}
	if err := ch.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
