package mentions

import (
	"errors"
	"testing"

	"github.com/sipeed/stripmentions/pkg/bus"
)

func TestClassify(t *testing.T) {
	ms := []Mention{
		mention("<at>Bot</at>", "bot1"),
		mention("<at>Alice</at>", "user2"),
		mention("<at>Bot again</at>", "bot1"),
	}

	bot, other := Classify(ms, "bot1")
	if len(bot) != 2 || bot[0].Text != "<at>Bot</at>" || bot[1].Text != "<at>Bot again</at>" {
		t.Fatalf("bot mentions = %+v", bot)
	}
	if len(other) != 1 || other[0].TargetID != "user2" {
		t.Fatalf("other mentions = %+v", other)
	}
}

func TestClassifyWithoutBotID(t *testing.T) {
	ms := []Mention{mention("<at>A</at>", ""), mention("<at>B</at>", "u")}
	bot, other := Classify(ms, "")
	if len(bot) != 0 {
		t.Fatalf("expected no bot mentions, got %+v", bot)
	}
	if len(other) != 2 {
		t.Fatalf("expected all mentions in other, got %+v", other)
	}
}

func TestFromEntities(t *testing.T) {
	entities := []bus.Entity{
		{Type: bus.EntityMention, Text: "<at>Bot</at>", Mentioned: &bus.Participant{ID: "bot1", Name: "Bot"}, Offset: 0, Length: 12},
		{Type: bus.EntityStrippedText, Text: "ignored"},
		{Type: bus.EntityMention, Text: "<at>Anon</at>"},
	}

	got := FromEntities(entities)
	if len(got) != 2 {
		t.Fatalf("expected 2 mentions, got %d", len(got))
	}
	if got[0].TargetID != "bot1" || got[0].TargetName != "Bot" || got[0].Length != 12 {
		t.Fatalf("first mention = %+v", got[0])
	}
	if got[1].TargetID != "" || got[1].hasSpan() {
		t.Fatalf("second mention = %+v", got[1])
	}
}

func TestParseRemoveBehavior(t *testing.T) {
	tests := []struct {
		in      string
		want    RemoveBehavior
		wantErr bool
	}{
		{"full", RemoveFull, false},
		{" Tags ", RemoveTags, false},
		{"NONE", RemoveNone, false},
		{"", "", true},
		{"partial", "", true},
	}
	for _, tt := range tests {
		got, err := ParseRemoveBehavior(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrUnknownBehavior) {
				t.Fatalf("ParseRemoveBehavior(%q) error = %v, want ErrUnknownBehavior", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Fatalf("ParseRemoveBehavior(%q) = %q, %v", tt.in, got, err)
		}
	}
}
