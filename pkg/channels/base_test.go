package channels

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sipeed/stripmentions/pkg/bus"
)

func TestBaseChannelIsAllowed(t *testing.T) {
	tests := []struct {
		name      string
		allowList []string
		senderID  string
		want      bool
	}{
		{
			name:      "empty allowlist allows all",
			allowList: nil,
			senderID:  "anyone",
			want:      true,
		},
		{
			name:      "compound sender matches numeric allowlist",
			allowList: []string{"123456"},
			senderID:  "123456|alice",
			want:      true,
		},
		{
			name:      "compound sender matches username allowlist",
			allowList: []string{"@alice"},
			senderID:  "123456|alice",
			want:      true,
		},
		{
			name:      "numeric sender matches compound allowlist",
			allowList: []string{"123456|alice"},
			senderID:  "123456",
			want:      true,
		},
		{
			name:      "non matching sender is denied",
			allowList: []string{"123456"},
			senderID:  "654321|bob",
			want:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := NewBaseChannel("test", nil, tt.allowList)
			if got := ch.IsAllowed(tt.senderID); got != tt.want {
				t.Fatalf("IsAllowed(%q) = %v, want %v", tt.senderID, got, tt.want)
			}
		})
	}
}

func TestBaseChannelRunningConcurrentAccess(t *testing.T) {
	ch := NewBaseChannel("test", nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ch.setRunning(i%2 == 0)
			_ = ch.IsRunning()
		}(i)
	}
	wg.Wait()
}

func TestBaseChannelPublish(t *testing.T) {
	mb := bus.NewMessageBus()
	defer mb.Close()
	ch := NewBaseChannel("test", mb, []string{"allowed"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := ch.Publish(ctx, bus.InboundMessage{SenderID: "blocked", Content: "no"}); err != nil {
		t.Fatalf("Publish blocked sender: %v", err)
	}
	if err := ch.Publish(ctx, bus.InboundMessage{SenderID: "allowed", Content: "yes"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	got, ok := mb.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("expected a message on the bus")
	}
	if got.Content != "yes" || got.Channel != "test" {
		t.Fatalf("unexpected message: %+v", got)
	}
}

func TestBaseChannelPublishWithoutBus(t *testing.T) {
	ch := NewBaseChannel("test", nil, nil)
	if err := ch.Publish(context.Background(), bus.InboundMessage{Content: "x"}); err == nil {
		t.Fatal("expected error without a bus")
	}
}

func TestMentionEntityNeutralizesName(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		markup string
	}{
		{name: "plain", in: "Alice", markup: "<at>Alice</at>"},
		{name: "close tag", in: "a</at>b", markup: "<at>a/atb</at>"},
		{name: "open tag", in: "<at>x", markup: "<at>atx</at>"},
		{name: "brackets only", in: " <> ", markup: "<at>U9</at>"},
		{name: "empty", in: "", markup: "<at>U9</at>"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			markup, entity := mentionEntity("U9", tc.in, 3)
			if markup != tc.markup || entity.Text != tc.markup {
				t.Fatalf("markup = %q, entity text %q, want %q", markup, entity.Text, tc.markup)
			}
			if entity.Offset != 3 || entity.Length != len(tc.markup) {
				t.Fatalf("span = %d+%d", entity.Offset, entity.Length)
			}
		})
	}
}
