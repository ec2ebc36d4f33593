package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sipeed/stripmentions/pkg/bus"
)

func appendStep(tag string) Middleware {
	return MiddlewareFunc(func(ctx context.Context, msg *bus.InboundMessage, next NextFunc) error {
		msg.Content += tag
		return next(ctx)
	})
}

func TestSetRunsInOrder(t *testing.T) {
	set := NewSet(appendStep("a"), nil, appendStep("b"))
	set.Use(appendStep("c"))
	if set.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", set.Len())
	}

	msg := &bus.InboundMessage{}
	var atTerminal string
	err := set.Run(context.Background(), msg, func(context.Context) error {
		atTerminal = msg.Content
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if atTerminal != "abc" {
		t.Fatalf("terminal saw %q, want %q", atTerminal, "abc")
	}
}

func TestSetNilTerminal(t *testing.T) {
	msg := &bus.InboundMessage{}
	if err := NewSet(appendStep("x")).Run(context.Background(), msg, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if msg.Content != "x" {
		t.Fatalf("Content = %q", msg.Content)
	}
}

func TestSetPropagatesErrors(t *testing.T) {
	boom := errors.New("boom")
	err := NewSet(appendStep("a")).Run(context.Background(), &bus.InboundMessage{}, func(context.Context) error {
		return boom
	})
	if err != boom {
		t.Fatalf("expected terminal error unchanged, got %v", err)
	}
}

func TestSetShortCircuit(t *testing.T) {
	stop := MiddlewareFunc(func(ctx context.Context, msg *bus.InboundMessage, next NextFunc) error {
		return nil
	})
	called := false
	if err := NewSet(stop, appendStep("x")).Run(context.Background(), &bus.InboundMessage{}, func(context.Context) error {
		called = true
		return nil
	}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if called {
		t.Fatal("terminal should not run when a middleware does not call next")
	}
}

func TestNextCalledTwice(t *testing.T) {
	var second error
	twice := MiddlewareFunc(func(ctx context.Context, msg *bus.InboundMessage, next NextFunc) error {
		if err := next(ctx); err != nil {
			return err
		}
		second = next(ctx)
		return nil
	})

	calls := 0
	if err := NewSet(twice).Run(context.Background(), &bus.InboundMessage{}, func(context.Context) error {
		calls++
		return nil
	}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if calls != 1 {
		t.Fatalf("terminal ran %d times, want 1", calls)
	}
	if !errors.Is(second, ErrNextCalledTwice) {
		t.Fatalf("second next() = %v, want ErrNextCalledTwice", second)
	}
}

func TestNextRunsAfterMiddlewareWork(t *testing.T) {
	var order []string
	mw := MiddlewareFunc(func(ctx context.Context, msg *bus.InboundMessage, next NextFunc) error {
		order = append(order, "before")
		err := next(ctx)
		order = append(order, "after")
		return err
	})
	_ = NewSet(mw).Run(context.Background(), &bus.InboundMessage{}, func(context.Context) error {
		order = append(order, "terminal")
		return nil
	})
	if got := strings.Join(order, ","); got != "before,terminal,after" {
		t.Fatalf("order = %s", got)
	}
}
