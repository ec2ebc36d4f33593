package bus

import (
	"context"
	"errors"
	"sync/atomic"
)

var ErrBusClosed = errors.New("message bus closed")

const defaultBufferSize = 100

// MessageBus carries raw inbound messages to the pipeline and processed
// messages out of it.
type MessageBus struct {
	inbound   chan InboundMessage
	processed chan InboundMessage
	done      chan struct{}
	closed    atomic.Bool
}

func NewMessageBus() *MessageBus {
	return NewMessageBusWithBuffer(defaultBufferSize)
}

func NewMessageBusWithBuffer(size int) *MessageBus {
	if size < 0 {
		size = 0
	}
	return &MessageBus{
		inbound:   make(chan InboundMessage, size),
		processed: make(chan InboundMessage, size),
		done:      make(chan struct{}),
	}
}

// PublishInbound queues msg for the pipeline, assigning an ID if it has none.
func (mb *MessageBus) PublishInbound(ctx context.Context, msg InboundMessage) error {
	if msg.ID == "" {
		msg.ID = NewMessageID()
	}
	return mb.publish(ctx, mb.inbound, msg)
}

func (mb *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	return mb.consume(ctx, mb.inbound)
}

func (mb *MessageBus) PublishProcessed(ctx context.Context, msg InboundMessage) error {
	return mb.publish(ctx, mb.processed, msg)
}

func (mb *MessageBus) ConsumeProcessed(ctx context.Context) (InboundMessage, bool) {
	return mb.consume(ctx, mb.processed)
}

func (mb *MessageBus) publish(ctx context.Context, ch chan InboundMessage, msg InboundMessage) error {
	if err := mb.publishStateErr(ctx); err != nil {
		return err
	}
	select {
	case <-mb.done:
		return ErrBusClosed
	case <-ctx.Done():
		return ctx.Err()
	case ch <- msg:
		return nil
	}
}

func (mb *MessageBus) consume(ctx context.Context, ch chan InboundMessage) (InboundMessage, bool) {
	select {
	case msg, ok := <-ch:
		return msg, ok
	case <-mb.done:
		return InboundMessage{}, false
	case <-ctx.Done():
		return InboundMessage{}, false
	}
}

func (mb *MessageBus) publishStateErr(ctx context.Context) error {
	if mb.closed.Load() {
		return ErrBusClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

func (mb *MessageBus) Close() {
	if mb.closed.CompareAndSwap(false, true) {
		close(mb.done)
	}
}
