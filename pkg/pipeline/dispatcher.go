package pipeline

import (
	"context"
	"sync"

	"github.com/sipeed/stripmentions/pkg/bus"
	"github.com/sipeed/stripmentions/pkg/logger"
)

// Handler receives each message after the whole chain has run.
type Handler func(ctx context.Context, msg bus.InboundMessage) error

type Dispatcher struct {
	bus     *bus.MessageBus
	set     *Set
	handler Handler
	mu      sync.RWMutex
}

// NewDispatcher wires a bus to a middleware set. A nil handler republishes
// processed messages on the bus.
func NewDispatcher(messageBus *bus.MessageBus, set *Set, handler Handler) *Dispatcher {
	if set == nil {
		set = NewSet()
	}
	d := &Dispatcher{
		bus: messageBus,
		set: set,
	}
	if handler == nil {
		handler = d.publishProcessed
	}
	d.handler = handler
	return d
}

// Run consumes inbound messages until the bus closes or ctx is cancelled.
// Failures are logged per message and never stop the loop.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		msg, ok := d.bus.ConsumeInbound(ctx)
		if !ok {
			return nil
		}
		d.dispatch(ctx, msg)
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, msg bus.InboundMessage) {
	set := d.getSet()
	err := set.Run(ctx, &msg, func(ctx context.Context) error {
		return d.handler(ctx, msg)
	})
	if err != nil {
		logger.ErrorCF("pipeline", "message_failed", map[string]any{
			"message_id": msg.ID,
			"channel":    msg.Channel,
			"chat_id":    msg.ChatID,
			"sender_id":  msg.SenderID,
			"error":      err.Error(),
		})
		return
	}
	logger.DebugCF("pipeline", "message_processed", map[string]any{
		"message_id": msg.ID,
		"channel":    msg.Channel,
		"middleware": set.Len(),
	})
}

func (d *Dispatcher) ReplaceSet(set *Set) {
	if set == nil {
		return
	}
	d.mu.Lock()
	d.set = set
	d.mu.Unlock()
}

func (d *Dispatcher) getSet() *Set {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.set
}

func (d *Dispatcher) publishProcessed(ctx context.Context, msg bus.InboundMessage) error {
	return d.bus.PublishProcessed(ctx, msg)
}
