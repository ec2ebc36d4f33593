// Package gateway assembles the message bus, the middleware chain and the
// dispatcher from a Config.
package gateway

import (
	"context"
	"fmt"

	"github.com/sipeed/stripmentions/pkg/bus"
	"github.com/sipeed/stripmentions/pkg/config"
	"github.com/sipeed/stripmentions/pkg/logger"
	"github.com/sipeed/stripmentions/pkg/mentions"
	"github.com/sipeed/stripmentions/pkg/pipeline"
)

type Gateway struct {
	Bus        *bus.MessageBus
	Pipeline   *pipeline.Set
	Stripper   *mentions.Middleware
	dispatcher *pipeline.Dispatcher
}

// New builds a gateway whose chain starts with the mention stripper followed
// by extra. A nil handler leaves processed messages on the bus.
func New(cfg *config.Config, handler pipeline.Handler, extra ...pipeline.Middleware) (*Gateway, error) {
	if cfg == nil {
		return nil, fmt.Errorf("gateway config is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger.SetLevel(cfg.Logging.LogLevel())

	stripper := mentions.NewMiddleware(cfg.StripMentions.Options())
	set := pipeline.NewSet(stripper).Use(extra...)
	mb := bus.NewMessageBusWithBuffer(cfg.Bus.BufferSize)

	opts := stripper.Options()
	logger.InfoCF("gateway", "Mention stripping configured", map[string]any{
		"bot_behavior":  opts.BotBehavior.String(),
		"user_behavior": opts.UserBehavior.String(),
		"output":        string(opts.Output),
		"middleware":    set.Len(),
	})

	return &Gateway{
		Bus:        mb,
		Pipeline:   set,
		Stripper:   stripper,
		dispatcher: pipeline.NewDispatcher(mb, set, handler),
	}, nil
}

// Run blocks until ctx is cancelled or Close is called.
func (g *Gateway) Run(ctx context.Context) error {
	return g.dispatcher.Run(ctx)
}

func (g *Gateway) Close() {
	g.Bus.Close()
}
